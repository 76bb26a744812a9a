// Package minion defines the core data model for Legion: the Minion record,
// its runtime descriptor, and task status. A minion is one isolated AI-agent
// working session bound to a runtime (worktree, container, or remote host).
package minion

import (
	"time"
)

// RuntimeKind discriminates the backend that hosts a minion's working copy.
type RuntimeKind string

const (
	// RuntimeWorktree hosts the minion in a git worktree of the project.
	RuntimeWorktree RuntimeKind = "worktree"
	// RuntimeLocal runs the minion directly in the project directory.
	RuntimeLocal RuntimeKind = "local"
	// RuntimeSSH hosts the minion on a remote host over SSH.
	RuntimeSSH RuntimeKind = "ssh"
	// RuntimeContainer hosts the minion in a container.
	RuntimeContainer RuntimeKind = "container"
	// RuntimeDevcontainer hosts the minion in a devcontainer built from the
	// project's devcontainer.json.
	RuntimeDevcontainer RuntimeKind = "devcontainer"
)

// Valid reports whether k names a known runtime backend.
func (k RuntimeKind) Valid() bool {
	switch k {
	case RuntimeWorktree, RuntimeLocal, RuntimeSSH, RuntimeContainer, RuntimeDevcontainer:
		return true
	}
	return false
}

// RuntimeConfig describes how a minion's working copy is hosted.
// Only the fields relevant to Kind are populated.
type RuntimeConfig struct {
	Kind RuntimeKind `json:"kind"`

	// TrunkBranch is the branch new worktrees fork from (worktree kind).
	TrunkBranch string `json:"trunkBranch,omitempty"`

	// Host and User identify the remote machine (ssh kind).
	Host string `json:"host,omitempty"`
	User string `json:"user,omitempty"`

	// Image is the container image (container kind).
	Image string `json:"image,omitempty"`

	// ConfigPath points at devcontainer.json (devcontainer kind).
	ConfigPath string `json:"configPath,omitempty"`
}

// TaskStatus tracks the lifecycle of a sub-task (sidekick) minion.
type TaskStatus string

const (
	TaskQueued         TaskStatus = "queued"
	TaskRunning        TaskStatus = "running"
	TaskInterrupted    TaskStatus = "interrupted"
	TaskAwaitingReport TaskStatus = "awaiting_report"
	TaskReported       TaskStatus = "reported"
)

// Minion is one unit of agent work. The ID is a stable opaque identifier;
// Name is the filesystem-safe physical name; Title is cosmetic metadata.
type Minion struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Title       string        `json:"title,omitempty"`
	ProjectPath string        `json:"projectPath"`
	Runtime     RuntimeConfig `json:"runtime"`

	// ParentID is set for forked or sub-task minions.
	ParentID string `json:"parentId,omitempty"`

	// TaskStatus is set only for sub-task (sidekick) minions.
	TaskStatus TaskStatus `json:"taskStatus,omitempty"`

	// CrewID is an optional grouping identifier, inherited from ancestors
	// when unset (see InheritedCrew).
	CrewID string `json:"crewId,omitempty"`

	// Model and ThinkingLevel are the stored defaults applied to sends that
	// do not specify their own settings.
	Model         string `json:"model,omitempty"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`

	CreatedAt    time.Time  `json:"createdAt"`
	ArchivedAt   *time.Time `json:"archivedAt,omitempty"`
	UnarchivedAt *time.Time `json:"unarchivedAt,omitempty"`
}

// Archived reports whether the minion is currently archived. It is derived:
// archivedAt must be set and strictly later than unarchivedAt (or
// unarchivedAt absent). There is no persisted boolean.
func (m *Minion) Archived() bool {
	if m.ArchivedAt == nil {
		return false
	}
	if m.UnarchivedAt == nil {
		return true
	}
	return m.ArchivedAt.After(*m.UnarchivedAt)
}

// IsTask reports whether the minion is a sub-task (sidekick) of a parent.
func (m *Minion) IsTask() bool {
	return m.ParentID != "" && m.TaskStatus != ""
}

// Lookup resolves a minion by ID. Implementations return false when the
// minion does not exist.
type Lookup func(id string) (*Minion, bool)

// InheritedCrew resolves the effective crew ID for a minion by walking
// parent pointers until a crew is found. The walk is iterative with a
// visited set so a corrupted parent cycle terminates instead of recursing.
func InheritedCrew(m *Minion, lookup Lookup) string {
	visited := make(map[string]bool)
	for m != nil {
		if m.CrewID != "" {
			return m.CrewID
		}
		if m.ParentID == "" || visited[m.ID] {
			return ""
		}
		visited[m.ID] = true
		parent, ok := lookup(m.ParentID)
		if !ok {
			return ""
		}
		m = parent
	}
	return ""
}

// Ancestors returns the chain of ancestor IDs for a minion, nearest first.
// Cycles are broken by a visited set.
func Ancestors(m *Minion, lookup Lookup) []string {
	var chain []string
	visited := map[string]bool{m.ID: true}
	for m != nil && m.ParentID != "" && !visited[m.ParentID] {
		chain = append(chain, m.ParentID)
		visited[m.ParentID] = true
		parent, ok := lookup(m.ParentID)
		if !ok {
			break
		}
		m = parent
	}
	return chain
}
