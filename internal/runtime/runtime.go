// Package runtime abstracts the backends that physically host a minion's
// working copy: git worktrees, the bare project directory, SSH hosts, and
// containers. The orchestrator consumes these narrow interfaces only; it
// never shells out itself.
package runtime

import (
	"context"
	"time"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
)

// DefaultExecTimeout bounds command execution inside a minion.
const DefaultExecTimeout = 120 * time.Second

// ExecResult is the outcome of a command run inside a minion.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runtime hosts a minion's working copy. One instance is constructed per
// minion per operation via New.
type Runtime interface {
	// Kind returns the backend discriminator.
	Kind() minion.RuntimeKind

	// CreateMinion provisions the working copy for a new minion.
	CreateMinion(ctx context.Context, m *minion.Minion) error

	// DeleteMinion destroys the working copy. Implementations must be
	// tolerant of a partially-created working copy.
	DeleteMinion(ctx context.Context, m *minion.Minion) error

	// RenameMinion performs the physical rename (worktree path, branch).
	RenameMinion(ctx context.Context, m *minion.Minion, newName string) error

	// Exec runs a command inside the minion's working copy. A zero timeout
	// in ctx falls back to DefaultExecTimeout.
	Exec(ctx context.Context, m *minion.Minion, name string, args ...string) (ExecResult, error)

	// EnsureReady verifies the working copy exists and is usable.
	EnsureReady(ctx context.Context, m *minion.Minion) error

	// ResolvePath resolves a path relative to the minion's working copy,
	// refusing escapes.
	ResolvePath(m *minion.Minion, rel string) (string, error)

	// MinionPath returns the working copy's root path.
	MinionPath(m *minion.Minion) string
}

// ConfigFinalizer is an optional hook run after runtime creation and before
// the minion is persisted. A failure fails the create.
type ConfigFinalizer interface {
	FinalizeConfig(ctx context.Context, m *minion.Minion) error
}

// PersistValidator is an optional hook run immediately before persisting a
// new minion. A failure fails the create before any config mutation.
type PersistValidator interface {
	ValidateBeforePersist(ctx context.Context, m *minion.Minion) error
}

// BranchLister is implemented by backends whose working copies are git
// branches. Fork naming consults live branches so stale ones are not reused.
type BranchLister interface {
	LiveBranches(ctx context.Context, projectPath string) ([]string, error)
}

// New constructs the runtime backend for a minion's configuration.
func New(cfg minion.RuntimeConfig, logger *logging.Logger) (Runtime, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	switch cfg.Kind {
	case minion.RuntimeWorktree:
		return newWorktreeRuntime(logger), nil
	case minion.RuntimeLocal:
		return newLocalRuntime(logger), nil
	case minion.RuntimeSSH:
		return newSSHRuntime(cfg, logger), nil
	case minion.RuntimeContainer, minion.RuntimeDevcontainer:
		return newContainerRuntime(cfg, logger), nil
	default:
		return nil, errors.NewValidationError("runtime", string(cfg.Kind)+" is not a known runtime kind")
	}
}
