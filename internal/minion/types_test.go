package minion

import (
	"testing"
	"time"
)

func ts(offsetMin int) *time.Time {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offsetMin) * time.Minute)
	return &t
}

func TestArchived(t *testing.T) {
	tests := []struct {
		name string
		m    Minion
		want bool
	}{
		{"never archived", Minion{}, false},
		{"archived once", Minion{ArchivedAt: ts(0)}, true},
		{"archived then unarchived", Minion{ArchivedAt: ts(0), UnarchivedAt: ts(10)}, false},
		{"re-archived after unarchive", Minion{ArchivedAt: ts(20), UnarchivedAt: ts(10)}, true},
		{"unarchived only", Minion{UnarchivedAt: ts(0)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.Archived(); got != tt.want {
				t.Errorf("Archived = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTask(t *testing.T) {
	if (&Minion{ParentID: "p", TaskStatus: TaskQueued}).IsTask() != true {
		t.Error("queued child not recognized as task")
	}
	if (&Minion{ParentID: "p"}).IsTask() {
		t.Error("plain fork treated as task")
	}
	if (&Minion{TaskStatus: TaskRunning}).IsTask() {
		t.Error("parentless minion treated as task")
	}
}

func TestInheritedCrew(t *testing.T) {
	minions := map[string]*Minion{
		"root":   {ID: "root", CrewID: "alpha"},
		"mid":    {ID: "mid", ParentID: "root"},
		"leaf":   {ID: "leaf", ParentID: "mid"},
		"own":    {ID: "own", ParentID: "root", CrewID: "beta"},
		"orphan": {ID: "orphan", ParentID: "gone"},
		"cycA":   {ID: "cycA", ParentID: "cycB"},
		"cycB":   {ID: "cycB", ParentID: "cycA"},
	}
	lookup := func(id string) (*Minion, bool) {
		m, ok := minions[id]
		return m, ok
	}

	tests := []struct {
		id   string
		want string
	}{
		{"root", "alpha"},
		{"leaf", "alpha"},
		{"own", "beta"},
		{"orphan", ""},
		{"cycA", ""},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := InheritedCrew(minions[tt.id], lookup); got != tt.want {
				t.Errorf("InheritedCrew(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestAncestors(t *testing.T) {
	minions := map[string]*Minion{
		"root": {ID: "root"},
		"mid":  {ID: "mid", ParentID: "root"},
		"leaf": {ID: "leaf", ParentID: "mid"},
		"cycA": {ID: "cycA", ParentID: "cycB"},
		"cycB": {ID: "cycB", ParentID: "cycA"},
	}
	lookup := func(id string) (*Minion, bool) {
		m, ok := minions[id]
		return m, ok
	}

	got := Ancestors(minions["leaf"], lookup)
	if len(got) != 2 || got[0] != "mid" || got[1] != "root" {
		t.Errorf("Ancestors(leaf) = %v, want [mid root]", got)
	}

	if got := Ancestors(minions["root"], lookup); got != nil {
		t.Errorf("Ancestors(root) = %v, want nil", got)
	}

	// A corrupted parent cycle terminates without revisiting the start.
	got = Ancestors(minions["cycA"], lookup)
	if len(got) != 1 || got[0] != "cycB" {
		t.Errorf("Ancestors(cycA) = %v, want [cycB]", got)
	}

	// Dangling parent still reports the nearest id.
	got = Ancestors(&Minion{ID: "x", ParentID: "gone"}, lookup)
	if len(got) != 1 || got[0] != "gone" {
		t.Errorf("Ancestors with dangling parent = %v", got)
	}
}

func TestRuntimeKindValid(t *testing.T) {
	for _, k := range []RuntimeKind{RuntimeWorktree, RuntimeLocal, RuntimeSSH, RuntimeContainer, RuntimeDevcontainer} {
		if !k.Valid() {
			t.Errorf("%q reported invalid", k)
		}
	}
	if RuntimeKind("tmux").Valid() || RuntimeKind("").Valid() {
		t.Error("unknown kind reported valid")
	}
}
