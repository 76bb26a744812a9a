package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/legion-dev/legion/internal/minion"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "projects.json"))
}

func mkMinion(id, name, project string) *minion.Minion {
	return &minion.Minion{
		ID:          id,
		Name:        name,
		ProjectPath: project,
		Runtime:     minion.RuntimeConfig{Kind: minion.RuntimeLocal},
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore(t)
	reg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Projects == nil || len(reg.Projects) != 0 {
		t.Errorf("Load on missing file = %+v, want empty registry", reg)
	}
}

func TestEditPersists(t *testing.T) {
	s := newTestStore(t)

	err := s.Edit(func(r *Registry) error {
		r.AddMinion(mkMinion("id-1", "builder", "/proj"))
		return nil
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}

	reg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, ok := reg.FindMinion("id-1")
	if !ok || m.Name != "builder" {
		t.Errorf("FindMinion after Edit = %+v, %v", m, ok)
	}
}

func TestEditErrorWritesNothing(t *testing.T) {
	s := newTestStore(t)
	sentinel := errors.New("refused")

	err := s.Edit(func(r *Registry) error {
		r.AddMinion(mkMinion("id-1", "builder", "/proj"))
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Edit = %v, want sentinel", err)
	}

	if _, statErr := os.Stat(s.Path()); !os.IsNotExist(statErr) {
		t.Error("registry file was written despite edit failure")
	}
}

func TestFindByName(t *testing.T) {
	r := &Registry{Projects: make(map[string]*Project)}
	r.AddMinion(mkMinion("id-1", "builder", "/proj"))
	r.AddMinion(mkMinion("id-2", "builder", "/other"))

	m, ok := r.FindByName("/proj", "builder")
	if !ok || m.ID != "id-1" {
		t.Errorf("FindByName = %+v, %v", m, ok)
	}
	if _, ok := r.FindByName("/proj", "missing"); ok {
		t.Error("FindByName matched a missing name")
	}
	if _, ok := r.FindByName("/nowhere", "builder"); ok {
		t.Error("FindByName matched in an unknown project")
	}
}

func TestRemoveMinionDropsEmptyProject(t *testing.T) {
	r := &Registry{Projects: make(map[string]*Project)}
	r.AddMinion(mkMinion("id-1", "builder", "/proj"))
	r.AddMinion(mkMinion("id-2", "tester", "/proj"))

	if !r.RemoveMinion("id-1") {
		t.Fatal("RemoveMinion(id-1) = false")
	}
	if _, ok := r.Projects["/proj"]; !ok {
		t.Fatal("project dropped while a minion remained")
	}

	if !r.RemoveMinion("id-2") {
		t.Fatal("RemoveMinion(id-2) = false")
	}
	if _, ok := r.Projects["/proj"]; ok {
		t.Error("empty project entry not deleted")
	}
	if r.RemoveMinion("id-2") {
		t.Error("second RemoveMinion = true")
	}
}

func TestSiblingsAndTitles(t *testing.T) {
	r := &Registry{Projects: make(map[string]*Project)}
	a := mkMinion("id-1", "builder", "/proj")
	a.Title = "Build the thing"
	b := mkMinion("id-2", "tester", "/proj")
	r.AddMinion(a)
	r.AddMinion(b)

	names := r.Siblings("/proj")
	if len(names) != 2 || names[0] != "builder" || names[1] != "tester" {
		t.Errorf("Siblings = %v", names)
	}
	if got := r.Siblings("/nowhere"); got != nil {
		t.Errorf("Siblings for unknown project = %v", got)
	}

	// Untitled minions are omitted.
	titles := r.Titles("/proj")
	if len(titles) != 1 || titles[0] != "Build the thing" {
		t.Errorf("Titles = %v", titles)
	}
}
