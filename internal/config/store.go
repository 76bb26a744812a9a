package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/legion-dev/legion/internal/minion"
)

// Registry is the persisted shape of the project/minion configuration file.
type Registry struct {
	// Projects maps project paths to their minions.
	Projects map[string]*Project `json:"projects"`
}

// Project holds the persisted minions of one project.
type Project struct {
	Minions []*minion.Minion `json:"minions"`
}

// Store persists the minion registry. Every mutation goes through Edit, a
// single read-modify-write function; the file itself is written atomically
// but Edit is not safe against concurrent structural edits from another
// process.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the registry. A missing file yields an empty registry.
func (s *Store) Load() (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{Projects: make(map[string]*Project)}, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if reg.Projects == nil {
		reg.Projects = make(map[string]*Project)
	}
	return &reg, nil
}

// Edit applies fn to the registry under the store lock and persists the
// result atomically. If fn returns an error nothing is written.
func (s *Store) Edit(fn func(*Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*")
	if err != nil {
		return fmt.Errorf("failed to create temp registry: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close registry: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// FindMinion locates a minion by ID across all projects.
func (r *Registry) FindMinion(id string) (*minion.Minion, bool) {
	for _, p := range r.Projects {
		for _, m := range p.Minions {
			if m.ID == id {
				return m, true
			}
		}
	}
	return nil, false
}

// FindByName locates a minion by name within one project.
func (r *Registry) FindByName(projectPath, name string) (*minion.Minion, bool) {
	p, ok := r.Projects[projectPath]
	if !ok {
		return nil, false
	}
	for _, m := range p.Minions {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// AddMinion appends a minion to its project, creating the project entry on
// first use.
func (r *Registry) AddMinion(m *minion.Minion) {
	p, ok := r.Projects[m.ProjectPath]
	if !ok {
		p = &Project{}
		r.Projects[m.ProjectPath] = p
	}
	p.Minions = append(p.Minions, m)
}

// RemoveMinion deletes a minion by ID. Returns true when found.
func (r *Registry) RemoveMinion(id string) bool {
	for path, p := range r.Projects {
		for i, m := range p.Minions {
			if m.ID == id {
				p.Minions = append(p.Minions[:i], p.Minions[i+1:]...)
				if len(p.Minions) == 0 {
					delete(r.Projects, path)
				}
				return true
			}
		}
	}
	return false
}

// Siblings returns the names of every minion in a project.
func (r *Registry) Siblings(projectPath string) []string {
	p, ok := r.Projects[projectPath]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(p.Minions))
	for _, m := range p.Minions {
		names = append(names, m.Name)
	}
	return names
}

// Titles returns the titles of every minion in a project.
func (r *Registry) Titles(projectPath string) []string {
	p, ok := r.Projects[projectPath]
	if !ok {
		return nil
	}
	titles := make([]string, 0, len(p.Minions))
	for _, m := range p.Minions {
		if m.Title != "" {
			titles = append(titles, m.Title)
		}
	}
	return titles
}
