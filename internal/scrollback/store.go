// Package scrollback persists terminal scrollback, one file per terminal
// session. Files are capped, trimmed from the front on overflow, written
// atomically, deleted when the session closes, and bulk-pruned at startup.
package scrollback

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/legion-dev/legion/internal/logging"
)

// MaxFileSize caps one scrollback file at 8 MiB.
const MaxFileSize = 8 * 1024 * 1024

const fileExt = ".scrollback"

// Store manages scrollback files under one directory. Safe for concurrent
// use across sessions; writes to the same session are serialized.
type Store struct {
	dir    string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{dir: dir, logger: logger}
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+fileExt)
}

// Append adds output to a session's scrollback, trimming the oldest bytes
// once the cap is exceeded. The trim cuts at the next newline so the file
// never starts mid-line. The write is atomic.
func (s *Store) Append(sessionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := os.ReadFile(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read scrollback: %w", err)
	}

	buf := append(existing, data...)
	if len(buf) > MaxFileSize {
		cut := len(buf) - MaxFileSize
		if nl := bytes.IndexByte(buf[cut:], '\n'); nl >= 0 {
			cut += nl + 1
		}
		buf = buf[cut:]
	}

	return s.writeAtomic(sessionID, buf)
}

// Read returns a session's scrollback, empty when none exists.
func (s *Store) Read(sessionID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read scrollback: %w", err)
	}
	return data, nil
}

// Close deletes a session's scrollback file.
func (s *Store) Close(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete scrollback: %w", err)
	}
	return nil
}

// Prune removes scrollback files for sessions not in the live set. Called
// at startup so files orphaned by a crash do not accumulate.
func (s *Store) Prune(liveSessionIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]bool, len(liveSessionIDs))
	for _, id := range liveSessionIDs {
		live[id] = true
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read scrollback directory: %w", err)
	}

	pruned := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		if live[id] {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("failed to prune scrollback file", "file", name, "error", err)
			continue
		}
		pruned++
	}
	return pruned, nil
}

func (s *Store) writeAtomic(sessionID string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create scrollback directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".sb-*")
	if err != nil {
		return fmt.Errorf("failed to create temp scrollback: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write scrollback: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close scrollback: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(sessionID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace scrollback: %w", err)
	}
	return nil
}
