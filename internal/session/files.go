package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
)

// Timing accumulates wall-clock stream time for a minion. Child totals are
// added into the parent on rollup.
type Timing struct {
	TotalStreamMs int64 `json:"totalStreamMs"`
	TurnCount     int64 `json:"turnCount"`
}

// Add merges other's totals into t.
func (t *Timing) Add(other Timing) {
	t.TotalStreamMs += other.TotalStreamMs
	t.TurnCount += other.TurnCount
}

// Usage accumulates model token usage for a minion.
type Usage struct {
	InputTokens         int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens,omitempty"`
	CacheCreationTokens int64 `json:"cacheCreationTokens,omitempty"`
}

// Add merges other's counters into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// LoadTiming reads session-timing.json from dir. A missing file yields a
// zero Timing, not an error.
func LoadTiming(dir string) (Timing, error) {
	var t Timing
	err := loadJSON(filepath.Join(dir, TimingFileName), &t)
	return t, err
}

// SaveTiming writes session-timing.json atomically.
func SaveTiming(dir string, t Timing) error {
	return saveJSON(filepath.Join(dir, TimingFileName), t)
}

// LoadUsage reads session-usage.json from dir. A missing file yields a zero
// Usage, not an error.
func LoadUsage(dir string) (Usage, error) {
	var u Usage
	err := loadJSON(filepath.Join(dir, UsageFileName), &u)
	return u, err
}

// SaveUsage writes session-usage.json atomically.
func SaveUsage(dir string, u Usage) error {
	return saveJSON(filepath.Join(dir, UsageFileName), u)
}

// Exclusions holds glob patterns for files excluded from tracking.
type Exclusions struct {
	Patterns []string `json:"patterns"`

	compiled []glob.Glob
}

// LoadExclusions reads exclusions.json from dir and compiles its patterns.
// Unparseable patterns are dropped rather than failing the load.
func LoadExclusions(dir string) (*Exclusions, error) {
	var e Exclusions
	if err := loadJSON(filepath.Join(dir, ExclusionsFileName), &e); err != nil {
		return nil, err
	}
	for _, p := range e.Patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		e.compiled = append(e.compiled, g)
	}
	return &e, nil
}

// SaveExclusions writes exclusions.json atomically.
func SaveExclusions(dir string, e *Exclusions) error {
	return saveJSON(filepath.Join(dir, ExclusionsFileName), e)
}

// Excluded reports whether path matches any exclusion pattern.
func (e *Exclusions) Excluded(path string) bool {
	for _, g := range e.compiled {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// PostCompaction persists tracked file paths that survive a compaction so
// the next turn can re-attach them.
type PostCompaction struct {
	TrackedPaths []string `json:"trackedPaths"`
}

// LoadPostCompaction reads post-compaction.json from dir.
func LoadPostCompaction(dir string) (PostCompaction, error) {
	var p PostCompaction
	err := loadJSON(filepath.Join(dir, PostCompactionFileName), &p)
	return p, err
}

// SavePostCompaction writes post-compaction.json atomically.
func SavePostCompaction(dir string, p PostCompaction) error {
	return saveJSON(filepath.Join(dir, PostCompactionFileName), p)
}

// loadJSON reads path into v; a missing file leaves v zeroed.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// saveJSON writes v to path atomically (temp file + rename).
func saveJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
