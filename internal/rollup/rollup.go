// Package rollup consolidates a removed child minion's durable artifacts
// into its parent before the child's storage is destroyed. Three
// independent categories are rolled up: git-patch bundles, reports, and
// transcripts. Every step is best-effort: a failed category is logged and
// skipped, never failing the removal that triggered it.
package rollup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/logging"
)

// Category names one artifact class. The index file is "<category>.json"
// and payloads live in a same-named directory keyed by child task ID.
type Category string

const (
	CategoryPatches     Category = "sidekick-patches"
	CategoryReports     Category = "sidekick-reports"
	CategoryTranscripts Category = "sidekick-transcripts"
)

// Categories lists every rollup category.
var Categories = []Category{CategoryPatches, CategoryReports, CategoryTranscripts}

// IndexFile returns the category's index file name.
func (c Category) IndexFile() string { return string(c) + ".json" }

// PayloadDir returns the category's payload directory name.
func (c Category) PayloadDir() string { return string(c) }

// Record is one artifact entry, keyed by (parent minion, child task).
type Record struct {
	ChildTaskID string `json:"childTaskId"`
	CreatedAtMs int64  `json:"createdAtMs"`
	UpdatedAtMs int64  `json:"updatedAtMs,omitempty"`

	// Path is the payload location relative to the category payload dir.
	Path string `json:"path,omitempty"`

	// Transcript metadata.
	Model         string `json:"model,omitempty"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`

	// AncestorChain lists the minion ids the artifact was rolled up
	// through, current parent first. It never contains a removed child.
	AncestorChain []string `json:"ancestorChain,omitempty"`
}

// effectiveTime is the freshness used for merge conflicts: updatedAtMs,
// falling back to createdAtMs.
func (r Record) effectiveTime() int64 {
	if r.UpdatedAtMs != 0 {
		return r.UpdatedAtMs
	}
	return r.CreatedAtMs
}

// Index maps child task IDs to records.
type Index map[string]Record

// MergeRecord applies the freshness rule for a single key: the entry with
// the larger effective timestamp wins, and a tie keeps the existing entry.
// The incoming entry wins a tie only when no existing entry is present.
func MergeRecord(existing *Record, incoming Record) Record {
	if existing == nil {
		return incoming
	}
	if incoming.effectiveTime() > existing.effectiveTime() {
		return incoming
	}
	return *existing
}

// RethreadAncestors rewires a record's ancestor chain after rollup: the
// removed child is dropped and the new parent becomes the chain head.
func RethreadAncestors(chain []string, newParentID, removedChildID string) []string {
	out := []string{newParentID}
	for _, id := range chain {
		if id == removedChildID || id == newParentID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Roller performs artifact rollups.
type Roller struct {
	logger *logging.Logger
}

// NewRoller creates a Roller.
func NewRoller(logger *logging.Logger) *Roller {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Roller{logger: logger}
}

// Consolidate merges every artifact category from the child session
// directory into the parent's. Failures are collected per category;
// callers log them and continue; rollup never blocks removal.
func (r *Roller) Consolidate(parentDir, childDir, parentID, childID string) []error {
	var errs []error
	for _, cat := range Categories {
		if err := r.consolidateCategory(cat, parentDir, childDir, parentID, childID); err != nil {
			errs = append(errs, errors.NewRollupError("category rollup failed", err).
				WithIDs(parentID, childID).
				WithCategory(string(cat)))
		}
	}
	return errs
}

func (r *Roller) consolidateCategory(cat Category, parentDir, childDir, parentID, childID string) error {
	childIndex, err := loadIndex(filepath.Join(childDir, cat.IndexFile()))
	if err != nil {
		return err
	}
	if len(childIndex) == 0 {
		return nil
	}

	parentIndexPath := filepath.Join(parentDir, cat.IndexFile())
	parentIndex, err := loadIndex(parentIndexPath)
	if err != nil {
		return err
	}

	for taskID, incoming := range childIndex {
		if !safeTaskID(taskID) {
			r.logger.Warn("refusing rollup for unsafe child task id",
				"child_task_id", taskID, "category", string(cat), "child_id", childID)
			continue
		}

		// Copy the payload into the parent's artifact area if not already
		// present. A missing source is not an error.
		if incoming.Path != "" {
			if err := r.copyPayload(cat, parentDir, childDir, incoming.Path); err != nil {
				r.logger.Warn("artifact payload copy failed",
					"category", string(cat), "child_task_id", taskID, "error", err)
				continue
			}
		}

		incoming.AncestorChain = RethreadAncestors(incoming.AncestorChain, parentID, childID)

		var existing *Record
		if e, ok := parentIndex[taskID]; ok {
			existing = &e
		}
		parentIndex[taskID] = MergeRecord(existing, incoming)
	}

	return saveIndex(parentIndexPath, parentIndex)
}

// copyPayload copies one payload file or directory from the child's
// category dir into the parent's, validating both endpoints stay confined
// to their session directories. An existing destination is left untouched.
func (r *Roller) copyPayload(cat Category, parentDir, childDir, rel string) error {
	src, err := confine(filepath.Join(childDir, cat.PayloadDir()), rel)
	if err != nil {
		return err
	}
	dst, err := confine(filepath.Join(parentDir, cat.PayloadDir()), rel)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if info.IsDir() {
		return copyDir(src, dst)
	}
	return copyFile(src, dst)
}

// safeTaskID rejects task ids that could traverse outside the artifact
// area when used as path components.
func safeTaskID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, "/\\") {
		return false
	}
	return true
}

// confine joins rel onto root and verifies the result stays inside root.
func confine(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", errors.ErrPathEscape, rel)
	}
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errors.ErrPathEscape, rel)
	}
	return joined, nil
}

func loadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Index{}, nil
		}
		return nil, fmt.Errorf("failed to read artifact index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse artifact index: %w", err)
	}
	if idx == nil {
		idx = Index{}
	}
	return idx, nil
}

func saveIndex(path string, idx Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return err
	}
	return out.Sync()
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}
