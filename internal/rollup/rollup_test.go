package rollup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestMergeRecord(t *testing.T) {
	tests := []struct {
		name     string
		existing *Record
		incoming Record
		wantID   string
	}{
		{
			"no existing entry",
			nil,
			Record{ChildTaskID: "in", UpdatedAtMs: 10},
			"in",
		},
		{
			"newer incoming wins",
			&Record{ChildTaskID: "old", UpdatedAtMs: 10},
			Record{ChildTaskID: "in", UpdatedAtMs: 20},
			"in",
		},
		{
			"older incoming loses",
			&Record{ChildTaskID: "old", UpdatedAtMs: 30},
			Record{ChildTaskID: "in", UpdatedAtMs: 20},
			"old",
		},
		{
			"tie keeps existing",
			&Record{ChildTaskID: "old", UpdatedAtMs: 20},
			Record{ChildTaskID: "in", UpdatedAtMs: 20},
			"old",
		},
		{
			"createdAt fallback when updatedAt missing",
			&Record{ChildTaskID: "old", CreatedAtMs: 5},
			Record{ChildTaskID: "in", CreatedAtMs: 9},
			"in",
		},
		{
			"updatedAt beats larger createdAt",
			&Record{ChildTaskID: "old", CreatedAtMs: 100},
			Record{ChildTaskID: "in", UpdatedAtMs: 101},
			"in",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRecord(tt.existing, tt.incoming)
			if got.ChildTaskID != tt.wantID {
				t.Errorf("MergeRecord winner = %q, want %q", got.ChildTaskID, tt.wantID)
			}
		})
	}
}

func TestRethreadAncestors(t *testing.T) {
	chain := []string{"child", "grandparent"}
	got := RethreadAncestors(chain, "parent", "child")

	if len(got) != 2 || got[0] != "parent" || got[1] != "grandparent" {
		t.Errorf("RethreadAncestors = %v, want [parent grandparent]", got)
	}

	// The new parent never appears twice.
	got = RethreadAncestors([]string{"parent", "child"}, "parent", "child")
	if len(got) != 1 || got[0] != "parent" {
		t.Errorf("RethreadAncestors = %v, want [parent]", got)
	}
}

func writeIndex(t *testing.T, dir string, cat Category, idx Index) {
	t.Helper()
	data, err := json.Marshal(idx)
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, cat.IndexFile()), data, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
}

func readIndex(t *testing.T, dir string, cat Category) Index {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, cat.IndexFile()))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		t.Fatalf("unmarshal index: %v", err)
	}
	return idx
}

func TestConsolidateMergesAndCopies(t *testing.T) {
	parentDir := t.TempDir()
	childDir := t.TempDir()

	payloadDir := filepath.Join(childDir, CategoryReports.PayloadDir())
	if err := os.MkdirAll(payloadDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(payloadDir, "task-1.md"), []byte("report"), 0o644); err != nil {
		t.Fatal(err)
	}

	writeIndex(t, childDir, CategoryReports, Index{
		"task-1": {ChildTaskID: "task-1", UpdatedAtMs: 20, Path: "task-1.md", AncestorChain: []string{"child-id"}},
	})
	writeIndex(t, parentDir, CategoryReports, Index{
		"task-1": {ChildTaskID: "task-1", UpdatedAtMs: 10},
		"task-2": {ChildTaskID: "task-2", UpdatedAtMs: 99},
	})

	errs := NewRoller(nil).Consolidate(parentDir, childDir, "parent-id", "child-id")
	if len(errs) != 0 {
		t.Fatalf("Consolidate errors: %v", errs)
	}

	merged := readIndex(t, parentDir, CategoryReports)
	r1 := merged["task-1"]
	if r1.UpdatedAtMs != 20 {
		t.Errorf("task-1 not replaced by newer child record: %+v", r1)
	}
	if len(r1.AncestorChain) != 1 || r1.AncestorChain[0] != "parent-id" {
		t.Errorf("task-1 ancestor chain = %v, want [parent-id]", r1.AncestorChain)
	}
	if merged["task-2"].UpdatedAtMs != 99 {
		t.Error("unrelated parent record disturbed")
	}

	copied, err := os.ReadFile(filepath.Join(parentDir, CategoryReports.PayloadDir(), "task-1.md"))
	if err != nil || string(copied) != "report" {
		t.Errorf("payload copy = %q, %v", copied, err)
	}
}

func TestConsolidateRefusesPathEscape(t *testing.T) {
	parentDir := t.TempDir()
	childDir := t.TempDir()

	writeIndex(t, childDir, CategoryPatches, Index{
		"../../etc": {ChildTaskID: "../../etc", UpdatedAtMs: 20, Path: "x.patch"},
		"legit":     {ChildTaskID: "legit", UpdatedAtMs: 20},
	})

	errs := NewRoller(nil).Consolidate(parentDir, childDir, "p", "c")
	if len(errs) != 0 {
		t.Fatalf("Consolidate errors: %v", errs)
	}

	merged := readIndex(t, parentDir, CategoryPatches)
	if _, ok := merged["../../etc"]; ok {
		t.Error("crafted task id was rolled up")
	}
	if _, ok := merged["legit"]; !ok {
		t.Error("legitimate sibling record was dropped")
	}
}

func TestConsolidateEscapingPayloadPath(t *testing.T) {
	parentDir := t.TempDir()
	childDir := t.TempDir()

	writeIndex(t, childDir, CategoryPatches, Index{
		"task-1": {ChildTaskID: "task-1", UpdatedAtMs: 20, Path: "../../outside.patch"},
	})

	errs := NewRoller(nil).Consolidate(parentDir, childDir, "p", "c")
	if len(errs) != 0 {
		t.Fatalf("Consolidate errors: %v", errs)
	}

	// The record whose payload escapes is skipped entirely.
	merged := readIndex(t, parentDir, CategoryPatches)
	if _, ok := merged["task-1"]; ok {
		t.Error("record with escaping payload path was rolled up")
	}
	if _, err := os.Stat(filepath.Join(parentDir, "..", "outside.patch")); err == nil {
		t.Error("payload escaped the parent session directory")
	}
}

func TestConsolidateMissingSourceIsFine(t *testing.T) {
	parentDir := t.TempDir()
	childDir := t.TempDir()

	// Index references a payload that no longer exists on disk.
	writeIndex(t, childDir, CategoryTranscripts, Index{
		"task-1": {ChildTaskID: "task-1", UpdatedAtMs: 20, Path: "gone.jsonl"},
	})

	errs := NewRoller(nil).Consolidate(parentDir, childDir, "p", "c")
	if len(errs) != 0 {
		t.Fatalf("Consolidate errors: %v", errs)
	}
	merged := readIndex(t, parentDir, CategoryTranscripts)
	if _, ok := merged["task-1"]; !ok {
		t.Error("record with missing payload was dropped")
	}
}

func TestConsolidateNoChildIndex(t *testing.T) {
	errs := NewRoller(nil).Consolidate(t.TempDir(), t.TempDir(), "p", "c")
	if len(errs) != 0 {
		t.Errorf("Consolidate with nothing to do returned errors: %v", errs)
	}
}
