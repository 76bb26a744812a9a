package session

import (
	"testing"
)

func TestTimingAndUsageRoundTrip(t *testing.T) {
	dir := t.TempDir()

	// Missing files read as zero values.
	timing, err := LoadTiming(dir)
	if err != nil || timing != (Timing{}) {
		t.Fatalf("LoadTiming on empty dir = %+v, %v", timing, err)
	}

	timing.Add(Timing{TotalStreamMs: 1500, TurnCount: 2})
	if err := SaveTiming(dir, timing); err != nil {
		t.Fatalf("SaveTiming failed: %v", err)
	}
	reread, err := LoadTiming(dir)
	if err != nil {
		t.Fatalf("LoadTiming failed: %v", err)
	}
	if reread.TotalStreamMs != 1500 || reread.TurnCount != 2 {
		t.Errorf("timing round trip = %+v", reread)
	}

	usage := Usage{InputTokens: 10, OutputTokens: 5, CacheReadTokens: 3}
	usage.Add(Usage{InputTokens: 1, CacheCreationTokens: 2})
	if err := SaveUsage(dir, usage); err != nil {
		t.Fatalf("SaveUsage failed: %v", err)
	}
	gotUsage, err := LoadUsage(dir)
	if err != nil {
		t.Fatalf("LoadUsage failed: %v", err)
	}
	if gotUsage.InputTokens != 11 || gotUsage.CacheCreationTokens != 2 {
		t.Errorf("usage round trip = %+v", gotUsage)
	}
}

func TestExclusions(t *testing.T) {
	dir := t.TempDir()

	e := &Exclusions{Patterns: []string{"vendor/**", "*.lock", "[bad"}}
	if err := SaveExclusions(dir, e); err != nil {
		t.Fatalf("SaveExclusions failed: %v", err)
	}

	loaded, err := LoadExclusions(dir)
	if err != nil {
		t.Fatalf("LoadExclusions failed: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"vendor/pkg/mod.go", true},
		{"go.lock", true},
		{"main.go", false},
	}
	for _, tt := range tests {
		if got := loaded.Excluded(tt.path); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestPostCompactionRoundTrip(t *testing.T) {
	dir := t.TempDir()

	p, err := LoadPostCompaction(dir)
	if err != nil || len(p.TrackedPaths) != 0 {
		t.Fatalf("LoadPostCompaction on empty dir = %+v, %v", p, err)
	}

	if err := SavePostCompaction(dir, PostCompaction{TrackedPaths: []string{"a.go"}}); err != nil {
		t.Fatalf("SavePostCompaction failed: %v", err)
	}
	p, err = LoadPostCompaction(dir)
	if err != nil {
		t.Fatalf("LoadPostCompaction failed: %v", err)
	}
	if len(p.TrackedPaths) != 1 || p.TrackedPaths[0] != "a.go" {
		t.Errorf("round trip = %+v", p)
	}
}
