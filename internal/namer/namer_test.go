package namer

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "builder", false},
		{"with dots and dashes", "fix-1.2_rc", false},
		{"empty", "", true},
		{"leading dash", "-builder", true},
		{"path separator", "a/b", true},
		{"backslash", `a\b`, true},
		{"space", "a b", true},
		{"too long", strings.Repeat("a", 81), true},
		{"max length", strings.Repeat("a", 80), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestRandomSuffix(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := RandomSuffix()
		if len(s) != 4 {
			t.Fatalf("RandomSuffix() = %q, want 4 characters", s)
		}
		for _, c := range s {
			if !strings.ContainsRune(suffixAlphabet, c) {
				t.Fatalf("RandomSuffix() contains %q outside the alphabet", c)
			}
		}
		seen[s] = true
	}
	if len(seen) < 2 {
		t.Error("RandomSuffix() never varied across 100 draws")
	}
}

func TestGenerateForkBranchName(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		existing []string
		want     string
	}{
		{"first fork", "feature", nil, "feature-fork-1"},
		{"next number", "feature", []string{"feature-fork-1", "feature-fork-2"}, "feature-fork-3"},
		{"gap does not matter", "feature", []string{"feature-fork-5"}, "feature-fork-6"},
		{"fork of fork shares counter", "feature-fork-2", []string{"feature-fork-2"}, "feature-fork-3"},
		{"unrelated names ignored", "feature", []string{"other-fork-9", "featurex-fork-1"}, "feature-fork-1"},
		{"non-numeric suffix ignored", "feature", []string{"feature-fork-abc"}, "feature-fork-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateForkBranchName(tt.base, tt.existing)
			if got != tt.want {
				t.Errorf("GenerateForkBranchName(%q, %v) = %q, want %q", tt.base, tt.existing, got, tt.want)
			}
		})
	}
}

func TestGenerateForkTitle(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		existing []string
		want     string
	}{
		{"first copy", "Fix login", nil, "Fix login (1)"},
		{"next copy", "Fix login", []string{"Fix login (1)", "Fix login (2)"}, "Fix login (3)"},
		{"copy of copy", "Fix login (2)", []string{"Fix login (2)"}, "Fix login (3)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateForkTitle(tt.base, tt.existing)
			if got != tt.want {
				t.Errorf("GenerateForkTitle(%q, %v) = %q, want %q", tt.base, tt.existing, got, tt.want)
			}
		})
	}
}
