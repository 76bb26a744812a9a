// Package namer provides minion naming: physical name validation, collision
// suffixes, fork branch/title derivation, and LLM-backed title regeneration.
package namer

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxNameLength bounds physical minion names so every runtime backend
	// can use them as directory and branch components.
	MaxNameLength = 80

	// suffixLength is the number of random characters appended on a
	// name collision.
	suffixLength = 4
)

// validName matches filesystem- and branch-safe minion names.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName checks that a minion name is filesystem-safe: non-empty,
// bounded, no path separators, and starting with an alphanumeric character.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name exceeds %d characters", MaxNameLength)
	}
	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("name cannot contain path separators")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be a relative path component")
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("name contains invalid characters")
	}
	return nil
}

// suffixAlphabet excludes ambiguous characters so suffixed names stay readable.
const suffixAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// RandomSuffix returns a short random string suitable for de-colliding names.
func RandomSuffix() string {
	b := make([]byte, suffixLength)
	if _, err := rand.Read(b); err != nil {
		// Degraded but still unique enough for a retry loop.
		return fmt.Sprintf("%04d", len(suffixAlphabet))
	}
	for i := range b {
		b[i] = suffixAlphabet[int(b[i])%len(suffixAlphabet)]
	}
	return string(b)
}

// forkSuffix matches a "-fork-N" branch suffix.
var forkSuffix = regexp.MustCompile(`-fork-(\d+)$`)

// GenerateForkBranchName computes the branch name for a fork of base,
// given every sibling name already in use (persisted names plus live
// runtime branches, so stale branches are never reused). The result is
// "{base}-fork-{N}" where N is one greater than the highest existing
// numeric suffix among the siblings; 1 when none exist.
func GenerateForkBranchName(base string, existing []string) string {
	// Strip an existing fork suffix so forks of forks share one counter.
	if m := forkSuffix.FindStringSubmatch(base); m != nil {
		base = strings.TrimSuffix(base, m[0])
	}

	max := 0
	prefix := base + "-fork-"
	for _, name := range existing {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if err != nil || n <= 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%d", prefix, max+1)
}

// titleSuffix matches a " (N)" title suffix.
var titleSuffix = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// GenerateForkTitle computes the display title for a fork of base, given
// sibling titles. An existing " (N)" suffix on base is stripped before
// counting, so forking "Foo (2)" among {"Foo (1)", "Foo (2)"} yields
// "Foo (3)" rather than "Foo (2) (1)".
func GenerateForkTitle(base string, existing []string) string {
	if m := titleSuffix.FindStringSubmatch(base); m != nil {
		base = m[1]
	}

	max := 0
	for _, title := range existing {
		m := titleSuffix.FindStringSubmatch(title)
		if m == nil || m[1] != base {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s (%d)", base, max+1)
}
