package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/testutil"
)

func newWorktreeMinion(repo, name string) *minion.Minion {
	return &minion.Minion{
		ID:          "wt-" + name,
		Name:        name,
		ProjectPath: repo,
		Runtime:     minion.RuntimeConfig{Kind: minion.RuntimeWorktree, TrunkBranch: "main"},
	}
}

func TestWorktreeCreateAndDelete(t *testing.T) {
	testutil.RequireGit(t)
	repo := testutil.SetupTestRepo(t)
	rt := newWorktreeRuntime(logging.NopLogger())
	ctx := context.Background()

	m := newWorktreeMinion(repo, "feature-x")
	if err := rt.CreateMinion(ctx, m); err != nil {
		t.Fatalf("CreateMinion: %v", err)
	}

	path := rt.MinionPath(m)
	if !strings.HasPrefix(path, repo) {
		t.Errorf("MinionPath %q outside project", path)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("worktree lacks checked-out files: %v", err)
	}
	if err := rt.EnsureReady(ctx, m); err != nil {
		t.Errorf("EnsureReady: %v", err)
	}

	branches, err := rt.LiveBranches(ctx, repo)
	if err != nil {
		t.Fatalf("LiveBranches: %v", err)
	}
	if !containsBranch(branches, "feature-x") {
		t.Errorf("branches = %v, missing feature-x", branches)
	}

	if err := rt.DeleteMinion(ctx, m); err != nil {
		t.Fatalf("DeleteMinion: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("worktree directory survived deletion")
	}
	branches, _ = rt.LiveBranches(ctx, repo)
	if containsBranch(branches, "feature-x") {
		t.Error("branch survived deletion")
	}
}

func TestWorktreeDeleteTwiceTolerated(t *testing.T) {
	testutil.RequireGit(t)
	repo := testutil.SetupTestRepo(t)
	rt := newWorktreeRuntime(logging.NopLogger())
	ctx := context.Background()

	m := newWorktreeMinion(repo, "doomed")
	if err := rt.CreateMinion(ctx, m); err != nil {
		t.Fatalf("CreateMinion: %v", err)
	}
	if err := rt.DeleteMinion(ctx, m); err != nil {
		t.Fatalf("first DeleteMinion: %v", err)
	}
	// Partially-created or already-removed working copies are fine.
	if err := rt.DeleteMinion(ctx, m); err != nil {
		t.Errorf("second DeleteMinion: %v", err)
	}
}

func TestWorktreeRename(t *testing.T) {
	testutil.RequireGit(t)
	repo := testutil.SetupTestRepo(t)
	rt := newWorktreeRuntime(logging.NopLogger())
	ctx := context.Background()

	m := newWorktreeMinion(repo, "before")
	if err := rt.CreateMinion(ctx, m); err != nil {
		t.Fatalf("CreateMinion: %v", err)
	}
	oldPath := rt.MinionPath(m)

	if err := rt.RenameMinion(ctx, m, "after"); err != nil {
		t.Fatalf("RenameMinion: %v", err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("old worktree path still exists")
	}
	newPath := filepath.Join(worktreesDir(repo), "after")
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("new worktree path missing: %v", err)
	}

	branches, _ := rt.LiveBranches(ctx, repo)
	if containsBranch(branches, "before") || !containsBranch(branches, "after") {
		t.Errorf("branches after rename = %v", branches)
	}
}

func TestWorktreeExecRunsInWorktree(t *testing.T) {
	testutil.RequireGit(t)
	repo := testutil.SetupTestRepo(t)
	rt := newWorktreeRuntime(logging.NopLogger())
	ctx := context.Background()

	m := newWorktreeMinion(repo, "runner")
	if err := rt.CreateMinion(ctx, m); err != nil {
		t.Fatalf("CreateMinion: %v", err)
	}

	res, err := rt.Exec(ctx, m, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != "runner" {
		t.Errorf("HEAD in worktree = %q, want runner", got)
	}
}

func TestFindGitRootWalksUp(t *testing.T) {
	testutil.RequireGit(t)
	repo := testutil.SetupTestRepo(t)

	nested := filepath.Join(repo, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	root, err := findGitRoot(nested)
	if err != nil {
		t.Fatalf("findGitRoot: %v", err)
	}
	if root != repo {
		t.Errorf("findGitRoot = %q, want %q", root, repo)
	}

	if _, err := findGitRoot(t.TempDir()); err == nil {
		t.Error("findGitRoot found a root outside any repository")
	}
}

func containsBranch(branches []string, name string) bool {
	for _, b := range branches {
		if b == name {
			return true
		}
	}
	return false
}
