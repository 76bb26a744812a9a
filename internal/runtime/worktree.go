package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/session"
)

// worktreeRuntime hosts minions in git worktrees under the project's
// .legion/worktrees directory, one branch per minion named after it.
type worktreeRuntime struct {
	logger *logging.Logger
}

func newWorktreeRuntime(logger *logging.Logger) *worktreeRuntime {
	return &worktreeRuntime{logger: logger}
}

func (w *worktreeRuntime) Kind() minion.RuntimeKind { return minion.RuntimeWorktree }

// worktreesDir is where minion worktrees live inside a project.
func worktreesDir(projectPath string) string {
	return filepath.Join(session.LegionDir(projectPath), "worktrees")
}

func (w *worktreeRuntime) MinionPath(m *minion.Minion) string {
	return filepath.Join(worktreesDir(m.ProjectPath), m.Name)
}

// findGitRoot walks up from startDir to the directory containing .git,
// which may be a directory (normal repo) or a file (worktree).
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository: %s", startDir)
		}
		dir = parent
	}
}

func (w *worktreeRuntime) CreateMinion(ctx context.Context, m *minion.Minion) error {
	root, err := findGitRoot(m.ProjectPath)
	if err != nil {
		return err
	}

	path := w.MinionPath(m)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	// Branch and worktree in one step. Forking from the trunk branch when
	// one is configured, HEAD otherwise.
	args := []string{"worktree", "add", "-b", m.Name, path}
	if m.Runtime.TrunkBranch != "" {
		args = append(args, m.Runtime.TrunkBranch)
	}
	if _, err := runGit(ctx, root, args...); err != nil {
		return fmt.Errorf("failed to create worktree: %w", err)
	}

	w.logger.Info("worktree created", "minion_id", m.ID, "path", path, "branch", m.Name)
	return nil
}

func (w *worktreeRuntime) DeleteMinion(ctx context.Context, m *minion.Minion) error {
	root, err := findGitRoot(m.ProjectPath)
	if err != nil {
		return err
	}

	path := w.MinionPath(m)
	if _, err := runGit(ctx, root, "worktree", "remove", "--force", path); err != nil {
		// Manual cleanup, then prune so git forgets the registration.
		os.RemoveAll(path)
		_, _ = runGit(ctx, root, "worktree", "prune")
		if _, statErr := os.Stat(path); statErr == nil {
			return fmt.Errorf("failed to remove worktree: %w", err)
		}
	}

	// Best-effort branch deletion; the branch may have been merged or
	// deleted already.
	if _, err := runGit(ctx, root, "branch", "-D", m.Name); err != nil {
		w.logger.Debug("branch deletion skipped", "minion_id", m.ID, "branch", m.Name, "error", err)
	}

	w.logger.Info("worktree removed", "minion_id", m.ID, "path", path)
	return nil
}

func (w *worktreeRuntime) RenameMinion(ctx context.Context, m *minion.Minion, newName string) error {
	root, err := findGitRoot(m.ProjectPath)
	if err != nil {
		return err
	}

	oldPath := w.MinionPath(m)
	newPath := filepath.Join(worktreesDir(m.ProjectPath), newName)

	if _, err := runGit(ctx, root, "worktree", "move", oldPath, newPath); err != nil {
		return fmt.Errorf("failed to move worktree: %w", err)
	}
	if _, err := runGit(ctx, newPath, "branch", "-m", m.Name, newName); err != nil {
		// Roll the move back so the minion stays consistent.
		_, _ = runGit(ctx, root, "worktree", "move", newPath, oldPath)
		return fmt.Errorf("failed to rename branch: %w", err)
	}

	w.logger.Info("worktree renamed", "minion_id", m.ID, "from", m.Name, "to", newName)
	return nil
}

func (w *worktreeRuntime) Exec(ctx context.Context, m *minion.Minion, name string, args ...string) (ExecResult, error) {
	return run(ctx, w.MinionPath(m), name, args...)
}

func (w *worktreeRuntime) EnsureReady(ctx context.Context, m *minion.Minion) error {
	path := w.MinionPath(m)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("worktree missing at %s: %w", path, err)
	}
	// Confirm git still recognizes the worktree.
	if _, err := runGit(ctx, path, "rev-parse", "--is-inside-work-tree"); err != nil {
		return fmt.Errorf("worktree unusable at %s: %w", path, err)
	}
	return nil
}

func (w *worktreeRuntime) ResolvePath(m *minion.Minion, rel string) (string, error) {
	return confinePath(w.MinionPath(m), rel)
}

// LiveBranches lists local branch names in the project repository. Fork
// naming consults this so a stale branch left by a crashed removal is
// never reused.
func (w *worktreeRuntime) LiveBranches(ctx context.Context, projectPath string) ([]string, error) {
	root, err := findGitRoot(projectPath)
	if err != nil {
		return nil, err
	}
	out, err := runGit(ctx, root, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

var _ BranchLister = (*worktreeRuntime)(nil)
