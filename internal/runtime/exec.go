package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/legion-dev/legion/internal/errors"
)

// run executes a command in dir with the default timeout applied when the
// caller's context carries no deadline.
func run(ctx context.Context, dir, name string, args ...string) (ExecResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultExecTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("%w: %s", errors.ErrTimeout, name)
		}
		return res, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return res, nil
}

// runGit executes a git command in dir, treating a nonzero exit as an error
// carrying the combined output.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := run(ctx, dir, "git", args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		out := strings.TrimSpace(res.Stderr)
		if out == "" {
			out = strings.TrimSpace(res.Stdout)
		}
		return "", fmt.Errorf("git %s failed: %s", args[0], out)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// confinePath joins rel onto root and verifies the result stays inside
// root. Absolute rel paths and ".." traversal are refused.
func confinePath(root, rel string) (string, error) {
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
