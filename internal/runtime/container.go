package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
)

// containerRuntime hosts a minion in a container driven through the docker
// CLI. The devcontainer kind reuses the same mechanics with the image
// derived from the project's devcontainer configuration at build time.
type containerRuntime struct {
	kind   minion.RuntimeKind
	image  string
	logger *logging.Logger
}

func newContainerRuntime(cfg minion.RuntimeConfig, logger *logging.Logger) *containerRuntime {
	return &containerRuntime{kind: cfg.Kind, image: cfg.Image, logger: logger}
}

func (c *containerRuntime) Kind() minion.RuntimeKind { return c.kind }

// containerName derives the container name for a minion.
func containerName(m *minion.Minion) string {
	return "legion-" + m.ID
}

// workdir is the working copy mount point inside the container.
const workdir = "/workspace"

func (c *containerRuntime) MinionPath(m *minion.Minion) string {
	return workdir
}

func (c *containerRuntime) docker(ctx context.Context, args ...string) (ExecResult, error) {
	return run(ctx, "", "docker", args...)
}

func (c *containerRuntime) CreateMinion(ctx context.Context, m *minion.Minion) error {
	image := c.image
	if image == "" {
		return errors.NewValidationError("runtime", "container image is required")
	}

	res, err := c.docker(ctx, "run", "-d",
		"--name", containerName(m),
		"-v", m.ProjectPath+":"+workdir,
		"-w", workdir,
		image, "sleep", "infinity")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to start container: %s", strings.TrimSpace(res.Stderr))
	}

	c.logger.Info("container started", "minion_id", m.ID, "image", image)
	return nil
}

func (c *containerRuntime) DeleteMinion(ctx context.Context, m *minion.Minion) error {
	res, err := c.docker(ctx, "rm", "-f", containerName(m))
	if err != nil {
		return err
	}
	// "No such container" is success for an idempotent delete.
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such container") {
		return fmt.Errorf("failed to remove container: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// RenameMinion is metadata-only: containers are named by minion ID, which
// never changes.
func (c *containerRuntime) RenameMinion(ctx context.Context, m *minion.Minion, newName string) error {
	return nil
}

func (c *containerRuntime) Exec(ctx context.Context, m *minion.Minion, name string, args ...string) (ExecResult, error) {
	dockerArgs := append([]string{"exec", "-w", workdir, containerName(m), name}, args...)
	return c.docker(ctx, dockerArgs...)
}

func (c *containerRuntime) EnsureReady(ctx context.Context, m *minion.Minion) error {
	res, err := c.docker(ctx, "inspect", "-f", "{{.State.Running}}", containerName(m))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "true" {
		return fmt.Errorf("%w: container %s not running", errors.ErrRuntimeNotReady, containerName(m))
	}
	return nil
}

func (c *containerRuntime) ResolvePath(m *minion.Minion, rel string) (string, error) {
	return confinePath(workdir, rel)
}
