package runtime

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
)

// sshRuntime hosts a minion's working copy on a remote host, driven through
// the ssh CLI so host keys, agents, and jump configuration stay in the
// user's own ssh_config.
type sshRuntime struct {
	host   string
	user   string
	logger *logging.Logger
}

func newSSHRuntime(cfg minion.RuntimeConfig, logger *logging.Logger) *sshRuntime {
	return &sshRuntime{host: cfg.Host, user: cfg.User, logger: logger}
}

func (s *sshRuntime) Kind() minion.RuntimeKind { return minion.RuntimeSSH }

func (s *sshRuntime) target() string {
	if s.user != "" {
		return s.user + "@" + s.host
	}
	return s.host
}

// remoteRoot is where minion working copies live on the remote host.
const remoteRoot = ".legion/minions"

func (s *sshRuntime) MinionPath(m *minion.Minion) string {
	return path.Join(remoteRoot, m.Name)
}

// ssh runs a shell command on the remote host.
func (s *sshRuntime) ssh(ctx context.Context, command string) (ExecResult, error) {
	return run(ctx, "", "ssh", s.target(), command)
}

func (s *sshRuntime) CreateMinion(ctx context.Context, m *minion.Minion) error {
	remote := s.MinionPath(m)
	res, err := s.ssh(ctx, fmt.Sprintf("mkdir -p %q", remote))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to create remote directory: %s", strings.TrimSpace(res.Stderr))
	}

	s.logger.Info("remote minion created", "minion_id", m.ID, "host", s.host, "path", remote)
	return nil
}

func (s *sshRuntime) DeleteMinion(ctx context.Context, m *minion.Minion) error {
	remote := s.MinionPath(m)
	// Refuse to rm anything outside the legion root, whatever the name
	// decoded to.
	if !strings.HasPrefix(path.Clean(remote), remoteRoot+"/") {
		return fmt.Errorf("%w: %s", errors.ErrPathEscape, remote)
	}
	res, err := s.ssh(ctx, fmt.Sprintf("rm -rf %q", remote))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to delete remote directory: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (s *sshRuntime) RenameMinion(ctx context.Context, m *minion.Minion, newName string) error {
	oldRemote := s.MinionPath(m)
	newRemote := path.Join(remoteRoot, newName)
	res, err := s.ssh(ctx, fmt.Sprintf("mv %q %q", oldRemote, newRemote))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to rename remote directory: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (s *sshRuntime) Exec(ctx context.Context, m *minion.Minion, name string, args ...string) (ExecResult, error) {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, fmt.Sprintf("cd %q &&", s.MinionPath(m)), name)
	parts = append(parts, args...)
	return s.ssh(ctx, strings.Join(parts, " "))
}

func (s *sshRuntime) EnsureReady(ctx context.Context, m *minion.Minion) error {
	res, err := s.ssh(ctx, fmt.Sprintf("test -d %q", s.MinionPath(m)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: remote directory missing on %s", errors.ErrRuntimeNotReady, s.host)
	}
	return nil
}

func (s *sshRuntime) ResolvePath(m *minion.Minion, rel string) (string, error) {
	if path.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", errors.ErrPathEscape, rel)
	}
	root := s.MinionPath(m)
	joined := path.Join(root, rel)
	if joined != root && !strings.HasPrefix(joined, root+"/") {
		return "", fmt.Errorf("%w: %s", errors.ErrPathEscape, rel)
	}
	return joined, nil
}
