package runtime

import (
	"context"
	"fmt"
	"os"

	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
)

// localRuntime runs a minion directly in the project directory. There is no
// isolation; create and rename are metadata-only.
type localRuntime struct {
	logger *logging.Logger
}

func newLocalRuntime(logger *logging.Logger) *localRuntime {
	return &localRuntime{logger: logger}
}

func (l *localRuntime) Kind() minion.RuntimeKind { return minion.RuntimeLocal }

func (l *localRuntime) MinionPath(m *minion.Minion) string {
	return m.ProjectPath
}

func (l *localRuntime) CreateMinion(ctx context.Context, m *minion.Minion) error {
	if _, err := os.Stat(m.ProjectPath); err != nil {
		return fmt.Errorf("project path unavailable: %w", err)
	}
	return nil
}

// DeleteMinion never touches the project directory itself.
func (l *localRuntime) DeleteMinion(ctx context.Context, m *minion.Minion) error {
	return nil
}

func (l *localRuntime) RenameMinion(ctx context.Context, m *minion.Minion, newName string) error {
	return nil
}

func (l *localRuntime) Exec(ctx context.Context, m *minion.Minion, name string, args ...string) (ExecResult, error) {
	return run(ctx, m.ProjectPath, name, args...)
}

func (l *localRuntime) EnsureReady(ctx context.Context, m *minion.Minion) error {
	if _, err := os.Stat(m.ProjectPath); err != nil {
		return fmt.Errorf("project path unavailable: %w", err)
	}
	return nil
}

func (l *localRuntime) ResolvePath(m *minion.Minion, rel string) (string, error) {
	return confinePath(m.ProjectPath, rel)
}
