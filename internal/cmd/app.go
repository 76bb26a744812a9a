package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/legion-dev/legion/internal/ai"
	"github.com/legion-dev/legion/internal/config"
	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/orchestrator"
	"github.com/legion-dev/legion/internal/scrollback"
	"github.com/legion-dev/legion/internal/session"
	"github.com/legion-dev/legion/internal/taskcoord"
)

// app bundles the wired-up collaborators behind each subcommand.
type app struct {
	cfg         *config.Config
	orch        *orchestrator.Orchestrator
	logger      *logging.Logger
	projectPath string
}

// newApp builds the orchestrator and its collaborators from configuration.
// Commands share this one construction path so they all see the same
// registry and log destination.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	projectPath, _ := cmd.Flags().GetString("project")
	if projectPath == "" {
		projectPath, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	projectPath, err = filepath.Abs(projectPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store := config.NewStore(filepath.Join(config.ConfigDir(), "projects.json"))
	coord := taskcoord.NewCoordinator(cfg.Tasks.MaxRunning, logger)
	scroll := scrollback.NewStore(filepath.Join(session.LegionDir(projectPath), "scrollback"), logger)

	orch := orchestrator.New(orchestrator.Options{
		Store:       store,
		Config:      cfg,
		Engine:      ai.Disconnected{},
		Coordinator: coord,
		Scrollback:  scroll,
		Logger:      logger,
	})
	orch.Startup(cmd.Context())

	// Long-lived commands pick up config edits without a restart; the log
	// level changes immediately, timeouts and limits on the next operation.
	config.Watch(func(fresh *config.Config) {
		logger.SetLevel(fresh.Logging.Level)
		orch.ReloadConfig(fresh)
		logger.Info("configuration reloaded", "level", fresh.Logging.Level)
	})

	return &app{cfg: cfg, orch: orch, logger: logger, projectPath: projectPath}, nil
}

// close flushes the app's resources. Errors here are not actionable by the
// user, so they are swallowed.
func (a *app) close() {
	a.orch.Close()
	_ = a.logger.Close()
}
