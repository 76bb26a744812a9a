package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Session.StopStreamTimeout)
	assert.Equal(t, 50, cfg.Session.HistoryPageSize)
	assert.Equal(t, 120*time.Second, cfg.Runtime.ExecTimeout)
	assert.Equal(t, 15*time.Second, cfg.Runtime.StatusTimeout)
	assert.Equal(t, "worktree", cfg.Runtime.DefaultKind)
	assert.Equal(t, 4, cfg.Tasks.MaxRunning)
	assert.Equal(t, 4, cfg.Archive.Workers)
}

func TestLoadOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("session.stop_stream_timeout", "250ms")
	viper.Set("runtime.default_kind", "local")
	viper.Set("tasks.max_running", 8)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Session.StopStreamTimeout)
	assert.Equal(t, "local", cfg.Runtime.DefaultKind)
	assert.Equal(t, 8, cfg.Tasks.MaxRunning)
	// Untouched keys keep their defaults.
	assert.Equal(t, 50, cfg.Session.HistoryPageSize)
}

func TestConfigDir(t *testing.T) {
	assert.NotEmpty(t, ConfigDir())
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  history_page_size: 10\n"), 0o644))

	SetDefaults()
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	reloaded := make(chan *Config, 8)
	Watch(func(cfg *Config) {
		reloaded <- cfg
	})

	require.NoError(t, os.WriteFile(path, []byte("session:\n  history_page_size: 99\n"), 0o644))

	// The watcher may fire more than once per edit; wait for the edit to
	// land.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.Session.HistoryPageSize == 99 {
				return
			}
		case <-deadline:
			t.Fatal("config change never observed")
		}
	}
}
