// Package config provides Legion's application configuration (viper-backed,
// with environment overrides) and the persisted project/minion registry.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the complete Legion configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Session SessionConfig `mapstructure:"session"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
	// Dir is where legion.log is written; empty means stderr.
	Dir string `mapstructure:"dir"`
}

// SessionConfig controls streaming and history behavior.
type SessionConfig struct {
	// StopStreamTimeout is how long remove/archive wait for stream-stop
	// confirmation before proceeding anyway.
	StopStreamTimeout time.Duration `mapstructure:"stop_stream_timeout"`
	// HistoryPageSize is the default window for load-older pagination.
	HistoryPageSize int `mapstructure:"history_page_size"`
}

// RuntimeConfig controls runtime backends.
type RuntimeConfig struct {
	// ExecTimeout bounds command execution inside a minion.
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
	// StatusTimeout bounds external status checks (e.g. PR state lookups).
	StatusTimeout time.Duration `mapstructure:"status_timeout"`
	// DefaultKind is the runtime used when create specifies none.
	DefaultKind string `mapstructure:"default_kind"`
}

// TasksConfig controls the sub-agent task coordinator.
type TasksConfig struct {
	// MaxRunning is the number of concurrent sub-agent task slots.
	MaxRunning int `mapstructure:"max_running"`
}

// ArchiveConfig controls bulk archival.
type ArchiveConfig struct {
	// Workers bounds the worker pool checking merged-PR status across
	// minions. Config application is sequential regardless.
	Workers int `mapstructure:"workers"`
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("logging.dir", "")
	viper.SetDefault("session.stop_stream_timeout", "5s")
	viper.SetDefault("session.history_page_size", 50)
	viper.SetDefault("runtime.exec_timeout", "120s")
	viper.SetDefault("runtime.status_timeout", "15s")
	viper.SetDefault("runtime.default_kind", "worktree")
	viper.SetDefault("tasks.max_running", 4)
	viper.SetDefault("archive.workers", 4)
}

// Load unmarshals the current viper state into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigDir returns the user-level configuration directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".legion"
	}
	return filepath.Join(home, ".config", "legion")
}

// Watch reloads configuration on file change, invoking onChange with each
// fresh Config. Parse failures keep the previous configuration.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(fsnotify.Event) {
		cfg, err := Load()
		if err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}
