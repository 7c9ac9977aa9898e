package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/portty/portty/internal/paths"
)

// Config carries the daemon's runtime settings. The layered exec/bin
// document lives in File; this struct is only wiring (paths, timeouts).
type Config struct {
	BaseDir         string        `envconfig:"BASE_DIR"`
	SocketPath      string        `envconfig:"SOCKET"`
	CtlPath         string        `envconfig:"CTL"`
	ConfigPath      string        `envconfig:"CONFIG"`
	HistoryDBPath   string        `envconfig:"HISTORY_DB"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
}

func DefaultConfig() Config {
	layout := paths.NewLayout("")
	return Config{
		BaseDir:         layout.Base,
		SocketPath:      layout.SocketPath(),
		CtlPath:         layout.CtlPath(),
		ConfigPath:      defaultConfigPath(),
		HistoryDBPath:   defaultHistoryDBPath(),
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromEnv returns DefaultConfig with PORTTY_* environment overrides applied.
// Socket and ctl paths follow an overridden base dir unless their own
// variables were set explicitly.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("portty", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	layout := paths.NewLayout(cfg.BaseDir)
	if os.Getenv("PORTTY_SOCKET") == "" {
		cfg.SocketPath = layout.SocketPath()
	}
	if os.Getenv("PORTTY_CTL") == "" {
		cfg.CtlPath = layout.CtlPath()
	}
	return cfg, nil
}

func (c Config) Layout() paths.Layout {
	return paths.NewLayout(c.BaseDir)
}

func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "portty", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "portty.toml"
	}
	return filepath.Join(home, ".config", "portty", "config.toml")
}

func defaultHistoryDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "portty-history.db"
	}
	return filepath.Join(home, ".local", "state", "portty", "history.db")
}
