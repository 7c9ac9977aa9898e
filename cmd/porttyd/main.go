package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/portty/portty/internal/bus"
	"github.com/portty/portty/internal/config"
	"github.com/portty/portty/internal/daemon"
	"github.com/portty/portty/internal/history"
	"github.com/portty/portty/internal/portal"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fatal(err)
	}
	flag.StringVar(&cfg.BaseDir, "dir", cfg.BaseDir, "per-user runtime directory")
	flag.StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "control socket path")
	flag.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "layered exec/bin config file")
	flag.StringVar(&cfg.HistoryDBPath, "db", cfg.HistoryDBPath, "request history SQLite path, empty disables")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zap log level")
	flag.Parse()
	cfg = rederivePaths(cfg)

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfgFile, err := config.Load(cfg.ConfigPath)
	if err != nil {
		fatal(err)
	}

	var store *history.Store
	if cfg.HistoryDBPath != "" {
		store, err = history.Open(ctx, cfg.HistoryDBPath)
		if err != nil {
			fatal(err)
		}
		defer store.Close() //nolint:errcheck
	}

	state := daemon.NewState(cfg.Layout(), cfgFile, portal.DefaultRegistry(), logger)
	runner := daemon.NewRunner(state, store, detectTerminal)
	srv := daemon.NewServer(cfg, state)
	reqSrv := bus.NewServer(cfg.Layout().RequestPath(), runner, func(err error) bool {
		return errors.Is(err, daemon.ErrCancelled)
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return reqSrv.Serve(gctx) })

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err = <-done:
	case <-ctx.Done():
		// Give in-flight teardown a bounded window after the stop signal.
		select {
		case err = <-done:
		case <-time.After(cfg.ShutdownTimeout):
			logger.Error("shutdown deadline exceeded", zap.Duration("timeout", cfg.ShutdownTimeout))
			os.Exit(1)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

// rederivePaths keeps socket/ctl under -dir when only the directory was
// overridden.
func rederivePaths(cfg config.Config) config.Config {
	explicitSocket := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "socket" {
			explicitSocket = true
		}
	})
	layout := cfg.Layout()
	if !explicitSocket {
		cfg.SocketPath = layout.SocketPath()
	}
	cfg.CtlPath = layout.CtlPath()
	return cfg
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// detectTerminal picks a terminal emulator for sessions whose config leaves
// exec unset. $TERMINAL wins; otherwise the first known emulator on PATH.
// Empty means headless.
func detectTerminal() string {
	if term := os.Getenv("TERMINAL"); term != "" {
		return term
	}
	for _, candidate := range []string{"foot", "alacritty", "kitty", "wezterm", "gnome-terminal", "konsole", "xterm"} {
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "porttyd: %v\n", err)
	os.Exit(1)
}
