package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/user/ptyhost/internal/boundary"
	"github.com/user/ptyhost/internal/codec"
	"github.com/user/ptyhost/internal/config"
	"github.com/user/ptyhost/internal/history"
	"github.com/user/ptyhost/internal/hub"
	"github.com/user/ptyhost/internal/pty"
	"github.com/user/ptyhost/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	var recorder hub.Recorder
	if cfg.HistoryPath != "" {
		store, err := history.Open(context.Background(), cfg.HistoryPath)
		if err != nil {
			slog.Error("failed to open history store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		recorder = store
	}

	surf := boundary.NewSurface(boundary.SpawnFunc(func(spec codec.CommandSpec) (boundary.Session, error) {
		return pty.Spawn(spec)
	}))

	defaultSize := codec.Size{Rows: cfg.DefaultRows, Cols: cfg.DefaultCols}
	h := hub.New(surf, cfg.Token, cfg.PollInterval(), defaultSize, recorder)

	fmt.Printf("\nptyhostd running at ws://%s/ws?token=%s\n\n", cfg.Listen, cfg.Token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, h)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler: human-readable text on a
// terminal, JSON when output is redirected.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
