// Package main provides the entry point for the room-engine chat bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/txn2/room-engine/internal/server"
	"github.com/txn2/room-engine/pkg/activity"
	"github.com/txn2/room-engine/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	opts := options{}
	fs := flag.NewFlagSet("room-engine", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	err := fs.Parse(args)
	return opts, err
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newLogger builds the process logger. Every record is also kept in recent
// for the status endpoint.
func newLogger(w io.Writer, cfg config.LogConfig, recent *activity.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(activity.NewHandler(inner, recent))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Printf("room-engine version %s (commit %s, built %s)\n", server.Version, server.Commit, server.Date)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	recent := activity.NewLog(cfg.Log.Recent)
	slog.SetDefault(newLogger(os.Stderr, cfg.Log, recent))

	ctx, stop := setupSignalHandler()
	defer stop()

	srv, err := server.New(ctx, cfg, recent)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}
