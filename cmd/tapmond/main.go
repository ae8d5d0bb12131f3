package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/g960059/tapmon/internal/config"
	"github.com/g960059/tapmon/internal/daemon"
	"github.com/g960059/tapmon/internal/logging"
)

func main() {
	cfg, eventsPath, err := parseFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := daemon.Open(ctx, cfg, logger)
	if err != nil {
		fatal(err)
	}
	defer svc.Close() //nolint:errcheck

	var in io.Reader = os.Stdin
	if eventsPath != "" && eventsPath != "-" {
		f, err := os.Open(eventsPath)
		if err != nil {
			fatal(fmt.Errorf("open events: %w", err))
		}
		defer f.Close() //nolint:errcheck
		in = f
	}

	if _, err := svc.Start(ctx, in, nil); err != nil {
		logger.Error("observer failed", "err", err)
		_ = svc.Close()
		os.Exit(1)
	}
}

// parseFlags applies defaults, then the optional YAML file, then any flag the
// user set explicitly.
func parseFlags(args []string) (config.Config, string, error) {
	defaults := config.DefaultConfig()
	fs := flag.NewFlagSet("tapmond", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	eventsPath := fs.String("events", "-", "NDJSON event source (- for stdin)")
	backend := fs.String("backend", defaults.Backend, "state backend: sqlite, json or memory")
	dbPath := fs.String("db", defaults.DBPath, "SQLite path")
	prefsPath := fs.String("prefs", defaults.PrefsPath, "JSON prefs path")
	prefix := fs.String("prefix", defaults.KeyPrefix, "key prefix shared with the display collaborator")
	ownSource := fs.String("own-source", defaults.OwnSourceID, "identity of the hosting process; its events are never counted")
	focusWindow := fs.Duration("focus-window", defaults.FocusWindow, "same-source debounce window for focus echoes")
	driftWindow := fs.Duration("drift-window", defaults.DriftWindow, "same-source debounce window for content drift")
	promptOnWindow := fs.Bool("prompt-on-window-change", defaults.PromptOnWindowChange, "let foreign window changes request the permission prompt")
	logLevel := fs.String("log-level", defaults.LogLevel, "debug, info, warn or error")
	logFormat := fs.String("log-format", defaults.LogFormat, "json or text")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, "", err
	}

	cfg, err := config.LoadFile(*configPath, defaults)
	if err != nil {
		return config.Config{}, "", err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "db":
			cfg.DBPath = *dbPath
		case "prefs":
			cfg.PrefsPath = *prefsPath
		case "prefix":
			cfg.KeyPrefix = *prefix
		case "own-source":
			cfg.OwnSourceID = *ownSource
		case "focus-window":
			cfg.FocusWindow = *focusWindow
		case "drift-window":
			cfg.DriftWindow = *driftWindow
		case "prompt-on-window-change":
			cfg.PromptOnWindowChange = *promptOnWindow
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})
	return cfg, *eventsPath, cfg.Validate()
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "tapmond: %v\n", err)
	os.Exit(1)
}
