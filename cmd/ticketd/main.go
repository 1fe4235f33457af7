// Command ticketd is the ticket push daemon. Git hooks forward ref updates
// to it over a Unix socket.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/drewfead/ticketd/internal/config"
	"github.com/drewfead/ticketd/internal/daemon"
	"github.com/drewfead/ticketd/internal/logging"
)

// Version is set at build time
var Version = "dev"

func main() {
	exitCode := run()
	os.Exit(exitCode)
}

func run() (exitCode int) {
	// Top-level panic recovery
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "main")
			fmt.Fprintf(os.Stderr, "FATAL: unrecovered panic: %v\n", r)
			exitCode = 2
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	// Validated by config.Load
	logLevel, _ := config.ParseLevel(cfg.Daemon.LogLevel)
	if err := logging.Init(logging.Config{
		Level:     logLevel,
		SentryDSN: cfg.Daemon.SentryDSN,
		Version:   Version,
		LogFile:   cfg.Daemon.LogFile,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	defer logging.Flush(2 * time.Second)

	d, err := daemon.New(cfg)
	if err != nil {
		logging.Error("failed to initialize daemon", "error", err)
		return 1
	}

	logging.Info("starting ticketd",
		"version", Version,
		"socket", cfg.Daemon.Socket,
		"database", cfg.Daemon.Database,
		"default_branch", cfg.Tickets.DefaultBranch,
		"signed_hooks", cfg.Daemon.HookSecret != "",
		"sentry", cfg.Daemon.SentryDSN != "",
	)

	if err := d.Run(); err != nil {
		logging.Error("daemon error", "error", err)
		return 1
	}

	return 0
}
