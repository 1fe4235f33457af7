// Package config handles ticketd configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/drewfead/ticketd/internal/ticketref"
)

// Config is the root configuration for ticketd.
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Refs    RefsConfig    `yaml:"refs"`
	Tickets TicketsConfig `yaml:"tickets"`
}

// DaemonConfig defines ticketd settings.
type DaemonConfig struct {
	Socket    string        `yaml:"socket"`
	Database  string        `yaml:"database"`
	LogFile   string        `yaml:"log_file"`
	LogLevel  string        `yaml:"log_level"`
	SentryDSN string        `yaml:"sentry_dsn"`
	Metrics   MetricsConfig `yaml:"metrics"`

	// HookSecret signs pusher assertions sent by the git hook. Empty
	// disables signing.
	HookSecret string `yaml:"hook_secret"`
}

// MetricsConfig defines optional metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RefsConfig defines the ticket ref namespace.
type RefsConfig struct {
	TicketHead string `yaml:"ticket_head"` // refs/heads/ticket/<n>
	Patchsets  string `yaml:"patchsets"`   // refs/tickets/<shard>/<n>/<rev>
	NewTicket  string `yaml:"new_ticket"`  // refs/for/<branch>
}

// TicketsConfig defines ticket defaults.
type TicketsConfig struct {
	DefaultBranch string `yaml:"default_branch"`
	Repository    string `yaml:"repository"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Daemon: DaemonConfig{
			Socket:   "/tmp/ticketd.sock",
			Database: filepath.Join(homeDir, ".local/share/ticketd/ticketd.db"),
			LogFile:  filepath.Join(homeDir, ".local/share/ticketd/ticketd.log"),
			LogLevel: "info",
			Metrics:  MetricsConfig{Enabled: false, Port: 9090},
		},
		Refs: RefsConfig{
			TicketHead: ticketref.DefaultHeadRoot,
			Patchsets:  ticketref.DefaultPatchsetRoot,
			NewTicket:  ticketref.DefaultNewTicketRoot,
		},
		Tickets: TicketsConfig{
			DefaultBranch: "main",
		},
	}
}

// Load reads configuration from the default path or returns the defaults.
func Load() (*Config, error) {
	return LoadFile(DefaultConfigPath())
}

// LoadFile reads configuration from path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.expandEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("TICKETD_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/ticketd/config.yaml")
}

// Namespace returns the configured ref namespace.
func (c *Config) Namespace() ticketref.Namespace {
	return ticketref.NewNamespace(c.Refs.TicketHead, c.Refs.Patchsets, c.Refs.NewTicket)
}

// Validate checks settings that would otherwise fail at push time.
func (c *Config) Validate() error {
	if err := c.Namespace().Validate(); err != nil {
		return fmt.Errorf("refs: %w", err)
	}
	if _, err := ParseLevel(c.Daemon.LogLevel); err != nil {
		return fmt.Errorf("daemon.log_level: %w", err)
	}
	if c.Daemon.Metrics.Enabled && (c.Daemon.Metrics.Port <= 0 || c.Daemon.Metrics.Port > 65535) {
		return fmt.Errorf("daemon.metrics.port: %d out of range", c.Daemon.Metrics.Port)
	}
	return nil
}

// ParseLevel converts a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (c *Config) expandEnvVars() {
	c.Daemon.SentryDSN = os.ExpandEnv(c.Daemon.SentryDSN)
	c.Daemon.HookSecret = os.ExpandEnv(c.Daemon.HookSecret)
	c.Tickets.Repository = os.ExpandEnv(c.Tickets.Repository)
}
