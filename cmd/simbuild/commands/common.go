package commands

import (
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/simbuild/internal/config"
)

// DefaultConfigFile is read from the working directory when -c is not given.
const DefaultConfigFile = "simbuild.yaml"

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config      string           `short:"c" help:"Configuration file path (default ./simbuild.yaml when present)"`
	Verbose     bool             `short:"v" help:"Enable verbose logging"`
	Version     kong.VersionFlag `name:"version" help:"Show version and exit"`
	MetricsAddr string           `name:"metrics-addr" help:"Serve Prometheus metrics on this address (enables metrics)"`

	Run     RunCmd     `cmd:"" help:"Build a project if needed and serve the simulator until interrupted"`
	Build   BuildCmd   `cmd:"" help:"Build a project once without serving it"`
	Clean   CleanCmd   `cmd:"" help:"Remove the build cache or the whole project tree from the build volume"`
	Doctor  DoctorCmd  `cmd:"" help:"Check that Docker and the build tooling are usable"`
	History HistoryCmd `cmd:"" help:"List recorded build attempts"`
	Init    InitCmd    `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing; setup logging once. SIMBUILD_LOG_LEVEL
// overrides the level chosen by --verbose.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	if env := strings.TrimSpace(os.Getenv("SIMBUILD_LOG_LEVEL")); env != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(env)); err == nil {
			level = l
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// configPath returns the file to load, or "" for built-in defaults.
func (c *CLI) configPath() string {
	if c.Config != "" {
		return c.Config
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// LoadConfig loads the configuration and applies global flag overrides.
func (c *CLI) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath())
	if err != nil {
		return nil, err
	}
	if c.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = c.MetricsAddr
	}
	return cfg, nil
}
