package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
)

// Config is the simbuild configuration file.
type Config struct {
	Build   BuildConfig   `yaml:"build"`
	State   StateConfig   `yaml:"state"`
	Preview PreviewConfig `yaml:"preview"`
	Watch   WatchConfig   `yaml:"watch"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
	Health  HealthConfig  `yaml:"health"`
	Tooling ToolingConfig `yaml:"tooling"`
	History HistoryConfig `yaml:"history"`

	// path of the file the config was read from, empty for defaults
	source string
}

// BuildConfig describes the container toolchain and the shared volume.
type BuildConfig struct {
	Repository        string        `yaml:"repository"`          // Scaffold repository cloned into the volume
	RepositoryBaseURL string        `yaml:"repository_base_url"` // Prefix joined with Repository for git clone
	Volume            string        `yaml:"volume"`              // Named volume shared by every build
	ToolingDir        string        `yaml:"tooling_dir"`         // Directory holding Dockerfile and docker-compose.yml
	Service           string        `yaml:"service"`             // Compose service running the toolchain
	ProjectRoot       string        `yaml:"project_root"`        // Volume mount point inside the container
	OutputDir         string        `yaml:"output_dir"`          // Artifact directory, relative to the project dir
	DockerBinary      string        `yaml:"docker_binary"`
	KillGrace         time.Duration `yaml:"kill_grace"`        // Delay between SIGTERM and SIGKILL on abort
	CloneAttempts     int           `yaml:"clone_attempts"`    // Total tries for the first-time scaffold clone
	CloneBackoff      string        `yaml:"clone_backoff"`     // fixed|linear|exponential
	CloneRetryDelay   time.Duration `yaml:"clone_retry_delay"` // Base delay between clone attempts
}

// StateConfig caps the in-memory log sequences per project.
type StateConfig struct {
	MaxLogEntries        int `yaml:"max_log_entries"`
	MaxPreviewLogEntries int `yaml:"max_preview_log_entries"`
}

// PreviewConfig controls the loopback artifact server.
type PreviewConfig struct {
	Host                  string `yaml:"host"`
	DisableConsoleCapture bool   `yaml:"disable_console_capture"`
	LiveReload            bool   `yaml:"live_reload"`
}

// WatchConfig controls rebuild-on-change.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// EventsConfig controls publishing of build lifecycle events to NATS.
// An empty URL disables publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// HealthConfig controls the periodic container runtime probe.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// HistoryConfig controls the local SQLite record of build attempts.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`      // Database file; defaults below the user cache directory
	Retention time.Duration `yaml:"retention"` // Events older than this are pruned on open
}

// ToolingConfig controls how the build tooling fingerprint is computed.
type ToolingConfig struct {
	TrackRemoteHead bool `yaml:"track_remote_head"`
}

// RepositoryURL is the clone URL of the scaffold repository.
func (b BuildConfig) RepositoryURL() string {
	return strings.TrimSuffix(b.RepositoryBaseURL, "/") + "/" + b.Repository
}

// Source returns the path the configuration was loaded from.
func (c *Config) Source() string { return c.source }

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := applyDefaults(cfg); err != nil {
		// defaults never fail on an empty config
		panic(err)
	}
	return cfg
}

// Load reads the configuration file at path. Environment variables referenced as
// ${NAME} are expanded before parsing, after .env files in the working directory
// have been loaded. An empty path yields Default().
func Load(path string) (*Config, error) {
	loadEnvFiles()

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, foundation.ConfigError("configuration file not found").
				WithContext("path", path).
				Build()
		}
		return nil, foundation.WrapError(err, foundation.CategoryConfig, "failed to read config file").
			WithContext("path", path).
			Build()
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}
	cfg.source = path

	// relative tooling paths are relative to the config file
	if cfg.Build.ToolingDir != "" && !filepath.IsAbs(cfg.Build.ToolingDir) {
		cfg.Build.ToolingDir = filepath.Join(filepath.Dir(path), cfg.Build.ToolingDir)
	}
	if !filepath.IsAbs(cfg.History.Path) {
		cfg.History.Path = filepath.Join(filepath.Dir(path), cfg.History.Path)
	}
	return cfg, nil
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, foundation.WrapError(err, foundation.CategoryConfig, "failed to parse config").Build()
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init writes an example configuration file.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return foundation.NewError(foundation.CategoryValidation,
			fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", path)).Build()
	}

	example := Default()
	example.Metrics.Enabled = true
	example.Events.NATSURL = "${SIMBUILD_NATS_URL}"
	example.Health.Enabled = true
	example.History.Enabled = true
	example.History.Path = ""

	data, err := yaml.Marshal(example)
	if err != nil {
		return foundation.WrapError(err, foundation.CategoryInternal, "failed to marshal config").Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return foundation.WrapError(err, foundation.CategoryFileSystem, "failed to write config file").
			WithContext("path", path).
			Build()
	}
	return nil
}
