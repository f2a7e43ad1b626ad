package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultRepository        = "lvgl-simulator-for-studio-docker-build"
	DefaultRepositoryBaseURL = "https://github.com/eez-open"
	DefaultVolume            = "eez-studio-lvgl-build"
	DefaultToolingDir        = "docker-build"
	DefaultService           = "emscripten-build"
	DefaultProjectRoot       = "/project"
	DefaultOutputDir         = ".docker-build-output"
	DefaultDockerBinary      = "docker"
	DefaultKillGrace         = time.Second
	DefaultCloneAttempts     = 3
	DefaultCloneBackoff      = "linear"
	DefaultCloneRetryDelay   = 2 * time.Second

	DefaultMaxLogEntries        = 5000
	DefaultMaxPreviewLogEntries = 1000

	DefaultPreviewHost      = "127.0.0.1"
	DefaultWatchDebounce    = 300 * time.Millisecond
	DefaultMetricsAddr      = "127.0.0.1:9464"
	DefaultSubjectPrefix    = "simbuild"
	DefaultHealthInterval   = time.Minute
	DefaultHistoryRetention = 30 * 24 * time.Hour
	DefaultHistoryFile      = "history.db"
	minimumHealthInterval   = 5 * time.Second
	minimumWatchDebounce    = 50 * time.Millisecond
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// BuildDefaultApplier handles Build configuration defaults.
type BuildDefaultApplier struct{}

func (BuildDefaultApplier) Domain() string { return "build" }

func (BuildDefaultApplier) ApplyDefaults(cfg *Config) error {
	b := &cfg.Build
	setDefault(&b.Repository, DefaultRepository)
	setDefault(&b.RepositoryBaseURL, DefaultRepositoryBaseURL)
	setDefault(&b.Volume, DefaultVolume)
	setDefault(&b.ToolingDir, DefaultToolingDir)
	setDefault(&b.Service, DefaultService)
	setDefault(&b.ProjectRoot, DefaultProjectRoot)
	setDefault(&b.OutputDir, DefaultOutputDir)
	setDefault(&b.DockerBinary, DefaultDockerBinary)
	if b.KillGrace <= 0 {
		b.KillGrace = DefaultKillGrace
	}
	if b.CloneAttempts <= 0 {
		b.CloneAttempts = DefaultCloneAttempts
	}
	setDefault(&b.CloneBackoff, DefaultCloneBackoff)
	if b.CloneRetryDelay <= 0 {
		b.CloneRetryDelay = DefaultCloneRetryDelay
	}
	return nil
}

// StateDefaultApplier handles log cap defaults.
type StateDefaultApplier struct{}

func (StateDefaultApplier) Domain() string { return "state" }

func (StateDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.State.MaxLogEntries <= 0 {
		cfg.State.MaxLogEntries = DefaultMaxLogEntries
	}
	if cfg.State.MaxPreviewLogEntries <= 0 {
		cfg.State.MaxPreviewLogEntries = DefaultMaxPreviewLogEntries
	}
	return nil
}

// ServeDefaultApplier handles defaults of the long-running surfaces: preview,
// watch, metrics, events and health.
type ServeDefaultApplier struct{}

func (ServeDefaultApplier) Domain() string { return "serve" }

func (ServeDefaultApplier) ApplyDefaults(cfg *Config) error {
	setDefault(&cfg.Preview.Host, DefaultPreviewHost)
	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	} else if cfg.Watch.Debounce < minimumWatchDebounce {
		cfg.Watch.Debounce = minimumWatchDebounce
	}
	setDefault(&cfg.Metrics.ListenAddr, DefaultMetricsAddr)
	setDefault(&cfg.Events.SubjectPrefix, DefaultSubjectPrefix)
	if cfg.Health.Interval <= 0 {
		cfg.Health.Interval = DefaultHealthInterval
	} else if cfg.Health.Interval < minimumHealthInterval {
		cfg.Health.Interval = minimumHealthInterval
	}
	return nil
}

// HistoryDefaultApplier places the history database and sets its retention.
type HistoryDefaultApplier struct{}

func (HistoryDefaultApplier) Domain() string { return "history" }

func (HistoryDefaultApplier) ApplyDefaults(cfg *Config) error {
	h := &cfg.History
	if h.Retention <= 0 {
		h.Retention = DefaultHistoryRetention
	}
	if h.Path == "" {
		h.Path = defaultHistoryPath()
	}
	return nil
}

func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".simbuild", DefaultHistoryFile)
	}
	return filepath.Join(dir, "simbuild", DefaultHistoryFile)
}

func appliers() []DefaultApplier {
	return []DefaultApplier{BuildDefaultApplier{}, StateDefaultApplier{}, ServeDefaultApplier{}, HistoryDefaultApplier{}}
}

func applyDefaults(cfg *Config) error {
	for _, a := range appliers() {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
