package config

import (
	"net"
	"net/url"
	"path"
	"strings"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
)

// Validate checks a configuration after defaults have been applied.
func Validate(cfg *Config) error {
	if strings.ContainsAny(cfg.Build.Repository, "/\\ ") {
		return invalid("build.repository must be a bare repository name", cfg.Build.Repository)
	}
	if _, err := url.ParseRequestURI(cfg.Build.RepositoryBaseURL); err != nil {
		return invalid("build.repository_base_url must be an absolute URL", cfg.Build.RepositoryBaseURL)
	}
	if strings.ContainsAny(cfg.Build.Volume, "/ ") {
		return invalid("build.volume must be a volume name", cfg.Build.Volume)
	}
	if !path.IsAbs(cfg.Build.ProjectRoot) || path.Clean(cfg.Build.ProjectRoot) == "/" {
		return invalid("build.project_root must be an absolute directory below /", cfg.Build.ProjectRoot)
	}
	if strings.Contains(cfg.Build.OutputDir, "..") {
		return invalid("build.output_dir must stay inside the project directory", cfg.Build.OutputDir)
	}
	switch cfg.Build.CloneBackoff {
	case "fixed", "linear", "exponential":
	default:
		return invalid("build.clone_backoff must be fixed, linear or exponential", cfg.Build.CloneBackoff)
	}
	if ip := net.ParseIP(cfg.Preview.Host); cfg.Preview.Host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return invalid("preview.host must be a loopback address", cfg.Preview.Host)
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.ListenAddr); err != nil {
			return invalid("metrics.listen_addr must be host:port", cfg.Metrics.ListenAddr)
		}
	}
	if strings.ContainsAny(cfg.Events.SubjectPrefix, " *>") {
		return invalid("events.subject_prefix must not contain wildcards or spaces", cfg.Events.SubjectPrefix)
	}
	return nil
}

func invalid(msg, value string) error {
	return foundation.ConfigError(msg).WithContext("value", value).Build()
}
