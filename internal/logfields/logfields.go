package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProject     = "project"
	KeyBuildID     = "build_id"
	KeyPhase       = "phase"
	KeySetupMode   = "setup_mode"
	KeyContainerID = "container_id"
	KeyCommand     = "command"
	KeyPID         = "pid"
	KeyExitCode    = "exit_code"
	KeyPath        = "path"
	KeyFile        = "file"
	KeyCount       = "count"
	KeySize        = "size_bytes"
	KeyDurationMS  = "duration_ms"
	KeyURL         = "url"
	KeyMethod      = "method"
	KeyStatus      = "status"
	KeySubject     = "subject"
	KeyRepo        = "repository"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Project(p string) slog.Attr     { return slog.String(KeyProject, p) }
func BuildID(id string) slog.Attr    { return slog.String(KeyBuildID, id) }
func Phase(name string) slog.Attr    { return slog.String(KeyPhase, name) }
func SetupMode(m string) slog.Attr   { return slog.String(KeySetupMode, m) }
func ContainerID(id string) slog.Attr { return slog.String(KeyContainerID, shortID(id)) }
func Command(c string) slog.Attr     { return slog.String(KeyCommand, c) }
func PID(pid int) slog.Attr          { return slog.Int(KeyPID, pid) }
func ExitCode(code int) slog.Attr    { return slog.Int(KeyExitCode, code) }
func Path(p string) slog.Attr        { return slog.String(KeyPath, p) }
func File(f string) slog.Attr        { return slog.String(KeyFile, f) }
func Count(n int) slog.Attr          { return slog.Int(KeyCount, n) }
func Size(n int64) slog.Attr         { return slog.Int64(KeySize, n) }
func URL(u string) slog.Attr         { return slog.String(KeyURL, u) }
func Method(m string) slog.Attr      { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr      { return slog.Int(KeyStatus, code) }
func Subject(s string) slog.Attr     { return slog.String(KeySubject, s) }
func Repository(r string) slog.Attr  { return slog.String(KeyRepo, r) }

// Duration records d in fractional milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// shortID trims container ids to the 12 characters docker prints.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
