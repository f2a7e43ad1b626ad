// Package health periodically probes the container runtime while simbuild
// runs in the foreground.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/metrics"
)

// Probe returns nil while the runtime can run builds.
type Probe func(ctx context.Context) error

// Monitor runs a Probe on a fixed interval and reports transitions.
type Monitor struct {
	scheduler gocron.Scheduler
	probe     Probe
	recorder  metrics.Recorder
	logger    *slog.Logger

	mu      sync.Mutex
	known   bool
	healthy bool
	lastErr error
	checked time.Time
}

// NewMonitor creates a stopped monitor.
func NewMonitor(probe Probe, recorder metrics.Recorder, logger *slog.Logger) (*Monitor, error) {
	if probe == nil {
		return nil, foundation.ValidationError("health probe is required").Build()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, foundation.WrapError(err, foundation.CategoryInternal, "failed to create gocron scheduler").Build()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{scheduler: s, probe: probe, recorder: recorder, logger: logger}, nil
}

// Start schedules the probe every interval, first run immediately.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { _ = m.Check(ctx) }),
		gocron.WithName("runtime-health"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return foundation.WrapError(err, foundation.CategoryInternal, "failed to schedule health probe").Build()
	}
	m.logger.Info("Starting runtime health monitor", logfields.Duration(interval))
	m.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down and waits for a running probe.
func (m *Monitor) Stop() error {
	return m.scheduler.Shutdown()
}

// Check runs the probe once. The first result and every change are logged.
func (m *Monitor) Check(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := m.probe(ctx)
	healthy := err == nil

	m.mu.Lock()
	changed := !m.known || m.healthy != healthy
	m.known, m.healthy, m.lastErr, m.checked = true, healthy, err, time.Now()
	m.mu.Unlock()

	m.recorder.SetRuntimeHealthy(healthy)
	if changed {
		if healthy {
			m.logger.Info("Container runtime available")
		} else {
			m.logger.Warn("Container runtime unavailable", slog.String("reason", foundation.Message(err)))
		}
	}
	return err
}

// Status returns the last probe result. ok is false before the first probe.
func (m *Monitor) Status() (healthy bool, lastErr error, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy, m.lastErr, m.known
}
