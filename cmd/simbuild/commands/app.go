package commands

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/simbuild/internal/build"
	"git.home.luguber.info/inful/simbuild/internal/config"
	"git.home.luguber.info/inful/simbuild/internal/container"
	"git.home.luguber.info/inful/simbuild/internal/eventstore"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/metrics"
	"git.home.luguber.info/inful/simbuild/internal/notify"
	"git.home.luguber.info/inful/simbuild/internal/preview"
	"git.home.luguber.info/inful/simbuild/internal/retry"
	"git.home.luguber.info/inful/simbuild/internal/runner"
	"git.home.luguber.info/inful/simbuild/internal/simulator"
	"git.home.luguber.info/inful/simbuild/internal/state"
	"git.home.luguber.info/inful/simbuild/internal/tooling"
)

const shutdownTimeout = 30 * time.Second

// app holds the wired components of one CLI invocation.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	gateway      *container.Gateway
	states       *state.Registry
	manager      *simulator.Manager
	fingerprint  *tooling.Fingerprinter
	recorder     metrics.Recorder
	promRegistry *prom.Registry
	events       notify.Publisher
	nats         *notify.NATSPublisher
	history      *eventstore.SQLiteStore
}

// newApp wires the runtime from cfg. r replaces the process runner, for tests.
func newApp(cfg *config.Config, logger *slog.Logger, r func(*runner.Registry) runner.Runner) *app {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger, recorder: metrics.NoopRecorder{}, events: notify.Nop{}}

	if cfg.Metrics.Enabled {
		a.promRegistry = prom.NewRegistry()
		a.recorder = metrics.NewPrometheusRecorder(a.promRegistry)
	}

	var sinks notify.Fanout
	if cfg.Events.NATSURL != "" {
		pub, err := notify.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("Build events disabled", logfields.Error(err))
		} else {
			a.nats = pub
			sinks = append(sinks, pub)
		}
	}
	if cfg.History.Enabled {
		store, err := a.openHistory(context.Background())
		if err != nil {
			logger.Warn("Build history disabled", logfields.Error(err))
		} else {
			a.history = store
			sinks = append(sinks, store)
		}
	}
	if len(sinks) > 0 {
		a.events = sinks
	}

	procs := runner.NewRegistry(runner.NewTerminator(cfg.Build.KillGrace), logger)
	var run runner.Runner = runner.NewExec(procs, logger)
	if r != nil {
		run = r(procs)
	}
	a.gateway = container.New(run, procs, container.Options{
		Docker:     cfg.Build.DockerBinary,
		ToolingDir: cfg.Build.ToolingDir,
		Service:    cfg.Build.Service,
		Volume:     cfg.Build.Volume,
	}, logger)

	orch := build.NewOrchestrator(a.gateway, procs, build.Config{
		RepositoryURL: cfg.Build.RepositoryURL(),
		ProjectRoot:   cfg.Build.ProjectRoot,
		CloneRetry:    retry.NewPolicy(retry.Mode(cfg.Build.CloneBackoff), cfg.Build.CloneRetryDelay, 0, cfg.Build.CloneAttempts-1),
	}).WithRecorder(a.recorder).WithLogger(logger)

	var resolver tooling.HeadResolver
	if cfg.Tooling.TrackRemoteHead {
		resolver = tooling.RemoteHead{}
	}
	a.fingerprint = tooling.NewFingerprinter(cfg.Build.ToolingDir, cfg.Build.RepositoryURL(), resolver, logger)

	a.states = state.NewRegistry(state.Limits{
		MaxLogEntries:        cfg.State.MaxLogEntries,
		MaxPreviewLogEntries: cfg.State.MaxPreviewLogEntries,
	})

	srv := preview.New(preview.Options{
		Host:                  cfg.Preview.Host,
		DisableConsoleCapture: cfg.Preview.DisableConsoleCapture,
		LiveReload:            cfg.Preview.LiveReload,
	}).WithLogger(logger).WithRecorder(a.recorder)

	a.manager = simulator.NewManager(simulator.Config{
		OutputDirName: cfg.Build.OutputDir,
		ToolingDir:    cfg.Build.ToolingDir,
	}, simulator.Deps{
		Orchestrator: orch,
		Gateway:      a.gateway,
		States:       a.states,
		Preview:      srv,
		Fingerprint:  a.fingerprint.Fingerprint,
		Events:       a.events,
		Recorder:     a.recorder,
		Logger:       logger,
	})
	return a
}

// openHistory opens the history database and prunes expired events.
func (a *app) openHistory(ctx context.Context) (*eventstore.SQLiteStore, error) {
	store, err := eventstore.Open(a.cfg.History.Path)
	if err != nil {
		return nil, err
	}
	n, err := store.Prune(ctx, time.Now().Add(-a.cfg.History.Retention))
	if err != nil {
		a.logger.Warn("Build history prune failed", logfields.Error(err))
	} else if n > 0 {
		a.logger.Debug("Pruned build history", logfields.Count(int(n)))
	}
	return store, nil
}

// serveMetrics exposes /metrics until ctx is done. It is a no-op when
// metrics are disabled.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.promRegistry == nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Metrics.ListenAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(a.promRegistry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", logfields.Error(err))
		}
	}()
	a.logger.Info("Serving metrics", logfields.URL("http://"+ln.Addr().String()+"/metrics"))
	return nil
}

// Close releases external connections.
func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Debug("Closing build history failed", logfields.Error(err))
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Debug("NATS drain failed", logfields.Error(err))
		}
	}
}
