package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/simbuild/internal/health"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/notify"
	"git.home.luguber.info/inful/simbuild/internal/project"
	"git.home.luguber.info/inful/simbuild/internal/watch"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Project string `arg:"" name:"project" help:"Path to the editor project file" type:"path"`
	Force   bool   `short:"f" help:"Rebuild even when the outputs match the project"`
	Watch   bool   `short:"w" help:"Rebuild and reload the preview when the project changes"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	if r.Watch {
		cfg.Preview.LiveReload = true
	}
	src, err := project.NewFile(r.Project)
	if err != nil {
		return err
	}

	a := newApp(cfg, g.Logger, nil)
	defer a.Close()
	if err := a.serveMetrics(ctx); err != nil {
		g.Logger.Warn("Metrics endpoint disabled", logfields.Error(err))
	}
	if a.nats != nil {
		go notify.ForwardState(ctx, a.states, a.nats, g.Logger)
	}
	if cfg.Health.Enabled {
		mon, err := health.NewMonitor(a.gateway.Preflight, a.recorder, g.Logger)
		if err != nil {
			return err
		}
		if err := mon.Start(ctx, cfg.Health.Interval); err != nil {
			return err
		}
		defer func() { _ = mon.Stop() }()
	}

	// an interrupt aborts a running build and stops the preview
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		a.manager.StopFullSimulator(stopCtx, src.Path())
		a.manager.Shutdown(stopCtx)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	if err := a.manager.StartFullSimulator(ctx, src, r.Force); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if !r.Watch {
			return err
		}
	}
	if url := a.states.ProjectState(src.Path()).PreviewURL(); url != "" {
		fmt.Printf("Simulator running at %s\n", url)
	}

	if !r.Watch {
		<-ctx.Done()
		return nil
	}

	paths, err := src.WatchPaths()
	if err != nil {
		return err
	}
	return watch.New(paths, cfg.Watch.Debounce, g.Logger).Run(ctx, func(ctx context.Context) {
		if err := a.manager.StartFullSimulator(ctx, src, false); err != nil {
			return
		}
		if url := a.states.ProjectState(src.Path()).PreviewURL(); url != "" {
			fmt.Printf("Simulator running at %s\n", url)
		}
	})
}
