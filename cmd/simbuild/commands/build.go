package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/simbuild/internal/project"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Project string `arg:"" name:"project" help:"Path to the editor project file" type:"path"`
	Force   bool   `short:"f" help:"Rebuild even when the outputs match the project"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	src, err := project.NewFile(b.Project)
	if err != nil {
		return err
	}

	a := newApp(cfg, g.Logger, nil)
	defer a.Close()
	return runBuild(ctx, a, src, b.Force)
}

func runBuild(ctx context.Context, a *app, src project.Source, force bool) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.manager.StopFullSimulator(stopCtx, src.Path())
		case <-done:
		}
	}()

	if err := a.manager.BuildFullSimulator(ctx, src, force); err != nil {
		return err
	}
	fmt.Printf("Artifacts written to %s\n", a.manager.OutputDir(src))
	return nil
}
