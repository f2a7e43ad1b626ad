package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	"git.home.luguber.info/inful/simbuild/internal/tooling"
)

// DoctorCmd implements the 'doctor' command.
type DoctorCmd struct{}

func (d *DoctorCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	return runDoctor(context.Background(), newApp(cfg, g.Logger, nil), os.Stdout)
}

func runDoctor(ctx context.Context, a *app, out io.Writer) error {
	defer a.Close()
	say := func(msg string, level buildlog.Level) {
		_, _ = fmt.Fprintf(out, "[%s] %s\n", level, msg)
	}

	say("Tooling directory: "+a.cfg.Build.ToolingDir, buildlog.Info)
	if err := tooling.CheckResources(a.cfg.Build.ToolingDir); err != nil {
		say("Docker build resources not found", buildlog.Error)
		return err
	}
	say("Docker build resources found.", buildlog.Success)

	if err := a.gateway.WithSink(say).Preflight(ctx); err != nil {
		return err
	}

	fp, err := a.fingerprint.Fingerprint(ctx)
	if err != nil {
		say("Could not fingerprint build tooling: "+err.Error(), buildlog.Warning)
	} else {
		say("Tooling fingerprint: "+fp, buildlog.Info)
	}
	say("Scaffold repository: "+a.cfg.Build.RepositoryURL(), buildlog.Info)
	return nil
}
