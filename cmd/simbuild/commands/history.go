package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/config"
	"git.home.luguber.info/inful/simbuild/internal/eventstore"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/state"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Project string `arg:"" optional:"" name:"project" help:"Only show builds of this project file" type:"path"`
	Limit   int    `short:"n" default:"20" help:"Maximum number of builds to show"`
	JSON    bool   `name:"json" help:"Print the builds as JSON"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	return runHistory(context.Background(), cfg, h, os.Stdout)
}

func runHistory(ctx context.Context, cfg *config.Config, h *HistoryCmd, out io.Writer) error {
	if !cfg.History.Enabled {
		return foundation.ConfigError("build history is disabled (set history.enabled in the configuration)").Build()
	}
	store, err := eventstore.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	proj := eventstore.NewBuildHistoryProjection(store, 0)
	if err := proj.Rebuild(ctx, time.Now().Add(-cfg.History.Retention)); err != nil {
		return err
	}

	var project string
	if h.Project != "" {
		if project, err = filepath.Abs(h.Project); err != nil {
			project = h.Project
		}
	}
	var builds []eventstore.BuildSummary
	for _, b := range proj.History(0) {
		if project != "" && b.Project != project {
			continue
		}
		builds = append(builds, b)
		if h.Limit > 0 && len(builds) == h.Limit {
			break
		}
	}

	if h.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if builds == nil {
			builds = []eventstore.BuildSummary{}
		}
		return enc.Encode(builds)
	}
	if len(builds) == 0 {
		_, err := fmt.Fprintln(out, "No builds recorded.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tPROJECT\tSTATUS\tSETUP\tDURATION\tBUILD\tERROR")
	for _, b := range builds {
		dur := "-"
		if b.Finished() {
			dur = fmt.Sprintf("%.1fs", b.Duration.Seconds())
		}
		setup := b.SetupMode
		if setup == "" {
			setup = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			b.StartedAt.Local().Format(time.DateTime),
			state.ProjectName(b.Project),
			b.Status, setup, dur, shortBuildID(b.BuildID), b.Error)
	}
	return tw.Flush()
}

func shortBuildID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
