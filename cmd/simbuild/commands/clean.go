package commands

import (
	"context"
	"path/filepath"
)

// CleanCmd implements the 'clean' command.
type CleanCmd struct {
	Project string `arg:"" name:"project" help:"Path to the editor project file" type:"path"`
	All     bool   `help:"Remove the cloned scaffold as well; the next build starts from scratch"`
}

func (c *CleanCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	path, err := filepath.Abs(c.Project)
	if err != nil {
		path = c.Project
	}

	a := newApp(cfg, g.Logger, nil)
	defer a.Close()
	if c.All {
		return a.manager.CleanAll(context.Background(), path)
	}
	return a.manager.CleanBuildCache(context.Background(), path)
}
