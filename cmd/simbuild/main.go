package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/simbuild/cmd/simbuild/commands"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Must(cli,
		kong.Name("simbuild"),
		kong.Description("Build LVGL simulator projects to WebAssembly in a container and preview them locally."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	global := &commands.Global{Logger: slog.Default()}
	if err := ctx.Run(global, cli); err != nil {
		foundation.NewCLIErrorAdapter(cli.Verbose, global.Logger).HandleError(err)
	}
}
