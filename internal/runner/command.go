package runner

import (
	"context"
	"strings"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
)

// Command is one external process invocation. Args are passed to the process
// as-is and are never re-parsed by a shell.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries (KEY=VALUE) appended to the inherited environment.
	Env []string
	// QuietStdout keeps stdout out of the sink while stderr is still logged.
	QuietStdout bool
	// IgnoreAbort lets cleanup commands run after an abort was requested.
	IgnoreAbort bool
}

// String renders the command for log lines, quoting arguments with spaces.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			parts = append(parts, `"`+strings.ReplaceAll(a, `"`, `\"`)+`"`)
			continue
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished command. A failed command never panics
// and never returns a nil Err together with Success=false.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Aborted  bool
	Err      error
}

// Runner executes external commands.
type Runner interface {
	// Run streams each stdout line to sink as info and each non-noise stderr
	// line as a warning.
	Run(ctx context.Context, cmd Command, sink Sink) Result
	// RunSilent captures output without logging it.
	RunSilent(ctx context.Context, cmd Command) Result
}

var errExit1 = foundation.NewError(foundation.CategoryRuntime, "command failed").
	WithContext("exit_code", 1).
	Build()
