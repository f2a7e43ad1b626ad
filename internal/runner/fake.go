package runner

import (
	"context"
	"strings"
	"sync"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
)

// Call is one command recorded by FakeRunner.
type Call struct {
	Cmd    Command
	Silent bool
}

type rule struct {
	match func(Command) bool
	fn    func(Command) Result
}

// FakeRunner records commands instead of executing them. Responses are chosen
// by the most recently registered matching rule; unmatched commands succeed
// with empty output. When Registry is set the abort flag is honoured like the
// real runner does.
type FakeRunner struct {
	Registry *Registry

	mu    sync.Mutex
	calls []Call
	rules []rule
}

// NewFakeRunner creates a fake sharing registry's abort flag.
func NewFakeRunner(registry *Registry) *FakeRunner {
	return &FakeRunner{Registry: registry}
}

// On registers fn for every command whose rendered form contains fragment.
func (f *FakeRunner) On(fragment string, fn func(Command) Result) {
	f.OnMatch(func(c Command) bool { return strings.Contains(c.String(), fragment) }, fn)
}

// Respond registers a fixed result for commands containing fragment.
func (f *FakeRunner) Respond(fragment string, res Result) {
	f.On(fragment, func(Command) Result { return res })
}

// Fail makes commands containing fragment exit with status 1.
func (f *FakeRunner) Fail(fragment, stderr string) {
	f.Respond(fragment, Failed(stderr))
}

// OnMatch registers fn for commands accepted by match.
func (f *FakeRunner) OnMatch(match func(Command) bool, fn func(Command) Result) {
	f.mu.Lock()
	f.rules = append(f.rules, rule{match: match, fn: fn})
	f.mu.Unlock()
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd Command, sink Sink) Result {
	res := f.exec(ctx, cmd, false)
	if sink != nil && !res.Aborted {
		sink("Running: "+cmd.String(), buildlog.Info)
		if !cmd.QuietStdout {
			emitLines(res.Stdout, buildlog.Info, sink)
		}
		for _, line := range strings.Split(res.Stderr, "\n") {
			if l := strings.TrimSpace(line); l != "" && !IsNoise(l) {
				sink(l, buildlog.Warning)
			}
		}
	}
	return res
}

// RunSilent implements Runner.
func (f *FakeRunner) RunSilent(ctx context.Context, cmd Command) Result {
	return f.exec(ctx, cmd, true)
}

func (f *FakeRunner) exec(ctx context.Context, cmd Command, silent bool) Result {
	if !cmd.IgnoreAbort && ((f.Registry != nil && f.Registry.Aborted()) || ctx.Err() != nil) {
		return abortedResult(cmd, "", "")
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Cmd: cmd, Silent: silent})
	var fn func(Command) Result
	for i := len(f.rules) - 1; i >= 0; i-- {
		if f.rules[i].match(cmd) {
			fn = f.rules[i].fn
			break
		}
	}
	f.mu.Unlock()

	if fn == nil {
		return Result{Success: true}
	}
	res := fn(cmd)
	if !res.Success && res.Err == nil && !res.Aborted {
		res.Err = Failed(res.Stderr).Err
	}
	return res
}

// Calls returns a copy of the recorded calls.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the rendered form of every recorded command.
func (f *FakeRunner) Commands() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Cmd.String()
	}
	return out
}

// Count returns how many recorded commands contain fragment.
func (f *FakeRunner) Count(fragment string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.Contains(c, fragment) {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps the rules.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Succeeded returns a successful result with stdout.
func Succeeded(stdout string) Result {
	return Result{Success: true, Stdout: stdout}
}

// Failed returns a result for a command that exited with status 1.
func Failed(stderr string) Result {
	return Result{
		Stderr:   stderr,
		ExitCode: 1,
		Err:      errExit1,
	}
}

func emitLines(text string, level buildlog.Level, sink Sink) {
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			sink(l, level)
		}
	}
}
