// Package shell builds POSIX sh scripts that run inside the build container.
// All quoting happens here so callers never splice raw paths into a script.
package shell

import "strings"

// Quote returns s as a single-quoted sh word.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, unsafeRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func unsafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}

// Cmd renders one command with every argument quoted.
func Cmd(name string, args ...string) string {
	words := make([]string, 0, len(args)+1)
	words = append(words, Quote(name))
	for _, a := range args {
		words = append(words, Quote(a))
	}
	return strings.Join(words, " ")
}

// Script is a sequence of steps joined with && so the first failure stops it.
type Script struct {
	steps []string
}

// New starts a script.
func New() *Script { return &Script{} }

// Add appends a quoted command.
func (s *Script) Add(name string, args ...string) *Script {
	s.steps = append(s.steps, Cmd(name, args...))
	return s
}

// Raw appends a step verbatim. Use it only for fragments that need globbing,
// pipes or redirection, and quote any variable parts with Quote.
func (s *Script) Raw(step string) *Script {
	s.steps = append(s.steps, step)
	return s
}

// Len returns the number of steps.
func (s *Script) Len() int { return len(s.steps) }

// String renders the script.
func (s *Script) String() string { return strings.Join(s.steps, " && ") }

// Argv returns the argument vector that runs the script with sh -c.
func (s *Script) Argv() []string { return []string{"sh", "-c", s.String()} }
