package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"/project/src/ui.c":         "/project/src/ui.c",
		"":                          "''",
		"/project/src/my screen.c":  "'/project/src/my screen.c'",
		"it's":                      `'it'"'"'s'`,
		"*.cpp":                     "'*.cpp'",
		"$(reboot)":                 "'$(reboot)'",
		"--display-width=800":       "--display-width=800",
		"groups.encoder":            "groups.encoder",
	}
	for in, want := range cases {
		assert.Equal(t, want, Quote(in), "Quote(%q)", in)
	}
}

func TestScript(t *testing.T) {
	s := New().
		Raw("cd /project").
		Add("git", "clone", "--recursive", "https://github.com/eez-open/repo", ".")

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "cd /project && git clone --recursive https://github.com/eez-open/repo .", s.String())
	assert.Equal(t, []string{"sh", "-c", s.String()}, s.Argv())
}

func TestCmdQuotesEveryWord(t *testing.T) {
	got := Cmd("find", "/project/src", "-type", "f", "(", "-name", "*.c", ")")
	assert.Equal(t, "find /project/src -type f '(' -name '*.c' ')'", got)
}
