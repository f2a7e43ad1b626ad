//go:build !windows

package runner

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

type signalTerminator struct {
	grace time.Duration
}

// NewTerminator returns the POSIX terminator: SIGTERM to the process group and
// every descendant, then SIGKILL to whatever is still alive after grace.
func NewTerminator(grace time.Duration) Terminator {
	if grace <= 0 {
		grace = defaultGrace
	}
	return signalTerminator{grace: grace}
}

func (t signalTerminator) TerminateTree(pid int) error {
	// collect before signalling, children reparent once the leader dies
	tree := append([]int{pid}, descendants(pid)...)

	err := unix.Kill(-pid, unix.SIGTERM)
	for _, p := range tree {
		_ = unix.Kill(p, unix.SIGTERM)
	}

	time.AfterFunc(t.grace, func() {
		_ = unix.Kill(-pid, unix.SIGKILL)
		for _, p := range tree {
			if unix.Kill(p, 0) == nil {
				_ = unix.Kill(p, unix.SIGKILL)
			}
		}
	})
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func descendants(pid int) []int {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	children, err := proc.Children()
	if err != nil {
		return nil
	}
	var out []int
	for _, c := range children {
		out = append(out, int(c.Pid))
		out = append(out, descendants(int(c.Pid))...)
	}
	return out
}

// isolate puts the child in its own process group so the whole group can be
// signalled at once.
func isolate(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
