//go:build windows

package runner

import (
	"os"
	"os/exec"
	"strconv"
	"time"
)

type taskkillTerminator struct{}

// NewTerminator returns the Windows terminator, which delegates tree kills to
// taskkill. The grace period is not used since taskkill /F is immediate.
func NewTerminator(time.Duration) Terminator {
	return taskkillTerminator{}
}

func (taskkillTerminator) TerminateTree(pid int) error {
	err := exec.Command("taskkill", "/pid", strconv.Itoa(pid), "/T", "/F").Run()
	if err == nil {
		return nil
	}
	p, findErr := os.FindProcess(pid)
	if findErr != nil {
		return err
	}
	return p.Kill()
}

func isolate(*exec.Cmd) {}
