package runner

import "time"

const defaultGrace = time.Second

// Terminator kills a process together with all of its descendants.
type Terminator interface {
	TerminateTree(pid int) error
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(pid int) error

func (f TerminatorFunc) TerminateTree(pid int) error { return f(pid) }
