package runner

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/simbuild/internal/logfields"
)

// Registry tracks the in-flight processes of a build, the temporary container
// in use and the abort flag. One registry is shared by every component that
// takes part in a build attempt.
type Registry struct {
	mu         sync.Mutex
	procs      map[int]*os.Process
	container  string
	aborted    atomic.Bool
	terminator Terminator
	logger     *slog.Logger
}

// NewRegistry creates a registry that kills process trees with t.
// A nil terminator uses the platform default with a one second grace period.
func NewRegistry(t Terminator, logger *slog.Logger) *Registry {
	if t == nil {
		t = NewTerminator(defaultGrace)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		procs:      make(map[int]*os.Process),
		terminator: t,
		logger:     logger,
	}
}

func (r *Registry) track(p *os.Process) {
	r.mu.Lock()
	r.procs[p.Pid] = p
	r.mu.Unlock()
}

func (r *Registry) untrack(p *os.Process) {
	r.mu.Lock()
	delete(r.procs, p.Pid)
	r.mu.Unlock()
}

// InFlight returns the number of tracked processes.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Abort raises the abort flag and terminates every tracked process tree.
// It returns the number of processes signalled.
func (r *Registry) Abort() int {
	r.aborted.Store(true)

	r.mu.Lock()
	procs := make([]*os.Process, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	clear(r.procs)
	r.mu.Unlock()

	for _, p := range procs {
		if err := r.terminator.TerminateTree(p.Pid); err != nil {
			r.logger.Debug("Process termination failed", logfields.PID(p.Pid), logfields.Error(err))
		}
	}
	return len(procs)
}

// Aborted reports whether an abort was requested since the last Reset.
func (r *Registry) Aborted() bool {
	return r.aborted.Load()
}

// Reset clears the abort flag and forgets the current container. It is called
// before every new build attempt.
func (r *Registry) Reset() {
	r.aborted.Store(false)
	r.mu.Lock()
	r.container = ""
	r.mu.Unlock()
}

// SetContainer records the temporary container currently in use.
func (r *Registry) SetContainer(id string) {
	r.mu.Lock()
	r.container = id
	r.mu.Unlock()
}

// ClearContainer forgets id if it is still the current container.
func (r *Registry) ClearContainer(id string) {
	r.mu.Lock()
	if r.container == id {
		r.container = ""
	}
	r.mu.Unlock()
}

// Container returns the current container id, or "".
func (r *Registry) Container() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.container
}
