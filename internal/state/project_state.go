package state

import (
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
)

// ProjectState is the state of one project. It is safe for concurrent use.
type ProjectState struct {
	path   string
	limits Limits
	notify func(Change)
	now    func() time.Time

	mu            sync.RWMutex
	logs          []LogEntry
	nextLogID     uint64
	previewLogs   []PreviewLogEntry
	nextPreviewID uint64

	state      SimulatorState
	previewURL string
	errMsg     string
	phase      string
	lastRev    string
	needsClean bool
	active     bool
}

func newProjectState(path string, limits Limits, notify func(Change)) *ProjectState {
	if notify == nil {
		notify = func(Change) {}
	}
	return &ProjectState{
		path:   path,
		limits: limits.withDefaults(),
		notify: notify,
		now:    time.Now,
		state:  StateIdle,
	}
}

// Path returns the project path the state is keyed by.
func (p *ProjectState) Path() string { return p.path }

func (p *ProjectState) changed(kind ChangeKind) {
	p.notify(Change{Project: p.path, Kind: kind})
}

// AddLog appends a build log line. The oldest lines are dropped past the cap.
func (p *ProjectState) AddLog(msg string, level buildlog.Level) LogEntry {
	p.mu.Lock()
	p.nextLogID++
	e := LogEntry{ID: p.nextLogID, Time: p.now(), Level: level, Message: msg}
	p.logs = appendCapped(p.logs, e, p.limits.MaxLogEntries)
	p.mu.Unlock()

	p.changed(ChangeLog)
	return e
}

// Sink returns a buildlog.Sink writing into this project's log.
func (p *ProjectState) Sink() buildlog.Sink {
	return func(msg string, level buildlog.Level) { p.AddLog(msg, level) }
}

// Logs returns a copy of the retained log lines.
func (p *ProjectState) Logs() []LogEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.logs)
}

// LogsSince returns the retained lines with an ID greater than id.
func (p *ProjectState) LogsSince(id uint64) []LogEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, _ := slices.BinarySearchFunc(p.logs, id+1, func(e LogEntry, target uint64) int {
		switch {
		case e.ID < target:
			return -1
		case e.ID > target:
			return 1
		}
		return 0
	})
	return slices.Clone(p.logs[i:])
}

// ClearLogs drops all log lines. IDs keep increasing.
func (p *ProjectState) ClearLogs() {
	p.mu.Lock()
	p.logs = nil
	p.mu.Unlock()
	p.changed(ChangeLog)
}

// AddPreviewLog appends a captured console message and assigns its ID.
func (p *ProjectState) AddPreviewLog(e PreviewLogEntry) PreviewLogEntry {
	p.mu.Lock()
	p.nextPreviewID++
	e.ID = p.nextPreviewID
	if e.Time.IsZero() {
		e.Time = p.now()
	}
	p.previewLogs = appendCapped(p.previewLogs, e, p.limits.MaxPreviewLogEntries)
	p.mu.Unlock()

	p.changed(ChangePreviewLog)
	return e
}

// PreviewLogs returns a copy of the retained console messages.
func (p *ProjectState) PreviewLogs() []PreviewLogEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.previewLogs)
}

// ClearPreviewLogs drops all console messages, typically when a new preview
// session starts.
func (p *ProjectState) ClearPreviewLogs() {
	p.mu.Lock()
	p.previewLogs = nil
	p.mu.Unlock()
	p.changed(ChangePreviewLog)
}

// SetBuilding enters the building state with a phase label. URL and error
// are cleared.
func (p *ProjectState) SetBuilding(phase string) {
	p.mu.Lock()
	p.state = StateBuilding
	p.phase = phase
	p.previewURL = ""
	p.errMsg = ""
	p.mu.Unlock()
	p.changed(ChangeState)
}

// SetRunning records a serving preview. Error and phase are cleared.
func (p *ProjectState) SetRunning(url string) {
	p.mu.Lock()
	p.state = StateRunning
	p.previewURL = url
	p.errMsg = ""
	p.phase = ""
	p.mu.Unlock()
	p.changed(ChangeState)
}

// SetError records a failed attempt. URL and phase are cleared.
func (p *ProjectState) SetError(msg string) {
	p.mu.Lock()
	p.state = StateError
	p.errMsg = msg
	p.previewURL = ""
	p.phase = ""
	p.mu.Unlock()
	p.changed(ChangeState)
}

// SetIdle returns to idle. URL and phase are cleared; the last error is kept
// for display until the next transition replaces it.
func (p *ProjectState) SetIdle() {
	p.mu.Lock()
	p.state = StateIdle
	p.previewURL = ""
	p.phase = ""
	p.mu.Unlock()
	p.changed(ChangeState)
}

// State returns the simulator state.
func (p *ProjectState) State() SimulatorState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// PreviewURL returns the preview URL while running.
func (p *ProjectState) PreviewURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.previewURL
}

// Error returns the last error message.
func (p *ProjectState) Error() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.errMsg
}

// Phase returns the current build phase label.
func (p *ProjectState) Phase() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

// LastBuildRevision is the project revision of the last complete build.
func (p *ProjectState) LastBuildRevision() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRev
}

// SetLastBuildRevision records rev. Call it only after build and extract
// both succeeded.
func (p *ProjectState) SetLastBuildRevision(rev string) {
	p.mu.Lock()
	p.lastRev = rev
	p.mu.Unlock()
	p.changed(ChangeState)
}

// HasProjectChangedSinceBuild reports true if the project was never built,
// current is unknown, or it differs from the last build's revision.
func (p *ProjectState) HasProjectChangedSinceBuild(current string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRev == "" || current == "" || current != p.lastRev
}

// NeedsCleanBuild reports whether another project built since this one did.
func (p *ProjectState) NeedsCleanBuild() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.needsClean
}

func (p *ProjectState) setNeedsClean(v bool) {
	p.mu.Lock()
	p.needsClean = v
	p.mu.Unlock()
}

// Active reports whether the project currently holds the simulator.
func (p *ProjectState) Active() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// SetActive marks or releases the simulator for this project.
func (p *ProjectState) SetActive(v bool) {
	p.mu.Lock()
	p.active = v
	p.mu.Unlock()
	p.changed(ChangeState)
}

// Snapshot returns a consistent copy of the scalar state.
func (p *ProjectState) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Path:              p.path,
		State:             p.state,
		PreviewURL:        p.previewURL,
		Error:             p.errMsg,
		Phase:             p.phase,
		LastBuildRevision: p.lastRev,
		NeedsCleanBuild:   p.needsClean,
		Active:            p.active,
		LogCount:          len(p.logs),
		PreviewLogCount:   len(p.previewLogs),
	}
}

func appendCapped[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if over := len(s) - limit; limit > 0 && over > 0 {
		s = slices.Delete(s, 0, over)
	}
	return s
}
