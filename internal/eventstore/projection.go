package eventstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/notify"
)

// Build statuses.
const (
	StatusRunning     = "running"
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"
	StatusCanceled    = "canceled"
	StatusInterrupted = "interrupted"
)

const defaultHistorySize = 100

// BuildSummary is the read model of one build attempt.
type BuildSummary struct {
	BuildID     string        `json:"build_id"`
	Project     string        `json:"project"`
	Status      string        `json:"status"`
	SetupMode   string        `json:"setup_mode,omitempty"`
	Revision    string        `json:"revision,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Finished reports whether the attempt reached a terminal status.
func (b BuildSummary) Finished() bool { return b.Status != StatusRunning }

// BuildHistoryProjection folds build events into summaries, newest first.
type BuildHistoryProjection struct {
	mu      sync.RWMutex
	store   Store
	builds  map[string]*BuildSummary
	order   []*BuildSummary
	maxSize int
}

// NewBuildHistoryProjection creates a projection over store keeping at most
// maxSize builds.
func NewBuildHistoryProjection(store Store, maxSize int) *BuildHistoryProjection {
	if maxSize <= 0 {
		maxSize = defaultHistorySize
	}
	return &BuildHistoryProjection{store: store, builds: map[string]*BuildSummary{}, maxSize: maxSize}
}

// Rebuild reconstructs the projection from the events stored since since.
func (p *BuildHistoryProjection) Rebuild(ctx context.Context, since time.Time) error {
	records, err := p.store.Range(ctx, since, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.builds = map[string]*BuildSummary{}
	p.order = nil
	for _, r := range records {
		p.applyLocked(r.Event)
	}
	return nil
}

// Apply folds one event into the projection.
func (p *BuildHistoryProjection) Apply(ev notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(ev)
}

func (p *BuildHistoryProjection) applyLocked(ev notify.Event) {
	if ev.BuildID == "" {
		return
	}
	var status string
	switch ev.Type {
	case notify.TypeBuildStarted:
		status = StatusRunning
	case notify.TypeBuildSucceeded:
		status = StatusSucceeded
	case notify.TypeBuildFailed:
		status = StatusFailed
	case notify.TypeBuildCanceled:
		status = StatusCanceled
	default:
		return
	}

	summary, ok := p.builds[ev.BuildID]
	if !ok {
		summary = &BuildSummary{BuildID: ev.BuildID, Project: ev.Project, StartedAt: ev.Timestamp}
		p.builds[ev.BuildID] = summary
		p.interruptLocked(summary.Project)
		p.order = append([]*BuildSummary{summary}, p.order...)
	}
	summary.Status = status
	if ev.SetupMode != "" {
		summary.SetupMode = ev.SetupMode
	}
	if ev.Revision != "" {
		summary.Revision = ev.Revision
	}
	if status != StatusRunning {
		done := ev.Timestamp
		summary.CompletedAt = &done
		summary.Duration = time.Duration(ev.DurationMS) * time.Millisecond
		if summary.Duration == 0 {
			summary.Duration = done.Sub(summary.StartedAt)
		}
		summary.Error = ev.Error
	}
	p.trimLocked()
}

// interruptLocked marks a still running build of project as interrupted. A
// new attempt can only start after the previous one ended, so a running
// entry means the process went away mid-build.
func (p *BuildHistoryProjection) interruptLocked(project string) {
	for _, s := range p.order {
		if s.Project == project && s.Status == StatusRunning {
			s.Status = StatusInterrupted
		}
	}
}

func (p *BuildHistoryProjection) trimLocked() {
	if len(p.order) <= p.maxSize {
		return
	}
	for _, s := range p.order[p.maxSize:] {
		delete(p.builds, s.BuildID)
	}
	p.order = slices.Clip(p.order[:p.maxSize])
}

// History returns up to limit builds, newest first. limit <= 0 returns all.
func (p *BuildHistoryProjection) History(limit int) []BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]BuildSummary, n)
	for i := range n {
		out[i] = *p.order[i]
	}
	return out
}

// Build returns the summary for a specific build.
func (p *BuildHistoryProjection) Build(buildID string) (BuildSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.builds[buildID]
	if !ok {
		return BuildSummary{}, false
	}
	return *s, true
}

// LastCompleted returns the newest finished build of project, or of any
// project when project is empty.
func (p *BuildHistoryProjection) LastCompleted(project string) (BuildSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.order {
		if s.Finished() && (project == "" || s.Project == project) {
			return *s, true
		}
	}
	return BuildSummary{}, false
}
