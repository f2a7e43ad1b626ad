package notify

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/state"
)

// ForwardState publishes a "state.<kind>" event for every state and build-gate
// change until ctx is done. Log appends are not forwarded.
func ForwardState(ctx context.Context, reg *state.Registry, pub Publisher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	changes, unsubscribe := reg.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			ev, ok := stateEvent(reg, c)
			if !ok {
				continue
			}
			if err := pub.Publish(ctx, ev); err != nil {
				logger.Warn("State event not published", logfields.Project(c.Project), logfields.Error(err))
			}
		}
	}
}

func stateEvent(reg *state.Registry, c state.Change) (Event, bool) {
	switch c.Kind {
	case state.ChangeLog, state.ChangePreviewLog:
		return Event{}, false
	}
	ev := Event{
		Type:      TypeStatePrefix + string(c.Kind),
		Project:   c.Project,
		Timestamp: time.Now().UTC(),
	}
	if c.Kind == state.ChangeState {
		if ps, ok := reg.Lookup(c.Project); ok {
			snap := ps.Snapshot()
			ev.State = string(snap.State)
			ev.Phase = snap.Phase
			ev.PreviewURL = snap.PreviewURL
			ev.Error = snap.Error
			ev.Revision = snap.LastBuildRevision
		}
	}
	if c.Kind == state.ChangeBuild {
		ev.State = "idle"
		if reg.IsBuildingProject(c.Project) {
			ev.State = "building"
		}
	}
	return ev, true
}
