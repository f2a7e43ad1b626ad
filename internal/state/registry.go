package state

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

const subscriberBuffer = 64

// Registry tracks every project's state and the global build gate.
type Registry struct {
	limits Limits

	mu         sync.Mutex
	projects   map[string]*ProjectState
	building   bool
	buildingOn string
	cancelled  bool

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

// NewRegistry creates an empty registry. Zero limits take the defaults.
func NewRegistry(limits Limits) *Registry {
	return &Registry{
		limits:   limits.withDefaults(),
		projects: make(map[string]*ProjectState),
		subs:     make(map[chan Change]struct{}),
	}
}

// ProjectState returns the state for path, creating it on first access.
func (r *Registry) ProjectState(path string) *ProjectState {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.projects[path]
	if !ok {
		ps = newProjectState(path, r.limits, r.publish)
		r.projects[path] = ps
	}
	return ps
}

// Lookup returns the state for path without creating it.
func (r *Registry) Lookup(path string) (*ProjectState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.projects[path]
	return ps, ok
}

// RemoveProjectState forgets path, typically when the project is closed.
func (r *Registry) RemoveProjectState(path string) {
	r.mu.Lock()
	_, ok := r.projects[path]
	delete(r.projects, path)
	r.mu.Unlock()
	if ok {
		r.publish(Change{Project: path, Kind: ChangeRemoved})
	}
}

// Projects returns the tracked project paths in sorted order.
func (r *Registry) Projects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.projects))
}

// ActiveProject returns the project currently holding the simulator, if any.
func (r *Registry) ActiveProject() (string, bool) {
	r.mu.Lock()
	projects := slices.Collect(maps.Values(r.projects))
	r.mu.Unlock()
	for _, ps := range projects {
		if ps.Active() {
			return ps.Path(), true
		}
	}
	return "", false
}

// StartBuild admits a build for path unless one is already running. On
// success every other tracked project is marked as needing a clean build.
func (r *Registry) StartBuild(path string) bool {
	r.mu.Lock()
	if r.building {
		r.mu.Unlock()
		return false
	}
	r.building = true
	r.buildingOn = path
	r.cancelled = false
	for p, ps := range r.projects {
		if p != path {
			ps.setNeedsClean(true)
		}
	}
	r.mu.Unlock()

	r.publish(Change{Project: path, Kind: ChangeBuild})
	return true
}

// MarkBuildComplete clears the clean-build marker of path.
func (r *Registry) MarkBuildComplete(path string) {
	r.ProjectState(path).setNeedsClean(false)
	r.publish(Change{Project: path, Kind: ChangeState})
}

// EndBuild releases the build gate.
func (r *Registry) EndBuild() {
	r.mu.Lock()
	path := r.buildingOn
	r.building = false
	r.buildingOn = ""
	r.mu.Unlock()
	r.publish(Change{Project: path, Kind: ChangeBuild})
}

// CancelBuild flags the running build as cancelled. The gate stays held
// until the build goroutine calls EndBuild.
func (r *Registry) CancelBuild() {
	r.mu.Lock()
	if !r.building {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	path := r.buildingOn
	r.mu.Unlock()
	r.publish(Change{Project: path, Kind: ChangeBuild})
}

// IsBuilding reports whether the gate is held.
func (r *Registry) IsBuilding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.building
}

// IsCancelled reports whether the running build was cancelled.
func (r *Registry) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// CurrentBuildingProjectPath returns the path holding the gate, or "".
func (r *Registry) CurrentBuildingProjectPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildingOn
}

// IsBuildingProject reports whether path holds the gate.
func (r *Registry) IsBuildingProject(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.building && r.buildingOn == path
}

// BuildingProjectName returns a display name for the building project.
func (r *Registry) BuildingProjectName() string {
	return ProjectName(r.CurrentBuildingProjectPath())
}

// ProjectName is the file name of path without its extension.
func ProjectName(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Subscribe returns a channel of changes and a function that ends the
// subscription. Slow subscribers miss changes rather than blocking writers.
func (r *Registry) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, ch)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) publish(c Change) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
