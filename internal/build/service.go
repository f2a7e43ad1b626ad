package build

import (
	"time"

	"git.home.luguber.info/inful/simbuild/internal/manifest"
	"git.home.luguber.info/inful/simbuild/internal/project"
)

// Phase is a pipeline state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSetup   Phase = "setup"
	PhaseBuild   Phase = "build"
	PhaseExtract Phase = "extract"
	PhaseDone    Phase = "done"
	PhaseAborted Phase = "aborted"
	PhaseFailed  Phase = "failed"
)

// Label is the human form used in step banners and the project state.
func (p Phase) Label() string {
	switch p {
	case PhaseSetup:
		return "Setup"
	case PhaseBuild:
		return "Build"
	case PhaseExtract:
		return "Extract"
	case PhaseDone:
		return "Done"
	case PhaseAborted:
		return "Aborted"
	case PhaseFailed:
		return "Failed"
	default:
		return "Idle"
	}
}

// SetupMode tells how the volume was brought up to date.
type SetupMode string

const (
	SetupFull        SetupMode = "full"
	SetupIncremental SetupMode = "incremental"
	SetupUnchanged   SetupMode = "unchanged"
)

// SetupResult is the outcome of the Setup phase.
type SetupResult struct {
	Mode SetupMode

	// Skipped is true when the manifest diff was empty and no container was touched.
	Skipped bool

	// SkipReconfigure lets Build pass --skip-emcmake-cmake. Only true when no
	// file was added or deleted since the last setup.
	SkipReconfigure bool

	Diff        manifest.Diff
	FilesCopied int
}

// Request contains the inputs of one build attempt.
type Request struct {
	Project *project.Info

	// OutputDir receives the extracted artifacts. It is removed and recreated.
	OutputDir string
}

// Status represents the outcome of a build execution.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Result contains the outcome of Run.
type Result struct {
	Status     Status
	Setup      SetupResult
	OutputPath string
	Artifacts  []string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// RequiredArtifacts must exist in the container build directory after a build.
var RequiredArtifacts = []string{"index.html", "index.js", "index.wasm"}

// OptionalArtifacts are copied when present.
var OptionalArtifacts = []string{"index.data"}
