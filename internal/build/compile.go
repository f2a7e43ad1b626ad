package build

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/project"
	"git.home.luguber.info/inful/simbuild/internal/shell"
)

// buildScript renders the build.sh invocation for info.
func (o *Orchestrator) buildScript(info *project.Info, skipReconfigure bool) *shell.Script {
	args := []string{
		"--lvgl=" + info.LVGLVersion,
		fmt.Sprintf("--display-width=%d", info.DisplayWidth),
		fmt.Sprintf("--display-height=%d", info.DisplayHeight),
	}
	if skipReconfigure {
		args = append(args, "--skip-emcmake-cmake")
	}
	if len(info.Fonts) > 0 {
		args = append(args, "--fonts="+path.Join(o.cfg.ProjectRoot, "fonts.txt"))
	}
	if info.EncoderGroup != "" {
		args = append(args, "--encoder-group=groups."+info.EncoderGroup)
	}
	if info.KeyboardGroup != "" {
		args = append(args, "--keyboard-group=groups."+info.KeyboardGroup)
	}
	return shell.New().Add("./build.sh", args...)
}

// Build compiles the simulator inside a throwaway service container.
func (o *Orchestrator) Build(ctx context.Context, info *project.Info, skipReconfigure bool, sink buildlog.Sink) error {
	if sink == nil {
		sink = buildlog.Discard
	}
	return o.runPhase(ctx, PhaseBuild, func(ctx context.Context) error {
		start := time.Now()
		gw := o.gw.WithSink(sink)

		sink(fmt.Sprintf("Starting build (LVGL %s, %dx%d)...", info.LVGLVersion, info.DisplayWidth, info.DisplayHeight), buildlog.Info)
		if skipReconfigure {
			sink("Build will skip CMake reconfiguration (incremental build)", buildlog.Info)
		}

		res := gw.RunOnce(ctx, o.buildScript(info, skipReconfigure).Argv()...)
		if !res.Success {
			return resultError(res, "Build failed")
		}
		sink(fmt.Sprintf("Build completed successfully in %s!", seconds(start)), buildlog.Success)
		return nil
	})
}

// Extract copies the build artifacts out of the volume into outputDir and
// returns the names of the files it wrote.
func (o *Orchestrator) Extract(ctx context.Context, outputDir string, sink buildlog.Sink) ([]string, error) {
	if sink == nil {
		sink = buildlog.Discard
	}
	var extracted []string
	err := o.runPhase(ctx, PhaseExtract, func(ctx context.Context) error {
		start := time.Now()
		gw := o.gw.WithSink(sink)

		sink("Output path: "+outputDir, buildlog.Info)
		if _, err := os.Stat(outputDir); err == nil {
			sink("Cleaning output directory...", buildlog.Info)
			if err := os.RemoveAll(outputDir); err != nil {
				return foundation.FileSystemError("Failed to clean output directory").
					WithCause(err).
					WithContext("path", outputDir).
					Build()
			}
		}
		if err := os.MkdirAll(outputDir, 0o750); err != nil {
			return foundation.FileSystemError("Failed to create output directory").
				WithCause(err).
				WithContext("path", outputDir).
				Build()
		}

		sink("Extracting build files from Docker volume...", buildlog.Info)
		id, err := gw.Create(ctx)
		if err != nil {
			return err
		}
		defer gw.Stop(ctx, id)

		files := append(append([]string{}, RequiredArtifacts...), OptionalArtifacts...)
		for i, file := range files {
			if o.registry.Aborted() {
				return foundation.Aborted(string(PhaseExtract)).Build()
			}
			containerPath := path.Join(o.cfg.buildDir(), file)
			if optional := i >= len(RequiredArtifacts); optional && !gw.FileExists(ctx, id, containerPath) {
				sink(file+" not found (optional file, skipping)", buildlog.Info)
				continue
			}

			dest := filepath.Join(outputDir, file)
			if err := gw.CopyOut(ctx, id, containerPath, dest); err != nil {
				return stepError(err, "Failed to extract "+file)
			}
			extracted = append(extracted, file)

			if st, err := os.Stat(dest); err == nil {
				sink(fmt.Sprintf("Extracted %s: %d bytes", file, st.Size()), buildlog.Info)
			} else {
				sink(fmt.Sprintf("Could not stat %s: %v", file, err), buildlog.Warning)
			}
		}

		sink(fmt.Sprintf("Build files extracted successfully in %s!", seconds(start)), buildlog.Success)
		return nil
	})
	return extracted, err
}

// OutputsPresent reports whether every required artifact exists in dir.
func OutputsPresent(dir string) bool {
	for _, f := range RequiredArtifacts {
		st, err := os.Stat(filepath.Join(dir, f))
		if err != nil || st.IsDir() {
			return false
		}
	}
	return true
}
