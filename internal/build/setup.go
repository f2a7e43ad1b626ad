package build

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	"git.home.luguber.info/inful/simbuild/internal/container"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/manifest"
	"git.home.luguber.info/inful/simbuild/internal/project"
	"git.home.luguber.info/inful/simbuild/internal/retry"
	"git.home.luguber.info/inful/simbuild/internal/shell"
)

// Setup brings the volume's source tree in line with info. It runs an
// incremental setup when the previous setup had the same configuration and
// both sides carry a manifest, and a full setup otherwise.
func (o *Orchestrator) Setup(ctx context.Context, info *project.Info, sink buildlog.Sink) (SetupResult, error) {
	if sink == nil {
		sink = buildlog.Discard
	}
	var result SetupResult
	err := o.runPhase(ctx, PhaseSetup, func(ctx context.Context) error {
		gw := o.gw.WithSink(sink)
		last := o.LastInfo()

		var err error
		if last != nil && project.ConfigEqual(last, info) && last.Manifest != nil && info.Manifest != nil {
			result, err = o.incrementalSetup(ctx, gw, last, info, sink)
		} else {
			if last != nil {
				sink("Project configuration changed, performing full setup", buildlog.Info)
			}
			result, err = o.fullSetup(ctx, gw, info, sink)
		}
		if err != nil {
			// the volume's src no longer matches any cached info
			o.Invalidate()
			return err
		}
		o.setLast(info)
		o.recorder.IncSetupMode(string(result.Mode))
		o.recorder.ObserveFilesCopied(result.FilesCopied)
		return nil
	})
	return result, err
}

func (o *Orchestrator) fullSetup(ctx context.Context, gw *container.Gateway, info *project.Info, sink buildlog.Sink) (SetupResult, error) {
	start := time.Now()
	root := o.cfg.ProjectRoot
	src := o.cfg.src()
	result := SetupResult{Mode: SetupFull, FilesCopied: len(info.Manifest)}

	sink("Performing full setup...", buildlog.Info)
	sink("Building Docker image...", buildlog.Info)
	if err := gw.BuildImage(ctx); err != nil {
		if c, ok := foundation.AsClassified(err); ok {
			if stderr, ok := c.Context().GetString("stderr"); ok && !foundation.IsAborted(err) {
				sink("Docker build error: "+stderr, buildlog.Error)
			}
		}
		return result, err
	}
	sink("Docker image built successfully.", buildlog.Success)

	sink("Cleaning src directory...", buildlog.Info)
	if res := gw.RunOnceSilent(ctx, "rm", "-rf", src); res.Aborted {
		return result, res.Err
	}

	sink("Checking if project is already set up...", buildlog.Info)
	probe := gw.RunOnceSilent(ctx, "test", "-f", path.Join(root, "build.sh"))
	if probe.Aborted {
		return result, probe.Err
	}

	var id string
	if !probe.Success {
		sink("First-time setup: Cloning repository from GitHub...", buildlog.Info)
		var err error
		if id, err = gw.Create(ctx); err != nil {
			return result, err
		}
		if err = o.clone(ctx, gw, id, root, sink); err != nil {
			gw.Stop(ctx, id)
			return result, err
		}
		sink("Repository cloned successfully.", buildlog.Success)
	} else {
		sink("Project already exists in Docker volume. Checking for updates...", buildlog.Info)
		sink("Pulling latest changes from GitHub...", buildlog.Info)
		pull := shell.New().Add("cd", root).Add("git", "pull")
		res := gw.RunOnce(ctx, pull.Argv()...)
		switch {
		case res.Aborted:
			return result, res.Err
		case !res.Success:
			sink("Git pull failed, continuing with existing code...", buildlog.Warning)
		default:
			sink("Latest changes pulled successfully.", buildlog.Success)
		}
	}

	sink("Updating build files...", buildlog.Info)
	if id == "" {
		var err error
		if id, err = gw.Create(ctx); err != nil {
			return result, err
		}
	}
	defer gw.Stop(ctx, id)

	sink("Preparing src directory...", buildlog.Info)
	prep := shell.New().Add("rm", "-rf", src).Add("mkdir", "-p", src)
	if res := gw.ExecScript(ctx, id, prep); !res.Success {
		return result, resultError(res, "Failed to prepare src directory")
	}

	sink(fmt.Sprintf("Copying %s to container...", info.UIDir), buildlog.Info)
	if err := gw.CopyDirContents(ctx, id, info.UIDir, src); err != nil {
		return result, stepError(err, "Failed to copy build destination directory")
	}

	// Fresh mtimes make make(1) rebuild every copied source.
	touch := []string{"find", src, "-type", "f", "(", "-name", "*.c", "-o", "-name", "*.cpp", "-o", "-name", "*.h", ")", "-exec", "touch", "{}", "+"}
	if res := gw.ExecSilent(ctx, id, touch...); res.Aborted {
		return result, res.Err
	}

	if err := o.copyFonts(ctx, gw, id, info, sink); err != nil {
		return result, err
	}

	sink(fmt.Sprintf("Setup completed successfully in %s!", seconds(start)), buildlog.Success)
	return result, nil
}

func (o *Orchestrator) copyFonts(ctx context.Context, gw *container.Gateway, id string, info *project.Info, sink buildlog.Sink) error {
	if len(info.Fonts) == 0 {
		return nil
	}
	root := o.cfg.ProjectRoot

	sink(fmt.Sprintf("Copying %d font(s) to container...", len(info.Fonts)), buildlog.Info)
	for _, font := range info.Fonts {
		sink("Copying font: "+font.FileName, buildlog.Info)
		dir := path.Join(root, path.Dir(font.TargetPath))
		if res := gw.ExecSilent(ctx, id, "mkdir", "-p", dir); !res.Success {
			return resultError(res, "Failed to create font directory: "+dir)
		}
		if err := gw.CopyIn(ctx, id, font.LocalPath, path.Join(dir, path.Base(font.TargetPath))); err != nil {
			return stepError(err, "Failed to copy font file: "+font.FileName)
		}
	}

	fontsFile := path.Join(root, "fonts.txt")
	encoded := base64.StdEncoding.EncodeToString([]byte(strings.Join(info.FontTargets(), "\n")))
	write := shell.New().Raw("echo " + shell.Quote(encoded) + " | base64 -d > " + shell.Quote(fontsFile))
	if res := gw.ExecScript(ctx, id, write); !res.Success {
		return resultError(res, "Failed to write fonts manifest")
	}
	sink("Fonts manifest created: "+fontsFile, buildlog.Success)
	return nil
}

func (o *Orchestrator) incrementalSetup(ctx context.Context, gw *container.Gateway, last, info *project.Info, sink buildlog.Sink) (SetupResult, error) {
	start := time.Now()
	src := o.cfg.src()
	diff := manifest.Compare(last.Manifest, info.Manifest)
	result := SetupResult{Mode: SetupIncremental, Diff: diff}

	if diff.Empty() {
		sink("No file changes detected, skipping setup.", buildlog.Success)
		result.Mode = SetupUnchanged
		result.Skipped = true
		result.SkipReconfigure = true
		return result, nil
	}

	sink(fmt.Sprintf("Detected changes: %d added, %d modified, %d deleted",
		len(diff.Added), len(diff.Modified), len(diff.Deleted)), buildlog.Info)
	if len(diff.Added) > 0 {
		sink("Added files: "+strings.Join(diff.Added, ", "), buildlog.Info)
	}
	if len(diff.Modified) > 0 {
		sink("Modified files: "+strings.Join(diff.Modified, ", "), buildlog.Info)
	}
	if len(diff.Deleted) > 0 {
		sink("Deleted files: "+strings.Join(diff.Deleted, ", "), buildlog.Info)
	}

	id, err := gw.Create(ctx)
	if err != nil {
		return result, err
	}
	defer gw.Stop(ctx, id)

	if len(diff.Deleted) > 0 {
		sink(fmt.Sprintf("Removing %d deleted file(s)...", len(diff.Deleted)), buildlog.Info)
		rm := shell.New()
		for _, f := range diff.Deleted {
			rm.Add("rm", "-f", path.Join(src, f))
		}
		if res := gw.ExecScriptSilent(ctx, id, rm); !res.Success {
			if res.Aborted {
				return result, res.Err
			}
			sink("Some deleted files could not be removed from the container", buildlog.Warning)
		}
	}

	changed := diff.Changed()
	if len(changed) > 0 {
		sink(fmt.Sprintf("Copying %d added/modified file(s)...", len(changed)), buildlog.Info)

		mkdir := shell.New()
		for _, dir := range parentDirs(src, changed) {
			mkdir.Add("mkdir", "-p", dir)
		}
		if mkdir.Len() > 0 {
			if res := gw.ExecScriptSilent(ctx, id, mkdir); !res.Success {
				return result, resultError(res, "Failed to create source directories")
			}
		}

		for _, f := range changed {
			local := filepath.Join(info.UIDir, filepath.FromSlash(f))
			if err := gw.CopyIn(ctx, id, local, path.Join(src, f)); err != nil {
				return result, stepError(err, "Failed to copy file: "+f)
			}
			result.FilesCopied++
		}

		sink(fmt.Sprintf("Updating timestamps on %d file(s)...", len(changed)), buildlog.Info)
		touch := shell.New()
		for _, f := range changed {
			touch.Add("touch", path.Join(src, f))
		}
		if res := gw.ExecScriptSilent(ctx, id, touch); res.Aborted {
			return result, res.Err
		}
	}

	sink(fmt.Sprintf("Incremental setup completed in %s!", seconds(start)), buildlog.Success)

	result.SkipReconfigure = !diff.Structural()
	if result.SkipReconfigure {
		sink("Only file modifications detected, build will skip CMake reconfiguration", buildlog.Info)
	}
	return result, nil
}

// parentDirs returns the sorted container directories holding files.
func parentDirs(root string, files []string) []string {
	var dirs []string
	for _, f := range files {
		d := path.Dir(path.Join(root, f))
		if d == root {
			continue
		}
		if !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	slices.Sort(dirs)
	return dirs
}

// clone fetches the scaffold into root, wiping partial checkouts between
// attempts.
func (o *Orchestrator) clone(ctx context.Context, gw *container.Gateway, id, root string, sink buildlog.Sink) error {
	return retry.Do(ctx, o.cfg.CloneRetry, func(attempt int) error {
		if attempt > 1 {
			if o.Aborted() {
				return foundation.Aborted(string(PhaseSetup)).Build()
			}
			sink(fmt.Sprintf("Retrying clone (attempt %d of %d)...", attempt, o.cfg.CloneRetry.MaxRetries+1), buildlog.Warning)
			wipe := shell.New().Add("cd", root).Add("find", ".", "-mindepth", "1", "-delete")
			if res := gw.ExecScript(ctx, id, wipe); res.Aborted {
				return res.Err
			}
		}
		clone := shell.New().Add("cd", root).Add("git", "clone", "--recursive", o.cfg.RepositoryURL, ".")
		res := gw.ExecScript(ctx, id, clone)
		switch {
		case res.Success:
			return nil
		case res.Aborted:
			return res.Err
		}
		o.logger.Warn("Scaffold clone failed", logfields.Count(attempt), logfields.Repository(o.cfg.RepositoryURL))
		return foundation.GitError("Git clone failed").
			WithCause(res.Err).
			WithContext("repository", o.cfg.RepositoryURL).
			Build()
	})
}
