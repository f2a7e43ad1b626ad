package project

import (
	"crypto/md5" //nolint:gosec // change detection, not security
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/manifest"
)

// Source supplies the build inputs of one open project.
type Source interface {
	// Path is the stable key of the project, usually its absolute file path.
	Path() string
	// Name is the display name used in user-facing messages.
	Name() string
	// Load reads the project and returns fresh build inputs.
	Load(sink buildlog.Sink) (*Info, error)
	// Revision returns a token that changes whenever the project content does.
	Revision() (string, error)
}

// File is a Source backed by an editor project file on disk.
type File struct {
	path string
}

// NewFile returns a Source for the project file at path.
func NewFile(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, foundation.WrapError(err, foundation.CategoryFileSystem, "cannot resolve project path").Build()
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, foundation.NewError(foundation.CategoryNotFound, "Project file not found: "+abs).
			WithCause(err).
			UserAction().
			Build()
	}
	return &File{path: abs}, nil
}

func (f *File) Path() string { return f.path }

func (f *File) Name() string {
	return strings.TrimSuffix(filepath.Base(f.path), filepath.Ext(f.path))
}

// Dir returns the directory holding the project file.
func (f *File) Dir() string { return filepath.Dir(f.path) }

func (f *File) read() ([]byte, *Settings, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, nil, foundation.WrapError(err, foundation.CategoryFileSystem, "failed to read project file").
			WithContext("path", f.path).
			Build()
	}
	s, err := ParseSettings(data)
	if err != nil {
		return nil, nil, err
	}
	return data, s, nil
}

// Load implements Source.
func (f *File) Load(sink buildlog.Sink) (*Info, error) {
	if sink == nil {
		sink = buildlog.Discard
	}
	sink("Reading project file: "+f.path, buildlog.Info)
	_, s, err := f.read()
	if err != nil {
		return nil, err
	}
	return FromSettings(s, f.Dir(), sink)
}

// Revision hashes the project file together with the generated sources.
func (f *File) Revision() (string, error) {
	data, s, err := f.read()
	if err != nil {
		return "", err
	}
	h := md5.New() //nolint:gosec // change detection, not security
	_, _ = h.Write(data)
	if m, err := manifest.Build(s.UIDir(f.Dir())); err == nil {
		_, _ = h.Write([]byte(m.Digest()))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WatchPaths returns the paths whose changes alter the revision.
func (f *File) WatchPaths() ([]string, error) {
	_, s, err := f.read()
	if err != nil {
		return nil, err
	}
	return []string{f.path, s.UIDir(f.Dir())}, nil
}
