// Package project turns an editor project file into the immutable build
// inputs of one attempt.
package project

import (
	"encoding/json"
	"slices"

	"git.home.luguber.info/inful/simbuild/internal/manifest"
)

// Font is a FreeType font copied into the container.
type Font struct {
	LocalPath  string `json:"localPath"`
	TargetPath string `json:"targetPath"` // absolute path below the container project root
	FileName   string `json:"fileName"`
}

// Info is computed fresh for every build attempt and never mutated.
type Info struct {
	LVGLVersion       string
	FlowSupport       bool
	ProjectDir        string
	UIDir             string
	DestinationFolder string // always slash separated
	DisplayWidth      int
	DisplayHeight     int
	Fonts             []Font
	EncoderGroup      string
	KeyboardGroup     string
	// ToolingFingerprint identifies the build image and scaffold revision.
	ToolingFingerprint string

	Manifest manifest.Manifest
}

// ConfigEqual reports whether a and b describe the same build configuration.
// The manifest and the UI directory are not compared. A nil a is never equal.
func ConfigEqual(a, b *Info) bool {
	if a == nil || b == nil {
		return false
	}
	return a.LVGLVersion == b.LVGLVersion &&
		a.FlowSupport == b.FlowSupport &&
		a.ProjectDir == b.ProjectDir &&
		a.DestinationFolder == b.DestinationFolder &&
		a.DisplayWidth == b.DisplayWidth &&
		a.DisplayHeight == b.DisplayHeight &&
		a.EncoderGroup == b.EncoderGroup &&
		a.KeyboardGroup == b.KeyboardGroup &&
		a.ToolingFingerprint == b.ToolingFingerprint &&
		slices.Equal(a.Fonts, b.Fonts)
}

// FontTargets returns the container paths of all fonts, in order.
func (i *Info) FontTargets() []string {
	out := make([]string, len(i.Fonts))
	for n, f := range i.Fonts {
		out[n] = f.TargetPath
	}
	return out
}

// MarshalJSON renders the info for diagnostics. The manifest is reduced to
// its size and digest.
func (i *Info) MarshalJSON() ([]byte, error) {
	type alias Info
	return json.Marshal(struct {
		*alias
		Manifest       any    `json:"Manifest,omitempty"`
		ManifestFiles  int    `json:"manifestFiles"`
		ManifestDigest string `json:"manifestDigest,omitempty"`
	}{
		alias:          (*alias)(i),
		ManifestFiles:  len(i.Manifest),
		ManifestDigest: digestOrEmpty(i.Manifest),
	})
}

func digestOrEmpty(m manifest.Manifest) string {
	if m == nil {
		return ""
	}
	return m.Digest()
}
