package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/manifest"
)

const (
	defaultDisplayWidth      = 800
	defaultDisplayHeight     = 480
	defaultDestinationFolder = "src/ui"
)

// versionMap maps LVGL versions the toolchain does not ship to the closest
// supported release.
var versionMap = map[string]string{
	"8.3":   "8.4.0",
	"8.3.0": "8.4.0",
	"9.0":   "9.2.2",
	"9.0.0": "9.2.2",
}

// Settings is the part of an editor project file that affects the build.
type Settings struct {
	Settings struct {
		General struct {
			LVGLVersion   string `json:"lvglVersion"`
			FlowSupport   bool   `json:"flowSupport"`
			DisplayWidth  int    `json:"displayWidth"`
			DisplayHeight int    `json:"displayHeight"`
		} `json:"general"`
		Build struct {
			DestinationFolder string `json:"destinationFolder"`
		} `json:"build"`
	} `json:"settings"`
	Fonts      []FontSettings `json:"fonts"`
	LVGLGroups struct {
		DefaultGroupForEncoderInSimulator  string `json:"defaultGroupForEncoderInSimulator"`
		DefaultGroupForKeyboardInSimulator string `json:"defaultGroupForKeyboardInSimulator"`
	} `json:"lvglGroups"`
}

// FontSettings is one font entry of the project file.
type FontSettings struct {
	Name            string `json:"name"`
	LVGLUseFreeType bool   `json:"lvglUseFreeType"`
	Source          struct {
		FilePath string `json:"filePath"`
	} `json:"source"`
	LVGLFreeTypeFilePath string `json:"lvglFreeTypeFilePath"`
}

// ParseSettings decodes a project file.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, foundation.WrapError(err, foundation.CategoryValidation, "invalid project file").Build()
	}
	return &s, nil
}

// UIDir returns the generated sources directory for a project directory.
func (s *Settings) UIDir(projectDir string) string {
	return filepath.Join(projectDir, filepath.FromSlash(s.destination()))
}

func (s *Settings) destination() string {
	d := s.Settings.Build.DestinationFolder
	if d == "" {
		d = defaultDestinationFolder
	}
	return strings.ReplaceAll(d, `\`, "/")
}

// FromSettings builds the Info for one attempt, including a fresh manifest of
// the UI directory. Missing font files are reported to sink and skipped.
func FromSettings(s *Settings, projectDir string, sink buildlog.Sink) (*Info, error) {
	if sink == nil {
		sink = buildlog.Discard
	}

	version := s.Settings.General.LVGLVersion
	if version == "" {
		return nil, foundation.ValidationError("LVGL version not specified in project settings").Build()
	}
	if mapped, ok := versionMap[version]; ok {
		sink(fmt.Sprintf("LVGL version %s mapped to %s", version, mapped), buildlog.Info)
		version = mapped
	}

	info := &Info{
		LVGLVersion:       version,
		FlowSupport:       s.Settings.General.FlowSupport,
		ProjectDir:        projectDir,
		DestinationFolder: s.destination(),
		DisplayWidth:      orDefault(s.Settings.General.DisplayWidth, defaultDisplayWidth),
		DisplayHeight:     orDefault(s.Settings.General.DisplayHeight, defaultDisplayHeight),
		EncoderGroup:      s.LVGLGroups.DefaultGroupForEncoderInSimulator,
		KeyboardGroup:     s.LVGLGroups.DefaultGroupForKeyboardInSimulator,
	}
	info.UIDir = s.UIDir(projectDir)

	if st, err := os.Stat(info.UIDir); err != nil || !st.IsDir() {
		return nil, foundation.ValidationError("Build destination directory not found at: " + info.UIDir).
			WithContext("path", info.UIDir).
			Build()
	}

	info.Fonts = collectFonts(s.Fonts, projectDir, sink)
	if len(info.Fonts) > 0 {
		sink(fmt.Sprintf("Total FreeType fonts to include: %d", len(info.Fonts)), buildlog.Success)
	}
	if info.EncoderGroup != "" {
		sink("Encoder group: "+info.EncoderGroup, buildlog.Info)
	}
	if info.KeyboardGroup != "" {
		sink("Keyboard group: "+info.KeyboardGroup, buildlog.Info)
	}

	flow := "no"
	if info.FlowSupport {
		flow = "with"
	}
	sink(fmt.Sprintf("Detected project: LVGL %s (%s flow support)", info.LVGLVersion, flow), buildlog.Success)
	sink(fmt.Sprintf("Display: %dx%d", info.DisplayWidth, info.DisplayHeight), buildlog.Info)
	sink("UI directory: "+info.UIDir, buildlog.Info)

	sink("Building file manifest...", buildlog.Info)
	m, err := manifest.Build(info.UIDir)
	if err != nil {
		return nil, err
	}
	info.Manifest = m
	sink(fmt.Sprintf("Tracked %d source file(s)", len(m)), buildlog.Info)

	return info, nil
}

func collectFonts(fonts []FontSettings, projectDir string, sink buildlog.Sink) []Font {
	var out []Font
	for _, f := range fonts {
		if !f.LVGLUseFreeType || f.Source.FilePath == "" {
			continue
		}
		local := filepath.Join(projectDir, filepath.FromSlash(strings.ReplaceAll(f.Source.FilePath, `\`, "/")))
		if _, err := os.Stat(local); err != nil {
			sink("Warning: Font file not found: "+local, buildlog.Warning)
			continue
		}
		target := f.LVGLFreeTypeFilePath
		if !path.IsAbs(target) {
			target = "/" + target
		}
		font := Font{
			LocalPath:  local,
			TargetPath: path.Clean(target),
			FileName:   filepath.Base(local),
		}
		out = append(out, font)
		sink(fmt.Sprintf("Found FreeType font: %s -> %s", font.FileName, font.TargetPath), buildlog.Info)
	}
	return out
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
