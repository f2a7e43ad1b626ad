package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
)

const sampleProject = `{
  "settings": {
    "general": {"lvglVersion": "9.0", "flowSupport": true, "displayWidth": 320},
    "build": {"destinationFolder": "src\\ui"}
  },
  "fonts": [
    {"name": "Roboto", "lvglUseFreeType": true, "source": {"filePath": "fonts/Roboto.ttf"}, "lvglFreeTypeFilePath": "/fonts/Roboto.ttf"},
    {"name": "Missing", "lvglUseFreeType": true, "source": {"filePath": "fonts/Missing.ttf"}, "lvglFreeTypeFilePath": "/fonts/Missing.ttf"},
    {"name": "Bitmap", "lvglUseFreeType": false, "source": {"filePath": "fonts/Bitmap.ttf"}}
  ],
  "lvglGroups": {"defaultGroupForEncoderInSimulator": "encoder"}
}`

func writeProject(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "ui", "screens"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "ui", "ui.c"), []byte("int ui;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "ui", "screens", "main.c"), []byte("int main_screen;"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fonts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fonts", "Roboto.ttf"), []byte("ttf"), 0o600))
	p := filepath.Join(dir, "demo.eez-project")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestFileLoad(t *testing.T) {
	p := writeProject(t, sampleProject)
	src, err := NewFile(p)
	require.NoError(t, err)
	var rec buildlog.Recorder

	info, err := src.Load(rec.Sink())
	require.NoError(t, err)

	dir := filepath.Dir(p)
	assert.Equal(t, "demo", src.Name())
	assert.Equal(t, "9.2.2", info.LVGLVersion)
	assert.True(t, info.FlowSupport)
	assert.Equal(t, 320, info.DisplayWidth)
	assert.Equal(t, 480, info.DisplayHeight, "default height")
	assert.Equal(t, "src/ui", info.DestinationFolder)
	assert.Equal(t, filepath.Join(dir, "src", "ui"), info.UIDir)
	assert.Equal(t, "encoder", info.EncoderGroup)
	assert.Empty(t, info.KeyboardGroup)
	require.Len(t, info.Fonts, 1)
	assert.Equal(t, Font{
		LocalPath:  filepath.Join(dir, "fonts", "Roboto.ttf"),
		TargetPath: "/fonts/Roboto.ttf",
		FileName:   "Roboto.ttf",
	}, info.Fonts[0])
	assert.Equal(t, []string{"screens/main.c", "ui.c"}, info.Manifest.Paths())

	assert.Contains(t, rec.Messages(buildlog.Info), "LVGL version 9.0 mapped to 9.2.2")
	require.Len(t, rec.Messages(buildlog.Warning), 1)
	assert.Contains(t, rec.Messages(buildlog.Warning)[0], "Missing.ttf")
}

func TestFromSettingsErrors(t *testing.T) {
	t.Run("missing version", func(t *testing.T) {
		p := writeProject(t, `{"settings": {"general": {}}}`)
		src, err := NewFile(p)
		require.NoError(t, err)
		_, err = src.Load(nil)
		require.Error(t, err)
		assert.True(t, foundation.HasCategory(err, foundation.CategoryValidation))
	})
	t.Run("missing ui dir", func(t *testing.T) {
		p := writeProject(t, `{"settings": {"general": {"lvglVersion": "8.4.0"}, "build": {"destinationFolder": "gen"}}}`)
		src, err := NewFile(p)
		require.NoError(t, err)
		_, err = src.Load(nil)
		require.Error(t, err)
		assert.Contains(t, foundation.Message(err), "Build destination directory not found")
	})
	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseSettings([]byte("{"))
		require.Error(t, err)
	})
	t.Run("missing project file", func(t *testing.T) {
		_, err := NewFile(filepath.Join(t.TempDir(), "none.eez-project"))
		require.Error(t, err)
		assert.True(t, foundation.HasCategory(err, foundation.CategoryNotFound))
	})
}

func TestConfigEqual(t *testing.T) {
	base := &Info{LVGLVersion: "8.4.0", ProjectDir: "/p", DestinationFolder: "src/ui", DisplayWidth: 800, DisplayHeight: 480,
		Fonts: []Font{{LocalPath: "/p/f.ttf", TargetPath: "/fonts/f.ttf", FileName: "f.ttf"}}}
	same := *base
	same.Manifest = map[string]string{"x": "1"}
	same.UIDir = "/elsewhere"
	assert.True(t, ConfigEqual(base, &same), "manifest and ui dir are ignored")

	wider := *base
	wider.DisplayWidth = 1024
	assert.False(t, ConfigEqual(base, &wider))

	tooling := *base
	tooling.ToolingFingerprint = "new-image"
	assert.False(t, ConfigEqual(base, &tooling))

	fonts := *base
	fonts.Fonts = nil
	assert.False(t, ConfigEqual(base, &fonts))

	assert.False(t, ConfigEqual(nil, base))
}

func TestRevisionTracksSources(t *testing.T) {
	p := writeProject(t, sampleProject)
	src, err := NewFile(p)
	require.NoError(t, err)

	r1, err := src.Revision()
	require.NoError(t, err)
	r2, err := src.Revision()
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(p), "src", "ui", "ui.c"), []byte("int ui2;"), 0o600))
	r3, err := src.Revision()
	require.NoError(t, err)
	assert.NotEqual(t, r1, r3)

	paths, err := src.WatchPaths()
	require.NoError(t, err)
	assert.Equal(t, []string{p, filepath.Join(filepath.Dir(p), "src", "ui")}, paths)
}

func TestInfoJSONOmitsManifestEntries(t *testing.T) {
	info := &Info{LVGLVersion: "8.4.0", Manifest: map[string]string{"ui.c": "abc"}}
	data, err := info.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"manifestFiles":1`)
	assert.NotContains(t, string(data), "ui.c")
}
