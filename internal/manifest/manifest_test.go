package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ui.c", "int main;")
	writeFile(t, root, "screens/main.c", "void main_screen(void);")
	writeFile(t, root, "screens/empty.h", "")

	m, err := Build(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"screens/empty.h", "screens/main.c", "ui.c"}, m.Paths())
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", m["screens/empty.h"], "md5 of empty input")
}

func TestBuildIsContentBased(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.c", "x")
	first, err := Build(root)
	require.NoError(t, err)

	// rewrite identical bytes, which changes mtime only
	writeFile(t, root, "a.c", "x")
	second, err := Build(root)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Digest(), second.Digest())
	assert.True(t, Compare(first, second).Empty())
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, foundation.HasCategory(err, foundation.CategoryFileSystem))

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = Build(file)
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	old := Manifest{"a": "1", "b": "2"}
	next := Manifest{"a": "1", "c": "3"}

	d := Compare(old, next)

	assert.Equal(t, []string{"c"}, d.Added)
	assert.Empty(t, d.Modified)
	assert.Equal(t, []string{"b"}, d.Deleted)
	assert.False(t, d.Empty())
	assert.True(t, d.Structural())
}

func TestCompareModifiedOnly(t *testing.T) {
	d := Compare(Manifest{"z.c": "1", "a.c": "1"}, Manifest{"z.c": "2", "a.c": "3"})

	assert.Equal(t, []string{"a.c", "z.c"}, d.Modified)
	assert.False(t, d.Structural())
	assert.Equal(t, []string{"a.c", "z.c"}, d.Changed())
}

func TestCompareEmptyAndNil(t *testing.T) {
	assert.True(t, Compare(nil, nil).Empty())
	d := Compare(nil, Manifest{"x": "1"})
	assert.Equal(t, []string{"x"}, d.Added)
}

func TestDigestDistinguishesPathAndContent(t *testing.T) {
	a := Manifest{"ab": "c"}
	b := Manifest{"a": "bc"}
	assert.NotEqual(t, a.Digest(), b.Digest())
}
