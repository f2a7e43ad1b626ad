package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			Fatal().
			WithContext("file", "simbuild.yaml").
			Build()

		assert.Equal(t, CategoryConfig, err.Category())
		assert.Equal(t, SeverityFatal, err.Severity())
		assert.Equal(t, "invalid configuration", err.Message())

		file, ok := err.Context().GetString("file")
		require.True(t, ok)
		assert.Equal(t, "simbuild.yaml", file)
	})

	t.Run("Wrapped cause is visible to errors.Is", func(t *testing.T) {
		cause := stderrors.New("exit status 1")
		err := ContainerError("failed to copy sources").WithCause(cause).Build()

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "exit status 1")
		assert.Contains(t, err.Error(), "[container:error]")
	})

	t.Run("Detection through fmt wrapping", func(t *testing.T) {
		inner := EnvironmentError("docker is not running").Build()
		err := fmt.Errorf("preflight: %w", inner)

		require.True(t, IsClassified(err))
		assert.True(t, HasCategory(err, CategoryEnvironment))
		assert.Equal(t, CategoryEnvironment, GetCategory(err))
		assert.Equal(t, "docker is not running", Message(err))
		assert.False(t, inner.CanRetry())
	})

	t.Run("Plain errors fall back to internal", func(t *testing.T) {
		err := stderrors.New("boom")
		assert.Equal(t, CategoryInternal, GetCategory(err))
		assert.Equal(t, SeverityError, GetSeverity(err))
		assert.Equal(t, "boom", Message(err))
	})
}

func TestAborted(t *testing.T) {
	err := Aborted("build").Build()

	assert.True(t, IsAborted(err))
	assert.True(t, IsAborted(fmt.Errorf("extract: %w", err)))
	assert.Equal(t, SeverityWarning, err.Severity())

	phase, _ := err.Context().GetString("phase")
	assert.Equal(t, "build", phase)

	bare := NewError(CategoryCanceled, "stopped").Build()
	assert.True(t, IsAborted(bare))

	assert.False(t, IsAborted(BuildError("Build failed").Build()))
}

func TestConflict(t *testing.T) {
	err := ConflictError("another project is building").Build()
	assert.True(t, IsConflict(err))
	assert.Equal(t, SeverityWarning, err.Severity())
	assert.False(t, IsConflict(BuildError("x").Build()))
}

func TestClassifiedErrorIs(t *testing.T) {
	a := BuildError("Build failed").Build()
	b := BuildError("Build failed").WithContext("project", "demo").Build()
	c := ContainerError("Build failed").Build()

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	base := FileSystemError("missing file").WithContext("path", "/a").Build()
	derived := base.WithContext("path", "/b")

	p, _ := base.Context().GetString("path")
	assert.Equal(t, "/a", p)
	p, _ = derived.Context().GetString("path")
	assert.Equal(t, "/b", p)
}

func TestErrorContextMerge(t *testing.T) {
	var nilCtx ErrorContext
	merged := nilCtx.Merge(ErrorContext{"a": 1})
	assert.Equal(t, 1, merged["a"])

	left := ErrorContext{"a": 1, "b": 2}
	out := left.Merge(ErrorContext{"b": 3})
	assert.Equal(t, 1, out["a"])
	assert.Equal(t, 3, out["b"])
	assert.Equal(t, 2, left["b"])
}
