package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithBuildID(ctx, "build-123")
	ctx = WithProject(ctx, "/work/demo.eez-project")
	ctx = WithPhase(ctx, "setup")

	lc := GetContext(ctx)
	assert.Equal(t, "build-123", lc.BuildID)
	assert.Equal(t, "/work/demo.eez-project", lc.Project)
	assert.Equal(t, "setup", lc.Phase)
}

func TestPhaseOverridesPrevious(t *testing.T) {
	ctx := WithPhase(context.Background(), "setup")
	ctx = WithPhase(ctx, "build")

	assert.Equal(t, "build", GetContext(ctx).Phase)
	assert.Empty(t, GetContext(context.Background()).BuildID)
}

func TestInfoContextIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := WithBuildID(context.Background(), "b-1")
	ctx = WithPhase(ctx, "extract")
	InfoContext(ctx, "phase finished", slog.Int("files", 3))

	out := buf.String()
	assert.Contains(t, out, "phase finished")
	assert.Contains(t, out, "build_id=b-1")
	assert.Contains(t, out, "phase=extract")
	assert.Contains(t, out, "files=3")
}

func TestLoggerWithoutContextReturnsBase(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, base, Logger(context.Background(), base))

	var buf bytes.Buffer
	base = slog.New(slog.NewTextHandler(&buf, nil))
	Logger(WithProject(context.Background(), "p"), base).Info("hello")
	assert.Contains(t, buf.String(), "project=p")
}
