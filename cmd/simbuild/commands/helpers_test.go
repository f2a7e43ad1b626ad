package commands

import (
	"context"
	"log/slog"
)

func slogEnabledAtInfo() bool {
	return slog.Default().Enabled(context.Background(), slog.LevelInfo)
}
