// Package obs contains observability utilities such as logging.
package obs

import (
	"log/slog"
	"os"
)

// NewLogger builds the JSON structured logger the engine uses. Verbose
// switches the level down to debug.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
