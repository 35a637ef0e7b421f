// Package logging configures the process-wide slog default for the
// kafkawatch CLI. Library packages take injected loggers; only the
// command entry point calls Init.
package logging

import (
	"log/slog"
	"os"
)

// Init installs a text handler on stderr as the slog default. Warn is
// the quiet baseline so operation results stay uncluttered; verbose
// drops the level to Debug.
func Init(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
