package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default slog logger for one-shot commands.
// Only warnings and errors are shown unless verbose is set.
func Init(verbose bool) {
	slog.SetDefault(New(os.Stderr, levelFor(verbose, slog.LevelWarn)))
}

// InitDaemon installs the default logger for long-running commands, where
// per-run info lines are the main operator signal.
func InitDaemon(verbose bool) {
	slog.SetDefault(New(os.Stderr, levelFor(verbose, slog.LevelInfo)))
}

// New builds a text logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func levelFor(verbose bool, base slog.Level) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return base
}
