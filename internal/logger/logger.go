package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// New returns a logger writing to w. Text output is rendered by tint and
// colored only when color is true; JSON output uses slog's JSON handler.
func New(w io.Writer, jsonOutput, color bool, level slog.Level) *slog.Logger {
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    !color,
		TimeFormat: "2006-01-02 15:04:05.000",
	}))
}

// Terminal wraps f so ANSI sequences work on every platform and reports
// whether f is an interactive terminal.
func Terminal(f *os.File) (io.Writer, bool) {
	fd := f.Fd()
	return colorable.NewColorable(f), isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ParseLevel maps debug/info/warn/error (any case) to a slog level; anything
// else is info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
