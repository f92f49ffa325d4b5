package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Process-wide slog wrapper. Output and level are swappable at runtime;
// main retargets the output into a tee once the log file is open.

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	current.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput replaces the destination, e.g. to tee into a log file.
func SetOutput(w io.Writer) {
	current.Store(build(w))
}

// SetLevel accepts debug, info, warn/warning or error. Anything else
// falls back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Debugf(format string, v ...any) {
	current.Load().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	current.Load().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	current.Load().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	current.Load().Error(fmt.Sprintf(format, v...))
}

// InfoBlock logs a multi-line block one line at a time so each line keeps
// the handler prefix.
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
