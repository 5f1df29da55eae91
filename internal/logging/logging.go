// Package logging wraps pterm's structured logger. Logs always go to stderr
// so stdout stays clean for JSON output and the MCP stdio transport.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
)

// Logger is a leveled key/value logger. A nil *Logger discards everything.
type Logger struct {
	l *pterm.Logger
}

// New builds a logger writing to w (stderr when nil). level is one of
// trace, debug, info, warn, error or off; format is text or json.
func New(level, format string, w io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	l := pterm.DefaultLogger.WithLevel(lvl).WithWriter(w)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
	case "json":
		l = l.WithFormatter(pterm.LogFormatterJSON)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return &Logger{l: l}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{l: pterm.DefaultLogger.WithLevel(pterm.LogLevelDisabled).WithWriter(io.Discard)}
}

// ParseLevel maps a level name to pterm's level. Empty means info.
func ParseLevel(s string) (pterm.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return pterm.LogLevelTrace, nil
	case "debug":
		return pterm.LogLevelDebug, nil
	case "", "info":
		return pterm.LogLevelInfo, nil
	case "warn", "warning":
		return pterm.LogLevelWarn, nil
	case "error":
		return pterm.LogLevelError, nil
	case "off", "none", "disabled":
		return pterm.LogLevelDisabled, nil
	}
	return pterm.LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (lg *Logger) Debug(msg string, kv ...any) {
	if lg == nil {
		return
	}
	lg.l.Debug(msg, lg.l.Args(kv...))
}

func (lg *Logger) Info(msg string, kv ...any) {
	if lg == nil {
		return
	}
	lg.l.Info(msg, lg.l.Args(kv...))
}

func (lg *Logger) Warn(msg string, kv ...any) {
	if lg == nil {
		return
	}
	lg.l.Warn(msg, lg.l.Args(kv...))
}

func (lg *Logger) Error(msg string, kv ...any) {
	if lg == nil {
		return
	}
	lg.l.Error(msg, lg.l.Args(kv...))
}
