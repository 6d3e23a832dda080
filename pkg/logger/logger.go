// Package logger provides a structured zerolog logger for sleeponlan.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// ParseLevel maps debug, info, warn and error to zerolog levels. Defaults to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init creates a zerolog.Logger writing human-readable lines to stderr and,
// when path is set, appending the same lines to that file. A log file that
// cannot be opened is reported on stderr and skipped. The returned func
// closes the file.
func Init(level, path string) (zerolog.Logger, func()) {
	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		},
	}

	closeFn := func() {}
	if path != "" {
		f, err := openAppend(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: log file disabled: %v\n", err)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        f,
				TimeFormat: time.RFC3339,
				NoColor:    true,
			})
			closeFn = func() { f.Close() }
		}
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
	return log, closeFn
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}
