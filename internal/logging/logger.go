// Package logging sets up the zerolog logger used by fitting and application runs.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options selects where log output goes
type Options struct {
	// App is attached to every entry
	App string

	// LogFile is the path of the log file; only used when ToFile is set
	LogFile string

	ToFile    bool
	ToConsole bool

	// Console overrides stdout as the console destination
	Console io.Writer

	// Verbose enables debug entries
	Verbose bool
}

// Setup returns a logger writing to the requested destinations. The returned
// closer releases the log file, if one was opened. With neither destination
// enabled the logger discards everything.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	var writers []io.Writer
	closer := io.Closer(nopCloser{})

	if opts.ToConsole {
		out := opts.Console
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	if opts.ToFile {
		if opts.LogFile == "" {
			return zerolog.Nop(), closer, fmt.Errorf("log to file requested without a file name")
		}
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("error opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp()
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	return ctx.Logger(), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
