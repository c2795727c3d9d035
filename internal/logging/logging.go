// Package logging wires the process-wide slog logger: coloured output on the
// terminal plus a plain text copy in the log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/orchnova/vmsync/internal/utils"
)

type Options struct {
	// LogFile receives a copy of every record. Empty disables the file sink.
	LogFile string
	Level   slog.Level
	Stdout  io.Writer
}

// Setup installs the default logger and returns a function that flushes and
// closes the log file.
func Setup(opts Options) (func() error, error) {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	noColor := true
	if f, ok := out.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	handlers := []slog.Handler{
		tint.NewHandler(out, &tint.Options{
			Level:      opts.Level,
			TimeFormat: "15:04:05.000",
			NoColor:    noColor,
		}),
	}

	closer := func() error { return nil }

	if opts.LogFile != "" {
		if err := utils.EnsureParent(opts.LogFile); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		lw := newLineWriter(file)
		handlers = append(handlers, slog.NewTextHandler(lw, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			// the line writer stamps the time
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		}))
		closer = func() error {
			lw.Close()
			return file.Close()
		}
	}

	slog.SetDefault(slog.New(newFanoutHandler(handlers...)))
	return closer, nil
}
