// Package obslog builds the mediator's structured logger: text to
// stderr always, plus an optional JSON file sink fanned out with
// samber/slog-multi so operators can tail human-readable output while
// still capturing a machine-parseable session log.
package obslog

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Config selects verbosity and an optional file sink.
type Config struct {
	Level   slog.Level
	FilePath string // empty disables the file sink
}

// New builds the session logger and returns it along with the file
// handle (if any) so the caller can close it on shutdown.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level}),
	}

	var closer io.Closer
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: cfg.Level}))
		closer = f
	}

	fanout := slogmulti.Fanout(handlers...)
	return slog.New(fanout), closer, nil
}

// LogPointSink adapts a *slog.Logger to stepper.Logger for logpoint
// output: each line is logged at info level with the message "logpoint"
// and the text under a "line" attribute.
type LogPointSink struct {
	Log *slog.Logger
}

func (s LogPointSink) LogPoint(line string) {
	s.Log.Info("logpoint", "line", line)
}
