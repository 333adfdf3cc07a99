// Package cli implements the kmpindex command-line interface.
//
// The commands wire the pipeline components from the configuration and
// run them either once (discover, index, sync) or continuously (serve).
//
// # Commands
//
// The main commands are:
//   - serve: Run indexing workers, scheduled discovery and sync jobs
//   - discover: Run every enabled discoverer once
//   - index: Enqueue coordinates and drain the indexing queue
//   - sync: Refresh owners, repositories, descriptions or tags
//   - migrate: Apply or roll back the database schema
//   - queue: Inspect the indexing queue
//   - cache: Manage the HTTP response cache
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging and
// --log-format json for machine-readable logs. The logger is passed to
// every component constructor.
package cli

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Log formats accepted by --log-format.
const (
	formatText = "text"
	formatJSON = "json"
)

// newLogger creates a new logger with timestamp formatting.
// The logger writes to w and filters messages at the specified level.
// Timestamps are formatted as "HH:MM:SS.ms" (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level, format string) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
	if format == formatJSON {
		l.SetFormatter(log.JSONFormatter)
	}
	return l
}

// progress tracks the start time of an operation and logs completion with elapsed duration.
// It is safe for sequential use by a single goroutine; concurrent calls to done will race.
type progress struct {
	logger *log.Logger
	start  time.Time
}

// newProgress creates a progress tracker that captures the current time as start.
func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg along with the elapsed time since progress was created.
// Example output: "Indexed 42 requests (1.234s)"
func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}
