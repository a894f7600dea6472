// Package cli provides the command-line interface for enprot.
package cli

import (
	"fmt"
	"os"
	"sync"

	"enprot/internal/log"
)

// Reporter prints per-file progress and error/success messages to stderr
// and mirrors them to the package-level structured logger (whichever one
// applyLogLevel configured — null by default, or a file/debug logger when
// --log-level/--log-file asked for one). The engine runs one file at a
// time with no partial-progress points (spec's concurrency model has no
// suspension points), so unlike a byte-streamed transfer there is nothing
// to report a fraction of — just which file is being worked on and
// whether it succeeded.
type Reporter struct {
	mu     sync.Mutex
	quiet  bool
	logger log.Logger
}

// NewReporter creates a CLI reporter. If quiet is true, only errors are
// printed to stderr (the structured logger, if one is configured, still
// receives every line regardless of quiet).
func NewReporter(quiet bool) *Reporter {
	return &Reporter{quiet: quiet, logger: log.GetLogger()}
}

// Status prints a verbose progress line (e.g. "Reading foo.ept").
func (r *Reporter) Status(format string, args ...any) {
	r.logger.Debug(fmt.Sprintf(format, args...))
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// PrintError prints an error message.
func (r *Reporter) PrintError(format string, args ...any) {
	r.logger.Error(fmt.Sprintf(format, args...))
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(os.Stderr, "enprot: "+format+"\n", args...)
}

// PrintSuccess prints a success message (suppressed when quiet).
func (r *Reporter) PrintSuccess(format string, args ...any) {
	r.logger.Info(fmt.Sprintf(format, args...))
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
