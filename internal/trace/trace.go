// Package trace provides the diagnostic sink that records what a probe is
// doing on the wire. Entries are single lines and their order is meaningful.
package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives informational trace entries.
type Sink interface {
	Trace(msg string)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Trace(string) {}

// LineSink writes each entry as one line to W.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

func (s *LineSink) Trace(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// embedded newlines would split one entry into several lines
	fmt.Fprintln(s.w, strings.ReplaceAll(msg, "\n", `\n`))
}

// Recorder keeps entries in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *Recorder) Trace(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, msg)
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}

// Reset drops all recorded entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// LogSink forwards entries to a zerolog logger at info level.
type LogSink struct {
	Logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{Logger: logger}
}

func (s *LogSink) Trace(msg string) {
	s.Logger.Info().Str("component", "trace").Msg(msg)
}

// Multi fans an entry out to several sinks in order.
type Multi []Sink

func (m Multi) Trace(msg string) {
	for _, s := range m {
		s.Trace(msg)
	}
}
