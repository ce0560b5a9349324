package engine

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samaelod/scpsim/types"
)

// Reporter consumes lifecycle events. Report is called synchronously in
// emission order and must return quickly.
type Reporter interface {
	Report(ev types.Event)
}

type ReporterFunc func(ev types.Event)

func (f ReporterFunc) Report(ev types.Event) { f(ev) }

// FormatEvent renders an event as one log line without the timestamp.
func FormatEvent(ev types.Event) string {
	if ev.Kind == types.EventCleared {
		return ev.Detail
	}
	return fmt.Sprintf("%-17s %s", ev.Kind, ev.Detail)
}

// WriterReporter prints "[15:04:05.000] kind detail" lines to w.
type WriterReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

func (r *WriterReporter) Report(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "[%s] %s\n", ev.Time.Format("15:04:05.000"), FormatEvent(ev))
}

// Recorder keeps every event; meant for tests and short headless runs.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *Recorder) Report(ev types.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// For returns the events of one message in order.
func (r *Recorder) For(key types.Key) []types.Event {
	var out []types.Event
	for _, ev := range r.Events() {
		if ev.Kind != types.EventCleared && ev.Key() == key {
			out = append(out, ev)
		}
	}
	return out
}

// Kinds lists the kinds of events for one message, for compact assertions.
func (r *Recorder) Kinds(key types.Key) []types.EventKind {
	evs := r.For(key)
	out := make([]types.EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func (r *Recorder) String() string {
	var sb strings.Builder
	for _, ev := range r.Events() {
		fmt.Fprintf(&sb, "%d %s %s\n", ev.Seq, ev.Key(), FormatEvent(ev))
	}
	return sb.String()
}
