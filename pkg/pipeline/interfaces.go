package pipeline

import (
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/script"
)

// Parser converts the text of one chunk into an event.
type Parser interface {
	Parse(text string) (*entries.Event, error)
}

// Formatter converts one event into output text.
// Formatters are shared by all workers of a run and must be safe for concurrent use.
// An empty result is counted as output but not written.
type Formatter interface {
	Format(ev *entries.Event) string
}

// Finisher is implemented by formatters that emit an aggregate footer once the run is complete.
type Finisher interface {
	Finish() (string, bool)
}

// Headerer is implemented by formatters that emit a header before the first event.
type Headerer interface {
	Header() (string, bool)
}

type Writer interface {
	Write(text string) error
	Flush() error
}

// RecordSink stores surviving events in addition to the formatted output.
type RecordSink interface {
	Store(ev *entries.Event) error
	Close() error
}

// Chunker assembles raw lines into parseable chunks.
// Feed returns a chunk once a record boundary is seen, and Flush releases any chunk still buffered at the end of input.
type Chunker interface {
	Feed(line iterator.Line) (iterator.Line, bool)
	Flush() (iterator.Line, bool)
}

// LineFilter decides whether a raw line is admitted for parsing.
type LineFilter interface {
	Admit(line iterator.Line) bool
}

// WindowManager keeps a bounded history of parsed events, most recent first.
type WindowManager interface {
	Update(ev *entries.Event)
	Get() []*entries.Event
}

// ScriptStage is one filter or transform step.
type ScriptStage interface {
	Apply(ev *entries.Event, rc *RunContext) StageResult
	Capabilities() script.Capabilities
	String() string
}

// EventLimiter admits at most a fixed number of events for a whole run.
type EventLimiter interface {
	Allow() bool
}
