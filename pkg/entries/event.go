package entries

import (
	"time"
)

// ContextTag marks an event's role in surrounding-context output.
type ContextTag int

const (
	ContextNone ContextTag = iota
	ContextMatch
	ContextBefore
	ContextAfter
	ContextBoth
)

var contextTagStrings = map[ContextTag]string{
	ContextNone:   "none",
	ContextMatch:  "match",
	ContextBefore: "before",
	ContextAfter:  "after",
	ContextBoth:   "both",
}

func (c ContextTag) String() string {
	return contextTagStrings[c]
}

var (
	// TimestampFieldNames are checked in order when deriving Event.Timestamp.
	TimestampFieldNames = []string{"ts", "_ts", "timestamp", "at", "time", "@timestamp", "log_timestamp", "event_time", "datetime", "created_at", "logged_at", "@t", "t"}
	// LevelFieldNames are checked in order when deriving Event.Level.
	LevelFieldNames = []string{"level", "lvl", "severity", "log_level", "loglevel", "priority", "sev", "@level", "@l"}
	// MessageFieldNames are checked in order when deriving Event.Message.
	MessageFieldNames = []string{"msg", "message", "content", "log", "text", "body", "@message", "@m"}

	TimestampLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"02/Jan/2006:15:04:05 -0700",
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		time.Stamp,
	}
)

// Event is one structured record produced by parsing a line (or a chunk of lines).
// An Event has exactly one owner as it moves through the pipeline; stages that mutate an event work on a Clone.
type Event struct {
	Fields    LogEntry
	Timestamp time.Time
	HasTime   bool
	Level     string
	Message   string
	Raw       string
	Line      int
	Filename  string
	Context   ContextTag
}

// NewEvent creates an Event for the raw text with the given fields and derives the convenience fields.
func NewEvent(raw string, fields LogEntry) *Event {
	if fields == nil {
		fields = LogEntry{}
	}
	e := &Event{
		Fields: fields,
		Raw:    raw,
	}
	e.Refresh()
	return e
}

// Refresh re-derives Timestamp, Level and Message from the field map.
func (e *Event) Refresh() {
	e.Level, e.Message = "", ""
	e.Timestamp, e.HasTime = time.Time{}, false
	for _, name := range LevelFieldNames {
		if s, ok := e.Fields[name].(string); ok && s != "" {
			e.Level = s
			break
		}
	}
	for _, name := range MessageFieldNames {
		if s, ok := e.Fields.AsString(name); ok {
			e.Message = s
			break
		}
	}
	for _, name := range TimestampFieldNames {
		if t, ok := e.Fields.AsTime(name); ok {
			e.Timestamp, e.HasTime = t, true
			break
		}
	}
}

// Clone returns an independently owned copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	c.Fields = e.Fields.Clone()
	return &c
}

// Derive creates a new event from fields, carrying over e's source metadata.
func (e *Event) Derive(fields LogEntry) *Event {
	d := NewEvent(e.Raw, fields)
	d.Line = e.Line
	d.Filename = e.Filename
	d.Context = e.Context
	return d
}

// SetSource records where the event came from.
func (e *Event) SetSource(filename string, line int) {
	e.Filename = filename
	e.Line = line
}
