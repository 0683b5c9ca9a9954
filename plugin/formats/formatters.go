package formats

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-logfmt/logfmt"
	"github.com/muesli/termenv"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

const rawField = "raw"

var (
	_ pipeline.Formatter = (*DefaultFormatter)(nil)
	_ pipeline.Formatter = (*JSONFormatter)(nil)
	_ pipeline.Formatter = (*LogfmtFormatter)(nil)
	_ pipeline.Formatter = (*CSVFormatter)(nil)
	_ pipeline.Formatter = (*SummaryFormatter)(nil)
	_ pipeline.Finisher  = (*SummaryFormatter)(nil)
	_ pipeline.Headerer  = (*CSVFormatter)(nil)
)

// outputFields returns the fields to render, falling back to the raw text for events without fields.
func outputFields(ev *entries.Event) entries.LogEntry {
	if len(ev.Fields) == 0 {
		return entries.LogEntry{rawField: ev.Raw}
	}
	return ev.Fields
}

// ColorMode controls ANSI styling of the default formatter.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

func ParseColorMode(s string) (ColorMode, error) {
	switch mode := ColorMode(strings.ToLower(s)); mode {
	case "", ColorAuto:
		return ColorAuto, nil
	case ColorAlways, ColorNever:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid color mode '%s', expected auto|always|never", s)
	}
}

// DefaultFormatter renders events for people: timestamp, level, message, then the remaining fields sorted by name.
type DefaultFormatter struct {
	color  bool
	styles map[string]lipgloss.Style
	keys   lipgloss.Style
	plain  lipgloss.Style
}

// NewDefaultFormatter creates a DefaultFormatter. Color detection in auto mode is done against out.
func NewDefaultFormatter(mode ColorMode, out io.Writer) *DefaultFormatter {
	f := &DefaultFormatter{}
	if mode == ColorNever {
		return f
	}
	r := lipgloss.NewRenderer(out)
	if mode == ColorAlways {
		r.SetColorProfile(termenv.ANSI256)
	}
	if r.ColorProfile() == termenv.Ascii {
		return f
	}
	f.color = true
	f.styles = map[string]lipgloss.Style{
		"DEBUG": r.NewStyle().Foreground(lipgloss.Color("245")).Faint(true),
		"INFO":  r.NewStyle().Foreground(lipgloss.Color("245")),
		"WARN":  r.NewStyle().Foreground(lipgloss.Color("220")),
		"ERROR": r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		"FATAL": r.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("196")).Bold(true),
	}
	f.keys = r.NewStyle().Foreground(lipgloss.Color("39")).Faint(true)
	f.plain = r.NewStyle()
	return f
}

func normalLevel(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE", "DEBUG", "DBG":
		return "DEBUG"
	case "WARN", "WARNING", "WRN":
		return "WARN"
	case "ERROR", "ERR":
		return "ERROR"
	case "FATAL", "CRITICAL", "CRIT", "PANIC":
		return "FATAL"
	default:
		return strings.ToUpper(level)
	}
}

func (f *DefaultFormatter) level(level string) string {
	norm := normalLevel(level)
	padded := fmt.Sprintf("%-5s", norm)
	if !f.color {
		return padded
	}
	style, ok := f.styles[norm]
	if !ok {
		style = f.plain
	}
	return style.Render(padded)
}

// derivedKeys finds the fields an event's timestamp, level and message were taken from.
func derivedKeys(ev *entries.Event) map[string]bool {
	used := map[string]bool{}
	first := func(names []string, ok func(string) bool) {
		for _, n := range names {
			if ok(n) {
				used[n] = true
				return
			}
		}
	}
	if ev.Level != "" {
		first(entries.LevelFieldNames, func(n string) bool { return ev.Fields[n] == ev.Level })
	}
	if ev.Message != "" {
		first(entries.MessageFieldNames, func(n string) bool {
			s, ok := ev.Fields.AsString(n)
			return ok && s == ev.Message
		})
	}
	if ev.HasTime {
		first(entries.TimestampFieldNames, func(n string) bool {
			_, ok := ev.Fields.AsTime(n)
			return ok
		})
	}
	return used
}

var contextMarkers = map[entries.ContextTag]string{
	entries.ContextMatch:  "*",
	entries.ContextBefore: "/",
	entries.ContextAfter:  "\\",
	entries.ContextBoth:   "|",
}

// marker returns the context marker column for tagged events, or nothing for untagged ones.
func (f *DefaultFormatter) marker(tag entries.ContextTag) string {
	m, ok := contextMarkers[tag]
	if !ok {
		return ""
	}
	if f.color {
		m = f.keys.Render(m)
	}
	return m + " "
}

func (f *DefaultFormatter) Format(ev *entries.Event) string {
	if len(ev.Fields) == 0 {
		return f.marker(ev.Context) + ev.Raw
	}
	var parts []string
	if ev.HasTime {
		parts = append(parts, ev.Timestamp.Format(time.RFC3339))
	}
	if ev.Level != "" {
		parts = append(parts, f.level(ev.Level))
	}
	if ev.Message != "" {
		parts = append(parts, ev.Message)
	}
	used := derivedKeys(ev)
	for _, k := range ev.Fields.Keys() {
		if used[k] {
			continue
		}
		key := k + "="
		if f.color {
			key = f.keys.Render(key)
		}
		parts = append(parts, key+quoteIfNeeded(entries.ToString(ev.Fields[k])))
	}
	return f.marker(ev.Context) + strings.Join(parts, " ")
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// JSONFormatter renders the fields of each event as a JSON object, keys sorted.
type JSONFormatter struct{}

func (JSONFormatter) Format(ev *entries.Event) string {
	data, err := json.Marshal(map[string]any(outputFields(ev)))
	if err != nil {
		data, _ = json.Marshal(map[string]any{rawField: ev.Raw, "error": err.Error()})
	}
	return string(data)
}

// LogfmtFormatter renders the fields of each event as key=value pairs, keys sorted.
type LogfmtFormatter struct{}

func (LogfmtFormatter) Format(ev *entries.Event) string {
	fields := outputFields(ev)
	keyvals := make([]any, 0, len(fields)*2)
	for _, k := range fields.Keys() {
		keyvals = append(keyvals, k, entries.ToString(fields[k]))
	}
	data, err := logfmt.MarshalKeyvals(keyvals...)
	if err != nil {
		return fmt.Sprintf("%s=%q", rawField, ev.Raw)
	}
	return string(data)
}

// CSVFormatter renders one row per event. The columns are either given up front, or taken from the first event
// formatted, in which case the header is emitted together with that first row.
type CSVFormatter struct {
	mux     sync.Mutex
	columns []string
	header  bool
}

func NewCSVFormatter(columns []string) *CSVFormatter {
	return &CSVFormatter{columns: columns}
}

func csvRecord(values []string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(values)
	w.Flush()
	return strings.TrimSuffix(buf.String(), "\n")
}

// Header returns the header row when the columns are known before any event is formatted.
func (f *CSVFormatter) Header() (string, bool) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if len(f.columns) == 0 || f.header {
		return "", false
	}
	f.header = true
	return csvRecord(f.columns), true
}

func (f *CSVFormatter) Format(ev *entries.Event) string {
	fields := outputFields(ev)
	f.mux.Lock()
	var header string
	if len(f.columns) == 0 {
		f.columns = fields.Keys()
	}
	if !f.header {
		f.header = true
		header = csvRecord(f.columns) + "\n"
	}
	columns := f.columns
	f.mux.Unlock()

	row := make([]string, len(columns))
	for i, c := range columns {
		row[i] = entries.ToString(fields[c])
	}
	return header + csvRecord(row)
}

// SummaryFormatter writes nothing per event, and instead reports aggregate statistics when finished.
type SummaryFormatter struct {
	mux    sync.Mutex
	total  int
	levels map[string]int
	fields map[string]int
	first  time.Time
	last   time.Time
}

func NewSummaryFormatter() *SummaryFormatter {
	return &SummaryFormatter{
		levels: map[string]int{},
		fields: map[string]int{},
	}
}

func (f *SummaryFormatter) Format(ev *entries.Event) string {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.total++
	if ev.Level != "" {
		f.levels[normalLevel(ev.Level)]++
	}
	for k := range ev.Fields {
		f.fields[k]++
	}
	if ev.HasTime {
		if f.first.IsZero() || ev.Timestamp.Before(f.first) {
			f.first = ev.Timestamp
		}
		if ev.Timestamp.After(f.last) {
			f.last = ev.Timestamp
		}
	}
	return ""
}

func writeCounts(buf *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteString(title + ":\n")
	for _, k := range keys {
		buf.WriteString(fmt.Sprintf("  %s: %d\n", k, counts[k]))
	}
}

func (f *SummaryFormatter) Finish() (string, bool) {
	f.mux.Lock()
	defer f.mux.Unlock()
	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("events: %d\n", f.total))
	if !f.first.IsZero() {
		buf.WriteString(fmt.Sprintf("first: %s\n", f.first.Format(time.RFC3339)))
		buf.WriteString(fmt.Sprintf("last: %s\n", f.last.Format(time.RFC3339)))
		buf.WriteString(fmt.Sprintf("span: %s\n", f.last.Sub(f.first)))
	}
	writeCounts(&buf, "levels", f.levels)
	writeCounts(&buf, "fields", f.fields)
	return strings.TrimSuffix(buf.String(), "\n"), true
}
