package script

import (
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"io"
	"os"
	"reflect"
	"strings"
)

var reserved = map[string]bool{
	eventBinding:     true,
	lineBinding:      true,
	metaBinding:      true,
	windowBinding:    true,
	stateBinding:     true,
	"emit_each":      true,
	"track_count":    true,
	"track_sum":      true,
	"track_min":      true,
	"track_max":      true,
	"track_unique":   true,
	"track_bucket":   true,
	"window_values":  true,
	"window_numbers": true,
	"to_int":         true,
	"to_float":       true,
	"to_string":      true,
	"print":          true,
	"cut_field":      true,
	"rename_field":   true,
}

func isReserved(name string) bool {
	return reserved[name]
}

// Fanout is what emit_each calls produced during one evaluation.
// When SuppressPrimary is set, the evaluated event is replaced by Extra, which may be empty.
type Fanout struct {
	Extra           []entries.LogEntry
	SuppressPrimary bool
}

// Scope is the environment of a single evaluation context: one run in sequential mode, or one worker's batch in
// parallel mode. Bind must be called before each evaluation to set the current event.
// A Scope is not safe for concurrent use.
type Scope struct {
	Tracker *Tracker

	log    hclog.Logger
	out    io.Writer
	strict bool

	event    *entries.Event
	fanout   Fanout
	shapeErr error
	funcs    map[string]any
	vars     map[string]any
}

type ScopeOpt func(s *Scope)

// StrictEmit makes emit_each shape errors fail the evaluation instead of logging a warning.
func StrictEmit() ScopeOpt {
	return func(s *Scope) {
		s.strict = true
	}
}

// PrintTo sets where print writes. The default is stderr.
func PrintTo(w io.Writer) ScopeOpt {
	return func(s *Scope) {
		s.out = w
	}
}

func NewScope(log hclog.Logger, tracker *Tracker, opts ...ScopeOpt) *Scope {
	if tracker == nil {
		tracker = NewTracker()
	}
	s := &Scope{
		Tracker: tracker,
		log:     log.Named("script"),
		out:     os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.funcs = map[string]any{
		"emit_each":      s.emitEach,
		"track_count":    s.trackCount,
		"track_sum":      s.trackSum,
		"track_min":      s.trackMin,
		"track_max":      s.trackMax,
		"track_unique":   s.trackUnique,
		"track_bucket":   s.trackBucket,
		"window_values":  s.windowValues,
		"window_numbers": s.windowNumbers,
		"to_int":         toInt,
		"to_float":       toFloat,
		"to_string":      toString,
		"print":          s.print,
		"cut_field":      s.cutField,
		"rename_field":   s.renameField,
	}
	s.Bind(nil, nil)
	return s
}

// Bind makes ev the current event and window the visible history, index 0 being the most recent.
// A nil event binds an empty field map, as used by begin and end scripts.
// Any pending fan-out from a previous evaluation is discarded.
func (s *Scope) Bind(ev *entries.Event, window []entries.LogEntry) {
	if ev == nil {
		ev = entries.NewEvent("", nil)
	}
	s.event = ev
	s.fanout = Fanout{}
	s.shapeErr = nil

	vars := make(map[string]any, len(ev.Fields)+len(s.funcs)+5)
	for k, v := range ev.Fields {
		if !isReserved(k) {
			vars[k] = v
		}
	}
	for k, fn := range s.funcs {
		vars[k] = fn
	}
	win := make([]any, len(window))
	for i, w := range window {
		win[i] = map[string]any(w)
	}
	var ts any
	if ev.HasTime {
		ts = ev.Timestamp
	}
	vars[eventBinding] = map[string]any(ev.Fields)
	vars[lineBinding] = ev.Raw
	vars[metaBinding] = map[string]any{
		"filename":  ev.Filename,
		"line":      ev.Line,
		"raw":       ev.Raw,
		"level":     ev.Level,
		"message":   ev.Message,
		"timestamp": ts,
		"context":   ev.Context.String(),
	}
	vars[windowBinding] = win
	vars[stateBinding] = s.Tracker.State
	s.vars = vars
}

// Event returns the currently bound event.
func (s *Scope) Event() *entries.Event {
	return s.event
}

// TakeFanout returns the fan-out recorded since the last Bind and clears it.
func (s *Scope) TakeFanout() Fanout {
	f := s.fanout
	s.fanout = Fanout{}
	return f
}

func (s *Scope) setField(name string, val any) {
	if val == nil {
		delete(s.event.Fields, name)
		if !isReserved(name) {
			delete(s.vars, name)
		}
		return
	}
	s.event.Fields[name] = val
	if !isReserved(name) {
		s.vars[name] = val
	}
}

func (s *Scope) setState(name string, val any) {
	if val == nil {
		delete(s.Tracker.State, name)
		return
	}
	s.Tracker.State[name] = val
}

func (s *Scope) shapeError(format string, args ...any) error {
	err := fmt.Errorf("%w: %s", ErrFanOutShape, fmt.Sprintf(format, args...))
	if s.strict {
		s.shapeErr = err
		return err
	}
	s.log.Warn("Ignoring emit_each input", "file", s.event.Filename, "line", s.event.Line, "error", err)
	return nil
}

func (s *Scope) emitEach(items any, base ...any) (int, error) {
	var defaults map[string]any
	if len(base) > 0 && base[0] != nil {
		m, ok := asMap(base[0])
		if !ok {
			if err := s.shapeError("base must be a map, got %T", base[0]); err != nil {
				return 0, err
			}
		}
		defaults = m
	}
	rv := reflect.ValueOf(items)
	if items == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return 0, s.shapeError("items must be a list, got %T", items)
	}
	s.fanout.SuppressPrimary = true
	var queued int
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		m, ok := asMap(item)
		if !ok {
			if err := s.shapeError("item %d must be a map, got %T", i, item); err != nil {
				return queued, err
			}
			continue
		}
		merged := entries.LogEntry(defaults).Clone()
		for k, v := range entries.LogEntry(m).Clone() {
			merged[k] = v
		}
		s.fanout.Extra = append(s.fanout.Extra, merged)
		queued++
	}
	return queued, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case entries.LogEntry:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func (s *Scope) trackCount(key any) (int64, error) {
	return s.Tracker.Count(entries.ToString(key))
}

func numberArg(fn string, val any) (float64, error) {
	f, ok := entries.ToFloat(val)
	if !ok {
		return 0, fmt.Errorf("%s: '%s' is not a number", fn, entries.ToString(val))
	}
	return f, nil
}

func (s *Scope) trackSum(key, val any) (float64, error) {
	f, err := numberArg("track_sum", val)
	if err != nil {
		return 0, err
	}
	return s.Tracker.Sum(entries.ToString(key), f)
}

func (s *Scope) trackMin(key, val any) (float64, error) {
	f, err := numberArg("track_min", val)
	if err != nil {
		return 0, err
	}
	return s.Tracker.Min(entries.ToString(key), f)
}

func (s *Scope) trackMax(key, val any) (float64, error) {
	f, err := numberArg("track_max", val)
	if err != nil {
		return 0, err
	}
	return s.Tracker.Max(entries.ToString(key), f)
}

func (s *Scope) trackUnique(key, val any) (int64, error) {
	return s.Tracker.Unique(entries.ToString(key), entries.ToString(val))
}

func (s *Scope) trackBucket(key, bucket any) (int64, error) {
	return s.Tracker.Bucket(entries.ToString(key), entries.ToString(bucket))
}

func (s *Scope) window() []any {
	win, _ := s.vars[windowBinding].([]any)
	return win
}

// windowValues returns field from each event in the window that has it, most recent first.
func (s *Scope) windowValues(field any) []any {
	name := entries.ToString(field)
	var vals []any
	for _, w := range s.window() {
		if v, ok := w.(map[string]any)[name]; ok {
			vals = append(vals, v)
		}
	}
	return vals
}

// windowNumbers is like windowValues, but keeps only values convertible to numbers.
func (s *Scope) windowNumbers(field any) []any {
	var nums []any
	for _, v := range s.windowValues(field) {
		if f, ok := entries.ToFloat(v); ok {
			nums = append(nums, f)
		}
	}
	return nums
}

func toInt(val any) (int64, error) {
	i, ok := entries.ToInt(val)
	if !ok {
		return 0, fmt.Errorf("to_int: cannot convert '%s'", entries.ToString(val))
	}
	return i, nil
}

func toFloat(val any) (float64, error) {
	f, ok := entries.ToFloat(val)
	if !ok {
		return 0, fmt.Errorf("to_float: cannot convert '%s'", entries.ToString(val))
	}
	return f, nil
}

func toString(val any) string {
	return entries.ToString(val)
}

func (s *Scope) print(args ...any) bool {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = entries.ToString(a)
	}
	_, _ = fmt.Fprintln(s.out, strings.Join(parts, " "))
	return true
}

// cutField splits a string field on delim and assigns the parts to names by position.
// Parts without a name are joined back into the field. It returns the number of parts.
func (s *Scope) cutField(field, delim string, names ...string) (int, error) {
	val, ok := s.event.Fields[field]
	if !ok {
		return 0, nil
	}
	spec := entries.NewCutCollectSpec()
	for i, n := range names {
		if n != "" {
			spec.Map(n, i)
		}
	}
	var parts int
	collect := spec.Collector()
	cut, err := entries.Cut(entries.LogEntry{field: val},
		entries.CutField(field),
		entries.CutDelim(delim),
		entries.CutCollector(func(entry entries.LogEntry, split []string) (entries.LogEntry, string) {
			parts = len(split)
			return collect(entry, split)
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("cut_field: %w: '%s'", err, field)
	}
	for k, v := range cut {
		s.setField(k, v)
	}
	return parts, nil
}

// renameField moves a field to a new name, reporting whether it existed.
func (s *Scope) renameField(from, to string) bool {
	val, ok := s.event.Fields[from]
	if !ok {
		return false
	}
	entries.Reassign(s.event.Fields, entries.NewReassignSpec().Move(from, to))
	if from != to {
		s.setField(from, nil)
		s.setField(to, val)
	}
	return true
}
