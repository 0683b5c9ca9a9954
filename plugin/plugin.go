package plugin

import (
	"context"
	"errors"
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrArgs    = errors.New("argument error")
	ErrUnknown = errors.New("not registered")
)

// Plugin represents the operations expected of a plugin providing parsers, formatters, sources or sinks.
type Plugin interface {
	// ID should return a unique identifier for this plugin.
	ID() string
	// Register is called to allow registration of the plugin's components.
	Register(*Registration)
	// Stopping is called once the run is complete, when the logsift session is shutting down.
	Stopping() error
}

// Args are named options passed to a registered component, like the pattern of a regex parser.
type Args map[string]string

// String returns the named argument, and whether it was set to a non-empty value.
func (a Args) String(name string) (string, bool) {
	v, ok := a[name]
	return v, ok && v != ""
}

// Require returns the named argument or an ErrArgs error if it's missing.
func (a Args) Require(name string) (string, error) {
	v, ok := a.String(name)
	if !ok {
		return "", fmt.Errorf("%w: '%s' is required", ErrArgs, name)
	}
	return v, nil
}

func (a Args) Bool(name string) bool {
	v, ok := a.String(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// List splits a comma separated argument, dropping empty elements.
func (a Args) List(name string) []string {
	v, ok := a.String(name)
	if !ok {
		return nil
	}
	var list []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	return list
}

// ParserFunc creates a pipeline.Parser configured by args.
type ParserFunc = func(args Args) (pipeline.Parser, error)

// FormatterFunc creates a pipeline.Formatter configured by args.
type FormatterFunc = func(args Args) (pipeline.Formatter, error)

// SourceFunc opens the named input as a line iterator.
type SourceFunc = func(ctx context.Context, name string, args Args) (iterator.Iterator, error)

// SinkFunc creates a pipeline.RecordSink configured by args.
type SinkFunc = func(ctx context.Context, args Args) (pipeline.RecordSink, error)

type registry[T any] struct {
	funcs map[string]T
	docs  map[string]string
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{
		funcs: map[string]T{},
		docs:  map[string]string{},
	}
}

func (r *registry[T]) get(name string) (T, string, bool) {
	fn, ok := r.funcs[name]
	if !ok {
		return fn, "", false
	}
	doc, ok := r.docs[name]
	if !ok {
		doc = name
	}
	return fn, doc, true
}

func (r *registry[T]) names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registration is a collection of named components to be used by other components.
type Registration struct {
	parsers    *registry[ParserFunc]
	formatters *registry[FormatterFunc]
	sources    *registry[SourceFunc]
	sinks      *registry[SinkFunc]
}

func NewRegistration(plugins ...Plugin) *Registration {
	r := &Registration{
		parsers:    newRegistry[ParserFunc](),
		formatters: newRegistry[FormatterFunc](),
		sources:    newRegistry[SourceFunc](),
		sinks:      newRegistry[SinkFunc](),
	}
	for _, p := range plugins {
		p.Register(r)
	}
	return r
}

// RegisterParser is called by Plugin.Register to provide an input format.
func (r *Registration) RegisterParser(name string, fn ParserFunc) {
	if fn == nil {
		panic("parser is nil")
	}
	r.parsers.funcs[name] = fn
}

// DocumentParser is used to document a provided parser. It's recommended to provide usage information in this documentation.
func (r *Registration) DocumentParser(name, doc string) {
	r.parsers.docs[name] = doc
}

// Parser creates the named parser.
func (r *Registration) Parser(name string, args Args) (pipeline.Parser, error) {
	fn, _, ok := r.parsers.get(name)
	if !ok {
		return nil, fmt.Errorf("input format '%s' %w, expected one of %s", name, ErrUnknown, strings.Join(r.parsers.names(), ", "))
	}
	return fn(args)
}

// RegisterFormatter is called by Plugin.Register to provide an output format.
func (r *Registration) RegisterFormatter(name string, fn FormatterFunc) {
	if fn == nil {
		panic("formatter is nil")
	}
	r.formatters.funcs[name] = fn
}

// DocumentFormatter is used to document a provided formatter.
func (r *Registration) DocumentFormatter(name, doc string) {
	r.formatters.docs[name] = doc
}

// Formatter creates the named formatter.
func (r *Registration) Formatter(name string, args Args) (pipeline.Formatter, error) {
	fn, _, ok := r.formatters.get(name)
	if !ok {
		return nil, fmt.Errorf("output format '%s' %w, expected one of %s", name, ErrUnknown, strings.Join(r.formatters.names(), ", "))
	}
	return fn(args)
}

// RegisterSource is called by Plugin.Register to provide an input source.
func (r *Registration) RegisterSource(name string, fn SourceFunc) {
	if fn == nil {
		panic("source is nil")
	}
	r.sources.funcs[name] = fn
}

// DocumentSource is used to document a provided source.
func (r *Registration) DocumentSource(name, doc string) {
	r.sources.docs[name] = doc
}

// Source retrieves a source known to this Registration.
// It returns the SourceFunc if it exists, documentation, and a bool indicating whether the name matches a known source.
func (r *Registration) Source(name string) (SourceFunc, string, bool) {
	return r.sources.get(name)
}

// RegisterSink is called by Plugin.Register to provide a record sink.
func (r *Registration) RegisterSink(name string, fn SinkFunc) {
	if fn == nil {
		panic("sink is nil")
	}
	r.sinks.funcs[name] = fn
}

// DocumentSink is used to document a provided sink.
func (r *Registration) DocumentSink(name, doc string) {
	r.sinks.docs[name] = doc
}

// Sink retrieves a sink known to this Registration.
func (r *Registration) Sink(name string) (SinkFunc, string, bool) {
	return r.sinks.get(name)
}

// ParserNames lists the registered input formats in alphabetical order.
func (r *Registration) ParserNames() []string {
	return r.parsers.names()
}

// FormatterNames lists the registered output formats in alphabetical order.
func (r *Registration) FormatterNames() []string {
	return r.formatters.names()
}

// AllDocs will return a string containing all the documentation for all loaded plugins.
// The listing will include input formats, output formats, sources, then sinks, in alphabetical order by name.
func (r *Registration) AllDocs() string {
	var buf strings.Builder
	buf.WriteString("Input formats:\n")
	populateDocs(&buf, r.parsers)
	buf.WriteString("Output formats:\n")
	populateDocs(&buf, r.formatters)
	buf.WriteString("Sources:\n")
	populateDocs(&buf, r.sources)
	buf.WriteString("Sinks:\n")
	populateDocs(&buf, r.sinks)
	return buf.String()
}

const (
	indent = "  "
)

func indentString(s string) string {
	s = strings.TrimSuffix(strings.ReplaceAll(indent+s, "\n", "\n"+indent), indent)
	return strings.ReplaceAll(s, "\n"+indent+"\n", "\n\n")
}

func populateDocs[T any](buf *strings.Builder, reg *registry[T]) {
	var _buf strings.Builder
	names := reg.names()
	if len(names) == 0 {
		_buf.WriteString("None\n")
	}
	for _, name := range names {
		_, doc, _ := reg.get(name)
		if !strings.HasSuffix(doc, "\n") {
			doc += "\n"
		}
		_buf.WriteString(doc)
		_buf.WriteString("\n")
	}
	buf.WriteString(indentString(_buf.String()))
}
