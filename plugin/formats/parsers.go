package formats

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/go-logfmt/logfmt"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNotObject = errors.New("line is not a JSON object")
	ErrNoMatch   = errors.New("line does not match pattern")
	ErrEmpty     = errors.New("line has no key/value pairs")
)

var (
	_ pipeline.Parser = (*JSONParser)(nil)
	_ pipeline.Parser = (*LogfmtParser)(nil)
	_ pipeline.Parser = (*LineParser)(nil)
	_ pipeline.Parser = (*RegexParser)(nil)
)

// inferValue converts text values to int or float64 where they're numeric, so that scripts can compare them as numbers.
func inferValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXnN") {
		return f
	}
	return s
}

// JSONParser parses each chunk as one JSON object.
type JSONParser struct{}

func (JSONParser) Parse(text string) (*entries.Event, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrNotObject)
	}
	fields, ok := entries.Normalize(decoded).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, decoded)
	}
	return entries.NewEvent(text, fields), nil
}

// LogfmtParser parses key=value pairs.
type LogfmtParser struct{}

func (LogfmtParser) Parse(text string) (*entries.Event, error) {
	dec := logfmt.NewDecoder(bytes.NewBufferString(text))
	fields := entries.LogEntry{}
	for dec.ScanRecord() {
		for dec.ScanKeyval() {
			fields[string(dec.Key())] = inferValue(string(dec.Value()))
		}
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrEmpty
	}
	return entries.NewEvent(text, fields), nil
}

// LineParser wraps each chunk as a message field without further parsing.
type LineParser struct{}

func (LineParser) Parse(text string) (*entries.Event, error) {
	return entries.NewEvent(text, entries.LogEntry{"message": text}), nil
}

// RegexParser extracts the named capture groups of a pattern as fields.
type RegexParser struct {
	pattern *regexp.Regexp
	names   []string
}

func NewRegexParser(pattern string) (*RegexParser, error) {
	r, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern '%s': %w", pattern, err)
	}
	var named bool
	for _, n := range r.SubexpNames() {
		if n != "" {
			named = true
		}
	}
	if !named {
		return nil, fmt.Errorf("regex pattern '%s' has no named groups", pattern)
	}
	return &RegexParser{pattern: r, names: r.SubexpNames()}, nil
}

func (p *RegexParser) Parse(text string) (*entries.Event, error) {
	m := p.pattern.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrNoMatch
	}
	fields := entries.LogEntry{}
	for i, name := range p.names {
		if i == 0 || name == "" {
			continue
		}
		fields[name] = inferValue(m[i])
	}
	return entries.NewEvent(text, fields), nil
}
