// Package multiline provides chunkers that assemble several raw lines into one parseable record.
// A chunker is fed lines in order and returns a complete chunk whenever a record boundary is seen.
// Flush must be called at the end of input to release the final, still buffered chunk.
package multiline

import (
	"errors"
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"regexp"
	"strings"
)

var (
	ErrUnknownMode = errors.New("unknown multiline mode")
)

// joinState accumulates lines into a single chunk. The chunk keeps the line number and filename of its first line.
type joinState struct {
	start   iterator.Line
	text    strings.Builder
	defined bool
}

func (j *joinState) setStart(line iterator.Line) {
	j.start = line
	j.text.Reset()
	j.text.WriteString(line.Text)
	j.defined = true
}

func (j *joinState) appendLine(line iterator.Line) {
	j.text.WriteString("\n")
	j.text.WriteString(line.Text)
}

func (j *joinState) finalize() iterator.Line {
	chunk := j.start
	chunk.Text = j.text.String()
	j.defined = false
	j.text.Reset()
	return chunk
}

// StartPattern joins lines until a line matching one of the start patterns is seen.
// Subsequent lines that do not match are appended to the last start line.
// If the input starts with a line that doesn't match, it's treated as a start anyway.
type StartPattern struct {
	patterns []*regexp.Regexp
	state    joinState
}

// NewStartPattern compiles the start patterns, failing on the first invalid one.
func NewStartPattern(patterns ...string) (*StartPattern, error) {
	s := &StartPattern{}
	for _, p := range patterns {
		r, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid start pattern '%s': %w", p, err)
		}
		s.patterns = append(s.patterns, r)
	}
	return s, nil
}

func (s *StartPattern) isStart(line iterator.Line) bool {
	for _, r := range s.patterns {
		if r.MatchString(line.Text) {
			return true
		}
	}
	return false
}

func (s *StartPattern) Feed(line iterator.Line) (iterator.Line, bool) {
	switch {
	case !s.state.defined:
		s.state.setStart(line)
		return iterator.Line{}, false
	case s.isStart(line):
		chunk := s.state.finalize()
		s.state.setStart(line)
		return chunk, true
	default:
		s.state.appendLine(line)
		return iterator.Line{}, false
	}
}

func (s *StartPattern) Flush() (iterator.Line, bool) {
	if !s.state.defined {
		return iterator.Line{}, false
	}
	return s.state.finalize(), true
}

// Indent treats lines starting with whitespace as continuations of the previous record.
type Indent struct {
	state joinState
}

func NewIndent() *Indent {
	return &Indent{}
}

func isContinuation(text string) bool {
	return strings.HasPrefix(text, " ") || strings.HasPrefix(text, "\t")
}

func (c *Indent) Feed(line iterator.Line) (iterator.Line, bool) {
	switch {
	case !c.state.defined:
		c.state.setStart(line)
		return iterator.Line{}, false
	case isContinuation(line.Text):
		c.state.appendLine(line)
		return iterator.Line{}, false
	default:
		chunk := c.state.finalize()
		c.state.setStart(line)
		return chunk, true
	}
}

func (c *Indent) Flush() (iterator.Line, bool) {
	if !c.state.defined {
		return iterator.Line{}, false
	}
	return c.state.finalize(), true
}
