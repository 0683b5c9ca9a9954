package iterator

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

var (
	ErrAtEnd = errors.New("end of iteration")
)

// Line is one raw line of input and where it came from.
// Num is 1-based within Filename.
type Line struct {
	Text     string
	Num      int
	Filename string
}

type Iterator interface {
	// Next returns the next Line and its offset in the stream.
	// Returns ErrAtEnd if the end of the stream is reached.
	Next() (Line, int, error)
	// Iterate will progress through all Line items in the stream, calling iter for each one along with the offset.
	// If iter returns ErrAtEnd, then iteration will cease, returning nil.
	// If any other error is returned, then iteration will cease, and the error will be returned.
	Iterate(iter func(line Line, i int) error) error
}

// Func adapts a next function into an Iterator.
type Func func() (Line, int, error)

func (fn Func) Next() (Line, int, error) {
	return fn()
}

func (fn Func) Iterate(iter func(line Line, i int) error) error {
	return iterate(fn, iter)
}

func iterate(it Iterator, iter func(line Line, i int) error) error {
	for {
		line, i, err := it.Next()
		if err != nil {
			if IsEnd(err) {
				return nil
			}
			return err
		}
		if err := iter(line, i); err != nil {
			if IsEnd(err) {
				return nil
			}
			return err
		}
	}
}

// End returns the values an Iterator produces once it's exhausted.
func End() (Line, int, error) {
	return Line{}, -1, ErrAtEnd
}

// Err returns the values an Iterator produces when it fails with err.
func Err(err error) (Line, int, error) {
	return Line{}, -1, err
}

func IsEnd(err error) bool {
	return errors.Is(err, ErrAtEnd)
}

func Empty() Iterator {
	return Func(End)
}

func FromSlice(lines []Line) Iterator {
	return &lineSlice{lines: lines}
}

// FromStrings creates an Iterator over text lines, numbering them from 1 under filename.
func FromStrings(filename string, text ...string) Iterator {
	lines := make([]Line, len(text))
	for i, t := range text {
		lines[i] = Line{Text: t, Num: i + 1, Filename: filename}
	}
	return FromSlice(lines)
}

func FromChannel(lines <-chan Line) Iterator {
	return &lineChannel{ch: lines}
}

// FromReader scans r line by line. Trailing carriage returns are removed.
// The scanner error, if any, is returned in place of ErrAtEnd.
func FromReader(r io.Reader, filename string) Iterator {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	var (
		num  int
		done bool
	)
	return Func(func() (Line, int, error) {
		if done {
			return End()
		}
		if !scanner.Scan() {
			done = true
			if err := scanner.Err(); err != nil {
				return Err(err)
			}
			return End()
		}
		num++
		return Line{
			Text:     strings.TrimSuffix(scanner.Text(), "\r"),
			Num:      num,
			Filename: filename,
		}, num - 1, nil
	})
}

const maxLineLength = 16 * 1024 * 1024

func AsChannel(iter Iterator) <-chan Line {
	if chi, ok := iter.(*lineChannel); ok {
		return chi.ch
	}
	ch := make(chan Line)
	go func() {
		defer close(ch)
		_ = iter.Iterate(func(line Line, i int) error {
			ch <- line
			return nil
		})
	}()
	return ch
}

// Collect reads every remaining line from iter.
func Collect(iter Iterator) ([]Line, error) {
	var lines []Line
	err := iter.Iterate(func(line Line, _ int) error {
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

// Drain will drain all lines from an Iterator in a new goroutine.
// This can be useful as an error fallback in case of an iteration error to prevent upstream blocking.
func Drain(iter Iterator) {
	ch := AsChannel(iter)
	go func() {
		for range ch {
		}
	}()
}
