package pipeline

import (
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	_ Chunker       = PassthroughChunker{}
	_ WindowManager = (*Window)(nil)
	_ EventLimiter  = (*TakeLimiter)(nil)
	_ LineFilter    = (*PatternFilter)(nil)
)

// PassthroughChunker treats every line as a complete chunk.
type PassthroughChunker struct{}

func (PassthroughChunker) Feed(line iterator.Line) (iterator.Line, bool) {
	return line, true
}

func (PassthroughChunker) Flush() (iterator.Line, bool) {
	return iterator.Line{}, false
}

// Window is a ring buffer of event snapshots.
// It holds up to size+1 events: the current event and size previous ones.
type Window struct {
	buf   []*entries.Event
	head  int
	count int
}

func NewWindow(size int) *Window {
	if size < 0 {
		size = 0
	}
	return &Window{buf: make([]*entries.Event, size+1)}
}

// Update stores a clone of ev as the most recent event, evicting the oldest once full.
func (w *Window) Update(ev *entries.Event) {
	w.head = (w.head + len(w.buf) - 1) % len(w.buf)
	w.buf[w.head] = ev.Clone()
	if w.count < len(w.buf) {
		w.count++
	}
}

// Get returns the window contents, index 0 being the most recent.
func (w *Window) Get() []*entries.Event {
	out := make([]*entries.Event, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// TakeLimiter admits at most n events. It's safe for concurrent use, so a single TakeLimiter can be shared by all
// workers of a run.
type TakeLimiter struct {
	remaining atomic.Int64
	unlimited bool
}

// NewTakeLimiter creates a limiter for n events. A negative n admits everything.
func NewTakeLimiter(n int) *TakeLimiter {
	l := &TakeLimiter{unlimited: n < 0}
	l.remaining.Store(int64(n))
	return l
}

func (l *TakeLimiter) Allow() bool {
	if l.unlimited {
		return true
	}
	for {
		cur := l.remaining.Load()
		if cur <= 0 {
			return false
		}
		if l.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Exhausted reports whether no more events will be admitted.
func (l *TakeLimiter) Exhausted() bool {
	return !l.unlimited && l.remaining.Load() <= 0
}

// PatternFilter rejects blank lines, lines matching any ignore pattern and, when keep patterns are set, lines matching
// none of them.
type PatternFilter struct {
	ignore []*regexp.Regexp
	keep   []*regexp.Regexp
}

func NewPatternFilter(ignore, keep []string) (*PatternFilter, error) {
	f := &PatternFilter{}
	var err error
	if f.ignore, err = compilePatterns(ignore); err != nil {
		return nil, err
	}
	if f.keep, err = compilePatterns(keep); err != nil {
		return nil, err
	}
	return f, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		r, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid line pattern '%s': %w", p, err)
		}
		compiled = append(compiled, r)
	}
	return compiled, nil
}

func (f *PatternFilter) Admit(line iterator.Line) bool {
	if strings.TrimSpace(line.Text) == "" {
		return false
	}
	for _, r := range f.ignore {
		if r.MatchString(line.Text) {
			return false
		}
	}
	if len(f.keep) == 0 {
		return true
	}
	for _, r := range f.keep {
		if r.MatchString(line.Text) {
			return true
		}
	}
	return false
}

// Framer combines line admission and chunking, the part of line processing that must see every line in order.
// In parallel mode the dispatcher owns the Framer, so that chunks never straddle batches.
type Framer struct {
	filter  LineFilter
	chunker Chunker
	stats   *Stats
}

func NewFramer(filter LineFilter, chunker Chunker, stats *Stats) *Framer {
	if chunker == nil {
		chunker = PassthroughChunker{}
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Framer{filter: filter, chunker: chunker, stats: stats}
}

// Feed admits and chunks line, returning a chunk when one is complete.
func (f *Framer) Feed(line iterator.Line) (iterator.Line, bool) {
	f.stats.LinesRead.Add(1)
	if f.filter != nil && !f.filter.Admit(line) {
		f.stats.LinesFiltered.Add(1)
		return iterator.Line{}, false
	}
	return f.chunker.Feed(line)
}

func (f *Framer) Flush() (iterator.Line, bool) {
	return f.chunker.Flush()
}
