package pipeline

import (
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

func TestWindow(t *testing.T) {
	for _, size := range []int{0, 1, 3} {
		for k := 0; k <= 6; k++ {
			w := NewWindow(size)
			var last *entries.Event
			for i := 1; i <= k; i++ {
				last = entries.NewEvent("", entries.LogEntry{"n": i})
				w.Update(last)
			}
			got := w.Get()
			expected := k
			if expected > size+1 {
				expected = size + 1
			}
			require.Len(t, got, expected, "size %d after %d updates", size, k)
			if k > 0 {
				assert.Equal(t, last.Fields, got[0].Fields)
				for i := range got {
					assert.Equal(t, k-i, got[i].Fields["n"], "Window must be ordered most recent first")
				}
			}
		}
	}
}

func TestWindow_StoresSnapshots(t *testing.T) {
	w := NewWindow(2)
	ev := entries.NewEvent("", entries.LogEntry{"a": 1})
	w.Update(ev)
	ev.Fields["a"] = 2
	assert.Equal(t, 1, w.Get()[0].Fields["a"])
}

func TestTakeLimiter(t *testing.T) {
	l := NewTakeLimiter(2)
	assert.True(t, l.Allow())
	assert.False(t, l.Exhausted())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.False(t, l.Allow(), "An exhausted limiter stays exhausted")
	assert.True(t, l.Exhausted())

	l = NewTakeLimiter(0)
	assert.False(t, l.Allow())

	l = NewTakeLimiter(-1)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Exhausted())
}

func TestTakeLimiter_Shared(t *testing.T) {
	l := NewTakeLimiter(50)
	var (
		wg      sync.WaitGroup
		mux     sync.Mutex
		allowed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if l.Allow() {
					mux.Lock()
					allowed++
					mux.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestPatternFilter(t *testing.T) {
	tests := map[string]struct {
		ignore, keep []string
		line         string
		expected     bool
	}{
		"blank":          {line: "   ", expected: false},
		"plain":          {line: "hello", expected: true},
		"ignored":        {ignore: []string{`^#`}, line: "# comment", expected: false},
		"not ignored":    {ignore: []string{`^#`}, line: "data", expected: true},
		"kept":           {keep: []string{`ERROR`}, line: "ERROR boom", expected: true},
		"not kept":       {keep: []string{`ERROR`}, line: "INFO ok", expected: false},
		"ignore wins":    {ignore: []string{`boom`}, keep: []string{`ERROR`}, line: "ERROR boom", expected: false},
		"any keep match": {keep: []string{`WARN`, `ERROR`}, line: "WARN slow", expected: true},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			f, err := NewPatternFilter(tc.ignore, tc.keep)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, f.Admit(iterator.Line{Text: tc.line}))
		})
	}
}

func TestPatternFilter_Invalid(t *testing.T) {
	_, err := NewPatternFilter([]string{`(`}, nil)
	assert.Error(t, err)
}

func TestPassthroughChunker(t *testing.T) {
	var c PassthroughChunker
	line := iterator.Line{Text: "a", Num: 1}
	got, ok := c.Feed(line)
	assert.True(t, ok)
	assert.Equal(t, line, got)
	_, ok = c.Flush()
	assert.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	for _, name := range PolicyNames() {
		p, err := ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.String())
	}
	p, err := ParsePolicy(" Fail-Fast ")
	require.NoError(t, err)
	assert.Equal(t, PolicyFailFast, p)

	_, err = ParsePolicy("explode")
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	var flag ErrorPolicy
	require.NoError(t, flag.Set("default-value"))
	assert.Equal(t, PolicySubstituteDefault, flag)
	assert.Equal(t, "policy", flag.Type())
}
