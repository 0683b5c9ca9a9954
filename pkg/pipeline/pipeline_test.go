package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/multiline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

// kvParser parses space separated key=value pairs. Integer values become ints.
type kvParser struct{}

func (kvParser) Parse(text string) (*entries.Event, error) {
	fields := entries.LogEntry{}
	for _, tok := range strings.Fields(text) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, fmt.Errorf("token '%s' is not a key=value pair", tok)
		}
		if i, err := strconv.Atoi(v); err == nil {
			fields[k] = i
			continue
		}
		fields[k] = v
	}
	return entries.NewEvent(text, fields), nil
}

// kvFormatter renders sorted key=value pairs, or the raw text prefixed with '!' for events without fields.
type kvFormatter struct{}

func (kvFormatter) Format(ev *entries.Event) string {
	if len(ev.Fields) == 0 {
		return "!" + ev.Raw
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + entries.ToString(ev.Fields[k])
	}
	return strings.Join(parts, " ")
}

func filter(src string) StageSpec {
	return StageSpec{Kind: StageFilter, Source: src}
}

func exec(src string) StageSpec {
	return StageSpec{Kind: StageExec, Source: src}
}

func testBuilder(t *testing.T, cfg Config) *Builder {
	b, err := NewBuilder(hclog.NewNullLogger(), cfg, kvParser{}, kvFormatter{})
	require.NoError(t, err)
	return b
}

// runLines feeds lines through p and flushes it, stopping at the first error.
func runLines(p *Pipeline, lines ...string) ([]string, error) {
	var texts []string
	collect := func(outputs []Output) {
		for _, o := range outputs {
			texts = append(texts, o.Text)
		}
	}
	for i, text := range lines {
		outputs, err := p.ProcessLine(iterator.Line{Text: text, Num: i + 1, Filename: "test.log"})
		if err != nil {
			return texts, err
		}
		collect(outputs)
	}
	outputs, err := p.Flush()
	collect(outputs)
	return texts, err
}

func TestFilterStage_EmptyIsIdentity(t *testing.T) {
	b := testBuilder(t, Config{})
	rc := b.NewRunContext(nil)
	ev := entries.NewEvent("a=1", entries.LogEntry{"a": 1})
	res := NewFilterStage().Apply(ev, rc)
	assert.Equal(t, Emit, res.Kind)
	assert.Same(t, ev, res.Event)

	b = testBuilder(t, Config{Stages: []StageSpec{filter("  ")}})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "a=1", "a=2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1", "a=2"}, texts)
}

func TestPipeline_ParseFailurePolicies(t *testing.T) {
	input := []string{"n=1", "BAD", "n=3", "n=4", "n=5"}
	tests := map[string]struct {
		policy   ErrorPolicy
		expected []string
		failed   bool
	}{
		"skip": {
			policy:   PolicySkip,
			expected: []string{"n=1", "n=3", "n=4", "n=5"},
		},
		"emit errors": {
			policy:   PolicyEmitAndContinue,
			expected: []string{"n=1", "n=3", "n=4", "n=5"},
		},
		"default value": {
			policy:   PolicySubstituteDefault,
			expected: []string{"n=1", "!BAD", "n=3", "n=4", "n=5"},
		},
		"fail fast": {
			policy:   PolicyFailFast,
			expected: []string{"n=1"},
			failed:   true,
		},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			b := testBuilder(t, Config{Policy: tc.policy})
			texts, err := runLines(b.Build(b.NewRunContext(nil)), input...)
			assert.Equal(t, tc.expected, texts)
			assert.Equal(t, int64(1), b.Stats().Errors.Load(), "Every recovered error is counted")
			if !tc.failed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrFailFast)
			assert.ErrorIs(t, err, ErrParse)
			var lerr *LineError
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, 2, lerr.Line)
			assert.Equal(t, "parse", lerr.Stage)
		})
	}
}

func TestPipeline_PartialExecNeverEscapes(t *testing.T) {
	b := testBuilder(t, Config{
		Policy: PolicySkip,
		Stages: []StageSpec{exec(`a := 1; a := to_int("not-a-number")`)},
	})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "n=1")
	require.NoError(t, err)
	assert.Empty(t, texts)
	assert.Equal(t, int64(1), b.Stats().Errors.Load())
}

func TestPipeline_SubstituteDefaultStageFailure(t *testing.T) {
	b := testBuilder(t, Config{
		Policy: PolicySubstituteDefault,
		Stages: []StageSpec{exec(`e.x = 1; e.y = to_int("bad")`), exec(`e.z = 2`)},
	})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "n=1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n=1 z=2"}, texts, "The event continues as it entered the failing stage")
}

func TestFilterStage_LeavesEventUnchanged(t *testing.T) {
	b := testBuilder(t, Config{Stages: []StageSpec{
		filter(`rename_field("a", "b") && cut_field("msg", "-", "x") > 0`),
	}})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "a=1 msg=p-q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1 msg=p-q"}, texts)
}

func TestPipeline_StageOrder(t *testing.T) {
	input := []string{"n=1", "n=2", "n=3"}

	b := testBuilder(t, Config{Stages: []StageSpec{filter(`e.n > 1`), exec(`e.n = e.n * 2`)}})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), input...)
	require.NoError(t, err)
	assert.Equal(t, []string{"n=4", "n=6"}, texts)

	b = testBuilder(t, Config{Stages: []StageSpec{exec(`e.n = e.n * 2`), filter(`e.n > 1`)}})
	texts, err = runLines(b.Build(b.NewRunContext(nil)), input...)
	require.NoError(t, err)
	assert.Equal(t, []string{"n=2", "n=4", "n=6"}, texts)
}

func TestPipeline_FanOut(t *testing.T) {
	b := testBuilder(t, Config{Stages: []StageSpec{
		exec(`emit_each([{"n": 1}, {"n": 2, "id": "mine"}, {"n": 3}], {"id": e.id, "n": 0})`),
		filter(`e.n > 1`),
	}})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "id=a", "id=b")
	require.NoError(t, err)
	assert.Equal(t, []string{"id=mine n=2", "id=a n=3", "id=mine n=2", "id=b n=3"}, texts)
}

func TestPipeline_FanOutEmptySuppresses(t *testing.T) {
	b := testBuilder(t, Config{Stages: []StageSpec{exec(`emit_each([])`)}})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "n=1", "n=2")
	require.NoError(t, err)
	assert.Empty(t, texts)
	assert.Equal(t, int64(0), b.Stats().Errors.Load())
}

func TestPipeline_FanOutElementFailure(t *testing.T) {
	b := testBuilder(t, Config{
		Policy: PolicyEmitAndContinue,
		Stages: []StageSpec{
			exec(`emit_each([{"n": "1"}, {"n": "x"}, {"n": "3"}])`),
			exec(`e.v = to_int(e.n)`),
		},
	})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "id=a")
	require.NoError(t, err)
	assert.Equal(t, []string{"n=1 v=1", "n=3 v=3"}, texts, "Only the failing element is dropped")
	assert.Equal(t, int64(1), b.Stats().Errors.Load())
}

func TestPipeline_StrictFanOut(t *testing.T) {
	b := testBuilder(t, Config{
		Policy:     PolicyFailFast,
		StrictEmit: true,
		Stages:     []StageSpec{exec(`emit_each("nope")`)},
	})
	_, err := runLines(b.Build(b.NewRunContext(nil)), "n=1")
	assert.ErrorIs(t, err, ErrFailFast)
	assert.ErrorIs(t, err, ErrStage)
	assert.ErrorIs(t, err, ErrFanOutShape)

	b = testBuilder(t, Config{
		Policy: PolicyFailFast,
		Stages: []StageSpec{exec(`emit_each("nope")`)},
	})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "n=1")
	require.NoError(t, err, "Shape errors are only warnings unless strict")
	assert.Equal(t, []string{"n=1"}, texts)
}

// The window records events as they were parsed, so later events see earlier ones before any transformation.
func TestPipeline_WindowSnapshotIsPreTransform(t *testing.T) {
	b := testBuilder(t, Config{
		WindowSize: 2,
		Stages: []StageSpec{
			exec(`e.prev = len(window) > 1 ? window[1].a : nil`),
			exec(`e.a = 99`),
		},
	})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "a=1", "a=2", "a=3")
	require.NoError(t, err)
	assert.Equal(t, []string{"a=99", "a=99 prev=1", "a=99 prev=2"}, texts)
}

func TestPipeline_Take(t *testing.T) {
	input := []string{"n=1", "n=2", "n=3", "n=4", "n=5"}
	for _, take := range []int{0, 1, 3, 5, 10} {
		b := testBuilder(t, Config{Stages: []StageSpec{filter(`e.n != 2`)}})
		p := b.Build(b.NewRunContext(nil), WithLimiter(NewTakeLimiter(take)))
		texts, err := runLines(p, input...)
		require.NoError(t, err)
		survivors := []string{"n=1", "n=3", "n=4", "n=5"}
		if take < len(survivors) {
			survivors = survivors[:take]
		}
		if take == 0 {
			survivors = nil
		}
		assert.Equal(t, survivors, texts, "take %d", take)
	}
}

func TestPipeline_Keys(t *testing.T) {
	b := testBuilder(t, Config{Keys: []string{"b", "missing"}})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "a=1 b=2 c=3")
	require.NoError(t, err)
	assert.Equal(t, []string{"b=2"}, texts)
}

func TestPipeline_DeferFormat(t *testing.T) {
	b := testBuilder(t, Config{})
	outputs, err := b.Build(b.NewRunContext(nil), DeferFormat()).ProcessLine(iterator.Line{Text: "a=1", Num: 1})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Empty(t, outputs[0].Text)
	assert.Equal(t, 1, outputs[0].Event.Fields["a"])
	assert.Equal(t, 1, outputs[0].Event.Line)
}

func TestPipeline_FramerAndFlush(t *testing.T) {
	b := testBuilder(t, Config{Stages: []StageSpec{exec(`e.lines = len(split(line, "\n"))`)}})
	chunker, err := multiline.NewStartPattern(`^id=`)
	require.NoError(t, err)
	lf, err := NewPatternFilter([]string{`^#`}, nil)
	require.NoError(t, err)
	p := b.Build(b.NewRunContext(nil), WithFramer(NewFramer(lf, chunker, b.Stats())))

	texts, err := runLines(p, "id=a", "x=1", "# comment", "", "id=b", "y=2", "z=3")
	require.NoError(t, err)
	assert.Equal(t, []string{"id=a lines=2 x=1", "id=b lines=3 y=2 z=3"}, texts)

	stats := b.Stats().Snapshot()
	assert.Equal(t, int64(7), stats.LinesRead)
	assert.Equal(t, int64(2), stats.LinesFiltered)
	assert.Equal(t, int64(2), stats.EventsParsed)
}

func TestPipeline_StateAndScripts(t *testing.T) {
	var printed bytes.Buffer
	b := testBuilder(t, Config{
		Begin:   []string{`state.count = 0`},
		Stages:  []StageSpec{exec(`state.count = state.count + 1; track_sum("total", e.n)`)},
		End:     []string{`print("count", state.count)`},
		PrintTo: &printed,
	})
	rc := b.NewRunContext(nil)
	require.NoError(t, b.RunBegin(rc))
	_, err := runLines(b.Build(rc), "n=1", "n=2", "n=3")
	require.NoError(t, err)
	require.NoError(t, b.RunEnd(rc))

	assert.Equal(t, 3, rc.Tracker.State["count"])
	assert.Equal(t, float64(6), rc.Tracker.Snapshot()["total"])
	assert.Equal(t, "count 3\n", printed.String())
}

func TestBuilder_CheckParallel(t *testing.T) {
	tests := map[string]struct {
		stages []StageSpec
		err    bool
	}{
		"plain":         {stages: []StageSpec{filter(`e.n > 1`), exec(`e.x = 1`)}},
		"state read":    {stages: []StageSpec{filter(`state.seen == nil`)}, err: true},
		"state write":   {stages: []StageSpec{exec(`state.seen = true`)}, err: true},
		"tracker":       {stages: []StageSpec{exec(`track_count("n")`)}, err: true},
		"window":        {stages: []StageSpec{filter(`len(window) > 1`)}, err: true},
		"window helper": {stages: []StageSpec{exec(`e.avg = window_numbers("ms")`)}, err: true},
		"env member":    {stages: []StageSpec{filter(`$env.state.x > 1`)}, err: true},
		"env index":     {stages: []StageSpec{filter(`$env["window"] != nil`)}, err: true},
		"env get":       {stages: []StageSpec{exec(`e.s = get($env, "state")`)}, err: true},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			b := testBuilder(t, Config{Stages: tc.stages})
			err := b.CheckParallel()
			if tc.err {
				assert.ErrorIs(t, err, ErrCapability)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewBuilder_InvalidExpression(t *testing.T) {
	_, err := NewBuilder(hclog.NewNullLogger(), Config{Stages: []StageSpec{filter(`e.n >`)}}, kvParser{}, kvFormatter{})
	assert.Error(t, err)
	_, err = NewBuilder(hclog.NewNullLogger(), Config{Begin: []string{`state = 1`}}, kvParser{}, kvFormatter{})
	assert.Error(t, err)
}

func TestPipeline_EventGate(t *testing.T) {
	input := []string{
		"n=1 level=INFO ts=2024-01-01T00:00:00Z",
		"n=2 level=warn ts=2024-01-02T00:00:00Z",
		"n=3 level=error ts=2024-01-03T00:00:00Z",
		"n=4 level=debug",
		"n=5",
	}
	day := func(d int) time.Time {
		return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
	}
	tests := map[string]struct {
		cfg      Config
		expected []string
	}{
		"no gate": {
			expected: []string{"1", "2", "3", "4", "5"},
		},
		"levels": {
			cfg:      Config{Levels: []string{"info", "ERROR"}},
			expected: []string{"1", "3"},
		},
		"exclude levels": {
			cfg:      Config{ExcludeLevels: []string{"debug", "warn"}},
			expected: []string{"1", "3", "5"},
		},
		"since": {
			cfg:      Config{Since: day(2)},
			expected: []string{"2", "3", "4", "5"},
		},
		"until": {
			cfg:      Config{Until: day(2)},
			expected: []string{"1", "2", "4", "5"},
		},
		"range and level": {
			cfg:      Config{Since: day(2), Until: day(3), Levels: []string{"error"}},
			expected: []string{"3"},
		},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			tc.cfg.Keys = []string{"n"}
			b := testBuilder(t, tc.cfg)
			texts, err := runLines(b.Build(b.NewRunContext(nil)), input...)
			require.NoError(t, err)
			var got []string
			for _, text := range texts {
				got = append(got, strings.TrimPrefix(text, "n="))
			}
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, int64(len(input)-len(tc.expected)), b.Stats().EventsFiltered.Load())
		})
	}
}

func TestPipeline_GateRunsBeforeStages(t *testing.T) {
	var printed bytes.Buffer
	b := testBuilder(t, Config{
		Levels:  []string{"error"},
		Stages:  []StageSpec{exec(`print(e.n)`)},
		PrintTo: &printed,
	})
	_, err := runLines(b.Build(b.NewRunContext(nil)), "n=1 level=info", "n=2 level=error")
	require.NoError(t, err)
	assert.Equal(t, "2\n", printed.String())
}

func TestPipeline_ExcludeKeys(t *testing.T) {
	b := testBuilder(t, Config{ExcludeKeys: []string{"secret", "missing"}})
	texts, err := runLines(b.Build(b.NewRunContext(nil)), "a=1 secret=x b=2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1 b=2"}, texts)

	b = testBuilder(t, Config{Keys: []string{"a", "secret"}, ExcludeKeys: []string{"secret"}})
	texts, err = runLines(b.Build(b.NewRunContext(nil)), "a=1 secret=x b=2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1"}, texts)
}

func TestParseTimeBound(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := map[string]struct {
		in       string
		expected time.Time
		err      bool
	}{
		"empty":    {in: ""},
		"now":      {in: "now", expected: now},
		"rfc3339":  {in: "2024-01-02T03:04:05+01:00", expected: time.Date(2024, 1, 2, 2, 4, 5, 0, time.UTC)},
		"date":     {in: "2024-01-02", expected: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		"duration": {in: "90m", expected: now.Add(-90 * time.Minute)},
		"invalid":  {in: "yesterday-ish", err: true},
		"negative": {in: "-1h", err: true},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			got, err := ParseTimeBound(tc.in, now)
			if tc.err {
				assert.ErrorIs(t, err, ErrTimeBound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
