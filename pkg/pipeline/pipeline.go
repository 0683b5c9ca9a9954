// Package pipeline threads lines through admission, chunking, parsing, the ordered script stages, limiting, projection
// and formatting.
//
// Stage results follow a small algebra: a stage receives one event and returns Skip, Emit, EmitMany or Failure.
// EmitMany results are fed through the remaining stages one element at a time, and a failing element is handled by the
// ErrorPolicy without affecting its siblings.
package pipeline

import (
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/iterator"
)

// Output is one surviving event and its formatted text.
type Output struct {
	Text  string
	Event *entries.Event
}

type Pipeline struct {
	log         hclog.Logger
	framer      *Framer
	gate        *EventGate
	parser      Parser
	stages      []ScriptStage
	limiter     EventLimiter
	formatter   Formatter
	deferFormat bool
	rc          *RunContext
}

type PipelineOpt func(p *Pipeline)

// WithFramer sets the line admission and chunking used by ProcessLine and Flush.
// Without it every line is a chunk and none are rejected.
func WithFramer(f *Framer) PipelineOpt {
	return func(p *Pipeline) {
		p.framer = f
	}
}

// WithGate drops events rejected by g right after parsing.
func WithGate(g *EventGate) PipelineOpt {
	return func(p *Pipeline) {
		p.gate = g
	}
}

// WithLimiter applies l to surviving events before they're formatted.
func WithLimiter(l EventLimiter) PipelineOpt {
	return func(p *Pipeline) {
		p.limiter = l
	}
}

// DeferFormat leaves Output.Text empty, for callers that limit and format events themselves.
func DeferFormat() PipelineOpt {
	return func(p *Pipeline) {
		p.deferFormat = true
	}
}

func New(log hclog.Logger, parser Parser, formatter Formatter, stages []ScriptStage, rc *RunContext, opts ...PipelineOpt) *Pipeline {
	p := &Pipeline{
		log:       log.Named("pipeline"),
		parser:    parser,
		formatter: formatter,
		stages:    stages,
		rc:        rc,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.framer == nil {
		p.framer = NewFramer(nil, nil, rc.Stats)
	}
	return p
}

// Context returns the RunContext this pipeline evaluates in.
func (p *Pipeline) Context() *RunContext {
	return p.rc
}

// ProcessLine admits and chunks line, then processes the chunk if one is complete.
// A returned error is always ErrFailFast, and the run must stop.
func (p *Pipeline) ProcessLine(line iterator.Line) ([]Output, error) {
	chunk, ok := p.framer.Feed(line)
	if !ok {
		return nil, nil
	}
	return p.ProcessChunk(chunk)
}

// Flush processes any chunk still buffered at the end of input.
func (p *Pipeline) Flush() ([]Output, error) {
	chunk, ok := p.framer.Flush()
	if !ok {
		return nil, nil
	}
	return p.ProcessChunk(chunk)
}

// ProcessChunk parses chunk and folds the event through the stages.
// Outputs are in stage emission order.
func (p *Pipeline) ProcessChunk(chunk iterator.Line) ([]Output, error) {
	rc := p.rc
	rc.Meta = Meta{Filename: chunk.Filename, Line: chunk.Num}
	ev, err := p.parser.Parse(chunk.Text)
	if err != nil {
		substitute, fatal := p.handleFailure(&LineError{
			Filename: chunk.Filename,
			Line:     chunk.Num,
			Stage:    "parse",
			Err:      fmt.Errorf("%w: %w", ErrParse, err),
		})
		if fatal != nil {
			return nil, fatal
		}
		if !substitute {
			return nil, nil
		}
		ev = entries.NewEvent(chunk.Text, nil)
	}
	if ev.Raw == "" {
		ev.Raw = chunk.Text
	}
	ev.SetSource(chunk.Filename, chunk.Num)
	rc.Stats.EventsParsed.Add(1)
	if p.gate != nil && !p.gate.Admit(ev) {
		rc.Stats.EventsFiltered.Add(1)
		return nil, nil
	}

	// The window records events as parsed, before any stage changes them.
	if rc.Window != nil {
		rc.Window.Update(ev)
	}

	survivors, err := p.runStages(ev)
	if err != nil {
		return nil, err
	}
	outputs := make([]Output, 0, len(survivors))
	for _, s := range survivors {
		if p.limiter != nil && !p.limiter.Allow() {
			break
		}
		outputs = append(outputs, p.output(s))
	}
	return outputs, nil
}

type pending struct {
	ev   *entries.Event
	next int
}

// runStages folds ev through the stages with an explicit work stack.
// Elements of EmitMany are pushed in reverse so that survivors come out in emission order.
func (p *Pipeline) runStages(ev *entries.Event) ([]*entries.Event, error) {
	var (
		survivors []*entries.Event
		work      = []pending{{ev: ev}}
	)
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if cur.next == len(p.stages) {
			survivors = append(survivors, cur.ev)
			continue
		}
		stage := p.stages[cur.next]
		res := stage.Apply(cur.ev, p.rc)
		fan := p.rc.Scope.TakeFanout()
		switch res.Kind {
		case Emit:
			if fan.SuppressPrimary {
				fanned := make([]*entries.Event, len(fan.Extra))
				for i, fields := range fan.Extra {
					fanned[i] = cur.ev.Derive(fields)
				}
				res = EmittedMany(fanned)
			}
		case Failure:
			substitute, fatal := p.handleFailure(&LineError{
				Filename: cur.ev.Filename,
				Line:     cur.ev.Line,
				Stage:    stage.String(),
				Err:      fmt.Errorf("%w: %w", ErrStage, res.Err),
			})
			if fatal != nil {
				return nil, fatal
			}
			if !substitute {
				continue
			}
			res = Emitted(cur.ev)
		}
		switch res.Kind {
		case Skip:
			p.rc.Stats.EventsFiltered.Add(1)
		case Emit:
			work = append(work, pending{ev: res.Event, next: cur.next + 1})
		case EmitMany:
			for i := len(res.Events) - 1; i >= 0; i-- {
				work = append(work, pending{ev: res.Events[i], next: cur.next + 1})
			}
		}
	}
	return survivors, nil
}

// handleFailure applies the ErrorPolicy to a failure.
// It reports whether processing should continue with a substitute, or returns a fatal error.
func (p *Pipeline) handleFailure(lerr *LineError) (bool, error) {
	p.rc.Stats.Errors.Add(1)
	log := p.log.With("file", lerr.Filename, "line", lerr.Line, "stage", lerr.Stage)
	switch p.rc.Policy {
	case PolicyFailFast:
		log.Error("Aborting run", "error", lerr.Err)
		return false, fmt.Errorf("%w: %w", ErrFailFast, lerr)
	case PolicyEmitAndContinue:
		log.Warn("Dropping after error", "error", lerr.Err)
		return false, nil
	case PolicySubstituteDefault:
		log.Warn("Continuing with default after error", "error", lerr.Err)
		return true, nil
	default:
		log.Debug("Skipping after error", "error", lerr.Err)
		return false, nil
	}
}

func (p *Pipeline) output(ev *entries.Event) Output {
	if len(p.rc.Keys) > 0 {
		ev.Fields = ev.Fields.Project(p.rc.Keys)
	}
	if len(p.rc.ExcludeKeys) > 0 {
		ev.Fields = ev.Fields.Without(p.rc.ExcludeKeys)
	}
	out := Output{Event: ev}
	if !p.deferFormat {
		out.Text = p.formatter.Format(ev)
	}
	return out
}

// Finish returns the footer of formatters that implement Finisher.
func Finish(f Formatter) (string, bool) {
	fin, ok := f.(Finisher)
	if !ok {
		return "", false
	}
	return fin.Finish()
}
