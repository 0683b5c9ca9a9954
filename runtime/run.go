package runtime

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"time"
)

const (
	DefaultBatchSize = 1000
)

var (
	ErrJob  = errors.New("invalid job")
	ErrSink = errors.New("failed to store event")
)

// Job is everything a run needs.
type Job struct {
	Builder *pipeline.Builder
	Input   iterator.Iterator
	Output  pipeline.Writer
	// Sinks store every event that's output, in output order.
	Sinks   []pipeline.RecordSink
	Filter  pipeline.LineFilter
	Chunker pipeline.Chunker

	Parallel bool
	// Workers defaults to the number of CPUs.
	Workers int
	// BatchSize is the number of chunks per batch, DefaultBatchSize if not positive.
	BatchSize int
	// BatchTimeout dispatches a partial batch once its first chunk has waited this long.
	// Zero waits until the batch is full or the input ends.
	BatchTimeout time.Duration
	// Unordered emits batches as they complete instead of in input order.
	Unordered bool
	// Head limits the number of lines read. A negative Head reads everything.
	Head int
	// Take limits the number of events output. A negative Take outputs everything.
	Take int
	// FlushEach flushes Output after each line or batch, so that followed input is visible right away.
	FlushEach bool
}

// Summary describes a completed run.
type Summary struct {
	Stats pipeline.StatsSnapshot
	// Metrics is the tracked aggregation state of a sequential run.
	// Parallel workers have isolated state, so only the begin and end scripts contribute to it.
	Metrics   entries.LogEntry
	Aborted   bool
	Cancelled bool
	Duration  time.Duration
}

// Failed reports whether the run recovered from any error or was aborted.
// The run's output may be complete, but the exit status should still reflect the errors.
func (s Summary) Failed() bool {
	return s.Aborted || s.Stats.Errors > 0
}

type runState int

const (
	running runState = iota
	flushing
	dispatching
	collecting
	reassembling
	finished
)

var runStateStrings = map[runState]string{
	running:      "Running",
	flushing:     "Flushing",
	dispatching:  "Dispatching",
	collecting:   "Collecting",
	reassembling: "Reassembling",
	finished:     "Done",
}

type run struct {
	log       hclog.Logger
	job       Job
	formatter pipeline.Formatter
	stats     *pipeline.Stats
	framer    *pipeline.Framer
	limiter   *pipeline.TakeLimiter
	aborted   bool
	cancelled bool
}

func (r *run) enter(s runState) {
	r.log.Debug("Run state", "state", runStateStrings[s])
}

// Run executes job until its input is exhausted, ctx is cancelled, or an error aborts it.
//
// A parallel job whose stages use cross-event state fails with pipeline.ErrCapability before anything is read.
// A FailFast abort returns an error wrapping pipeline.ErrFailFast, and the Summary is valid in either case.
func Run(ctx context.Context, log hclog.Logger, job Job) (Summary, error) {
	start := time.Now()
	if job.Builder == nil || job.Input == nil || job.Output == nil {
		return Summary{}, fmt.Errorf("%w: a builder, input and output are required", ErrJob)
	}
	if job.Parallel {
		if err := job.Builder.CheckParallel(); err != nil {
			return Summary{}, err
		}
	}
	stats := job.Builder.Stats()
	r := &run{
		log:       log.Named("run"),
		job:       job,
		formatter: job.Builder.Formatter(),
		stats:     stats,
		framer:    pipeline.NewFramer(job.Filter, job.Chunker, stats),
		limiter:   pipeline.NewTakeLimiter(job.Take),
	}
	r.log.Debug("Starting run", "parallel", job.Parallel, "head", job.Head, "take", job.Take)

	rc := job.Builder.NewRunContext(nil)
	err := job.Builder.RunBegin(rc)
	if err == nil {
		err = r.header()
	}
	if err == nil {
		input := iterator.Head(job.Input, job.Head)
		if job.Parallel {
			err = r.parallel(ctx, input)
		} else {
			err = r.sequential(ctx, rc, input)
		}
		if err == nil {
			err = job.Builder.RunEnd(rc)
		}
		if err == nil || r.aborted {
			if ferr := r.footer(); ferr != nil && err == nil {
				err = ferr
			}
		}
	}
	if ferr := job.Output.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	for _, sink := range job.Sinks {
		if cerr := sink.Close(); cerr != nil {
			r.log.Error("Failed to close sink", "error", cerr)
			if err == nil {
				err = fmt.Errorf("%w: %w", ErrSink, cerr)
			}
		}
	}
	sum := Summary{
		Stats:     stats.Snapshot(),
		Metrics:   rc.Tracker.Snapshot(),
		Aborted:   r.aborted,
		Cancelled: r.cancelled,
		Duration:  time.Since(start),
	}
	r.log.Debug("Run complete", "duration", sum.Duration.String(), "stats", sum.Stats.String())
	return sum, err
}

func (r *run) sequential(ctx context.Context, rc *pipeline.RunContext, input iterator.Iterator) error {
	p := r.job.Builder.Build(rc, pipeline.WithFramer(r.framer), pipeline.WithLimiter(r.limiter))
	r.enter(running)
	for {
		if ctx.Err() != nil {
			r.log.Debug("Run cancelled")
			r.cancelled = true
			break
		}
		if r.limiter.Exhausted() {
			break
		}
		line, _, err := input.Next()
		if err != nil {
			if iterator.IsEnd(err) {
				break
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		outs, perr := p.ProcessLine(line)
		if err := r.emit(outs, false); err != nil {
			return err
		}
		if perr != nil {
			r.aborted = true
			r.enter(finished)
			return perr
		}
	}
	r.enter(flushing)
	outs, perr := p.Flush()
	if err := r.emit(outs, false); err != nil {
		return err
	}
	if perr != nil {
		r.aborted = true
	}
	r.enter(finished)
	return perr
}

// emit writes outputs in order. When limit is set, the outputs have not been limited or formatted yet.
func (r *run) emit(outs []pipeline.Output, limit bool) error {
	if len(outs) == 0 {
		return nil
	}
	for _, out := range outs {
		text := out.Text
		if limit {
			if !r.limiter.Allow() {
				break
			}
			text = r.formatter.Format(out.Event)
		}
		r.stats.EventsOutput.Add(1)
		if text != "" {
			if err := r.job.Output.Write(text); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
		for _, sink := range r.job.Sinks {
			if err := sink.Store(out.Event); err != nil {
				return fmt.Errorf("%w: %w", ErrSink, err)
			}
		}
	}
	if r.job.FlushEach {
		return r.job.Output.Flush()
	}
	return nil
}

func (r *run) header() error {
	h, ok := r.formatter.(pipeline.Headerer)
	if !ok {
		return nil
	}
	text, ok := h.Header()
	if !ok {
		return nil
	}
	return r.job.Output.Write(text)
}

func (r *run) footer() error {
	text, ok := pipeline.Finish(r.formatter)
	if !ok || text == "" {
		return nil
	}
	return r.job.Output.Write(text)
}
