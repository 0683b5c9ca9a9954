package runtime

import (
	"context"
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	goruntime "runtime"
	"time"
)

type batch struct {
	seq    int
	chunks []iterator.Line
}

type lineRead struct {
	line iterator.Line
	err  error
}

// readLines reads input on its own goroutine, so that the dispatcher can wait for input and a batch timeout at the
// same time. The channel closes after the first error, including the end of input, or once ctx is done.
func readLines(ctx context.Context, input iterator.Iterator) <-chan lineRead {
	reads := make(chan lineRead)
	go func() {
		defer close(reads)
		for {
			line, _, err := input.Next()
			select {
			case reads <- lineRead{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return reads
}

type result struct {
	seq  int
	outs []pipeline.Output
	err  error
}

// parallel partitions the framed input into batches and processes each one in a fresh RunContext.
// The dispatcher owns the Framer, so multi-line chunks are complete before they're batched.
//
// In ordered mode the collector holds completed batches until every earlier batch is emitted, and events are limited
// and formatted there in input order. In unordered mode workers limit and format, and batches are emitted as they
// complete.
func (r *run) parallel(ctx context.Context, input iterator.Iterator) error {
	workers := r.job.Workers
	if workers <= 0 {
		workers = goruntime.NumCPU()
	}
	batchSize := r.job.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ordered := !r.job.Unordered
	var opts []pipeline.PipelineOpt
	if ordered {
		opts = append(opts, pipeline.DeferFormat())
	} else {
		opts = append(opts, pipeline.WithLimiter(r.limiter))
	}
	log := r.log.With("workers", workers, "batch-size", batchSize, "ordered", ordered)

	dctx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	// Bounds batches that are dispatched but not yet emitted, including those held for reassembly.
	inflight := semaphore.NewWeighted(int64(2 * workers))
	results := make(chan result, workers)
	var g errgroup.Group
	g.SetLimit(workers)

	collected := make(chan error, 1)
	go func() {
		collected <- r.collect(results, inflight, ordered, stopDispatch)
	}()

	var (
		seq     int
		chunks  []iterator.Line
		readErr error
	)
	dispatch := func() {
		if len(chunks) == 0 {
			return
		}
		_ = inflight.Acquire(context.Background(), 1)
		b := batch{seq: seq, chunks: chunks}
		seq++
		chunks = make([]iterator.Line, 0, batchSize)
		g.Go(func() error {
			results <- r.process(b, opts)
			return nil
		})
	}

	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timeout = nil
	}
	defer stopTimer()

	rctx, stopRead := context.WithCancel(dctx)
	defer stopRead()
	reads := readLines(rctx, input)

	r.enter(dispatching)
dispatchLoop:
	for {
		if dctx.Err() != nil || r.limiter.Exhausted() {
			break
		}
		select {
		case <-dctx.Done():
			break dispatchLoop
		case <-timeout:
			log.Debug("Dispatching partial batch after timeout", "chunks", len(chunks))
			stopTimer()
			dispatch()
		case rd, ok := <-reads:
			if !ok {
				break dispatchLoop
			}
			if rd.err != nil {
				if !iterator.IsEnd(rd.err) {
					readErr = fmt.Errorf("failed to read input: %w", rd.err)
				}
				break dispatchLoop
			}
			chunk, ok := r.framer.Feed(rd.line)
			if !ok {
				continue
			}
			chunks = append(chunks, chunk)
			if len(chunks) >= batchSize {
				stopTimer()
				dispatch()
			} else if timeout == nil && r.job.BatchTimeout > 0 {
				timer = time.NewTimer(r.job.BatchTimeout)
				timeout = timer.C
			}
		}
	}
	stopRead()
	if ctx.Err() != nil {
		log.Debug("Run cancelled")
		r.cancelled = true
	}
	// The collector stops dispatch after an abort, and nothing more should be processed then.
	if dctx.Err() == nil || r.cancelled {
		if chunk, ok := r.framer.Flush(); ok {
			chunks = append(chunks, chunk)
		}
		dispatch()
	}
	log.Debug("Dispatch complete", "batches", seq)

	r.enter(collecting)
	_ = g.Wait()
	close(results)
	err := <-collected
	r.enter(finished)
	if err == nil {
		err = readErr
	}
	return err
}

func (r *run) process(b batch, opts []pipeline.PipelineOpt) result {
	rc := r.job.Builder.NewRunContext(nil)
	p := r.job.Builder.Build(rc, opts...)
	res := result{seq: b.seq}
	for _, chunk := range b.chunks {
		outs, err := p.ProcessChunk(chunk)
		res.outs = append(res.outs, outs...)
		if err != nil {
			res.err = err
			break
		}
	}
	return res
}

// collect emits results until the results channel is closed.
// After the first error everything else is discarded, but results are still drained so workers never block.
func (r *run) collect(results <-chan result, inflight *semaphore.Weighted, ordered bool, stop func()) error {
	var (
		firstErr error
		pending  = map[int]result{}
		next     int
	)
	handle := func(res result) {
		defer inflight.Release(1)
		if firstErr != nil {
			return
		}
		if err := r.emit(res.outs, ordered); err != nil {
			firstErr = err
			stop()
			return
		}
		if res.err != nil {
			firstErr = res.err
			r.aborted = true
			stop()
		}
	}
	for res := range results {
		if !ordered {
			handle(res)
			continue
		}
		pending[res.seq] = res
		if res.seq != next {
			r.enter(reassembling)
			continue
		}
		for {
			res, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			handle(res)
		}
	}
	return firstErr
}
