// Package runtime drives pipelines over input, either as one sequential pass or as a pool of workers over batches.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"github.com/saylorsolutions/logsift/plugin"
	"time"
)

var (
	ErrInvalidState  = errors.New("invalid state")
	ErrUnknownSource = errors.New("unknown source")
	ErrUnknownSink   = errors.New("unknown sink")
)

type runtimeState int

const (
	created runtimeState = iota
	started
	stopping
	done
)

var (
	stateStrings = map[runtimeState]string{
		created:  "Created",
		started:  "Started",
		stopping: "Stopping",
		done:     "Done",
	}
)

// Runtime owns the plugin lifecycle, and resolves sources and sinks by name for runs.
type Runtime struct {
	log      hclog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	registry *plugin.Registration
	plugins  []plugin.Plugin
	state    runtimeState
}

func NewRuntime(log hclog.Logger, plugins ...plugin.Plugin) *Runtime {
	return &Runtime{
		log:     log.Named("runtime"),
		plugins: plugins,
	}
}

func (r *Runtime) Start(_ctx context.Context) error {
	start := time.Now()
	log := r.log
	log.Debug("Starting runtime")
	if r.state != created {
		err := fmt.Errorf("%w: invalid state for start operation: %s", ErrInvalidState, stateStrings[r.state])
		log.Error("Invalid state to start", "error", err)
		return err
	}
	log.Debug("Registering plugins")
	r.ctx, r.cancel = context.WithCancel(_ctx)
	r.registry = plugin.NewRegistration()
	for _, p := range r.plugins {
		start := time.Now()
		log := log.With("plugin-id", p.ID())
		log.Debug("Registering plugin")
		p.Register(r.registry)
		log.Debug("Done registering plugin", "duration", time.Since(start).String())
	}
	r.state = started
	log.Debug("Runtime started", "start-duration", time.Since(start).String())
	return nil
}

func (r *Runtime) Stop() (rerr error) {
	start := time.Now()
	log := r.log
	log.Debug("Stopping runtime")
	if r.state != started {
		err := fmt.Errorf("%w: invalid state for stop operation: %s", ErrInvalidState, stateStrings[r.state])
		log.Error("Invalid state to stop runtime", "error", err)
		return err
	}
	r.state = stopping
	log.Debug("Cancelling runtime context")
	r.cancel()
	log.Debug("Shutting down plugins")
	for _, p := range r.plugins {
		log := log.With("plugin-id", p.ID())
		log.Debug("Stopping plugin")
		if err := p.Stopping(); err != nil {
			log.Error("Error stopping plugin", "error", err)
			if rerr == nil {
				rerr = err
			}
		}
	}
	r.state = done
	log.Debug("Runtime stopped", "stop-duration", time.Since(start).String())
	return rerr
}

// Registry returns the components registered by the plugins. It's nil until the Runtime is started.
func (r *Runtime) Registry() *plugin.Registration {
	return r.registry
}

func (r *Runtime) checkStarted(op string) error {
	if r.state != started {
		return fmt.Errorf("%w: invalid state for %s operation: %s", ErrInvalidState, op, stateStrings[r.state])
	}
	return nil
}

// OpenInput opens each name with the named source.
// Inputs already opened when one fails are released once the Runtime is stopped.
// Sources that follow their input are merged so that lines are processed as they arrive, all others are read one
// after another. No names reads the source once with an empty name, which is how standard input is selected.
func (r *Runtime) OpenInput(source string, names []string, args plugin.Args, follow bool) (iterator.Iterator, error) {
	if err := r.checkStarted("open input"); err != nil {
		return nil, err
	}
	open, _, ok := r.registry.Source(source)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	if len(names) == 0 {
		names = []string{""}
	}
	iters := make([]iterator.Iterator, 0, len(names))
	for _, name := range names {
		r.log.Debug("Opening input", "source", source, "name", name)
		iter, err := open(r.ctx, name, args)
		if err != nil {
			return nil, fmt.Errorf("failed to open '%s': %w", name, err)
		}
		iters = append(iters, iter)
	}
	if follow {
		return iterator.Merge(iters...), nil
	}
	input := iters[0]
	for _, next := range iters[1:] {
		input = iterator.Concat(input, next)
	}
	return input, nil
}

// OpenSink creates the named record sink.
func (r *Runtime) OpenSink(name string, args plugin.Args) (pipeline.RecordSink, error) {
	if err := r.checkStarted("open sink"); err != nil {
		return nil, err
	}
	open, _, ok := r.registry.Sink(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSink, name)
	}
	return open(r.ctx, args)
}

// Run executes job, and must be called between Start and Stop.
// Stopping the Runtime or cancelling ctx ends the run as if the input were exhausted.
func (r *Runtime) Run(ctx context.Context, job Job) (Summary, error) {
	if err := r.checkStarted("run"); err != nil {
		return Summary{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return Run(ctx, r.log, job)
}
