package pipeline

import (
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/script"
	"io"
	"strings"
	"time"
)

type StageKind int

const (
	StageFilter StageKind = iota
	StageExec
)

var stageKindStrings = map[StageKind]string{
	StageFilter: "filter",
	StageExec:   "exec",
}

func (k StageKind) String() string {
	return stageKindStrings[k]
}

// StageSpec is one configured stage, in the order given by the user.
type StageSpec struct {
	Kind   StageKind
	Source string
}

type Config struct {
	Policy ErrorPolicy
	// Keys is the output field projection. Empty keeps all fields.
	Keys []string
	// ExcludeKeys are dropped from output.
	ExcludeKeys []string
	// Levels and ExcludeLevels select events by their derived level.
	Levels        []string
	ExcludeLevels []string
	// Since and Until bound event timestamps, inclusive. Zero leaves that end open.
	Since time.Time
	Until time.Time
	// WindowSize is the number of previous events visible to scripts.
	WindowSize int
	// StrictEmit makes emit_each shape errors fail the stage.
	StrictEmit bool
	Stages     []StageSpec
	// Begin and End are exec scripts run once before and after the input.
	Begin []string
	End   []string
	// PrintTo receives script print output. Defaults to stderr.
	PrintTo io.Writer
}

// Builder compiles the configured stages once, and creates cheap per-run or per-batch pipelines from them.
// Compiled stages are immutable, so pipelines built from the same Builder may run concurrently.
type Builder struct {
	log       hclog.Logger
	cfg       Config
	parser    Parser
	formatter Formatter
	stages    []ScriptStage
	begin     []*script.Exec
	end       []*script.Exec
	caps      script.Capabilities
	gate      *EventGate
	stats     *Stats
}

func NewBuilder(log hclog.Logger, cfg Config, parser Parser, formatter Formatter) (*Builder, error) {
	if parser == nil {
		return nil, errors.New("a parser is required")
	}
	if formatter == nil {
		return nil, errors.New("a formatter is required")
	}
	b := &Builder{
		log:       log,
		cfg:       cfg,
		parser:    parser,
		formatter: formatter,
		gate:      NewEventGate(cfg.Levels, cfg.ExcludeLevels, cfg.Since, cfg.Until),
		stats:     &Stats{},
	}
	for _, spec := range cfg.Stages {
		stage, err := compileStage(spec)
		if err != nil {
			return nil, err
		}
		b.caps = b.caps.Merge(stage.Capabilities())
		b.stages = append(b.stages, stage)
	}
	var err error
	if b.begin, err = compileScripts(cfg.Begin); err != nil {
		return nil, err
	}
	if b.end, err = compileScripts(cfg.End); err != nil {
		return nil, err
	}
	return b, nil
}

func compileStage(spec StageSpec) (ScriptStage, error) {
	switch spec.Kind {
	case StageFilter:
		if strings.TrimSpace(spec.Source) == "" {
			return NewFilterStage(), nil
		}
		f, err := script.CompileFilter(spec.Source)
		if err != nil {
			return nil, err
		}
		return NewFilterStage(f), nil
	case StageExec:
		x, err := script.CompileExec(spec.Source)
		if err != nil {
			return nil, err
		}
		return NewExecStage(x), nil
	default:
		return nil, fmt.Errorf("unknown stage kind %d", spec.Kind)
	}
}

func compileScripts(srcs []string) ([]*script.Exec, error) {
	var compiled []*script.Exec
	for _, src := range srcs {
		x, err := script.CompileExec(src)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, x)
	}
	return compiled, nil
}

// Capabilities reports the cross-event state used by the stages.
func (b *Builder) Capabilities() script.Capabilities {
	return b.caps
}

// CheckParallel returns ErrCapability if any stage needs state that isolated workers can't share.
func (b *Builder) CheckParallel() error {
	var offending []string
	for _, s := range b.stages {
		if caps := s.Capabilities(); caps.Any() {
			offending = append(offending, fmt.Sprintf("%s uses %s", s, caps))
		}
	}
	if len(offending) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCapability, strings.Join(offending, "; "))
}

func (b *Builder) Stats() *Stats {
	return b.stats
}

func (b *Builder) Formatter() Formatter {
	return b.formatter
}

func (b *Builder) Config() Config {
	return b.cfg
}

// NewRunContext creates an isolated context. A nil tracker creates a new one.
func (b *Builder) NewRunContext(tracker *script.Tracker) *RunContext {
	if tracker == nil {
		tracker = script.NewTracker()
	}
	var opts []script.ScopeOpt
	if b.cfg.StrictEmit {
		opts = append(opts, script.StrictEmit())
	}
	if b.cfg.PrintTo != nil {
		opts = append(opts, script.PrintTo(b.cfg.PrintTo))
	}
	rc := &RunContext{
		Policy:      b.cfg.Policy,
		Keys:        b.cfg.Keys,
		ExcludeKeys: b.cfg.ExcludeKeys,
		Tracker:     tracker,
		Scope:       script.NewScope(b.log, tracker, opts...),
		Stats:       b.stats,
	}
	if b.caps.Window {
		rc.Window = NewWindow(b.cfg.WindowSize)
	}
	return rc
}

// Build creates a pipeline evaluating in rc.
func (b *Builder) Build(rc *RunContext, opts ...PipelineOpt) *Pipeline {
	if b.gate != nil {
		opts = append([]PipelineOpt{WithGate(b.gate)}, opts...)
	}
	return New(b.log, b.parser, b.formatter, b.stages, rc, opts...)
}

// RunBegin runs the begin scripts once in rc.
func (b *Builder) RunBegin(rc *RunContext) error {
	return b.runScripts("begin", b.begin, rc)
}

// RunEnd runs the end scripts once in rc.
func (b *Builder) RunEnd(rc *RunContext) error {
	return b.runScripts("end", b.end, rc)
}

func (b *Builder) runScripts(phase string, scripts []*script.Exec, rc *RunContext) error {
	for _, x := range scripts {
		rc.Scope.Bind(nil, nil)
		if err := x.Run(rc.Scope); err != nil {
			return fmt.Errorf("%s script '%s': %w", phase, x, err)
		}
	}
	return nil
}
