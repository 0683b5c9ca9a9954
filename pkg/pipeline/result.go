package pipeline

import (
	"github.com/saylorsolutions/logsift/pkg/entries"
)

type ResultKind int

const (
	// Skip drops the event silently.
	Skip ResultKind = iota
	// Emit passes exactly one event on.
	Emit
	// EmitMany replaces the event with zero or more events.
	EmitMany
	// Failure is a stage-local error.
	Failure
)

var resultStrings = map[ResultKind]string{
	Skip:     "Skip",
	Emit:     "Emit",
	EmitMany: "EmitMany",
	Failure:  "Failure",
}

func (k ResultKind) String() string {
	return resultStrings[k]
}

// StageResult is the outcome of applying one stage to one event.
type StageResult struct {
	Kind   ResultKind
	Event  *entries.Event
	Events []*entries.Event
	Err    error
}

func Skipped() StageResult {
	return StageResult{Kind: Skip}
}

func Emitted(ev *entries.Event) StageResult {
	return StageResult{Kind: Emit, Event: ev}
}

func EmittedMany(evs []*entries.Event) StageResult {
	return StageResult{Kind: EmitMany, Events: evs}
}

func Failed(err error) StageResult {
	return StageResult{Kind: Failure, Err: err}
}
