package pipeline

import (
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/script"
	"strings"
)

var (
	_ ScriptStage = (*FilterStage)(nil)
	_ ScriptStage = (*ExecStage)(nil)
)

// FilterStage evaluates its expressions in order, skipping the event at the first one that's false.
// Expressions see a copy of the event, so the event passes through unchanged even if a built-in mutates fields.
// A FilterStage without expressions passes every event through unchanged.
type FilterStage struct {
	filters []*script.Filter
	caps    script.Capabilities
}

func NewFilterStage(filters ...*script.Filter) *FilterStage {
	s := &FilterStage{filters: filters}
	for _, f := range filters {
		s.caps = s.caps.Merge(f.Capabilities())
	}
	return s
}

func (s *FilterStage) Apply(ev *entries.Event, rc *RunContext) StageResult {
	if len(s.filters) == 0 {
		return Emitted(ev)
	}
	rc.Bind(ev.Clone())
	for _, f := range s.filters {
		ok, err := f.Match(rc.Scope)
		if err != nil {
			return Failed(fmt.Errorf("filter error: %w", err))
		}
		if !ok {
			return Skipped()
		}
	}
	return Emitted(ev)
}

func (s *FilterStage) Capabilities() script.Capabilities {
	return s.caps
}

func (s *FilterStage) String() string {
	srcs := make([]string, len(s.filters))
	for i, f := range s.filters {
		srcs[i] = f.String()
	}
	return fmt.Sprintf("filter '%s'", strings.Join(srcs, " && "))
}

// ExecStage runs statements against a copy of the event, emitting the modified copy.
// The input event is never modified, so a failure leaves it intact.
type ExecStage struct {
	exec *script.Exec
}

func NewExecStage(exec *script.Exec) *ExecStage {
	return &ExecStage{exec: exec}
}

func (s *ExecStage) Apply(ev *entries.Event, rc *RunContext) StageResult {
	owned := ev.Clone()
	rc.Bind(owned)
	if err := s.exec.Run(rc.Scope); err != nil {
		return Failed(fmt.Errorf("exec error: %w", err))
	}
	owned.Refresh()
	return Emitted(owned)
}

func (s *ExecStage) Capabilities() script.Capabilities {
	return s.exec.Capabilities()
}

func (s *ExecStage) String() string {
	return fmt.Sprintf("exec '%s'", s.exec.String())
}
