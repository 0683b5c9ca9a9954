package pipeline

import (
	"errors"
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"strings"
	"time"
)

var (
	ErrTimeBound = errors.New("invalid time bound")
)

// EventGate drops parsed events by level and timestamp before any stage sees them.
// Levels compare case-insensitively. Events without a timestamp are never dropped by the time range.
type EventGate struct {
	levels  map[string]bool
	exclude map[string]bool
	since   time.Time
	until   time.Time
}

// NewEventGate returns nil if no condition is set. Zero times leave that end of the range open.
func NewEventGate(levels, excludeLevels []string, since, until time.Time) *EventGate {
	if len(levels) == 0 && len(excludeLevels) == 0 && since.IsZero() && until.IsZero() {
		return nil
	}
	return &EventGate{
		levels:  levelSet(levels),
		exclude: levelSet(excludeLevels),
		since:   since,
		until:   until,
	}
}

func levelSet(levels []string) map[string]bool {
	set := map[string]bool{}
	for _, l := range levels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			set[l] = true
		}
	}
	return set
}

func (g *EventGate) Admit(ev *entries.Event) bool {
	level := strings.ToLower(ev.Level)
	if len(g.levels) > 0 && !g.levels[level] {
		return false
	}
	if g.exclude[level] {
		return false
	}
	if !ev.HasTime {
		return true
	}
	if !g.since.IsZero() && ev.Timestamp.Before(g.since) {
		return false
	}
	if !g.until.IsZero() && ev.Timestamp.After(g.until) {
		return false
	}
	return true
}

// ParseTimeBound reads a --since or --until value: an absolute timestamp in one of entries.TimestampLayouts, a date,
// "now", or a duration like "90m" meaning that long before now.
func ParseTimeBound(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if s == "now" {
		return now.UTC(), nil
	}
	for _, layout := range entries.TimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: '%s'", ErrTimeBound, s)
}
