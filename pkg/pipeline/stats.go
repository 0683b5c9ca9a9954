package pipeline

import (
	"fmt"
	"sync/atomic"
)

// Stats are run-wide counters, shared by all workers.
type Stats struct {
	LinesRead      atomic.Int64
	LinesFiltered  atomic.Int64
	EventsParsed   atomic.Int64
	EventsFiltered atomic.Int64
	EventsOutput   atomic.Int64
	Errors         atomic.Int64
}

type StatsSnapshot struct {
	LinesRead      int64
	LinesFiltered  int64
	EventsParsed   int64
	EventsFiltered int64
	EventsOutput   int64
	Errors         int64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		LinesRead:      s.LinesRead.Load(),
		LinesFiltered:  s.LinesFiltered.Load(),
		EventsParsed:   s.EventsParsed.Load(),
		EventsFiltered: s.EventsFiltered.Load(),
		EventsOutput:   s.EventsOutput.Load(),
		Errors:         s.Errors.Load(),
	}
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("lines read: %d, lines filtered: %d, events parsed: %d, events filtered: %d, events output: %d, errors: %d",
		s.LinesRead, s.LinesFiltered, s.EventsParsed, s.EventsFiltered, s.EventsOutput, s.Errors)
}
