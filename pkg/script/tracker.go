package script

import (
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/entries"
	"sort"
)

type metricKind int

const (
	kindCount metricKind = iota
	kindSum
	kindMin
	kindMax
	kindUnique
	kindBucket
)

var kindStrings = map[metricKind]string{
	kindCount:  "count",
	kindSum:    "sum",
	kindMin:    "min",
	kindMax:    "max",
	kindUnique: "unique",
	kindBucket: "bucket",
}

type metric struct {
	kind    metricKind
	count   int64
	num     float64
	set     map[string]struct{}
	buckets map[string]int64
}

// Tracker is the aggregation map of a run, or of one parallel worker.
// It holds named metrics maintained by the track_* functions and the free form state map.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	State   map[string]any
	metrics map[string]*metric
}

func NewTracker() *Tracker {
	return &Tracker{
		State:   map[string]any{},
		metrics: map[string]*metric{},
	}
}

func (t *Tracker) get(key string, kind metricKind) (*metric, error) {
	m, ok := t.metrics[key]
	if !ok {
		m = &metric{kind: kind}
		switch kind {
		case kindUnique:
			m.set = map[string]struct{}{}
		case kindBucket:
			m.buckets = map[string]int64{}
		}
		t.metrics[key] = m
		return m, nil
	}
	if m.kind != kind {
		return nil, fmt.Errorf("metric '%s' is a %s, not a %s", key, kindStrings[m.kind], kindStrings[kind])
	}
	return m, nil
}

func (t *Tracker) Count(key string) (int64, error) {
	m, err := t.get(key, kindCount)
	if err != nil {
		return 0, err
	}
	m.count++
	return m.count, nil
}

func (t *Tracker) Sum(key string, val float64) (float64, error) {
	m, err := t.get(key, kindSum)
	if err != nil {
		return 0, err
	}
	m.num += val
	m.count++
	return m.num, nil
}

func (t *Tracker) Min(key string, val float64) (float64, error) {
	m, err := t.get(key, kindMin)
	if err != nil {
		return 0, err
	}
	if m.count == 0 || val < m.num {
		m.num = val
	}
	m.count++
	return m.num, nil
}

func (t *Tracker) Max(key string, val float64) (float64, error) {
	m, err := t.get(key, kindMax)
	if err != nil {
		return 0, err
	}
	if m.count == 0 || val > m.num {
		m.num = val
	}
	m.count++
	return m.num, nil
}

// Unique adds val to the set under key and returns the number of distinct values seen.
func (t *Tracker) Unique(key string, val string) (int64, error) {
	m, err := t.get(key, kindUnique)
	if err != nil {
		return 0, err
	}
	m.set[val] = struct{}{}
	return int64(len(m.set)), nil
}

// Bucket counts one occurrence of bucket under key and returns the bucket's count.
func (t *Tracker) Bucket(key string, bucket string) (int64, error) {
	m, err := t.get(key, kindBucket)
	if err != nil {
		return 0, err
	}
	m.buckets[bucket]++
	return m.buckets[bucket], nil
}

// Len reports the number of tracked metrics.
func (t *Tracker) Len() int {
	return len(t.metrics)
}

// Snapshot renders the tracked metrics as plain values.
// Unique sets are rendered as their sorted members, buckets as a count per bucket.
func (t *Tracker) Snapshot() entries.LogEntry {
	out := entries.LogEntry{}
	for key, m := range t.metrics {
		switch m.kind {
		case kindCount:
			out[key] = m.count
		case kindSum, kindMin, kindMax:
			out[key] = m.num
		case kindUnique:
			members := make([]string, 0, len(m.set))
			for v := range m.set {
				members = append(members, v)
			}
			sort.Strings(members)
			out[key] = members
		case kindBucket:
			buckets := make(map[string]any, len(m.buckets))
			for b, n := range m.buckets {
				buckets[b] = n
			}
			out[key] = buckets
		}
	}
	return out
}
