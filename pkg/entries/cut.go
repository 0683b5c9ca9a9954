package entries

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrNotACutString = errors.New("field is not a cuttable string")
)

type cutOpts struct {
	field        string
	delimiter    string
	collector    func(entry LogEntry, parts []string) (collected LogEntry, remaining string)
	removeSource bool
}

// CutOpt is a functional option for Cut.
type CutOpt func(opts *cutOpts)

// CutField sets the field that Cut splits.
func CutField(field string) CutOpt {
	return func(opts *cutOpts) {
		opts.field = field
	}
}

// CutDelim sets the separator Cut splits on. An empty delimiter is ignored.
func CutDelim(delim string) CutOpt {
	return func(opts *cutOpts) {
		if delim != "" {
			opts.delimiter = delim
		}
	}
}

// CutCollector sets the function that assigns the split parts to fields.
func CutCollector(fn func(entry LogEntry, parts []string) (LogEntry, string)) CutOpt {
	return func(opts *cutOpts) {
		opts.collector = fn
	}
}

// RemoveSource deletes the split field once Cut succeeds, rather than leaving the unmapped remainder in it.
func RemoveSource() CutOpt {
	return func(opts *cutOpts) {
		opts.removeSource = true
	}
}

// CutCollectSpec maps part positions to destination fields.
// Negative positions count from the end, -1 being the last part.
type CutCollectSpec map[int]string

func NewCutCollectSpec() CutCollectSpec {
	return CutCollectSpec{}
}

// Map copies the part at idx into field. Mapping the same idx twice keeps the last field.
func (c CutCollectSpec) Map(field string, idx int) CutCollectSpec {
	c[idx] = field
	return c
}

// Collector assigns mapped parts and joins the unmapped ones with a single space.
func (c CutCollectSpec) Collector() func(entry LogEntry, parts []string) (LogEntry, string) {
	return func(entry LogEntry, parts []string) (LogEntry, string) {
		var rest []string
		for i, p := range parts {
			field, ok := c[i]
			inverse, iok := c[i-len(parts)]
			if !ok && !iok {
				rest = append(rest, p)
				continue
			}
			if ok {
				entry[field] = p
			}
			if iok {
				entry[inverse] = p
			}
		}
		return entry, strings.Join(rest, " ")
	}
}

func defaultCutCollector(entry LogEntry, parts []string) (LogEntry, string) {
	for i, p := range parts {
		entry[strconv.Itoa(i)] = p
	}
	return entry, ""
}

// Cut splits a string field into more atomic parts, much like the unix cut command.
// By default the first of MessageFieldNames is split on single spaces, and each part lands in a field named by its
// position. Entries without the field are returned unchanged.
func Cut(entry LogEntry, opt ...CutOpt) (LogEntry, error) {
	opts := &cutOpts{
		field:     MessageFieldNames[0],
		delimiter: " ",
	}
	for _, o := range opt {
		o(opts)
	}
	if opts.collector == nil {
		opts.collector = defaultCutCollector
	}
	if !entry.HasField(opts.field) {
		return entry, nil
	}
	str, ok := entry[opts.field].(string)
	if !ok {
		return entry, ErrNotACutString
	}
	entry, remaining := opts.collector(entry, strings.Split(str, opts.delimiter))
	if opts.removeSource {
		delete(entry, opts.field)
	} else {
		entry[opts.field] = remaining
	}
	return entry, nil
}
