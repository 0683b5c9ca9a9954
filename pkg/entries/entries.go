package entries

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// LogEntry is the field map of a single record, with potentially many fields.
// Field names are unique by construction.
type LogEntry map[string]any

func (e LogEntry) HasField(name string) bool {
	_, ok := e[name]
	return ok
}

func (e LogEntry) AsFloat(name string) (float64, bool) {
	if !e.HasField(name) {
		return 0, false
	}
	return ToFloat(e[name])
}

func (e LogEntry) AsInt(name string) (int64, bool) {
	if !e.HasField(name) {
		return 0, false
	}
	return ToInt(e[name])
}

func (e LogEntry) AsString(name string) (string, bool) {
	if !e.HasField(name) {
		return "", false
	}
	return ToString(e[name]), true
}

func (e LogEntry) AsTime(name string, format ...string) (time.Time, bool) {
	var none time.Time
	if !e.HasField(name) {
		return none, false
	}
	if t, ok := e[name].(time.Time); ok {
		return t.UTC(), true
	}
	s, ok := e[name].(string)
	if !ok {
		return none, false
	}
	if len(format) == 0 {
		format = TimestampLayouts
	}
	for _, f := range format {
		t, err := time.Parse(f, s)
		if err == nil {
			return t.UTC(), true
		}
	}
	return none, false
}

// Keys returns the field names in sorted order.
func (e LogEntry) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone makes a shallow copy of the field map.
// Nested maps and slices are copied one level deep so that assignments into them don't leak between owners.
func (e LogEntry) Clone() LogEntry {
	c := make(LogEntry, len(e))
	for k, v := range e {
		c[k] = cloneValue(v)
	}
	return c
}

// Project keeps only the requested field names that are present.
func (e LogEntry) Project(keys []string) LogEntry {
	p := make(LogEntry, len(keys))
	for _, k := range keys {
		if v, ok := e[k]; ok {
			p[k] = v
		}
	}
	return p
}

// Without returns a copy of the entry lacking the given field names.
func (e LogEntry) Without(keys []string) LogEntry {
	w := make(LogEntry, len(e))
	for k, v := range e {
		w[k] = v
	}
	for _, k := range keys {
		delete(w, k)
	}
	return w
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(v))
		for k, val := range v {
			c[k] = val
		}
		return c
	case LogEntry:
		c := make(map[string]any, len(v))
		for k, val := range v {
			c[k] = val
		}
		return c
	case []any:
		c := make([]any, len(v))
		copy(c, v)
		return c
	default:
		return v
	}
}

// ToString renders a dynamically typed value the way output formatters expect it.
func ToString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case error:
		return v.Error()
	case interface{ String() string }:
		return v.String()
	case map[string]any, []any, LogEntry:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
	return fmt.Sprintf("%v", val)
}

// ToFloat converts numeric values and numeric strings to float64.
func ToFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	rv := reflect.ValueOf(val)
	switch {
	case rv.CanFloat():
		return rv.Float(), true
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	}
	return 0, false
}

// ToInt converts integral values and integer strings to int64.
func ToInt(val any) (int64, bool) {
	switch v := val.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
		return 0, false
	}
	rv := reflect.ValueOf(val)
	switch {
	case rv.CanInt():
		return rv.Int(), true
	case rv.CanUint():
		return int64(rv.Uint()), true
	}
	return 0, false
}

// Normalize converts decoded JSON values into the types scripts work with: integral numbers become int,
// other numbers float64, and nested objects map[string]any.
func Normalize(val any) any {
	switch v := val.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, inner := range v {
			v[k] = Normalize(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = Normalize(inner)
		}
		return v
	}
	return val
}
