package config

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one key/value pair of a Document.
type Entry struct {
	Key   string
	Value any
}

// Document is a decoded configuration mapping that keeps declaration order.
//
// Values are one of: string, int64, float64, bool, time.Time, LocalTime,
// []any or a nested Document.
type Document []Entry

// Get returns the value stored under key.
func (d Document) Get(key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Lookup walks nested documents along path.
func (d Document) Lookup(path ...string) (any, bool) {
	var cur any = d
	for _, p := range path {
		doc, ok := Table(cur)
		if !ok {
			return nil, false
		}
		cur, ok = doc.Get(p)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Keys returns the keys in declaration order.
func (d Document) Keys() []string {
	out := make([]string, 0, len(d))
	for _, e := range d {
		out = append(out, e.Key)
	}
	return out
}

// UnorderedDocument is a table whose declaration order the decoder could not
// recover, such as a TOML inline table with more than one key. Entries are
// sorted by key.
type UnorderedDocument Document

// Table returns v as a Document when it is a table of either kind.
func Table(v any) (Document, bool) {
	switch x := v.(type) {
	case Document:
		return x, true
	case UnorderedDocument:
		return Document(x), true
	default:
		return nil, false
	}
}

// LocalTime is a timestamp without zone information (TOML local date-time,
// or a date written without offset). The wall clock is stored in UTC.
type LocalTime struct {
	Wall time.Time
}

// In pins the wall clock to loc.
func (l LocalTime) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	w := l.Wall
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc)
}

func (l LocalTime) String() string { return l.Wall.Format("2006-01-02 15:04:05") }

// normalizeScalar folds the numeric types produced by the decoders.
func normalizeScalar(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// Describe renders a value for error messages.
func Describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case Document:
		return "{" + strings.Join(x.Keys(), ", ") + "}"
	case UnorderedDocument:
		return "{" + strings.Join(Document(x).Keys(), ", ") + "}"
	default:
		return fmt.Sprintf("%v", x)
	}
}
