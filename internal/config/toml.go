package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Zone names BurntSushi/toml assigns to values written without an offset.
var tomlLocalZones = map[string]bool{
	"datetime-local": true,
	"date-local":     true,
	"time-local":     true,
}

// decodeTOML decodes into a plain map and rebuilds declaration order from
// MetaData.Keys(), which lists keys in the order they appear in the file.
// Each [[array.table]] header starts a new element, so per-element order is
// exact. Inline tables are not covered by the metadata; those with more than
// one key come back as UnorderedDocument.
func decodeTOML(data []byte) (Document, error) {
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("toml decode: %w", err)
	}
	doc, _ := newTOMLOrder(md).table("", raw)
	return doc, nil
}

type tomlOrder struct {
	children map[string][]string
	seen     map[string]bool
}

func newTOMLOrder(md toml.MetaData) *tomlOrder {
	o := &tomlOrder{children: map[string][]string{}, seen: map[string]bool{}}
	arrIdx := map[string]int{}
	for _, k := range md.Keys() {
		if len(k) == 0 {
			continue
		}
		parent := ""
		raw := ""
		for _, comp := range k[:len(k)-1] {
			raw = joinPath(raw, comp)
			parent = joinPath(parent, comp)
			if idx, ok := arrIdx[raw]; ok {
				parent += "#" + strconv.Itoa(idx)
			}
		}
		name := k[len(k)-1]
		full := joinPath(raw, name)
		if md.Type(k...) == "ArrayHash" {
			if idx, ok := arrIdx[full]; ok {
				arrIdx[full] = idx + 1
			} else {
				arrIdx[full] = 0
			}
		}
		o.add(parent, name)
	}
	return o
}

func (o *tomlOrder) add(parent, name string) {
	id := parent + "\x00" + name
	if o.seen[id] {
		return
	}
	o.seen[id] = true
	o.children[parent] = append(o.children[parent], name)
}

// keysFor returns the keys of m in declaration order. ordered is false when
// none of them is known to the metadata.
func (o *tomlOrder) keysFor(path string, m map[string]any) (keys []string, ordered bool) {
	known := o.children[path]
	out := make([]string, 0, len(m))
	used := make(map[string]bool, len(m))
	for _, k := range known {
		if _, ok := m[k]; ok && !used[k] {
			out = append(out, k)
			used[k] = true
		}
	}
	if len(out) == len(m) {
		return out, true
	}
	rest := make([]string, 0, len(m)-len(out))
	for k := range m {
		if !used[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...), len(out) > 0 || len(rest) < 2
}

func (o *tomlOrder) table(path string, m map[string]any) (Document, bool) {
	keys, ordered := o.keysFor(path, m)
	doc := make(Document, 0, len(m))
	for _, k := range keys {
		doc = append(doc, Entry{Key: k, Value: o.value(joinPath(path, k), m[k])})
	}
	return doc, ordered
}

func (o *tomlOrder) tableValue(path string, m map[string]any) any {
	doc, ordered := o.table(path, m)
	if !ordered {
		return UnorderedDocument(doc)
	}
	return doc
}

func (o *tomlOrder) value(path string, v any) any {
	switch x := v.(type) {
	case map[string]any:
		return o.tableValue(path, x)
	case []map[string]any:
		out := make([]any, 0, len(x))
		for i, m := range x {
			out = append(out, o.tableValue(path+"#"+strconv.Itoa(i), m))
		}
		return out
	case []any:
		out := make([]any, 0, len(x))
		for i, e := range x {
			out = append(out, o.value(path+"#"+strconv.Itoa(i), e))
		}
		return out
	case time.Time:
		if tomlLocalZones[x.Location().String()] {
			return LocalTime{Wall: time.Date(x.Year(), x.Month(), x.Day(), x.Hour(), x.Minute(), x.Second(), x.Nanosecond(), time.UTC)}
		}
		return x
	default:
		return normalizeScalar(v)
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return strings.Join([]string{parent, name}, ".")
}
