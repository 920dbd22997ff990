package utils

import (
	"reflect"
	"strconv"
	"strings"
)

// Path is a sequence of field names addressing a value inside nested
// maps and slices, e.g. order.items.0.sku.
type Path []string

// ParseFieldPath splits a dotted field path, empty segments are dropped.
func ParseFieldPath(s string) Path {
	p := Path{}
	for _, seg := range strings.Split(s, ".") {
		if seg = strings.TrimSpace(seg); seg != "" {
			p = append(p, seg)
		}
	}
	return p
}

func (p Path) First() (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	return p[0], true
}

func (p Path) Next() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p[1:]
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// Lookup walks v along the path. Map keys are matched by name, slice
// elements by index.
func (p Path) Lookup(v any) (any, bool) {
	seg, exists := p.First()
	if !exists {
		return v, true
	}

	switch c := v.(type) {
	case map[string]any:
		next, exists := c[seg]
		if !exists {
			return nil, false
		}
		return p.Next().Lookup(next)
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return p.Next().Lookup(c[idx])
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		next := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !next.IsValid() {
			return nil, false
		}
		return p.Next().Lookup(next.Interface())
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return p.Next().Lookup(rv.Index(idx).Interface())
	}
	return nil, false
}
