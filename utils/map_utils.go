package utils

import (
	"reflect"
	"sort"
)

func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	cloneM := make(map[K]V, len(m))
	for k, v := range m {
		cloneM[k] = v
	}
	return cloneM
}

func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func UniqueSlice[K comparable](a []K) []K {
	m := make(map[K]bool)
	for i := 0; i < len(a); {
		v := a[i]
		if !m[v] {
			m[v] = true
			i++
			continue
		}
		a = append(a[:i], a[i+1:]...)
	}
	return a
}

// DeepCopyMap copies m recursively. Nested map[string]any and []any values
// are duplicated, other values are shared and must be treated as read-only.
func DeepCopyMap[M ~map[string]any](m M) map[string]any {
	if m == nil {
		return nil
	}
	cloneM := make(map[string]any, len(m))
	for k, v := range m {
		cloneM[k] = DeepCopy(v)
	}
	return cloneM
}

func DeepCopy(v any) any {
	switch c := v.(type) {
	case map[string]any:
		return DeepCopyMap(c)
	case []any:
		cloneS := make([]any, len(c))
		for i, e := range c {
			cloneS[i] = DeepCopy(e)
		}
		return cloneS
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		cloneM := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cloneM.SetMapIndex(iter.Key(), deepCopyValue(iter.Value(), rv.Type().Elem()))
		}
		return cloneM.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		cloneS := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			cloneS.Index(i).Set(deepCopyValue(rv.Index(i), rv.Type().Elem()))
		}
		return cloneS.Interface()
	}
	return v
}

func deepCopyValue(v reflect.Value, elemType reflect.Type) reflect.Value {
	c := DeepCopy(v.Interface())
	if c == nil {
		return reflect.Zero(elemType)
	}
	return reflect.ValueOf(c).Convert(elemType)
}

// ToSlice converts any slice or array into []any, false for anything else.
func ToSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	s := make([]any, rv.Len())
	for i := range s {
		s[i] = rv.Index(i).Interface()
	}
	return s, true
}
