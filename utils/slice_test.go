package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueSlice(t *testing.T) {
	assert.Equal(t, []int{1}, UniqueSlice([]int{1}))
	assert.Equal(t, []int{1}, UniqueSlice([]int{1, 1, 1}))
	assert.Equal(t, []int{1, 2}, UniqueSlice([]int{1, 1, 2}))
	assert.Equal(t, []int{1, 2, 3}, UniqueSlice([]int{1, 2, 2, 3, 3, 3}))
	assert.Equal(t, []int{1, 2, 3, 4}, UniqueSlice([]int{1, 2, 2, 3, 3, 3, 3, 3, 4}))
}

func TestToSlice(t *testing.T) {
	s, ok := ToSlice([]int{1, 2, 3})
	assert.True(t, ok)
	assert.Equal(t, []any{1, 2, 3}, s)

	s, ok = ToSlice([2]string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, s)

	_, ok = ToSlice("abc")
	assert.False(t, ok)
	_, ok = ToSlice(nil)
	assert.False(t, ok)
}

func TestDeepCopy(t *testing.T) {
	src := map[string]any{
		"a": map[string]any{"b": []any{1, map[string]any{"c": 2}}},
		"s": []string{"x", "y"},
		"m": map[string]int{"k": 1},
	}
	dst := DeepCopyMap(src)
	dst["a"].(map[string]any)["b"].([]any)[1].(map[string]any)["c"] = 3
	dst["s"].([]string)[0] = "z"
	dst["m"].(map[string]int)["k"] = 2

	assert.Equal(t, 2, src["a"].(map[string]any)["b"].([]any)[1].(map[string]any)["c"])
	assert.Equal(t, "x", src["s"].([]string)[0])
	assert.Equal(t, 1, src["m"].(map[string]int)["k"])
	assert.Nil(t, DeepCopyMap[map[string]any](nil))
}

func TestPathLookup(t *testing.T) {
	v := map[string]any{
		"order": map[string]any{
			"items": []any{map[string]any{"sku": "A1"}},
			"tags":  []string{"x"},
		},
		"typed": map[string]int{"n": 7},
	}

	got, ok := ParseFieldPath("order.items.0.sku").Lookup(v)
	assert.True(t, ok)
	assert.Equal(t, "A1", got)

	got, ok = ParseFieldPath("order.tags.0").Lookup(v)
	assert.True(t, ok)
	assert.Equal(t, "x", got)

	got, ok = ParseFieldPath("typed.n").Lookup(v)
	assert.True(t, ok)
	assert.Equal(t, 7, got)

	_, ok = ParseFieldPath("order.items.5.sku").Lookup(v)
	assert.False(t, ok)
	_, ok = ParseFieldPath("order.missing").Lookup(v)
	assert.False(t, ok)

	assert.Equal(t, "order.items", ParseFieldPath(" order..items ").String())
}
