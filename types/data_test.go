package types_test

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/flowgraph/types"
)

type testStruct struct {
	Name   string
	Age    int
	IsMale bool
}

func TestData(t *testing.T) {
	data := &types.Data{}

	data.Set("teststruct1", testStruct{"hello", 4, false})
	data.Set("teststruct2", testStruct{"kitty", 5, true})

	hello := &testStruct{}
	kitty := &testStruct{}
	assert.Nil(t, data.GetStruct("teststruct1", hello))
	assert.Nil(t, data.GetStruct("teststruct2", kitty))
	assert.NotNil(t, data.GetStruct("missing", kitty))

	assert.Equal(t, "hello", hello.Name)
	assert.Equal(t, 4, hello.Age)
	assert.Equal(t, "kitty", kitty.Name)
	assert.Equal(t, true, kitty.IsMale)

	data.Set("s1", 1)
	data.Set("s2", "2")
	data.Set("s3", math.Pi)
	data.Set("s4", true)

	_, exists := data.Get("s0")
	assert.False(t, exists)

	s, exists := data.GetString("s1")
	assert.True(t, exists)
	assert.Equal(t, "1", s)
	s, _ = data.GetString("s3")
	assert.Equal(t, strconv.FormatFloat(math.Pi, 'f', -1, 64), s)
	s, _ = data.GetString("s4")
	assert.Equal(t, "true", s)

	i, _ := data.GetInt("s2")
	assert.Equal(t, 2, i)
}

func TestDataSetOnNil(t *testing.T) {
	var data types.Data
	data.Set("k", "v")
	assert.Equal(t, "v", data["k"])
}

func TestDataCloneIsDeep(t *testing.T) {
	data := types.Data{
		"order": map[string]any{"tier": "gold", "items": []any{1, 2}},
	}
	clone := data.Clone()
	clone["order"].(map[string]any)["tier"] = "silver"
	clone["order"].(map[string]any)["items"].([]any)[0] = 9

	assert.Equal(t, "gold", data["order"].(map[string]any)["tier"])
	assert.Equal(t, 1, data["order"].(map[string]any)["items"].([]any)[0])
}

func TestDataLookup(t *testing.T) {
	data := types.Data{"order": map[string]any{"customer": map[string]any{"tier": "gold"}}}

	v, ok := data.Lookup("order.customer.tier")
	assert.True(t, ok)
	assert.Equal(t, "gold", v)

	_, ok = data.Lookup("order.missing.tier")
	assert.False(t, ok)
}
