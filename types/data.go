package types

import (
	"github.com/goccy/go-json"
	"github.com/juju/errors"
	"github.com/spf13/cast"

	"github.com/warriorguo/flowgraph/utils"
)

// Data is the payload flowing between nodes: node inputs, node outputs and
// the initial run payload are all Data.
type Data map[string]any

func (d *Data) Get(key string) (any, bool) {
	v, exists := (*d)[key]
	return v, exists
}

func (d *Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d *Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d *Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	return cast.ToBool(v), exists
}

func (d *Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

func (d *Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFoundf("key %s", key)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "marshal %s failed", key)
	}
	return json.Unmarshal(b, s)
}

// Lookup resolves a dotted field path such as "order.customer.tier".
func (d Data) Lookup(path string) (any, bool) {
	return utils.ParseFieldPath(path).Lookup(map[string]any(d))
}

func (d *Data) Set(key string, value any) {
	if *d == nil {
		*d = Data{}
	}
	(*d)[key] = value
}

// Clone returns a deep copy, nested maps and slices included.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	return Data(utils.DeepCopyMap(d))
}

// Output fields written by control-flow nodes.
const (
	ConditionResultKey     = "_condition_result"
	ConditionExpressionKey = "_condition_expression"

	LoopResultsKey = "_loop_results"
	LoopCountKey   = "_loop_count"
	LoopTypeKey    = "_loop_type"
	LoopIndexKey   = "_loop_index"
	LoopTotalKey   = "_loop_total"

	SelectedBranchKey = "_selected_branch"
	SwitchValueKey    = "_switch_value"
	SwitchKeyKey      = "_switch_key"

	ParallelExecutionKey = "_parallel_execution"
	ParallelConfigKey    = "_parallel_config"

	// GlobalBindingPrefix prefixes global variables in expression bindings.
	GlobalBindingPrefix = "global_"
	DefaultBranch       = "default"
)
