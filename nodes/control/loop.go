package control

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/types"
	"github.com/warriorguo/flowgraph/utils"
)

const (
	LoopForEach = "forEach"
	LoopWhile   = "while"
	LoopRange   = "range"

	DefaultLoopVar       = "item"
	DefaultMaxIterations = 100
)

type loopConfig struct {
	LoopType      string `json:"loopType"`
	LoopVar       string `json:"loopVar"`
	Items         string `json:"items"`
	Condition     string `json:"condition"`
	MaxIterations int    `json:"maxIterations"`
	Start         int    `json:"start"`
	End           *int   `json:"end"`
	Step          *int   `json:"step"`
}

func (c *loopConfig) setDefaults() {
	if c.LoopType == "" {
		c.LoopType = LoopForEach
	}
	if c.LoopVar == "" {
		c.LoopVar = DefaultLoopVar
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
}

func (e *Executor) loop(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
	config := loopConfig{}
	if err := decodeConfig(node, &config); err != nil {
		return nil, err
	}
	config.setDefaults()

	var (
		results []any
		err     error
	)
	switch config.LoopType {
	case LoopForEach:
		results, err = e.forEach(ctx, node, &config, input, ec)
	case LoopWhile:
		results, err = e.while(ctx, node, &config, input, ec)
	case LoopRange:
		results, err = e.rangeLoop(ctx, node, &config, input, ec)
	default:
		err = types.NewInvalidConfigf("node %s loop type %s", node.Key, config.LoopType)
	}
	if err != nil {
		return nil, err
	}

	output := input.Clone()
	output.Set(types.LoopResultsKey, results)
	output.Set(types.LoopCountKey, len(results))
	output.Set(types.LoopTypeKey, config.LoopType)
	return output, nil
}

func (e *Executor) iteration(ctx context.Context, node types.NodeDescriptor, scope types.Data, ec types.ExecutionContext) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	result, err := e.iterate(ctx, node, scope, ec)
	if err != nil {
		index, _ := scope.GetInt(types.LoopIndexKey)
		return nil, errors.Annotatef(err, "node %s iteration %d", node.Key, index)
	}
	return result, nil
}

func (e *Executor) forEach(ctx context.Context, node types.NodeDescriptor, config *loopConfig, input types.Data, ec types.ExecutionContext) ([]any, error) {
	if config.Items == "" {
		return nil, types.NewInvalidConfigf("node %s forEach loop without items", node.Key)
	}
	v, found := input.Lookup(config.Items)
	if !found {
		return nil, types.NewInvalidConfigf("node %s items field %s not in input", node.Key, config.Items)
	}
	items, ok := utils.ToSlice(v)
	if !ok {
		return nil, types.NewInvalidConfigf("node %s items field %s is %T, not a sequence", node.Key, config.Items, v)
	}

	results := make([]any, 0, len(items))
	for i, item := range items {
		scope := types.Data{
			config.LoopVar:     item,
			types.LoopIndexKey: i,
			types.LoopTotalKey: len(items),
		}
		result, err := e.iteration(ctx, node, scope, ec)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Executor) while(ctx context.Context, node types.NodeDescriptor, config *loopConfig, input types.Data, ec types.ExecutionContext) ([]any, error) {
	if config.Condition == "" {
		return nil, types.NewInvalidConfigf("node %s while loop without condition", node.Key)
	}

	results := make([]any, 0)
	for i := 0; ; i++ {
		b := bindings(input, ec)
		b.Set(types.LoopIndexKey, i)
		ok, err := e.evaluate(node, config.Condition, b)
		if err != nil {
			return nil, err
		}
		if !ok {
			return results, nil
		}
		if i >= config.MaxIterations {
			log.WithFields(log.Fields{
				"node_key":       node.Key,
				"max_iterations": config.MaxIterations,
			}).Warn("while loop reached max iterations, stopped")
			return results, nil
		}

		result, err := e.iteration(ctx, node, types.Data{types.LoopIndexKey: i}, ec)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
}

// rangeLoop iterates [start, end) by step, counting down for a negative step,
// for at most maxIterations rounds.
func (e *Executor) rangeLoop(ctx context.Context, node types.NodeDescriptor, config *loopConfig, input types.Data, ec types.ExecutionContext) ([]any, error) {
	if config.End == nil {
		return nil, types.NewInvalidConfigf("node %s range loop without end", node.Key)
	}
	step := 1
	if config.Step != nil {
		step = *config.Step
	}
	if step == 0 {
		return nil, types.NewInvalidConfigf("node %s range loop with zero step", node.Key)
	}

	end := *config.End
	results := make([]any, 0)
	for i, v := 0, config.Start; (step > 0 && v < end) || (step < 0 && v > end); i, v = i+1, v+step {
		if i >= config.MaxIterations {
			log.WithFields(log.Fields{
				"node_key":       node.Key,
				"max_iterations": config.MaxIterations,
			}).Warn("range loop reached max iterations, stopped")
			break
		}
		scope := types.Data{
			config.LoopVar:     v,
			types.LoopIndexKey: i,
		}
		result, err := e.iteration(ctx, node, scope, ec)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}
