// Package control implements the control-flow nodes: CONDITION, LOOP, SWITCH
// and PARALLEL. Their outputs drive edge selection in the orchestrator, they
// never execute downstream nodes themselves.
package control

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/expr"
	"github.com/warriorguo/flowgraph/types"
)

var (
	_ types.NodeExecutor = &Executor{}
)

// IterationHandler produces the result of one loop iteration from its scope.
type IterationHandler func(ctx context.Context, node types.NodeDescriptor, scope types.Data, ec types.ExecutionContext) (any, error)

type Option func(*Executor)

// WithIterationHandler replaces the default handler, which returns the scope.
func WithIterationHandler(h IterationHandler) Option {
	return func(e *Executor) {
		e.iterate = h
	}
}

type Executor struct {
	evaluator types.ExpressionEvaluator
	iterate   IterationHandler
}

// NewExecutor returns the control-flow executor. A nil evaluator falls back
// to expr.Fallback.
func NewExecutor(evaluator types.ExpressionEvaluator, opts ...Option) *Executor {
	if evaluator == nil {
		log.Warn("no expression evaluator configured, using the fallback evaluator")
		evaluator = expr.Fallback{}
	}
	e := &Executor{
		evaluator: evaluator,
		iterate:   scopeResult,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func scopeResult(_ context.Context, _ types.NodeDescriptor, scope types.Data, _ types.ExecutionContext) (any, error) {
	return map[string]any(scope), nil
}

func (e *Executor) SupportedTypes() []types.NodeType {
	return []types.NodeType{types.NodeCondition, types.NodeLoop, types.NodeSwitch, types.NodeParallel}
}

func (e *Executor) Execute(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
	switch node.Type {
	case types.NodeCondition:
		return e.condition(node, input, ec)
	case types.NodeLoop:
		return e.loop(ctx, node, input, ec)
	case types.NodeSwitch:
		return e.switchBranch(node, input)
	case types.NodeParallel:
		return e.parallel(node, input)
	}
	return nil, types.NewUnsupportedNodeTypef("node %s type %s", node.Key, node.Type)
}

// bindings exposes input fields by name and globals as global_<name>.
func bindings(input types.Data, ec types.ExecutionContext) types.Data {
	b := input.Clone()
	if ec == nil {
		return b
	}
	for k, v := range ec.GetAllGlobals() {
		b[types.GlobalBindingPrefix+k] = v
	}
	return b
}

func (e *Executor) evaluate(node types.NodeDescriptor, expression string, b types.Data) (bool, error) {
	result, err := e.evaluator.Evaluate(expression, b)
	if err == nil {
		return result, nil
	}
	if types.IsInvalidConfig(err) {
		return false, errors.Annotatef(err, "node %s", node.Key)
	}
	return false, errors.NewNotValid(err, "node "+node.Key+" expression "+expression)
}

type conditionConfig struct {
	Expression string `json:"expression"`
}

func (e *Executor) condition(node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
	config := conditionConfig{}
	if err := decodeConfig(node, &config); err != nil {
		return nil, err
	}

	result, err := e.evaluate(node, config.Expression, bindings(input, ec))
	if err != nil {
		return nil, err
	}

	output := input.Clone()
	output.Set(types.ConditionResultKey, result)
	output.Set(types.ConditionExpressionKey, config.Expression)
	return output, nil
}

func (e *Executor) parallel(node types.NodeDescriptor, input types.Data) (types.Data, error) {
	config := map[string]any{}
	if err := decodeConfig(node, &config); err != nil {
		return nil, err
	}

	output := input.Clone()
	output.Set(types.ParallelExecutionKey, true)
	output.Set(types.ParallelConfigKey, config)
	return output, nil
}
