package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/warriorguo/flowgraph/otelhelper"
	"github.com/warriorguo/flowgraph/types"
)

type nodeRuntime struct {
	node     types.NodeDescriptor
	executor types.NodeExecutor
	policy   types.RetryPolicy
}

func newNodeRuntime(node types.NodeDescriptor, executor types.NodeExecutor, policy types.RetryPolicy) *nodeRuntime {
	return &nodeRuntime{node: node, executor: executor, policy: policy}
}

type attemptResult struct {
	output types.Data
	err    error
}

// runOnce performs a single attempt. The executor gets its own copy of input,
// and is abandoned once the attempt timeout or the run context expires.
func (n *nodeRuntime) runOnce(ctx context.Context, tracer trace.Tracer, ec types.ExecutionContext,
	input types.Data, attempt int) *nodeEvent {
	ctx, span := otelhelper.StartSpan(ctx, tracer, "flowgraph.node",
		attribute.String(otelhelper.RunIDKey, ec.RunID()),
		attribute.String(otelhelper.NodeKeyKey, n.node.Key),
		attribute.String(otelhelper.NodeTypeKey, string(n.node.Type)),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	ev := &nodeEvent{
		key:       n.node.Key,
		attempt:   attempt,
		input:     input,
		startTime: time.Now(),
	}

	attemptCtx := ctx
	if timeout := n.policy.AttemptTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resultCh := make(chan attemptResult, 1)
	go func() {
		output, err := n.runHandler(attemptCtx, ec, input.Clone())
		resultCh <- attemptResult{output, err}
	}()

	select {
	case res := <-resultCh:
		ev.output, ev.err = res.output, res.err
	case <-attemptCtx.Done():
		if ctx.Err() == nil {
			ev.err = errors.Timeoutf("node %s attempt %d exceeded %v", n.node.Key, attempt, n.policy.AttemptTimeout())
		} else {
			ev.err = errors.Annotatef(ctx.Err(), "node %s attempt %d", n.node.Key, attempt)
		}
	}
	ev.duration = time.Since(ev.startTime)

	if ev.err != nil {
		ev.output = nil
		otelhelper.SetError(span, ev.err)
	} else if ev.output == nil {
		ev.output = types.Data{}
	}
	span.SetAttributes(attribute.String(otelhelper.NodeStatusKey, attemptStatus(ev.err).String()))
	return ev
}

func (n *nodeRuntime) runHandler(ctx context.Context, ec types.ExecutionContext, input types.Data) (output types.Data, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = types.NewFatalError(fmt.Errorf("panic on %s: %v", n.node.Key, r))
		}
	}()
	return n.executor.Execute(ctx, n.node, input, ec)
}

func attemptStatus(err error) types.NodeStatus {
	if err != nil {
		return types.NodeFailed
	}
	return types.NodeCompleted
}
