package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	jujuerrors "github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/types"
)

func alwaysFail(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
	return nil, errors.New("upstream 503")
}

func publishSingle(t *testing.T, f *flow, id string, nodeType types.NodeType, retryPolicy string) {
	var policy json.RawMessage
	if retryPolicy != "" {
		policy = json.RawMessage(retryPolicy)
	}
	publish(t, f, id, []types.NodeDescriptor{
		{Key: "start", Type: types.NodeStart},
		{Key: "work", Type: nodeType, RetryPolicy: policy},
		{Key: "end", Type: types.NodeEnd},
	}, []types.EdgeDescriptor{edge("start", "work"), edge("work", "end")})
}

func TestRetryExhausted(t *testing.T) {
	llm := newFuncExecutor(alwaysFail, types.NodeLLM)
	f := newTestFlow(t, nil, llm)
	publishSingle(t, f, "retry", types.NodeLLM, `{"maxAttempts":3,"backoffMs":5}`)

	result, err := f.Run(context.Background(), "retry", nil)
	require.NoError(t, err)

	assert.Equal(t, types.RunFailed, result.Status)
	assert.Equal(t, types.NodeFailed, result.NodeStatuses["work"])
	assert.Equal(t, types.NodeSkipped, result.NodeStatuses["end"])
	require.Len(t, result.Failures, 1)
	assert.Equal(t, types.NodeFailure{NodeKey: "work", NodeType: types.NodeLLM, Message: "upstream 503", RetryCount: 3}, result.Failures[0])
	assert.Equal(t, 3, result.Summary.TotalRetries)
	assert.Contains(t, result.Error, "work")

	attempts := result.Attempts("work")
	require.Len(t, attempts, 3)
	assert.Equal(t, []types.NodeStatus{types.NodeRetrying, types.NodeRetrying, types.NodeFailed},
		[]types.NodeStatus{attempts[0].Status, attempts[1].Status, attempts[2].Status})
	assert.Equal(t, 3, attempts[2].Attempt)

	// no fourth attempt shows up later
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), llm.calls.Load())
}

func TestTwoAttemptsProduceTwoTrailEntries(t *testing.T) {
	f := newTestFlow(t, nil, newFuncExecutor(alwaysFail, types.NodeLLM))
	publishSingle(t, f, "two", types.NodeLLM, `{"maxAttempts":2}`)

	result, err := f.Run(context.Background(), "two", types.Data{"prompt": "hi"})
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)
	attempts := result.Attempts("work")
	require.Len(t, attempts, 2)
	assert.Equal(t, "hi", attempts[0].Input["prompt"])
	assert.Equal(t, "upstream 503", attempts[1].Error)
}

func TestRetryThenSucceed(t *testing.T) {
	var failures atomic.Int32
	llm := newFuncExecutor(func(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
		if failures.Add(1) == 1 {
			// asks for a much shorter backoff than the policy one
			return nil, types.NewRetryErrorf(10*time.Millisecond, "rate limited")
		}
		assert.Equal(t, 1, ec.GetRetryCount(node.Key))
		return types.Data{"answer": 42}, nil
	}, types.NodeLLM)
	f := newTestFlow(t, nil, llm)
	publishSingle(t, f, "flaky", types.NodeLLM, `{"maxAttempts":3,"backoffMs":60000}`)

	begin := time.Now()
	result, err := f.Run(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), 5*time.Second)
	assert.Equal(t, types.RunSucceeded, result.Status)
	assert.False(t, result.PartialFailure)
	assert.Equal(t, 42, result.Results["work"]["answer"])
	assert.Equal(t, 1, result.Summary.TotalRetries)
	assert.Len(t, result.Attempts("work"), 2)
}

func TestNonRetryableErrors(t *testing.T) {
	cases := map[string]executeFunc{
		"invalid config": func(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
			return nil, jujuerrors.Annotate(types.NewInvalidConfigf("expression"), "condition")
		},
		"fatal": func(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
			return nil, types.NewFatalErrorf("quota exhausted")
		},
		"panic": func(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
			panic("nil model")
		},
	}

	for name, fn := range cases {
		tool := newFuncExecutor(fn, types.NodeTool)
		f := newTestFlow(t, nil, tool)
		publishSingle(t, f, "no-retry", types.NodeTool, `{"maxAttempts":3}`)

		result, err := f.Run(context.Background(), "no-retry", nil)
		require.NoError(t, err, name)
		assert.Equal(t, types.RunFailed, result.Status, name)
		assert.Equal(t, int32(1), tool.calls.Load(), name)
		require.Len(t, result.Failures, 1, name)
		assert.Equal(t, 1, result.Failures[0].RetryCount, name)
	}
}

func TestAttemptTimeout(t *testing.T) {
	slow := newFuncExecutor(func(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return input, nil
		}
	}, types.NodeHTTP)
	f := newTestFlow(t, nil, slow)
	publishSingle(t, f, "timeout", types.NodeHTTP, `{"maxAttempts":2,"timeoutMs":20}`)

	result, err := f.Run(context.Background(), "timeout", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)
	assert.Equal(t, int32(2), slow.calls.Load())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Message, "timeout")
	assert.Equal(t, 2, result.Failures[0].RetryCount)
}

func TestAttemptTimeoutCancelsExecutorContext(t *testing.T) {
	var released atomic.Int32
	stuck := newFuncExecutor(func(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
		<-ctx.Done()
		released.Add(1)
		return nil, ctx.Err()
	}, types.NodeHTTP)
	f := newTestFlow(t, nil, stuck)
	publishSingle(t, f, "stuck-attempt", types.NodeHTTP, `{"timeoutMs":20}`)

	result, err := f.Run(context.Background(), "stuck-attempt", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)

	// the executor sees its context done and returns
	assert.Eventually(t, func() bool {
		return released.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunTimeout(t *testing.T) {
	blocked := newFuncExecutor(func(ctx context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, types.NodeLLM)
	opts := newOptions()
	opts.RunTimeout = 50 * time.Millisecond
	f := newTestFlow(t, opts, blocked)
	publishSingle(t, f, "stuck", types.NodeLLM, `{"maxAttempts":5}`)

	result, err := f.Run(context.Background(), "stuck", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)
	assert.Contains(t, result.Error, "timeout")
	assert.Equal(t, types.NodeCompleted, result.NodeStatuses["start"])
	assert.Equal(t, types.NodeSkipped, result.NodeStatuses["work"])
	assert.Equal(t, types.NodeSkipped, result.NodeStatuses["end"])

	// a caller deadline shorter than the engine one wins
	opts = newOptions()
	f = newTestFlow(t, opts, blocked)
	publishSingle(t, f, "stuck", types.NodeLLM, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	result, err = f.Run(ctx, "stuck", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)
	assert.Contains(t, result.Error, "timeout")
}

func TestPartialFailure(t *testing.T) {
	tool := newFuncExecutor(passthrough, types.NodeTool)
	f := newTestFlow(t, nil, tool, newFuncExecutor(alwaysFail, types.NodeLLM))

	publish(t, f, "partial", []types.NodeDescriptor{
		{Key: "start", Type: types.NodeStart},
		{Key: "fork", Type: types.NodeParallel},
		{Key: "llm", Type: types.NodeLLM},
		{Key: "summarize", Type: types.NodeTool},
		{Key: "end_llm", Type: types.NodeEnd},
		{Key: "tool", Type: types.NodeTool},
		{Key: "end_tool", Type: types.NodeEnd},
	}, []types.EdgeDescriptor{
		edge("start", "fork"),
		edge("fork", "llm"),
		edge("llm", "summarize"),
		edge("summarize", "end_llm"),
		edge("fork", "tool"),
		edge("tool", "end_tool"),
	})

	result, err := f.Run(context.Background(), "partial", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, result.Status)
	assert.True(t, result.PartialFailure)
	assert.Equal(t, types.NodeSkipped, result.NodeStatuses["summarize"])
	assert.Equal(t, types.NodeSkipped, result.NodeStatuses["end_llm"])
	assert.Equal(t, types.NodeCompleted, result.NodeStatuses["end_tool"])
	assert.Equal(t, int32(1), tool.calls.Load())
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "llm", result.Failures[0].NodeKey)
}

func TestJoinRunsWhenOneBranchFails(t *testing.T) {
	join := newFuncExecutor(passthrough, types.NodeMapper)
	f := newTestFlow(t, nil, join, newFuncExecutor(alwaysFail, types.NodeLLM), newFuncExecutor(passthrough, types.NodeTool))

	publish(t, f, "join", []types.NodeDescriptor{
		{Key: "start", Type: types.NodeStart},
		{Key: "fork", Type: types.NodeParallel},
		{Key: "llm", Type: types.NodeLLM},
		{Key: "tool", Type: types.NodeTool},
		{Key: "join", Type: types.NodeMapper},
		{Key: "end", Type: types.NodeEnd},
	}, []types.EdgeDescriptor{
		edge("start", "fork"),
		edge("fork", "llm"),
		edge("fork", "tool"),
		edge("llm", "join"),
		edge("tool", "join"),
		edge("join", "end"),
	})

	result, err := f.Run(context.Background(), "join", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), join.calls.Load())
	assert.Equal(t, types.RunSucceeded, result.Status)
	assert.True(t, result.PartialFailure)
}

type failingSink struct {
	calls atomic.Int32
}

func (s *failingSink) Append(ctx context.Context, entry types.RunLogEntry) error {
	s.calls.Add(1)
	return errors.New("sink down")
}

func TestSinkFailureDoesNotFailRun(t *testing.T) {
	sink := &failingSink{}
	opts := newOptions()
	opts.RunLogSink = sink
	f := newTestFlow(t, opts, newFuncExecutor(positiveCondition, types.NodeCondition))
	conditionFlow(t, f)

	result, err := f.Run(context.Background(), "cond", types.Data{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, result.Status)
	assert.Equal(t, int32(3), sink.calls.Load())
	assert.Len(t, result.Trail, 3)
}
