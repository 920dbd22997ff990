package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/types"
)

func newTestSnapshot(t *testing.T) *types.FlowSnapshot {
	s, err := types.NewFlowSnapshot("snap", "flow", 1, []types.NodeDescriptor{
		{Key: "start", Type: types.NodeStart},
		{Key: "llm", Type: types.NodeLLM},
		{Key: "end", Type: types.NodeEnd},
	}, []types.EdgeDescriptor{edge("start", "llm"), edge("llm", "end")})
	require.NoError(t, err)
	return s
}

func TestExecutionContextResults(t *testing.T) {
	ec := NewExecutionContext("run-1", newTestSnapshot(t), 0)
	assert.Equal(t, "run-1", ec.RunID())
	assert.Equal(t, "snap", ec.Snapshot().ID())

	result := types.Data{"nested": map[string]any{"a": 1}}
	ec.RecordResult("llm", result)
	result["nested"].(map[string]any)["a"] = 2

	got, exists := ec.GetResult("llm")
	require.True(t, exists)
	assert.Equal(t, 1, got["nested"].(map[string]any)["a"])
	got["nested"].(map[string]any)["a"] = 3
	again, _ := ec.GetResult("llm")
	assert.Equal(t, 1, again["nested"].(map[string]any)["a"])

	assert.Equal(t, types.NodeCompleted, ec.GetStatus("llm"))
	_, exists = ec.GetResult("end")
	assert.False(t, exists)

	// unknown keys are kept, only a warning is logged
	ec.RecordResult("ghost", types.Data{})
	_, exists = ec.GetResult("ghost")
	assert.True(t, exists)
}

func TestExecutionContextStatusesAndRetries(t *testing.T) {
	ec := NewExecutionContext("run-1", newTestSnapshot(t), 0)

	assert.Equal(t, types.NodePending, ec.GetStatus("llm"))
	assert.Equal(t, map[string]types.NodeStatus{
		"start": types.NodePending, "llm": types.NodePending, "end": types.NodePending,
	}, ec.NodeStatuses())

	assert.Equal(t, 1, ec.IncrementRetry("llm"))
	assert.Equal(t, types.NodeRetrying, ec.GetStatus("llm"))
	assert.Equal(t, 2, ec.IncrementRetry("llm"))
	assert.Equal(t, 2, ec.GetRetryCount("llm"))
	assert.Equal(t, 0, ec.GetRetryCount("end"))

	ec.SetStatus("start", types.NodeCompleted)
	ec.SetStatus("end", types.NodeSkipped)
	statuses := ec.NodeStatuses()
	statuses["start"] = types.NodeFailed
	assert.Equal(t, types.NodeCompleted, ec.GetStatus("start"))

	summary := ec.Summary()
	assert.Equal(t, types.ExecutionSummary{
		TotalNodes: 3, Completed: 1, Retrying: 1, Skipped: 1, TotalRetries: 2, Progress: 1.0 / 3,
	}, summary)
}

func TestGetAllGlobalsReturnsIndependentCopies(t *testing.T) {
	ec := NewExecutionContext("run-1", nil, 0)
	ec.SetGlobal("user", map[string]any{"tier": "gold"})
	ec.SetGlobal("count", 1)

	globals := ec.GetAllGlobals()
	globals["count"] = 2
	globals["user"].(map[string]any)["tier"] = "bronze"
	globals["extra"] = true

	again := ec.GetAllGlobals()
	assert.Equal(t, types.Data{"user": map[string]any{"tier": "gold"}, "count": 1}, again)

	v, exists := ec.GetGlobal("user")
	require.True(t, exists)
	v.(map[string]any)["tier"] = "silver"
	v, _ = ec.GetGlobal("user")
	assert.Equal(t, "gold", v.(map[string]any)["tier"])

	_, exists = ec.GetGlobal("missing")
	assert.False(t, exists)
	assert.Equal(t, types.ExecutionSummary{}, ec.Summary())
}

func TestExecutionContextMetrics(t *testing.T) {
	ec := NewExecutionContext("run-1", nil, 100*time.Millisecond)
	ec.RecordMetric("node.fast", 10*time.Millisecond)
	ec.RecordMetric("node.slow", time.Second)
	ec.RecordMetric("node.slower", 2*time.Second)

	assert.Equal(t, map[string]time.Duration{
		"node.fast": 10 * time.Millisecond, "node.slow": time.Second, "node.slower": 2 * time.Second,
	}, ec.Metrics())
	assert.Equal(t, []string{"node.slow", "node.slower"}, ec.SlowMetrics())

	ec = NewExecutionContext("run-2", nil, 0)
	ec.RecordMetric("node.llm", 4*time.Second)
	assert.Empty(t, ec.SlowMetrics())
	ec.RecordMetric("node.llm", 6*time.Second)
	assert.Equal(t, []string{"node.llm"}, ec.SlowMetrics())
}

func TestExecutionContextConcurrentAccess(t *testing.T) {
	ec := NewExecutionContext("run-1", newTestSnapshot(t), 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ec.SetGlobal("k", i)
			ec.IncrementRetry("llm")
			ec.RecordResult("llm", types.Data{"i": i})
			ec.GetAllGlobals()
			ec.Summary()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, ec.GetRetryCount("llm"))
}
