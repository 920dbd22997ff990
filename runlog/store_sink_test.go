package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/store/mem"
	"github.com/warriorguo/flowgraph/types"
)

func entry(runID, nodeKey string, attempt int, status types.NodeStatus, ts time.Time) types.RunLogEntry {
	return types.RunLogEntry{
		RunID:     runID,
		NodeKey:   nodeKey,
		NodeType:  types.NodeLLM,
		Attempt:   attempt,
		Status:    status,
		Input:     types.Data{"prompt": "hi"},
		Timestamp: ts,
		Duration:  15 * time.Millisecond,
	}
}

func TestStoreSinkTrail(t *testing.T) {
	ctx := context.Background()
	sink := NewStoreSink(mem.NewMemStore())

	now := time.Now()
	for i := 1; i <= 10; i++ {
		status := types.NodeRetrying
		if i == 10 {
			status = types.NodeFailed
		}
		e := entry("run-1", "llm", i, status, now.Add(time.Duration(i)*time.Millisecond))
		e.Error = "upstream 503"
		require.NoError(t, sink.Append(ctx, e))
	}
	require.NoError(t, sink.Append(ctx, entry("run-2", "llm", 1, types.NodeCompleted, now)))

	trail, err := sink.LoadTrail(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, trail, 10)
	for i, e := range trail {
		assert.Equal(t, i+1, e.Attempt)
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, "upstream 503", e.Error)
	}
	assert.Equal(t, types.NodeFailed, trail[9].Status)
	assert.Equal(t, "hi", trail[0].Input["prompt"])
	assert.Equal(t, 15*time.Millisecond, trail[0].Duration)

	trail, err = sink.LoadTrail(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, trail)
}

type recordSink struct {
	entries []types.RunLogEntry
	err     error
}

func (r *recordSink) Append(_ context.Context, e types.RunLogEntry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func TestMultiSink(t *testing.T) {
	ctx := context.Background()
	broken := &recordSink{err: assert.AnError}
	ok := &recordSink{}

	sink := NewMultiSink(broken, ok)
	err := sink.Append(ctx, entry("run-1", "a", 1, types.NodeCompleted, time.Now()))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, broken.entries, 1)
	assert.Len(t, ok.entries, 1, "a failing sink doesn't starve the others")

	assert.NoError(t, NewMultiSink().Append(ctx, types.RunLogEntry{}))
}
