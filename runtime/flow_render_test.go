package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/types"
)

func TestRenderSnapshot(t *testing.T) {
	f := newTestFlow(t, nil, newFuncExecutor(positiveCondition, types.NodeCondition))
	conditionFlow(t, f)

	dot, err := f.RenderSnapshot(context.Background(), "cond")
	require.NoError(t, err)
	assert.Contains(t, dot, "digraph D {")
	assert.Contains(t, dot, `check [label="check\nCONDITION" shape="diamond"]`)
	assert.Contains(t, dot, `check -> end_true [label="true"]`)
	assert.Contains(t, dot, "start -> check\n")
	assert.Contains(t, dot, `label="flow-cond v1"`)
	assert.NotContains(t, dot, "filled")

	_, err = f.RenderSnapshot(context.Background(), "missing")
	assert.True(t, types.IsNotFound(err))
}

func TestRenderRun(t *testing.T) {
	f := newTestFlow(t, nil, newFuncExecutor(positiveCondition, types.NodeCondition))
	conditionFlow(t, f)

	result, err := f.Run(context.Background(), "cond", types.Data{"x": 3})
	require.NoError(t, err)

	dot, err := f.RenderRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Contains(t, dot, `end_true [label="end_true\nEND" shape="Msquare" style="filled" color="green"`)
	assert.Contains(t, dot, `end_false [label="end_false\nEND" shape="Msquare" style="filled" color="lightgrey"]`)
	assert.Contains(t, dot, "comment=")

	_, err = f.RenderRun(context.Background(), "unknown")
	assert.True(t, types.IsNotFound(err))
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "node_1_a", idString("node-1.a"))
	assert.Equal(t, `"a\"b"`, quoteString(`a"b`))
}
