package runtime

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/types"
)

func TestRegistry(t *testing.T) {
	control := newFuncExecutor(passthrough, types.NodeCondition, types.NodeSwitch)
	r, err := NewRegistry(control)
	require.NoError(t, err)

	e, err := r.Resolve(types.NodeSwitch)
	require.NoError(t, err)
	assert.Same(t, control, e)

	_, err = r.Resolve(types.NodeLLM)
	assert.True(t, types.IsUnsupportedNodeType(err))

	// one taken tag refuses the whole executor
	err = r.Register(newFuncExecutor(passthrough, types.NodeLLM, types.NodeCondition))
	assert.True(t, errors.Is(err, errors.AlreadyExists))
	_, err = r.Resolve(types.NodeLLM)
	assert.NotNil(t, err)

	assert.True(t, types.IsInvalidConfig(r.Register(nil)))
	assert.True(t, types.IsInvalidConfig(r.Register(newFuncExecutor(passthrough))))

	require.NoError(t, r.Register(newFuncExecutor(passthrough, types.NodeStart, types.NodeEnd)))
	assert.Equal(t, []types.NodeType{types.NodeCondition, types.NodeEnd, types.NodeStart, types.NodeSwitch}, r.SupportedTypes())
}

func TestRegistryValidate(t *testing.T) {
	r, err := NewRegistry(newFuncExecutor(passthrough, types.NodeStart, types.NodeEnd))
	require.NoError(t, err)

	s := newTestSnapshot(t)
	err = r.Validate(s)
	assert.True(t, types.IsUnsupportedNodeType(err))
	assert.Contains(t, err.Error(), "llm")

	require.NoError(t, r.Register(newFuncExecutor(passthrough, types.NodeLLM)))
	assert.Nil(t, r.Validate(s))
}

func TestNewRegistryDuplicate(t *testing.T) {
	_, err := NewRegistry(newFuncExecutor(passthrough, types.NodeTool), newFuncExecutor(passthrough, types.NodeTool))
	assert.True(t, errors.Is(err, errors.AlreadyExists))
}
