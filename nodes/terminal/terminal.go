// Package terminal implements START and END nodes.
package terminal

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/warriorguo/flowgraph/types"
)

var (
	_ types.NodeExecutor = &Executor{}
)

// startConfig lists input fields a run must carry.
type startConfig struct {
	Required []string `json:"required"`
}

// endConfig projects the final output to the listed fields, all of them when
// empty.
type endConfig struct {
	Fields []string `json:"fields"`
}

type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) SupportedTypes() []types.NodeType {
	return []types.NodeType{types.NodeStart, types.NodeEnd}
}

func (e *Executor) Execute(_ context.Context, node types.NodeDescriptor, input types.Data, _ types.ExecutionContext) (types.Data, error) {
	switch node.Type {
	case types.NodeStart:
		config := startConfig{}
		if err := decode(node, &config); err != nil {
			return nil, err
		}
		for _, field := range config.Required {
			if _, found := input.Lookup(field); !found {
				return nil, types.NewInvalidConfigf("node %s requires input field %s", node.Key, field)
			}
		}
		return input.Clone(), nil

	case types.NodeEnd:
		config := endConfig{}
		if err := decode(node, &config); err != nil {
			return nil, err
		}
		if len(config.Fields) == 0 {
			return input.Clone(), nil
		}
		output := types.Data{}
		for _, field := range config.Fields {
			if v, found := input.Lookup(field); found {
				output.Set(field, v)
			}
		}
		return output.Clone(), nil
	}
	return nil, types.NewUnsupportedNodeTypef("node %s type %s", node.Key, node.Type)
}

func decode(node types.NodeDescriptor, out any) error {
	if len(node.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(node.Config, out); err != nil {
		return types.NewInvalidConfigf("node %s config: %v", node.Key, err)
	}
	return nil
}
