package control

import (
	"github.com/spf13/cast"

	"github.com/warriorguo/flowgraph/types"
)

type switchBranch struct {
	Value any    `json:"value"`
	Name  string `json:"name"`
}

type switchConfig struct {
	SwitchOn string         `json:"switchOn"`
	Branches []switchBranch `json:"branches"`
}

// switchBranch selects the first branch whose value equals the switched field
// once both are stringified, "default" otherwise.
func (e *Executor) switchBranch(node types.NodeDescriptor, input types.Data) (types.Data, error) {
	config := switchConfig{}
	if err := decodeConfig(node, &config); err != nil {
		return nil, err
	}

	v, _ := input.Lookup(config.SwitchOn)
	value := cast.ToString(v)

	selected := types.DefaultBranch
	for _, b := range config.Branches {
		if cast.ToString(b.Value) == value {
			selected = b.Name
			break
		}
	}

	output := input.Clone()
	output.Set(types.SelectedBranchKey, selected)
	output.Set(types.SwitchValueKey, value)
	output.Set(types.SwitchKeyKey, config.SwitchOn)
	return output, nil
}
