// Package transform implements the MAPPER node, reshaping payloads between
// nodes and exporting values as run globals.
package transform

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/types"
	"github.com/warriorguo/flowgraph/utils"
)

var (
	_ types.NodeExecutor = &Mapper{}

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// mapperConfig maps target fields to source paths read from the input.
// Globals maps global variable names to source paths.
type mapperConfig struct {
	Mappings map[string]string `json:"mappings" validate:"required_without=Globals,dive,keys,required,endkeys,required"`
	Globals  map[string]string `json:"globals"  validate:"dive,keys,required,endkeys,required"`
	Keep     bool              `json:"keep"`
	Strict   bool              `json:"strict"`
}

type Mapper struct{}

func NewMapper() *Mapper {
	return &Mapper{}
}

func (m *Mapper) SupportedTypes() []types.NodeType {
	return []types.NodeType{types.NodeMapper}
}

// Execute builds the output from the mappings, on top of the input when keep
// is set. Missing sources are skipped unless strict.
func (m *Mapper) Execute(_ context.Context, node types.NodeDescriptor, input types.Data, ec types.ExecutionContext) (types.Data, error) {
	if node.Type != types.NodeMapper {
		return nil, types.NewUnsupportedNodeTypef("node %s type %s", node.Key, node.Type)
	}

	config := mapperConfig{}
	if err := json.Unmarshal(node.Config, &config); err != nil {
		return nil, types.NewInvalidConfigf("node %s config: %v", node.Key, err)
	}
	if err := validate.Struct(&config); err != nil {
		return nil, types.NewInvalidConfigf("node %s config: %v", node.Key, err)
	}

	output := types.Data{}
	if config.Keep {
		output = input.Clone()
	}

	lookup := func(target, source string) (any, bool, error) {
		v, found := input.Lookup(source)
		if found {
			return utils.DeepCopy(v), true, nil
		}
		if config.Strict {
			return nil, false, types.NewInvalidConfigf("node %s source %s of %s not in input", node.Key, source, target)
		}
		log.WithFields(log.Fields{
			"node_key": node.Key,
			"source":   source,
			"target":   target,
		}).Debug("mapper source missing, skipped")
		return nil, false, nil
	}

	for _, target := range utils.SortedKeys(config.Mappings) {
		v, found, err := lookup(target, config.Mappings[target])
		if err != nil {
			return nil, err
		}
		if found {
			output.Set(target, v)
		}
	}

	for _, name := range utils.SortedKeys(config.Globals) {
		v, found, err := lookup(name, config.Globals[name])
		if err != nil {
			return nil, err
		}
		if found && ec != nil {
			ec.SetGlobal(name, v)
		}
	}
	return output, nil
}
