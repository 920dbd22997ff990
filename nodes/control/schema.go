package control

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/warriorguo/flowgraph/types"
)

const (
	conditionSchema = `{
	"type": "object",
	"required": ["expression"],
	"properties": {
		"expression": {"type": "string", "minLength": 1}
	}
}`

	loopSchema = `{
	"type": "object",
	"properties": {
		"loopType":      {"enum": ["forEach", "while", "range"]},
		"loopVar":       {"type": "string", "minLength": 1},
		"items":         {"type": "string", "minLength": 1},
		"condition":     {"type": "string", "minLength": 1},
		"maxIterations": {"type": "integer", "minimum": 1},
		"start":         {"type": "integer"},
		"end":           {"type": "integer"},
		"step":          {"type": "integer"}
	}
}`

	switchSchema = `{
	"type": "object",
	"required": ["switchOn", "branches"],
	"properties": {
		"switchOn": {"type": "string", "minLength": 1},
		"branches": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["value", "name"],
				"properties": {
					"name": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

	parallelSchema = `{"type": "object"}`
)

var schemas = map[types.NodeType]*gojsonschema.Schema{
	types.NodeCondition: mustSchema(conditionSchema),
	types.NodeLoop:      mustSchema(loopSchema),
	types.NodeSwitch:    mustSchema(switchSchema),
	types.NodeParallel:  mustSchema(parallelSchema),
}

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// decodeConfig validates the node config against the schema of its type and
// decodes it into out. A missing config is an empty object.
func decodeConfig(node types.NodeDescriptor, out any) error {
	raw := []byte(node.Config)
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}

	result, err := schemas[node.Type].Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return types.NewInvalidConfigf("node %s config: %v", node.Key, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return types.NewInvalidConfigf("node %s config: %s", node.Key, strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return types.NewInvalidConfigf("node %s config: %v", node.Key, err)
	}
	return nil
}
