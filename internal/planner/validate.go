package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/maestro-ai/maestro/pkg/schema"
)

// planSchemaJSON is the JSON Schema for planner output validation.
// Embedded as a constant to avoid filesystem dependencies.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://maestro.dev/schemas/plan.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "agent", "query"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "kind": {
          "type": "string",
          "enum": ["agent", "task"]
        },
        "agent": {
          "type": "string",
          "minLength": 1
        },
        "query": {
          "type": "string",
          "minLength": 1
        },
        "dependsOn": {
          "type": "array",
          "items": { "type": "string" }
        },
        "metadata": {
          "type": "object"
        }
      },
      "additionalProperties": false
    }
  }
}`

// PlanValidator validates and decodes planner output against the plan JSON
// Schema (Draft 2020-12). Safe for concurrent use.
type PlanValidator struct {
	planSchema *jsonschema.Schema
}

// NewPlanValidator compiles the embedded plan schema.
func NewPlanValidator() (*PlanValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource("https://maestro.dev/schemas/plan.json", doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	compiled, err := c.Compile("https://maestro.dev/schemas/plan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	return &PlanValidator{planSchema: compiled}, nil
}

// ParsePlan validates raw plan JSON and decodes it into node configs.
// Structural checks the schema cannot express (duplicate ids, dangling
// dependency references, self-dependencies) run after schema validation.
func (v *PlanValidator) ParsePlan(data []byte) ([]schema.NodeConfig, error) {
	if len(data) == 0 {
		return nil, schema.NewError(schema.ErrCodePlanning, "planner returned no plan")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodePlanning, "plan is not valid JSON").WithCause(err)
	}
	if err := v.planSchema.Validate(doc); err != nil {
		return nil, toMaestroError(err)
	}

	var plan struct {
		Nodes []schema.NodeConfig `json:"nodes"`
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, schema.NewError(schema.ErrCodePlanning, "failed to decode plan").WithCause(err)
	}

	ids := make(map[string]struct{}, len(plan.Nodes))
	for _, n := range plan.Nodes {
		if _, exists := ids[n.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q in plan", n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	for _, n := range plan.Nodes {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q depends on itself", n.ID)
			}
			if _, ok := ids[dep]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q depends on unknown node %q", n.ID, dep)
			}
		}
	}
	return plan.Nodes, nil
}

// toMaestroError converts a jsonschema.ValidationError into a MaestroError
// with per-location violation messages.
func toMaestroError(err error) *schema.MaestroError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "plan validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
