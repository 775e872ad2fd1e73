package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/docflow/pkg/schema"
)

const workflowSchemaURL = "https://docflow.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema of a workflow definition.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://docflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["actions"],
  "properties": {
    "name": { "type": "string" },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/action" }
    },
    "settingDefinitions": {
      "type": "array",
      "items": { "$ref": "#/$defs/setting" }
    },
    "arguments": {
      "type": "array",
      "items": { "$ref": "#/$defs/setting" }
    },
    "warningFilter": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "action": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "condition": { "type": "string" },
        "customData": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        },
        "queueName": { "type": "string" },
        "terminateOnFailure": { "type": "boolean" },
        "applyMessagePrioritization": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "setting": {
      "type": "object",
      "required": ["name", "sources"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "sources": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/source" }
        },
        "default": { "type": "string" }
      },
      "additionalProperties": false
    },
    "source": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["FIELD", "CUSTOM_DATA", "SETTINGS_SERVICE"]
        },
        "name": { "type": "string" },
        "options": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks the shape of a workflow definition against
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &JSONSchemaValidator{workflowSchema: compiled}, nil
}

// ValidateDefinition validates def against the workflow schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toWorkflowError(err)
	}
	return nil
}

// ValidateDocument validates an already-decoded YAML or JSON document,
// before it is bound to WorkflowDefinition. Unknown keys are reported here.
func (v *JSONSchemaValidator) ValidateDocument(raw any) error {
	doc, err := toJSONValue(raw)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow document is not JSON compatible").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toWorkflowError(err)
	}
	return nil
}

// toJSONValue round-trips v through JSON so numbers become json.Number, as
// the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toWorkflowError(err error) *schema.WorkflowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations flattens a ValidationError tree into "location: message" leaves.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
