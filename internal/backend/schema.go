package backend

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled JSON Schema used to validate backend replies.
type Schema struct {
	name string
	sch  *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(name, src string) (*Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(src), &doc); err != nil {
		return nil, fmt.Errorf("CompileSchema %s: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("CompileSchema %s: %w", name, err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("CompileSchema %s: %w", name, err)
	}
	return &Schema{name: name, sch: sch}, nil
}

func mustCompileSchema(name, src string) *Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a raw JSON document against the schema.
func (s *Schema) Validate(data []byte) error {
	var inst any
	if err := json.Unmarshal(data, &inst); err != nil {
		return fmt.Errorf("%s: not valid JSON: %w", s.name, err)
	}
	if err := s.sch.Validate(inst); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

var (
	intentSchema = mustCompileSchema("intent.json", `{
		"type": "object",
		"required": ["understood", "confidence"],
		"properties": {
			"understood": {"type": "string", "minLength": 1},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"keyActions": {"type": "array", "items": {"type": "string"}},
			"constraints": {"type": "array", "items": {"type": "string"}},
			"dataInvolved": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["category"],
					"properties": {
						"category": {"enum": ["files", "emails", "financial", "system", "credentials", "other"]},
						"description": {"type": "string"},
						"estimatedVolume": {"enum": ["small", "medium", "large", "unknown"]}
					}
				}
			}
		}
	}`)

	consequenceSchema = mustCompileSchema("consequence.json", `{
		"type": "object",
		"required": ["consequences"],
		"properties": {
			"consequences": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["type", "severity", "reversibility"],
					"properties": {
						"type": {"enum": ["data_loss", "financial_loss", "privacy_breach", "system_damage", "scope_escape", "permission_violation", "other"]},
						"description": {"type": "string"},
						"severity": {"enum": ["low", "medium", "high", "critical"]},
						"reversibility": {"enum": ["reversible", "partially_reversible", "irreversible"]},
						"likelihood": {"type": "number", "minimum": 0, "maximum": 1}
					}
				}
			},
			"overallSeverity": {"enum": ["low", "medium", "high", "critical"]},
			"reversibility": {"enum": ["reversible", "partially_reversible", "irreversible"]},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"reasoning": {"type": "string"}
		}
	}`)

	decisionSchema = mustCompileSchema("decision.json", `{
		"type": "object",
		"required": ["action"],
		"properties": {
			"action": {"enum": ["proceed", "confirm", "reject"]},
			"reason": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`)

	constraintSchema = mustCompileSchema("constraints.json", `{
		"type": "object",
		"required": ["constraints"],
		"properties": {
			"constraints": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["content"],
					"properties": {
						"content": {"type": "string", "minLength": 1},
						"priority": {"enum": ["critical", "high", "normal"]},
						"scope": {"enum": ["session", "operation"]}
					}
				}
			},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`)
)
