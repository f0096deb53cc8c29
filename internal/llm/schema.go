package llm

import (
	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/entity"
)

// BuildFieldSchema returns a JSON-Schema (draft 2020-12 subset) as a generic
// map. We pass this to the provider as a structured-output constraint and also
// use it locally to validate the response. Each field is wrapped as
// { "value": <typed>, "confidence": <0..1> }.
func BuildFieldSchema(fields []entity.TemplateField) map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, f := range fields {
		props[f.Name] = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value":      typeProp(f.FieldType),
				"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			},
			"required": []string{"value"},
		}
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func typeProp(t constants.FieldType) map[string]any {
	switch t {
	case constants.FieldTypeNumber:
		return map[string]any{"type": []any{"number", "string"}}
	case constants.FieldTypeBoolean:
		return map[string]any{"type": []any{"boolean", "string"}}
	default:
		return map[string]any{"type": "string"}
	}
}

// BuildTemplateGenSchema constrains template-inference output to a list of
// field definitions.
func BuildTemplateGenSchema() map[string]any {
	fieldObj := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string"},
			"label":       map[string]any{"type": "string"},
			"field_type":  map[string]any{"type": "string"},
			"required":    map[string]any{"type": "boolean"},
			"description": map[string]any{"type": "string"},
		},
		"required": []string{"name", "label", "field_type", "required"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fields": map[string]any{"type": "array", "items": fieldObj},
		},
		"required": []string{"fields"},
	}
}
