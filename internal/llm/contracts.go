package llm

import "context"

// ExtractRequest is one call to the vision-language extraction provider.
type ExtractRequest struct {
	Data        []byte
	ContentType string
	// Schema constrains the output shape; nil means unconstrained.
	Schema map[string]any
	Prompt string
}

// FieldValue is the per-field payload providers return: a value plus an
// optional self-reported confidence (0 when the provider omitted it).
type FieldValue struct {
	Value      any
	Confidence float32
}

// Provider is the interface the orchestrator depends on.
type Provider interface {
	Name() string
	Extract(ctx context.Context, req ExtractRequest) (map[string]FieldValue, []byte /*rawJSON*/, error)
}

// FieldDef is one inferred field definition from template generation.
type FieldDef struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	FieldType   string `json:"field_type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// TemplateGenerator infers a field list from a source document.
type TemplateGenerator interface {
	GenerateTemplate(ctx context.Context, data []byte, contentType string) ([]FieldDef, []byte /*rawJSON*/, error)
}

// DecodeFieldResults lifts a decoded provider object into FieldValues. It
// accepts both the wrapped form {"value": v, "confidence": c} and bare values.
func DecodeFieldResults(m map[string]any) map[string]FieldValue {
	out := make(map[string]FieldValue, len(m))
	for name, raw := range m {
		if obj, ok := raw.(map[string]any); ok {
			if v, has := obj["value"]; has {
				fv := FieldValue{Value: v}
				if c, ok := obj["confidence"].(float64); ok {
					fv.Confidence = float32(c)
				}
				out[name] = fv
				continue
			}
		}
		out[name] = FieldValue{Value: raw}
	}
	return out
}
