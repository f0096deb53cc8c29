package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reFieldName  = regexp.MustCompile(`[^a-z0-9_\s-]`)
	reSeparators = regexp.MustCompile(`[\s-]+`)
)

// SanitizeFieldName forces a machine-friendly snake_case key out of whatever
// the model produced.
func SanitizeFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = reFieldName.ReplaceAllString(s, "")
	s = reSeparators.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "field"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// ParseTemplateFields validates and cleans a template-inference response:
// names are sanitized and deduplicated, labels and descriptions bounded,
// nameless entries skipped.
func ParseTemplateFields(obj map[string]any) ([]FieldDef, error) {
	rawFields, ok := obj["fields"].([]any)
	if !ok {
		return nil, fmt.Errorf("invalid template response: missing fields array")
	}

	out := make([]FieldDef, 0, len(rawFields))
	seen := make(map[string]bool, len(rawFields))
	for i, rf := range rawFields {
		m, ok := rf.(map[string]any)
		if !ok {
			continue
		}
		name := SanitizeFieldName(asString(m["name"]))
		if name == "field" && asString(m["name"]) == "" {
			name = SanitizeFieldName(asString(m["label"]))
		}
		if name == "field" && asString(m["label"]) == "" {
			continue
		}
		if seen[name] {
			name = fmt.Sprintf("%s_%d", name, i+1)
		}
		seen[name] = true

		label := strings.TrimSpace(asString(m["label"]))
		if label == "" {
			label = titleWords(strings.ReplaceAll(name, "_", " "))
		}
		if len(label) > 200 {
			label = label[:200]
		}
		desc := strings.TrimSpace(asString(m["description"]))
		if len(desc) > 500 {
			desc = desc[:500]
		}
		required, _ := m["required"].(bool)

		out = append(out, FieldDef{
			Name:        name,
			Label:       label,
			FieldType:   strings.ToLower(strings.TrimSpace(asString(m["field_type"]))),
			Required:    required,
			Description: desc,
		})
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
