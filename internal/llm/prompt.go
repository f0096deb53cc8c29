package llm

import (
	"strings"

	"github.com/ishimwe-dev/docextract/internal/entity"
)

// BuildSystemPrompt assembles the extraction instructions, with per-field
// guidance when a template constrains the output.
func BuildSystemPrompt(fields []entity.TemplateField) string {
	parts := []string{
		"You are an OCR extraction system for scanned civil registry forms.",
		"Return ONLY JSON matching the provided schema.",
		`For each field return an object: { "value": <string|number|boolean>, "confidence": <0..1> }.`,
		"Use LATIN script only; convert Cyrillic or Greek look-alike characters to the correct Latin letter.",
		"Preserve diacritics and full multi-word names; do not drop tokens.",
		"Years must be 4 digits with no decimals (2015, not 2015.0). Normalize dates to YYYY-MM-DD when readable.",
		"Confidence must reflect certainty: reserve values above 0.95 for fully unambiguous readings.",
		"Do not invent tokens not supported by the image. Use an empty string for absent values.",
	}
	base := strings.Join(parts, " ")
	if len(fields) == 0 {
		return base + " Return only valid JSON."
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nExtract the following fields using their labels and hints (labels may appear in French/Kinyarwanda/English):\n")
	for _, f := range fields {
		b.WriteString("- Field '")
		b.WriteString(f.Name)
		b.WriteString("' (type=")
		b.WriteString(string(f.FieldType))
		b.WriteString(")\n  Label: '")
		if f.Label != "" {
			b.WriteString(f.Label)
		} else {
			b.WriteString(f.Name)
		}
		b.WriteString("'\n")
		if desc := strings.TrimSpace(f.Description); desc != "" {
			b.WriteString("  Hints: ")
			b.WriteString(desc)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// BuildTemplateGenPrompt instructs the provider to infer field definitions
// from an uploaded document instead of extracting values.
func BuildTemplateGenPrompt() string {
	return strings.Join([]string{
		"You are a document template inference system.",
		"Analyze the uploaded document and infer the key-value fields a business would want to capture",
		"(e.g., invoice_number, invoice_date, total_amount, vendor_name).",
		"Return ONLY JSON that conforms to the schema.",
		"Rules: fields is an array of objects with name (snake_case key), label (human readable),",
		"field_type (one of string, number, date, boolean), required (boolean), description (short guidance).",
		"Do not include values or example data, only field definitions.",
		"Consider both printed and handwritten text; include fields commonly filled by hand.",
	}, " ")
}
