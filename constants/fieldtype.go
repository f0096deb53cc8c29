package constants

import "strings"

// FieldType is the declared type of a template field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeDate    FieldType = "date"
	FieldTypeBoolean FieldType = "boolean"
)

// CanonicalFieldType maps loose provider/user spellings onto the closed set.
// Unknown inputs fall back to string.
func CanonicalFieldType(input string) FieldType {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "number", "float", "int", "integer":
		return FieldTypeNumber
	case "boolean", "bool":
		return FieldTypeBoolean
	case "date", "datetime":
		return FieldTypeDate
	default:
		return FieldTypeString
	}
}

// Numeric reports whether values of this type get numeric cleanup.
func (t FieldType) Numeric() bool {
	return t == FieldTypeNumber || t == FieldTypeDate
}
