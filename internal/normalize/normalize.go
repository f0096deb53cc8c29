// Package normalize cleans raw provider output for civil-registry style
// forms: look-alike Cyrillic/Greek letters transliterated to Latin, stray pen
// marks dropped, whitespace collapsed, sex values mapped onto their canonical
// labels, and numeric noise such as a trailing ".0" stripped. Every correction
// lowers the reported confidence so downstream review thresholds see it.
package normalize

import (
	"strings"
	"unicode"

	"github.com/ishimwe-dev/docextract/constants"
)

// confidencePenalty is applied once per correction.
const confidencePenalty = 0.85

// Result is the cleaned value plus the adjusted confidence.
type Result struct {
	Value       string
	Confidence  float32
	Corrections int
}

// translit maps Cyrillic and Greek letters onto the Latin letters they stand
// for on handwritten Latin-script forms (phonetic, not purely visual: a
// handwritten Latin R is what OCR misreads as Cyrillic Р).
var translit = map[rune]string{
	// Cyrillic upper
	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ж': "ZH",
	'З': "Z", 'И': "I", 'Й': "Y", 'К': "K", 'Л': "L", 'М': "M", 'Н': "N",
	'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T", 'У': "U", 'Ф': "F",
	'Х': "KH", 'Ц': "TS", 'Ч': "CH", 'Ш': "SH", 'Щ': "SHCH", 'Ы': "Y",
	'Э': "E", 'Ю': "YU", 'Я': "YA",
	// Cyrillic lower
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ж': "zh",
	'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f",
	'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch", 'ы': "y",
	'э': "e", 'ю': "yu", 'я': "ya",
	// Greek look-alikes
	'Α': "A", 'Β': "B", 'Ε': "E", 'Ζ': "Z", 'Η': "H", 'Ι': "I", 'Κ': "K",
	'Μ': "M", 'Ν': "N", 'Ο': "O", 'Ρ': "R", 'Τ': "T", 'Υ': "Y", 'Χ': "X",
	'α': "a", 'β': "b", 'ε': "e", 'ζ': "z", 'η': "h", 'ι': "i", 'κ': "k",
	'μ': "m", 'ν': "n", 'ο': "o", 'ρ': "r", 'τ': "t", 'υ': "y", 'χ': "x",
}

// sexValues is the canonical categorical remap for the sex field.
var sexValues = map[string]string{
	"gabo": "Gabo", "male": "Gabo", "m": "Gabo", "masculin": "Gabo", "homme": "Gabo",
	"gore": "Gore", "female": "Gore", "f": "Gore", "feminin": "Gore", "féminin": "Gore", "femme": "Gore",
}

// Field normalizes a raw extracted value for the given template field and
// scales confidence down once per correction the cleanup had to make.
func Field(name string, fieldType constants.FieldType, raw string, confidence float32) Result {
	value, corrections := Value(name, fieldType, raw)
	adjusted := confidence
	for i := 0; i < corrections; i++ {
		adjusted *= confidencePenalty
	}
	return Result{Value: value, Confidence: adjusted, Corrections: corrections}
}

// Value applies the cleanup steps and counts corrections. Exposed separately
// for callers that track confidence themselves.
func Value(name string, fieldType constants.FieldType, raw string) (string, int) {
	corrections := 0

	value, n := collapseWhitespace(raw)
	corrections += n

	value, n = transliterate(value)
	corrections += n

	if isSexField(name) {
		if canon, ok := sexValues[strings.ToLower(strings.TrimSpace(value))]; ok {
			if canon != value {
				corrections++
			}
			value = canon
		}
	}

	if fieldType.Numeric() {
		value, n = cleanNumeric(value)
		corrections += n
	}

	return value, corrections
}

func isSexField(name string) bool {
	switch strings.ToLower(name) {
	case "sex", "gender", "igitsina":
		return true
	}
	return false
}

// collapseWhitespace trims the value and squeezes interior runs into single
// spaces. Counts as one correction when anything changed.
func collapseWhitespace(s string) (string, int) {
	out := strings.Join(strings.Fields(s), " ")
	if out != s {
		return out, 1
	}
	return out, 0
}

// transliterate replaces non-Latin look-alike letters. A separator glyph
// (hyphen or apostrophe) immediately after a replaced letter is a stray pen
// mark, not a real hyphenation, and is dropped with the replacement:
// "Р-emera" becomes "Remera" while "Jean-Claude" is untouched.
func transliterate(s string) (string, int) {
	var b strings.Builder
	corrections := 0
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		latin, ok := translit[r]
		if !ok {
			b.WriteRune(r)
			continue
		}
		b.WriteString(latin)
		corrections++
		if i+1 < len(runes) && isStraySeparator(runes[i+1]) {
			i++
		}
	}
	return b.String(), corrections
}

func isStraySeparator(r rune) bool {
	return r == '-' || r == '\'' || r == '’'
}

// cleanNumeric strips a spurious trailing ".0" and spaces between digits
// ("2015.0" -> "2015", "12 500" -> "12500").
func cleanNumeric(s string) (string, int) {
	corrections := 0
	out := s
	if strings.HasSuffix(out, ".0") && isDigits(strings.TrimSuffix(out, ".0")) {
		out = strings.TrimSuffix(out, ".0")
		corrections++
	}
	if cleaned := dropDigitSpaces(out); cleaned != out {
		out = cleaned
		corrections++
	}
	return out, corrections
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func dropDigitSpaces(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if r == ' ' && i > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
