package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeLenientObject decodes model output as a JSON object. If the raw text
// carries extra prose around the JSON, it retries on the slice between the
// outermost braces before giving up.
func DecodeLenientObject(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m, nil
	}

	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("model output is not a JSON object")
	}
	if err := json.Unmarshal(raw[start:end+1], &m); err != nil {
		return nil, fmt.Errorf("decode trimmed model output: %w", err)
	}
	return m, nil
}
