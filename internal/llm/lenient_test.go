package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLenientObjectClean(t *testing.T) {
	m, err := DecodeLenientObject([]byte(`{"a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, float64(1), m["a"])
}

func TestDecodeLenientObjectWithProse(t *testing.T) {
	raw := []byte("Here is the extraction:\n```json\n{\"full_name\": {\"value\": \"x\"}}\n```\nDone.")
	m, err := DecodeLenientObject(raw)
	require.NoError(t, err)
	assert.Contains(t, m, "full_name")
}

func TestDecodeLenientObjectNoJSON(t *testing.T) {
	_, err := DecodeLenientObject([]byte("sorry, I cannot read this document"))
	require.Error(t, err)

	_, err = DecodeLenientObject([]byte("broken { not json"))
	require.Error(t, err)
}
