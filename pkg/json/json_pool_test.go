package json

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

func TestNewDecoderReadsFromReader(t *testing.T) {
	var rec record
	dec := NewDecoder(strings.NewReader(`{"id":"r1","value":2.5}`))
	require.NoError(t, dec.Decode(&rec))
	assert.Equal(t, "r1", rec.ID)
	assert.Equal(t, 2.5, rec.Value)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	data, err := Marshal(record{ID: "r2", Value: 7})
	require.NoError(t, err)

	var rec record
	require.NoError(t, Unmarshal(data, &rec))
	assert.Equal(t, record{ID: "r2", Value: 7}, rec)
}

func TestEncodeReturnsIndependentCopies(t *testing.T) {
	first, err := Encode(record{ID: "a", Value: 1})
	require.NoError(t, err)
	second, err := Encode(record{ID: "b", Value: 2})
	require.NoError(t, err)

	// Encode shares a pooled buffer internally, so each call must hand
	// back bytes that survive the next call.
	assert.JSONEq(t, `{"id":"a","value":1}`, string(first))
	assert.JSONEq(t, `{"id":"b","value":2}`, string(second))
}

func TestNewEncoderWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(record{ID: "c", Value: 3}))
	assert.JSONEq(t, `{"id":"c","value":3}`, buf.String())
}
