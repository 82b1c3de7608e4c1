package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID      string         `cbor:"id"`
	Payload map[string]any `cbor:"payload"`
	At      time.Time      `cbor:"at"`
}

func TestDeterministicEncoding(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 2, "b": 1}

	encA, err := Marshal(a)
	require.NoError(t, err)
	encB, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, encA, encB)
}

func TestNestedMapsDecodeWithStringKeys(t *testing.T) {
	in := record{
		ID: "x",
		Payload: map[string]any{
			"subject": "printer jammed",
			"meta":    map[string]any{"floor": "3"},
		},
		At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, "printer jammed", out.Payload["subject"])
	meta, ok := out.Payload["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "3", meta["floor"])
	assert.True(t, in.At.Equal(out.At))
}
