package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	w := NewWriter()
	w.String(1, "hydrogen")
	w.Bytes(2, []byte{0x00, 0xFF, 0x80})
	w.Uint64(3, 1700000000)
	w.Fixed64(4, 76561198000000000)
	w.Enum(5, 3)
	w.Bool(6, true)

	m := Parse(w.Marshal())
	assert.Equal(t, "hydrogen", m.String(1))
	assert.Equal(t, []byte{0x00, 0xFF, 0x80}, m.Bytes(2))
	assert.Equal(t, uint64(1700000000), m.Uint64(3))
	assert.Equal(t, uint64(76561198000000000), m.Uint64(4))
	assert.Equal(t, uint64(3), m.Uint64(5))
	assert.True(t, m.Bool(6))
}

func TestZeroScalarsArePreserved(t *testing.T) {
	// Steam requires declared uint64/fixed64/enum fields even when zero.
	w := NewWriter()
	w.Uint64(1, 0)
	w.Fixed64(2, 0)
	w.Enum(3, 0)
	data := w.Marshal()
	assert.NotEmpty(t, data)

	m := Parse(data)
	assert.True(t, m.Has(1))
	assert.True(t, m.Has(2))
	assert.True(t, m.Has(3))
	assert.Equal(t, uint64(0), m.Uint64(1))
	assert.Equal(t, uint64(0), m.Uint64(2))
}

func TestZeroStringsAndBoolsAreOmitted(t *testing.T) {
	w := NewWriter()
	w.String(1, "")
	w.Bytes(2, nil)
	w.Bool(3, false)
	assert.Empty(t, w.Marshal())
}

func TestNonUTF8PayloadFallsBackToBytes(t *testing.T) {
	w := NewWriter()
	w.Bytes(7, []byte{0xC3, 0x28}) // invalid UTF-8 sequence
	m := Parse(w.Marshal())
	assert.Equal(t, "", m.String(7))
	assert.Equal(t, []byte{0xC3, 0x28}, m.Bytes(7))
}

func TestTruncatedDataStopsSilently(t *testing.T) {
	w := NewWriter()
	w.String(1, "ok")
	w.Uint64(2, 42)
	data := w.Marshal()

	// Append a tag that promises a 100-byte payload that is not there.
	truncated := append(data, 0x1A, 100, 0x01)
	m := Parse(truncated)
	assert.Equal(t, "ok", m.String(1))
	assert.Equal(t, uint64(42), m.Uint64(2))
	assert.False(t, m.Has(3))
}

func TestUnknownFieldsAreKeptButIgnored(t *testing.T) {
	w := NewWriter()
	w.Uint64(1, 1)
	w.String(99, "future field")
	m := Parse(w.Marshal())
	assert.True(t, m.Has(99))
	assert.Equal(t, uint64(1), m.Uint64(1))
}

func TestVarintBoundaries(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1<<32 - 1, 1<<63 - 1, 1<<64 - 1} {
		w := NewWriter()
		w.Uint64(1, v)
		assert.Equal(t, v, Parse(w.Marshal()).Uint64(1), "value %d", v)
	}
}

func TestMissingFieldDefaults(t *testing.T) {
	m := Parse(nil)
	assert.Equal(t, uint64(0), m.Uint64(1))
	assert.Equal(t, "", m.String(1))
	assert.Nil(t, m.Bytes(1))
	assert.False(t, m.Has(1))
}
