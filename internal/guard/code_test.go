package guard

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeGoldenVector(t *testing.T) {
	secret, err := base64.StdEncoding.DecodeString("AAAAAAAAAAAAAAAAAAAAAA==")
	require.NoError(t, err)
	require.Len(t, secret, 16)

	assert.Equal(t, "RYH4D", GenerateCode(secret, 0))
}

func TestGenerateCodeWindowBehavior(t *testing.T) {
	secret, _ := base64.StdEncoding.DecodeString("AAAAAAAAAAAAAAAAAAAAAA==")

	// Same 30-second window yields the same code.
	assert.Equal(t, GenerateCode(secret, 0), GenerateCode(secret, 15))
	assert.Equal(t, GenerateCode(secret, 0), GenerateCode(secret, 29))

	// Adjacent windows differ.
	assert.Equal(t, "DR2DK", GenerateCode(secret, 30))
	assert.NotEqual(t, GenerateCode(secret, 0), GenerateCode(secret, 30))
}

func TestGenerateCodeShape(t *testing.T) {
	secret := make([]byte, 20)
	for i := range secret {
		secret[i] = byte(i)
	}
	assert.Equal(t, "7MQGM", GenerateCode(secret, 1700000000))

	for _, ts := range []int64{0, 1, 59, 12345678, 1700000000} {
		code := GenerateCode(secret, ts)
		assert.Len(t, code, 5)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, c), "char %q outside alphabet", c)
		}
		// Deterministic for the same input.
		assert.Equal(t, code, GenerateCode(secret, ts))
	}
}

func TestSecondsUntilNextCode(t *testing.T) {
	assert.Equal(t, int64(30), SecondsUntilNextCode(0))
	assert.Equal(t, int64(29), SecondsUntilNextCode(1))
	assert.Equal(t, int64(1), SecondsUntilNextCode(29))
	assert.Equal(t, int64(30), SecondsUntilNextCode(60))
}

func TestConfirmationHashGoldenVectors(t *testing.T) {
	ident, _ := base64.StdEncoding.DecodeString("AAAAAAAAAAAAAAAAAAAAAA==")
	assert.Equal(t, "bmUZYT+2GI0k6KO96eSTx/7nhcI=", ConfirmationHash(ident, 0, "conf"))

	secret := make([]byte, 20)
	for i := range secret {
		secret[i] = byte(i)
	}
	assert.Equal(t, "3jDyxx8wDBli5PLQZPBOmrFLBR0=", ConfirmationHash(secret, 1700000000, "allow"))

	// Different tags produce different signatures for the same time.
	assert.NotEqual(t,
		ConfirmationHash(secret, 1700000000, "allow"),
		ConfirmationHash(secret, 1700000000, "cancel"))
}

func TestDecodeSecret(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}

	fromB64, err := DecodeSecret(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, fromB64)

	fromHex, err := DecodeSecret("0102030405060708090a0b0c0d0e0f1011121314")
	require.NoError(t, err)
	assert.Equal(t, raw, fromHex)

	_, err = DecodeSecret("not valid base64!!!")
	assert.Error(t, err)
}

func TestNewDeviceID(t *testing.T) {
	id := NewDeviceID()
	assert.True(t, strings.HasPrefix(id, "android:"))
	assert.Len(t, id, len("android:")+36)
	assert.NotEqual(t, id, NewDeviceID())
}
