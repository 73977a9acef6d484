// Package guard derives Steam Guard codes and confirmation signatures from
// an account's secrets.
package guard

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// CodeAlphabet is Steam's fixed 26-character code alphabet. It excludes
// visually ambiguous glyphs (0/O, 1/I, etc.).
const CodeAlphabet = "23456789BCDFGHJKMNPQRTVWXY"

// CodePeriod is the Steam Guard epoch length in seconds.
const CodePeriod = 30

// GenerateCode derives the 5-character Guard code for the given unix time
// from the raw shared secret.
func GenerateCode(sharedSecret []byte, unixTime int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(unixTime/CodePeriod))

	mac := hmac.New(sha1.New, sharedSecret)
	mac.Write(buf[:])
	digest := mac.Sum(nil)

	// RFC 4226 dynamic truncation: low nibble of the last byte picks the
	// offset of a big-endian 31-bit integer.
	offset := digest[len(digest)-1] & 0x0F
	v := binary.BigEndian.Uint32(digest[offset:offset+4]) & 0x7FFFFFFF

	var code [5]byte
	for i := range code {
		code[i] = CodeAlphabet[v%uint32(len(CodeAlphabet))]
		v /= uint32(len(CodeAlphabet))
	}
	return string(code[:])
}

// SecondsUntilNextCode returns how long the code for unixTime stays valid.
func SecondsUntilNextCode(unixTime int64) int64 {
	return CodePeriod - unixTime%CodePeriod
}

// ConfirmationHash signs a confirmation operation: HMAC-SHA1 keyed by the
// identity secret over the 8-byte big-endian timestamp followed by the tag
// ("conf", "allow" or "cancel"), base64-encoded. The tag is appended to the
// time bytes, not hashed on its own.
func ConfirmationHash(identitySecret []byte, unixTime int64, tag string) string {
	buf := make([]byte, 8+len(tag))
	binary.BigEndian.PutUint64(buf[:8], uint64(unixTime))
	copy(buf[8:], tag)

	mac := hmac.New(sha1.New, identitySecret)
	mac.Write(buf)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// DecodeSecret decodes a shared or identity secret from its storage form.
// maFiles normally carry base64, but 40-character hex secrets also appear in
// the wild.
func DecodeSecret(s string) ([]byte, error) {
	if len(s) == 40 {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	return b, nil
}

// NewDeviceID generates a random android-style device identifier. It is
// generated once per account and must never change afterwards: Steam keys
// confirmation history on it.
func NewDeviceID() string {
	return "android:" + uuid.NewString()
}
