// Package vault implements the two at-rest encryption schemes: the
// SDA-compatible per-account interop format and the application's own
// whole-collection local vault. The two schemes serve different trust
// boundaries (cross-tool portability vs local-only secrecy) and are kept
// strictly separate.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"steamguard/internal/account"
)

// Interop scheme constants fixed by Steam Desktop Authenticator's
// Rfc2898DeriveBytes defaults. Changing any of them breaks compatibility.
const (
	interopIterations = 50000
	interopKeySize    = 32
	interopIVSize     = 16
	interopSaltSize   = 8
)

// ErrBadPasskey is returned when decryption fails in a way that indicates a
// wrong passkey: invalid PKCS#7 padding in the interop scheme or an AEAD tag
// mismatch in the local vault. It is distinct from file-not-found and
// not-actually-encrypted conditions.
var ErrBadPasskey = errors.New("wrong passkey or corrupted data")

// ErrPasskeyRequired is returned when an encrypted store is opened without a
// passkey.
var ErrPasskeyRequired = errors.New("store is encrypted and needs a passkey")

func deriveInteropKey(passkey string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passkey), salt, interopIterations, interopKeySize, sha1.New)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadPasskey
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrBadPasskey
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPasskey
		}
	}
	return data[:len(data)-n], nil
}

// EncryptInterop encrypts one account blob with the SDA scheme:
// PBKDF2-HMAC-SHA1 (50k iterations) over the passkey and the 8-byte salt,
// AES-256-CBC with PKCS#7 padding, base64 output.
func EncryptInterop(passkey string, salt, iv, plaintext []byte) (string, error) {
	if len(salt) != interopSaltSize || len(iv) != interopIVSize {
		return "", fmt.Errorf("interop encrypt: need %d-byte salt and %d-byte iv", interopSaltSize, interopIVSize)
	}
	block, err := aes.NewCipher(deriveInteropKey(passkey, salt))
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptInterop reverses EncryptInterop. A wrong passkey surfaces as
// ErrBadPasskey via the padding check; note CBC carries no authenticator, so
// callers verifying a passkey should additionally check the plaintext parses
// as JSON.
func DecryptInterop(passkey string, salt, iv []byte, encoded string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("interop decrypt: %w", err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, ErrBadPasskey
	}
	block, err := aes.NewCipher(deriveInteropKey(passkey, salt))
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return pkcs7Unpad(plain, aes.BlockSize)
}

// ManifestEntry describes one account file in an interop folder. Salt and IV
// are null when that account is stored in plaintext.
type ManifestEntry struct {
	EncryptionIV   *string         `json:"encryption_iv"`
	EncryptionSalt *string         `json:"encryption_salt"`
	Filename       string          `json:"filename"`
	SteamID        account.SteamID `json:"steamid"`
}

// Manifest is the directory-level index of an interop folder. The settings
// fields beyond Encrypted and Entries exist only so exported folders look
// like the ones SDA itself writes.
type Manifest struct {
	Encrypted                      bool            `json:"encrypted"`
	FirstRun                       bool            `json:"first_run"`
	Entries                        []ManifestEntry `json:"entries"`
	PeriodicChecking               bool            `json:"periodic_checking"`
	PeriodicCheckingInterval       int             `json:"periodic_checking_interval"`
	PeriodicCheckingCheckall       bool            `json:"periodic_checking_checkall"`
	AutoConfirmMarketTransactions  bool            `json:"auto_confirm_market_transactions"`
	AutoConfirmTrades              bool            `json:"auto_confirm_trades"`
}

// ExportInterop renders accounts as an SDA-compatible manifest plus one
// .maFile per account. An empty passkey exports plaintext files with null
// salt/IV manifest entries; otherwise each account gets its own fresh salt
// and IV.
func ExportInterop(accounts []*account.Account, passkey string) (Manifest, map[string]string, error) {
	manifest := Manifest{
		Encrypted:                passkey != "",
		FirstRun:                 true,
		PeriodicCheckingInterval: 5,
	}
	files := make(map[string]string, len(accounts))

	for _, acct := range accounts {
		name := acct.SteamID.String()
		if acct.SteamID == 0 {
			name = acct.AccountName
		}
		filename := name + ".maFile"

		plain, err := json.MarshalIndent(acct, "", "  ")
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("export %s: %w", acct.AccountName, err)
		}

		entry := ManifestEntry{Filename: filename, SteamID: acct.SteamID}
		if passkey != "" {
			salt, err := randomBytes(interopSaltSize)
			if err != nil {
				return Manifest{}, nil, err
			}
			iv, err := randomBytes(interopIVSize)
			if err != nil {
				return Manifest{}, nil, err
			}
			enc, err := EncryptInterop(passkey, salt, iv, plain)
			if err != nil {
				return Manifest{}, nil, err
			}
			saltB64 := base64.StdEncoding.EncodeToString(salt)
			ivB64 := base64.StdEncoding.EncodeToString(iv)
			entry.EncryptionSalt = &saltB64
			entry.EncryptionIV = &ivB64
			files[filename] = enc
		} else {
			files[filename] = string(plain)
		}
		manifest.Entries = append(manifest.Entries, entry)
	}
	return manifest, files, nil
}

// WriteInteropFolder materializes an export on disk: manifest.json plus the
// account files.
func WriteInteropFolder(dir string, manifest Manifest, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o600); err != nil {
		return err
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			return err
		}
	}
	return nil
}

// ReadInteropManifest loads and validates manifest.json from dir. A missing
// or entry-less manifest returns an error so callers can tell "not an
// interop folder" apart from a bad passkey.
func ReadInteropManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest.json: %w", err)
	}
	return &m, nil
}

// IsInteropFolder reports whether dir looks like an SDA maFiles folder.
func IsInteropFolder(dir string) bool {
	m, err := ReadInteropManifest(dir)
	return err == nil && len(m.Entries) > 0
}

// VerifyInteropPasskey checks a candidate passkey by decrypting the first
// manifest entry and confirming the plaintext parses as JSON. Unencrypted
// folders accept any passkey.
func VerifyInteropPasskey(dir, passkey string) bool {
	m, err := ReadInteropManifest(dir)
	if err != nil {
		return false
	}
	if !m.Encrypted || len(m.Entries) == 0 {
		return true
	}
	entry := m.Entries[0]
	if entry.EncryptionSalt == nil || entry.EncryptionIV == nil {
		return false
	}
	plain, err := decryptEntry(dir, entry, passkey)
	if err != nil {
		return false
	}
	return json.Valid(plain)
}

func decryptEntry(dir string, entry ManifestEntry, passkey string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(*entry.EncryptionSalt)
	if err != nil {
		return nil, fmt.Errorf("%s: bad salt: %w", entry.Filename, err)
	}
	iv, err := base64.StdEncoding.DecodeString(*entry.EncryptionIV)
	if err != nil {
		return nil, fmt.Errorf("%s: bad iv: %w", entry.Filename, err)
	}
	content, err := os.ReadFile(filepath.Join(dir, entry.Filename))
	if err != nil {
		return nil, err
	}
	return DecryptInterop(passkey, salt, iv, string(content))
}

// ImportInterop loads every account listed in an interop folder's manifest.
// Per-file failures are collected instead of aborting the whole import.
func ImportInterop(dir, passkey string) ([]*account.Account, []error) {
	m, err := ReadInteropManifest(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("no valid manifest.json: %w", err)}
	}
	if m.Encrypted && passkey == "" {
		return nil, []error{ErrPasskeyRequired}
	}
	if len(m.Entries) == 0 {
		return nil, []error{errors.New("no account entries in manifest")}
	}

	var accounts []*account.Account
	var errs []error
	for _, entry := range m.Entries {
		var plain []byte
		var err error
		if m.Encrypted {
			if entry.EncryptionSalt == nil || entry.EncryptionIV == nil {
				errs = append(errs, fmt.Errorf("%s: missing salt/iv", entry.Filename))
				continue
			}
			plain, err = decryptEntry(dir, entry, passkey)
		} else {
			plain, err = os.ReadFile(filepath.Join(dir, entry.Filename))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Filename, err))
			continue
		}

		var acct account.Account
		if err := json.Unmarshal(plain, &acct); err != nil {
			// CBC has no authenticator: a wrong passkey can survive the
			// padding check and still yield garbage.
			if m.Encrypted {
				errs = append(errs, fmt.Errorf("%s: %w", entry.Filename, ErrBadPasskey))
			} else {
				errs = append(errs, fmt.Errorf("%s: invalid JSON: %w", entry.Filename, err))
			}
			continue
		}
		if acct.SteamID == 0 {
			acct.SteamID = entry.SteamID
		}
		accounts = append(accounts, &acct)
	}
	return accounts, errs
}
