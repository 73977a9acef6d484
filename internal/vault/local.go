package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"

	"steamguard/internal/account"
)

// Local vault parameters. Unlike the interop scheme these are ours to
// choose; the KDF is PBKDF2-HMAC-SHA256 and the cipher AES-256-GCM.
const (
	localIterations = 100000
	localKeySize    = 32
	localSaltSize   = 32
	localNonceSize  = 12

	localVersion = 2
)

// legacyFixedSalt is the application-wide salt the pre-GCM vault derived its
// Fernet key from. Kept only so old vaults stay readable for migration.
const legacyFixedSalt = "steam_auth_linux"

// localFile is the on-disk vault container.
//
// Encrypted vaults (version 2) carry the persisted KDF salt and a single
// base64 blob of nonce || ciphertext || GCM tag. Plaintext vaults carry the
// account list directly. Legacy vaults are encrypted but have no salt field;
// their blob is a Fernet token.
type localFile struct {
	Version   int                `json:"version,omitempty"`
	Encrypted bool               `json:"encrypted"`
	Salt      string             `json:"salt,omitempty"`
	Blob      string             `json:"blob,omitempty"`
	Accounts  []*account.Account `json:"accounts,omitempty"`
}

// LocalVault persists the full account collection at a single path.
type LocalVault struct {
	Path   string
	Logger *log.Logger
}

// OpenLocal returns a vault bound to path. The file need not exist yet.
func OpenLocal(path string) *LocalVault {
	return &LocalVault{Path: path}
}

func (v *LocalVault) logf(format string, args ...any) {
	if v.Logger != nil {
		v.Logger.Printf(format, args...)
	}
}

func deriveLocalKey(passkey string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passkey), salt, localIterations, localKeySize, sha256.New)
}

// Save writes the account collection. With a passkey the vault is sealed
// with AES-256-GCM under a fresh random nonce; the KDF salt is created once
// and reused across saves so editing accounts does not force passkey
// re-entry. Without a passkey the collection is written in the clear.
func (v *LocalVault) Save(accounts []*account.Account, passkey string) error {
	file := localFile{Version: localVersion}

	if passkey == "" {
		file.Accounts = accounts
	} else {
		salt, err := v.currentSalt()
		if err != nil {
			return err
		}
		plain, err := json.Marshal(accounts)
		if err != nil {
			return err
		}
		blob, err := sealLocal(passkey, salt, plain)
		if err != nil {
			return err
		}
		file.Encrypted = true
		file.Salt = base64.StdEncoding.EncodeToString(salt)
		file.Blob = blob
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(v.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(v.Path, data, 0o600)
}

// currentSalt returns the salt persisted in the existing vault file, or a
// fresh one when the vault is new or was previously plaintext/legacy.
func (v *LocalVault) currentSalt() ([]byte, error) {
	if data, err := os.ReadFile(v.Path); err == nil {
		var existing localFile
		if json.Unmarshal(data, &existing) == nil && existing.Salt != "" {
			if salt, err := base64.StdEncoding.DecodeString(existing.Salt); err == nil && len(salt) == localSaltSize {
				return salt, nil
			}
		}
	}
	return randomBytes(localSaltSize)
}

func sealLocal(passkey string, salt, plain []byte) (string, error) {
	block, err := aes.NewCipher(deriveLocalKey(passkey, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce, err := randomBytes(localNonceSize)
	if err != nil {
		return "", err
	}
	// gcm.Seal appends ciphertext || tag; prepend the nonce so one blob
	// carries everything.
	sealed := gcm.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func openLocal(passkey string, salt []byte, blobB64 string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		return nil, fmt.Errorf("vault blob: %w", err)
	}
	block, err := aes.NewCipher(deriveLocalKey(passkey, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, ErrBadPasskey
	}
	plain, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil {
		// Tag mismatch: fails closed rather than returning corrupted data.
		return nil, ErrBadPasskey
	}
	return plain, nil
}

// Load reads the account collection. Encrypted vaults need the passkey;
// legacy Fernet vaults are decrypted, immediately re-saved in the current
// format and never written as legacy again.
func (v *LocalVault) Load(passkey string) ([]*account.Account, error) {
	data, err := os.ReadFile(v.Path)
	if err != nil {
		return nil, err
	}
	var file localFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}

	if !file.Encrypted {
		return file.Accounts, nil
	}
	if passkey == "" {
		return nil, ErrPasskeyRequired
	}

	if file.Salt == "" {
		// Pre-GCM vault: fixed salt, Fernet token.
		accounts, err := decryptLegacy(passkey, file.Blob)
		if err != nil {
			return nil, err
		}
		v.logf("migrating legacy vault %s to AES-GCM format", v.Path)
		if err := v.Save(accounts, passkey); err != nil {
			return nil, fmt.Errorf("migrate legacy vault: %w", err)
		}
		return accounts, nil
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault salt: %w", err)
	}
	plain, err := openLocal(passkey, salt, file.Blob)
	if err != nil {
		return nil, err
	}
	var accounts []*account.Account
	if err := json.Unmarshal(plain, &accounts); err != nil {
		return nil, fmt.Errorf("parse vault contents: %w", err)
	}
	return accounts, nil
}

// LegacyKey derives the Fernet key the pre-GCM vault used:
// PBKDF2-HMAC-SHA256 over the fixed application salt, encoded the way
// Fernet expects. Exported for migration tests.
func LegacyKey(passkey string) *fernet.Key {
	var k fernet.Key
	copy(k[:], deriveLocalKey(passkey, []byte(legacyFixedSalt)))
	return &k
}

func decryptLegacy(passkey, token string) ([]*account.Account, error) {
	plain := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{LegacyKey(passkey)})
	if plain == nil {
		return nil, ErrBadPasskey
	}

	// Legacy plaintext was either a bare account array or an
	// {"accounts": [...]} wrapper.
	var accounts []*account.Account
	if err := json.Unmarshal(plain, &accounts); err == nil {
		return accounts, nil
	}
	var wrapper struct {
		Accounts []*account.Account `json:"accounts"`
	}
	if err := json.Unmarshal(plain, &wrapper); err != nil {
		return nil, fmt.Errorf("parse legacy vault contents: %w", err)
	}
	return wrapper.Accounts, nil
}
