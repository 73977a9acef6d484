// Package storage keeps enrolled accounts as individual .maFile JSON
// documents in one directory, the layout the desktop authenticator
// ecosystem standardized on.
package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"steamguard/internal/account"
	"steamguard/internal/vault"
)

// Store is a directory of .maFile documents, one per account. Files are
// named after the steamid so re-enrolling the same account overwrites
// instead of duplicating.
type Store struct {
	Dir    string
	Logger *log.Logger
}

// NewStore returns a store rooted at dir. The directory is created lazily
// on the first Save.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// FileName returns the name an account is stored under: the steamid, or a
// sanitized account name when the steamid is unknown.
func FileName(acct *account.Account) string {
	if acct.SteamID != 0 {
		return acct.SteamID.String() + ".maFile"
	}
	return sanitizeName(acct.AccountName) + ".maFile"
}

// sanitizeName strips anything that could escape the store directory or
// upset a filesystem.
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	out := strings.Trim(sb.String(), ".")
	if out == "" {
		return "account"
	}
	return out
}

// Save writes the account to its .maFile and returns the path written.
func (s *Store) Save(acct *account.Account) (string, error) {
	if err := acct.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return "", fmt.Errorf("create store dir: %w", err)
	}

	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", acct.AccountName, err)
	}
	path := filepath.Join(s.Dir, FileName(acct))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	s.logf("saved %s", path)
	return path, nil
}

// Load reads one .maFile by file name and validates its required fields.
func (s *Store) Load(name string) (*account.Account, error) {
	return loadFile(filepath.Join(s.Dir, name))
}

func loadFile(path string) (*account.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var acct account.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := acct.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &acct, nil
}

// Scan loads every .maFile in the store, sorted by account name. Files that
// fail to parse or validate are reported in the error slice without
// blocking the rest.
func (s *Store) Scan() ([]*account.Account, []error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.maFile"))
	if err != nil {
		return nil, []error{err}
	}

	var accounts []*account.Account
	var errs []error
	for _, path := range matches {
		acct, err := loadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountName < accounts[j].AccountName
	})
	s.logf("scanned %d account(s), %d error(s)", len(accounts), len(errs))
	return accounts, errs
}

// Find looks an account up by account name or steamid string.
func (s *Store) Find(query string) (*account.Account, error) {
	accounts, _ := s.Scan()
	for _, acct := range accounts {
		if acct.AccountName == query || acct.SteamID.String() == query {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("no account matching %q", query)
}

// Delete removes the account's .maFile.
func (s *Store) Delete(acct *account.Account) error {
	path := filepath.Join(s.Dir, FileName(acct))
	if err := os.Remove(path); err != nil {
		return err
	}
	s.logf("deleted %s", path)
	return nil
}

// ImportFolder copies accounts from an external directory into the store.
// SDA folders (manifest.json present) are decrypted with the passkey; any
// other directory is treated as loose plaintext .maFile documents. Errors
// are collected per file so one bad account never aborts an import.
func (s *Store) ImportFolder(dir, passkey string) ([]*account.Account, []error) {
	var accounts []*account.Account
	var errs []error

	if vault.IsInteropFolder(dir) {
		accounts, errs = vault.ImportInterop(dir, passkey)
	} else {
		matches, err := filepath.Glob(filepath.Join(dir, "*.maFile"))
		if err != nil {
			return nil, []error{err}
		}
		if len(matches) == 0 {
			return nil, []error{fmt.Errorf("no .maFile documents in %s", dir)}
		}
		for _, path := range matches {
			acct, err := loadFile(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			accounts = append(accounts, acct)
		}
	}

	var imported []*account.Account
	for _, acct := range accounts {
		if _, err := s.Save(acct); err != nil {
			errs = append(errs, fmt.Errorf("import %s: %w", acct.AccountName, err))
			continue
		}
		imported = append(imported, acct)
	}
	return imported, errs
}

// ExportFolder writes the store's accounts as an SDA-compatible folder.
func (s *Store) ExportFolder(dir, passkey string) error {
	accounts, errs := s.Scan()
	if len(errs) > 0 {
		return fmt.Errorf("store has unreadable accounts: %v", errs[0])
	}
	if len(accounts) == 0 {
		return fmt.Errorf("nothing to export")
	}
	manifest, files, err := vault.ExportInterop(accounts, passkey)
	if err != nil {
		return err
	}
	return vault.WriteInteropFolder(dir, manifest, files)
}
