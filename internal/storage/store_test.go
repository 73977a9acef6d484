package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamguard/internal/account"
	"steamguard/internal/vault"
)

func testAccount(name string, steamID uint64) *account.Account {
	return &account.Account{
		AccountName:    name,
		SteamID:        account.SteamID(steamID),
		SharedSecret:   []byte("aaaaaaaaaaaaaaaaaaaa"),
		IdentitySecret: []byte("bbbbbbbbbbbbbbbbbbbb"),
		DeviceID:       "android:9f32bbbd-5a92-4a25-8c2b-1f4e2d2e5a01",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	acct := testAccount("hydrogen", 76561198034202275)

	path, err := store.Save(acct)
	require.NoError(t, err)
	assert.Equal(t, "76561198034202275.maFile", filepath.Base(path))

	loaded, err := store.Load("76561198034202275.maFile")
	require.NoError(t, err)
	assert.Equal(t, acct.AccountName, loaded.AccountName)
	assert.Equal(t, acct.SteamID, loaded.SteamID)
	assert.Equal(t, []byte(acct.SharedSecret), []byte(loaded.SharedSecret))
	assert.Equal(t, acct.DeviceID, loaded.DeviceID)
}

func TestFileNameFallback(t *testing.T) {
	acct := testAccount("weird/../name!", 0)
	assert.Equal(t, "weird_.._name_.maFile", FileName(acct))

	acct.AccountName = "..."
	assert.Equal(t, "account.maFile", FileName(acct))
}

func TestSaveRejectsInvalidAccount(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Save(&account.Account{AccountName: "hydrogen"})
	require.Error(t, err)
}

func TestScanCollectsPerFileErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	_, err := store.Save(testAccount("alpha", 100))
	require.NoError(t, err)
	_, err = store.Save(testAccount("beta", 200))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.maFile"), []byte("{not json"), 0o600))

	accounts, errs := store.Scan()
	require.Len(t, accounts, 2)
	assert.Equal(t, "alpha", accounts[0].AccountName)
	assert.Equal(t, "beta", accounts[1].AccountName)
	require.Len(t, errs, 1)
}

func TestFind(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Save(testAccount("hydrogen", 76561198034202275))
	require.NoError(t, err)

	byName, err := store.Find("hydrogen")
	require.NoError(t, err)
	assert.EqualValues(t, 76561198034202275, byName.SteamID)

	bySteamID, err := store.Find("76561198034202275")
	require.NoError(t, err)
	assert.Equal(t, "hydrogen", bySteamID.AccountName)

	_, err = store.Find("nobody")
	require.Error(t, err)
}

func TestDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	acct := testAccount("hydrogen", 300)
	_, err := store.Save(acct)
	require.NoError(t, err)

	require.NoError(t, store.Delete(acct))
	accounts, errs := store.Scan()
	assert.Empty(t, accounts)
	assert.Empty(t, errs)
}

func TestImportLooseFolder(t *testing.T) {
	src := t.TempDir()
	srcStore := NewStore(src)
	_, err := srcStore.Save(testAccount("alpha", 100))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, "junk.maFile"), []byte("[]"), 0o600))

	store := NewStore(t.TempDir())
	imported, errs := store.ImportFolder(src, "")
	require.Len(t, imported, 1)
	assert.Equal(t, "alpha", imported[0].AccountName)
	assert.Len(t, errs, 1)

	accounts, _ := store.Scan()
	assert.Len(t, accounts, 1)
}

func TestImportInteropFolder(t *testing.T) {
	accounts := []*account.Account{testAccount("alpha", 100), testAccount("beta", 200)}
	manifest, files, err := vault.ExportInterop(accounts, "hunter2")
	require.NoError(t, err)
	src := t.TempDir()
	require.NoError(t, vault.WriteInteropFolder(src, manifest, files))

	store := NewStore(t.TempDir())
	imported, errs := store.ImportFolder(src, "hunter2")
	assert.Empty(t, errs)
	require.Len(t, imported, 2)

	stored, scanErrs := store.Scan()
	assert.Empty(t, scanErrs)
	assert.Len(t, stored, 2)
}

func TestImportEmptyFolder(t *testing.T) {
	store := NewStore(t.TempDir())
	imported, errs := store.ImportFolder(t.TempDir(), "")
	assert.Empty(t, imported)
	require.Len(t, errs, 1)
}

func TestExportFolder(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Save(testAccount("alpha", 100))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "sda")
	require.NoError(t, store.ExportFolder(out, "hunter2"))
	assert.True(t, vault.IsInteropFolder(out))
	assert.True(t, vault.VerifyInteropPasskey(out, "hunter2"))
	assert.False(t, vault.VerifyInteropPasskey(out, "wrong"))
}
