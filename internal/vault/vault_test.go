package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	scryptN = 1 << 10
	m.Run()
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "nested", "vault.dat"))
}

func TestVault_AddGet(t *testing.T) {
	v := newTestVault(t)

	require.NoError(t, v.Add("master", "github", "octocat", "hunter2"))
	require.NoError(t, v.Add("master", "gitlab", "tanuki", "s3cret"))

	entry, err := v.Get("master", "github")
	require.NoError(t, err)
	assert.Equal(t, Entry{Username: "octocat", Password: "hunter2"}, entry)

	require.NoError(t, v.Add("master", "github", "octocat", "rotated"))
	entry, err = v.Get("master", "github")
	require.NoError(t, err)
	assert.Equal(t, "rotated", entry.Password)

	info, err := os.Stat(v.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())

	raw, err := os.ReadFile(v.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "octocat")
}

func TestVault_GetMissing(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Get("master", "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVault_WrongPassword(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add("master", "github", "octocat", "hunter2"))

	_, err := v.Get("wrong", "github")
	assert.ErrorIs(t, err, ErrDecrypt)

	err = v.Add("wrong", "other", "u", "p")
	assert.ErrorIs(t, err, ErrDecrypt)

	entry, err := v.Get("master", "github")
	require.NoError(t, err, "failed writes must not corrupt the vault")
	assert.Equal(t, "octocat", entry.Username)
}

func TestVault_CorruptFile(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(v.Path()), 0700))
	require.NoError(t, os.WriteFile(v.Path(), []byte("not a vault"), 0600))

	_, err := v.Search("master", "")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestVault_EmptyFileIsEmptyVault(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(v.Path()), 0700))
	require.NoError(t, os.WriteFile(v.Path(), nil, 0600))

	matches, err := v.Search("master", "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestVault_Delete(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add("master", "github", "octocat", "hunter2"))

	require.NoError(t, v.Delete("master", "github"))
	_, err := v.Get("master", "github")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, v.Delete("master", "github"), ErrNotFound)
}

func TestVault_Search(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Add("master", "GitHub", "octocat", "a"))
	require.NoError(t, v.Add("master", "gitlab", "tanuki", "b"))
	require.NoError(t, v.Add("master", "bank", "me", "c"))

	matches, err := v.Search("master", "GIT")
	require.NoError(t, err)
	assert.Equal(t, []Match{
		{Name: "GitHub", Username: "octocat"},
		{Name: "gitlab", Username: "tanuki"},
	}, matches)

	matches, err = v.Search("master", "nomatch")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestVault_Validation(t *testing.T) {
	v := newTestVault(t)

	assert.ErrorIs(t, v.Add("", "name", "u", "p"), ErrEmptyPassword)
	assert.Error(t, v.Add("master", "  ", "u", "p"))
}
