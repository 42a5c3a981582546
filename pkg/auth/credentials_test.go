package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestManager(t *testing.T) {
	mem := NewMemoryStore()
	m := NewManagerWithStores(mem)

	require.NoError(t, m.Store(&Account{Name: "personal", AccessToken: "tok_1234567890"}))
	assert.Equal(t, 1, mem.Count())

	account, err := m.Retrieve("personal")
	require.NoError(t, err)
	assert.Equal(t, "tok_1234567890", account.AccessToken)
	assert.False(t, account.LastModified.IsZero())

	token, err := m.Token("personal")
	require.NoError(t, err)
	assert.Equal(t, "tok_1234567890", token)

	accounts, err := m.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	require.NoError(t, m.Delete("personal"))
	_, err = m.Retrieve("personal")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.ErrorIs(t, m.Delete("personal"), ErrCredentialsNotFound)
}

func TestManagerValidation(t *testing.T) {
	m := NewManagerWithStores(NewMemoryStore())

	assert.Error(t, m.Store(nil))
	assert.Error(t, m.Store(&Account{AccessToken: "x"}))
	assert.Error(t, m.Store(&Account{Name: "a"}))
}

func TestManagerDefaultAccount(t *testing.T) {
	m := NewManagerWithStores(NewMemoryStore())
	require.NoError(t, m.Store(&Account{Name: DefaultAccount, AccessToken: "tok"}))

	token, err := m.Token("")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestManagerFallsBack(t *testing.T) {
	broken := NewMemoryStore()
	broken.StoreError = errors.New("keychain locked")
	broken.RetrieveError = errors.New("keychain locked")
	backup := NewMemoryStore()
	m := NewManagerWithStores(broken, backup, NewEnvironmentStore())

	require.NoError(t, m.Store(&Account{Name: "a", AccessToken: "tok"}))
	assert.Equal(t, 0, broken.Count())
	assert.Equal(t, 1, backup.Count())

	token, err := m.Token("a")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	all := NewMemoryStore()
	all.StoreError = errors.New("disk full")
	err = NewManagerWithStores(all).Store(&Account{Name: "a", AccessToken: "tok"})
	assert.ErrorContains(t, err, "disk full")
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "correct horse battery staple")
	path := filepath.Join(t.TempDir(), "creds", "credentials.enc")

	s, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Store(&Account{Name: "a", AccessToken: "secret-token-a"}))
	require.NoError(t, s.Store(&Account{Name: "b", AccessToken: "secret-token-b"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "secret-token")

	account, err := s.Retrieve("b")
	require.NoError(t, err)
	assert.Equal(t, "secret-token-b", account.AccessToken)
	assert.True(t, s.Exists("a"))

	accounts, err := s.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	// another passphrase cannot read it
	t.Setenv(PassphraseEnv, "wrong")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("a")
	assert.ErrorContains(t, err, "failed to decrypt")

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("b"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, s.Delete("b"), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	s, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Store(&Account{Name: "a", AccessToken: "tok"}))

	pass, err := os.ReadFile(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)
	assert.NotEmpty(t, pass)

	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	account, err := reopened.Retrieve("a")
	require.NoError(t, err)
	assert.Equal(t, "tok", account.AccessToken)
}

func TestEnvironmentStore(t *testing.T) {
	s := NewEnvironmentStore()

	t.Setenv(TokenEnv, "")
	_, err := s.Retrieve("a")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.False(t, s.Exists("a"))

	t.Setenv(TokenEnv, "env-token")
	account, err := s.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAccount, account.Name)
	assert.Equal(t, "env-token", account.AccessToken)

	assert.ErrorIs(t, s.Store(account), ErrStoreUnavailable)
	assert.ErrorIs(t, s.Delete("a"), ErrStoreUnavailable)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	s, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, s.Store(&Account{Name: "a", AccessToken: "kr-token"}))
	assert.True(t, s.Exists("a"))

	account, err := s.Retrieve("a")
	require.NoError(t, err)
	assert.Equal(t, "kr-token", account.AccessToken)

	require.NoError(t, s.Delete("a"))
	_, err = s.Retrieve("a")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.ErrorIs(t, s.Delete("a"), ErrCredentialsNotFound)
}

func TestNewManager(t *testing.T) {
	keyring.MockInit()
	t.Setenv("FEEDKEEPER_CONFIG_DIR", t.TempDir())
	t.Setenv(PassphraseEnv, "pass")
	t.Setenv(TokenEnv, "")

	m, err := NewManager()
	require.NoError(t, err)

	require.NoError(t, m.Store(&Account{Name: "a", AccessToken: "tok"}))
	token, err := m.Token("a")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	require.NoError(t, m.Delete("a"))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "********", MaskToken("short"))
	assert.Equal(t, "abcd...wxyz", MaskToken("abcdefghijklmnopqrstuvwxyz"))
}
