package credstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/eventforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "hec:1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "hec:1", []byte("tok-1")))
	got, err := s.Get(ctx, "hec:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("tok-1"), got)

	require.NoError(t, s.Put(ctx, "hec:1", []byte("tok-2")))
	got, err = s.Get(ctx, "hec:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("tok-2"), got)

	require.NoError(t, s.Delete(ctx, "hec:1"))
	_, err = s.Get(ctx, "hec:1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "hec:1"), ErrNotFound)

	assert.Error(t, s.Put(ctx, "", []byte("x")))
	assert.NoError(t, s.Close())
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)
	assert.Zero(t, m.Len())
}

func TestMemory_CopiesSecrets(t *testing.T) {
	m := NewMemory()
	secret := []byte("abc")
	require.NoError(t, m.Put(context.Background(), "hec:1", secret))
	secret[0] = 'X'

	got, err := m.Get(context.Background(), "hec:1")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()

	k, err := NewKeyring(config.DefaultSecretsService)
	require.NoError(t, err)
	exerciseStore(t, k)
}

func TestKeyring_Unavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: no session bus"))
	t.Cleanup(keyring.MockInit)

	_, err := NewKeyring(config.DefaultSecretsService)
	assert.Error(t, err)

	s, err := Open(config.SecretsConfig{Backend: config.SecretsBackendKeyring, Service: "svc"}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	require.NotNil(t, s)

	ctx := context.Background()
	assert.ErrorIs(t, s.Put(ctx, "hec:1", []byte("x")), ErrUnavailable)
	_, err = s.Get(ctx, "hec:1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.Delete(ctx, "hec:1"), ErrUnavailable)
}

func TestKeyring_RequiresService(t *testing.T) {
	keyring.MockInit()
	_, err := NewKeyring("")
	assert.Error(t, err)
}

func TestFileVault(t *testing.T) {
	v, err := NewFileVault(t.TempDir(), "")
	require.NoError(t, err)
	exerciseStore(t, v)
}

func TestFileVault_PersistsEncrypted(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	v, err := NewFileVault(dir, "svc")
	require.NoError(t, err)
	require.NoError(t, v.Put(ctx, "hec:7", []byte("plaintext-token-value")))

	raw, err := os.ReadFile(filepath.Join(dir, vaultFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext-token-value")
	assert.Contains(t, string(raw), "hec:7")

	for _, name := range []string{keyFileName, vaultFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}

	reopened, err := NewFileVault(dir, "svc")
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "hec:7")
	require.NoError(t, err)
	assert.Equal(t, "plaintext-token-value", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp."), "leftover temp file %s", e.Name())
	}
}

func TestFileVault_ScopedByService(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := NewFileVault(dir, "svc-a")
	require.NoError(t, err)
	require.NoError(t, a.Put(ctx, "hec:1", []byte("token-a")))

	b, err := NewFileVault(dir, "svc-b")
	require.NoError(t, err)
	_, err = b.Get(ctx, "hec:1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, b.Delete(ctx, "hec:1"), ErrNotFound)
	require.NoError(t, b.Put(ctx, "hec:1", []byte("token-b")))

	reopened, err := NewFileVault(dir, "svc-a")
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "hec:1")
	require.NoError(t, err)
	assert.Equal(t, "token-a", string(got))

	raw, err := os.ReadFile(filepath.Join(dir, vaultFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "svc-a/hec:1")
	assert.Contains(t, string(raw), "svc-b/hec:1")
}

func TestFileVault_WrongKeyFailsClosed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	v, err := NewFileVault(dir, "svc")
	require.NoError(t, err)
	require.NoError(t, v.Put(ctx, "hec:1", []byte("secret")))

	other := make([]byte, keySize)
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), other, 0600))

	reopened, err := NewFileVault(dir, "svc")
	require.NoError(t, err)
	_, err = reopened.Get(ctx, "hec:1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileVault_RejectsInsecureKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), make([]byte, keySize), 0644))
	require.NoError(t, os.Chmod(filepath.Join(dir, keyFileName), 0644))

	_, err := NewFileVault(dir, "svc")
	assert.Error(t, err)
}

func TestFileVault_CorruptVault(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileVault(dir, "svc")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, vaultFileName), []byte("{not json"), 0600))

	_, err = NewFileVault(dir, "svc")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	keyring.MockInit()

	tests := []struct {
		name    string
		cfg     config.SecretsConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.SecretsConfig{Backend: config.SecretsBackendMemory}},
		{name: "keyring", cfg: config.SecretsConfig{Backend: config.SecretsBackendKeyring, Service: "svc"}},
		{name: "file", cfg: config.SecretsConfig{Backend: config.SecretsBackendFile, Path: t.TempDir()}},
		{name: "file without path", cfg: config.SecretsConfig{Backend: config.SecretsBackendFile}, wantErr: true},
		{name: "unknown", cfg: config.SecretsConfig{Backend: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.cfg, nil)
			require.NotNil(t, s)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnavailable)
				_, getErr := s.Get(context.Background(), "hec:1")
				assert.ErrorIs(t, getErr, ErrUnavailable)
				return
			}
			require.NoError(t, err)
			exerciseStore(t, s)
		})
	}
}
