package credstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/eventforge/internal/config"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24

	keyFileName   = "vault.key"
	vaultFileName = "secrets.json"
)

// FileVault stores secrets sealed with NaCl secretbox in a JSON file.
// The key lives in a separate 0600 file in the same directory. Entries are
// namespaced by service, so several services can share one vault directory
// the way they share one keyring.
type FileVault struct {
	mu      sync.Mutex
	dir     string
	service string
	key     [keySize]byte
	sealed  map[string]string // service/destination id -> base64(nonce || box)
}

// NewFileVault opens or creates a vault in dir. An empty service uses
// config.DefaultSecretsService.
func NewFileVault(dir, service string) (*FileVault, error) {
	if dir == "" {
		return nil, errors.New("vault directory is required")
	}
	if service == "" {
		service = config.DefaultSecretsService
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	v := &FileVault{dir: dir, service: service, sealed: make(map[string]string)}
	if err := v.initKey(); err != nil {
		return nil, err
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *FileVault) keyPath() string   { return filepath.Join(v.dir, keyFileName) }
func (v *FileVault) vaultPath() string { return filepath.Join(v.dir, vaultFileName) }

func (v *FileVault) entry(destID string) string { return v.service + "/" + destID }

// initKey loads the vault key, generating it on first use.
func (v *FileVault) initKey() error {
	data, err := os.ReadFile(v.keyPath())
	switch {
	case err == nil:
		if len(data) != keySize {
			return fmt.Errorf("invalid vault key size: expected %d, got %d", keySize, len(data))
		}
		info, err := os.Stat(v.keyPath())
		if err != nil {
			return fmt.Errorf("failed to stat vault key: %w", err)
		}
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			return fmt.Errorf("insecure vault key permissions %04o (expected 0600)", perm)
		}
		copy(v.key[:], data)
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read vault key: %w", err)
	}

	if _, err := io.ReadFull(rand.Reader, v.key[:]); err != nil {
		return fmt.Errorf("failed to generate vault key: %w", err)
	}
	return writeFileAtomic(v.keyPath(), v.key[:])
}

func (v *FileVault) load() error {
	data, err := os.ReadFile(v.vaultPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read vault: %w", err)
	}
	if err := json.Unmarshal(data, &v.sealed); err != nil {
		return fmt.Errorf("vault file corrupted: %w", err)
	}
	if v.sealed == nil {
		v.sealed = make(map[string]string)
	}
	return nil
}

func (v *FileVault) save() error {
	data, err := json.MarshalIndent(v.sealed, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}
	return writeFileAtomic(v.vaultPath(), data)
}

func (v *FileVault) seal(secret []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], secret, &nonce, &v.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (v *FileVault) open(encoded string) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return nil, errors.New("malformed sealed secret")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	secret, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, errors.New("sealed secret failed authentication")
	}
	return secret, nil
}

func (v *FileVault) Put(ctx context.Context, destID string, secret []byte) error {
	if err := validateID(destID); err != nil {
		return err
	}
	sealed, err := v.seal(secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	key := v.entry(destID)
	prev, had := v.sealed[key]
	v.sealed[key] = sealed
	if err := v.save(); err != nil {
		if had {
			v.sealed[key] = prev
		} else {
			delete(v.sealed, key)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (v *FileVault) Get(ctx context.Context, destID string) ([]byte, error) {
	v.mu.Lock()
	encoded, ok := v.sealed[v.entry(destID)]
	v.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	secret, err := v.open(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return secret, nil
}

func (v *FileVault) Delete(ctx context.Context, destID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := v.entry(destID)
	prev, ok := v.sealed[key]
	if !ok {
		return ErrNotFound
	}
	delete(v.sealed, key)
	if err := v.save(); err != nil {
		v.sealed[key] = prev
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (v *FileVault) Close() error { return nil }

// writeFileAtomic writes data to a 0600 temp file created with O_EXCL,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	f.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}

func randomSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
