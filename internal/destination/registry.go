package destination

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fyrsmithlabs/eventforge/internal/credstore"
	"go.uber.org/zap"
)

// Registry is the mutex-guarded destination list backed by a JSON file.
// File reads and writes happen under the same lock as the list they
// produce, so a reload never interleaves with an update.
type Registry struct {
	mu     sync.RWMutex
	path   string
	items  []Destination
	digest [sha256.Size]byte // content items were last read from or written as
	store  credstore.Store
	logger *zap.Logger
}

// NewRegistry loads the descriptor file at path, creating its directory if needed.
// A missing file is an empty registry.
func NewRegistry(path string, store credstore.Store, logger *zap.Logger) (*Registry, error) {
	if path == "" {
		return nil, errors.New("destination file path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	r := &Registry{path: path, store: store, logger: logger}
	items, sum, err := r.readFile()
	if err != nil {
		return nil, err
	}
	r.items, r.digest = items, sum
	return r, nil
}

// List returns a copy of all destinations in file order.
func (r *Registry) List() []Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Destination(nil), r.items...)
}

// Get returns the destination with id.
func (r *Registry) Get(id string) (Destination, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(id); i >= 0 {
		return r.items[i], nil
	}
	return Destination{}, ErrNotFound
}

// Secret returns the token stored for an HEC destination.
func (r *Registry) Secret(ctx context.Context, d Destination) ([]byte, error) {
	hec, ok := d.Connection.(HecConnection)
	if !ok {
		return nil, &ValidationError{Message: "destination " + d.ID + " has no secret"}
	}
	secret, err := r.store.Get(ctx, hec.SecretRef)
	if err != nil {
		r.logger.Error("failed to read destination secret", zap.String("destination.id", d.ID), zap.Error(err))
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, ErrSecretMissing
		}
		return nil, fmt.Errorf("%w: %w", ErrSecretMissing, credstore.ErrUnavailable)
	}
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	return secret, nil
}

// Upsert creates or updates the destination identified by (name, type).
// For HEC the token is stored before the descriptor list is persisted; a
// store failure aborts the whole operation.
func (r *Registry) Upsert(ctx context.Context, p Payload) (Destination, error) {
	v, err := p.validate()
	if err != nil {
		return Destination{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOfName(v.name, v.typ)
	var d Destination
	if idx >= 0 {
		d = r.items[idx]
	} else {
		d = Destination{ID: r.nextID(v.typ), Type: v.typ, Name: v.name}
	}

	switch c := v.conn.(type) {
	case HecConnection:
		c.SecretRef = d.ID
		d.Connection = c
		if err := r.store.Put(ctx, d.ID, []byte(v.token)); err != nil {
			r.logger.Error("failed to store destination secret", zap.String("destination.id", d.ID), zap.Error(err))
			return Destination{}, ErrSecretStore
		}
	default:
		d.Connection = c
	}

	items := append([]Destination(nil), r.items...)
	if idx >= 0 {
		items[idx] = d
	} else {
		items = append(items, d)
	}

	sum, err := r.writeFile(items)
	if err != nil {
		if idx < 0 && d.Type == TypeHEC {
			if derr := r.store.Delete(ctx, d.ID); derr != nil {
				r.logger.Warn("failed to roll back secret after save failure", zap.String("destination.id", d.ID), zap.Error(derr))
			}
		}
		return Destination{}, fmt.Errorf("failed to save destination: %w", err)
	}
	r.items, r.digest = items, sum

	r.logger.Info("destination saved",
		zap.String("destination.id", d.ID),
		zap.String("type", string(d.Type)),
		zap.Bool("created", idx < 0))
	return d, nil
}

// Delete removes a destination and its secret. Secret removal is best effort;
// an unknown id is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, credstore.ErrNotFound) {
		r.logger.Warn("failed to delete destination secret", zap.String("destination.id", id), zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return nil
	}
	items := make([]Destination, 0, len(r.items)-1)
	items = append(items, r.items[:idx]...)
	items = append(items, r.items[idx+1:]...)

	sum, err := r.writeFile(items)
	if err != nil {
		return fmt.Errorf("failed to delete destination: %w", err)
	}
	r.items, r.digest = items, sum
	r.logger.Info("destination deleted", zap.String("destination.id", id))
	return nil
}

// Reload re-reads the descriptor file and reports whether its content
// differed from what the registry last read or wrote. The registry's own
// writes therefore never count as changes.
func (r *Registry) Reload() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, sum, err := r.readFile()
	if err != nil {
		return false, err
	}
	if sum == r.digest {
		return false, nil
	}
	r.items, r.digest = items, sum
	return true, nil
}

func (r *Registry) indexOf(id string) int {
	for i, d := range r.items {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) indexOfName(name string, t Type) int {
	for i, d := range r.items {
		if d.Name == name && d.Type == t {
			return i
		}
	}
	return -1
}

// nextID allocates "<type>:<len+1>", advancing past ids left taken by deletes.
func (r *Registry) nextID(t Type) string {
	for seq := len(r.items) + 1; ; seq++ {
		id := t.idPrefix() + ":" + strconv.Itoa(seq)
		if r.indexOf(id) < 0 {
			return id
		}
	}
}

// readFile parses the descriptor file. A missing file reads as empty.
func (r *Registry) readFile() ([]Destination, [sha256.Size]byte, error) {
	data, err := os.ReadFile(r.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, [sha256.Size]byte{}, fmt.Errorf("failed to read destinations: %w", err)
	}
	sum := sha256.Sum256(data)
	if len(data) == 0 {
		return nil, sum, nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, sum, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	items := make([]Destination, 0, len(records))
	for _, rec := range records {
		d, err := fromRecord(rec)
		if err != nil {
			r.logger.Warn("skipping unreadable destination record", zap.Error(err))
			continue
		}
		items = append(items, d)
	}
	return items, sum, nil
}

// writeFile replaces the descriptor file atomically: temp file in the same
// directory, fsync, rename. It returns the digest of what it wrote.
func (r *Registry) writeFile(items []Destination) ([sha256.Size]byte, error) {
	var none [sha256.Size]byte
	records := make([]record, len(items))
	for i, d := range items {
		records[i] = toRecord(d)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return none, fmt.Errorf("failed to marshal destinations: %w", err)
	}

	tmpPath := r.path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return none, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return none, fmt.Errorf("failed to write destinations: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return none, fmt.Errorf("failed to sync destinations: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return none, fmt.Errorf("failed to rename destinations: %w", err)
	}
	return sha256.Sum256(data), nil
}

func randomSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
