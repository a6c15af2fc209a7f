package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/eventforge/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no secret exists for a destination id.
	ErrNotFound = errors.New("secret not found")

	// ErrUnavailable is returned when the backing store cannot be used.
	ErrUnavailable = errors.New("secret store unavailable")
)

// Store persists secrets keyed by destination id. Implementations are safe
// for concurrent use.
type Store interface {
	Put(ctx context.Context, destID string, secret []byte) error
	Get(ctx context.Context, destID string) ([]byte, error)
	Delete(ctx context.Context, destID string) error
	Close() error
}

// Open constructs the backend selected by cfg. On failure it returns an
// unavailable store together with an error wrapping ErrUnavailable, so callers
// can keep running and fail closed on every secret access.
func Open(cfg config.SecretsConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case config.SecretsBackendKeyring, "":
		store, err = NewKeyring(cfg.Service)
	case config.SecretsBackendFile:
		store, err = NewFileVault(cfg.Path, cfg.Service)
	case config.SecretsBackendMemory:
		store = NewMemory()
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if err != nil {
		logger.Error("secret store unavailable, HEC destinations will fail closed",
			zap.String("backend", cfg.Backend), zap.Error(err))
		return Unavailable(err), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	logger.Info("secret store opened", zap.String("backend", cfg.Backend))
	return store, nil
}

func validateID(destID string) error {
	if destID == "" {
		return errors.New("destination id is required")
	}
	return nil
}
