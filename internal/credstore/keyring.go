package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// checkUser is looked up once at open time to check the keyring answers.
const checkUser = "__eventforge_check__"

// Keyring stores secrets in the OS keyring under a single service name.
type Keyring struct {
	service string
}

// NewKeyring opens the OS keyring for service.
func NewKeyring(service string) (*Keyring, error) {
	if service == "" {
		return nil, errors.New("keyring service name is required")
	}
	if _, err := keyring.Get(service, checkUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring unavailable: %w", err)
	}
	return &Keyring{service: service}, nil
}

func (k *Keyring) Put(ctx context.Context, destID string, secret []byte) error {
	if err := validateID(destID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Set(k.service, destID, string(secret)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (k *Keyring) Get(ctx context.Context, destID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := keyring.Get(k.service, destID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return []byte(s), nil
}

func (k *Keyring) Delete(ctx context.Context, destID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := keyring.Delete(k.service, destID)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (k *Keyring) Close() error { return nil }
