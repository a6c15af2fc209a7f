package credstore

import (
	"context"
	"fmt"
)

type unavailable struct {
	cause error
}

// Unavailable returns a Store whose every call fails with ErrUnavailable.
func Unavailable(cause error) Store {
	return &unavailable{cause: cause}
}

func (u *unavailable) err() error {
	if u.cause == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, u.cause)
}

func (u *unavailable) Put(context.Context, string, []byte) error   { return u.err() }
func (u *unavailable) Get(context.Context, string) ([]byte, error) { return nil, u.err() }
func (u *unavailable) Delete(context.Context, string) error        { return u.err() }
func (u *unavailable) Close() error                                { return nil }
