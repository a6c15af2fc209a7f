package destination

import "errors"

var (
	// ErrNotFound is returned for an unknown destination id.
	ErrNotFound = errors.New("destination not found")

	// ErrSecretStore is the only error surfaced for credential store failures.
	// Store internals are logged, never returned.
	ErrSecretStore = errors.New("failed to store destination secret")

	// ErrSecretMissing is returned when an HEC destination's token cannot be read.
	ErrSecretMissing = errors.New("destination secret missing")

	// ErrCorrupted is returned when the descriptor file cannot be parsed.
	ErrCorrupted = errors.New("destination file corrupted")
)

// ValidationError reports a malformed or incomplete submission. Message is
// shown to the caller verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
