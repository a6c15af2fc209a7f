// Package credstore holds destination secrets (HEC tokens) outside the
// destination descriptor file.
//
// Secrets are keyed by destination id. Three backends exist:
//
//   - keyring: the OS keyring (Secret Service, Keychain, Credential Manager)
//   - file: a NaCl secretbox vault with a 0600 key file beside it
//   - memory: process-local, for tests and throwaway runs
//
// A backend that cannot be opened is replaced by a store that fails every
// call with ErrUnavailable. Secrets are never written anywhere in plaintext.
package credstore
