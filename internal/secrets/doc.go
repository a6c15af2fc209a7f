// Package secrets keeps credentials out of everything eventforge streams back
// to a caller or writes to a log.
//
// Two layers work together. Sanitizer replaces the exact secret and URL
// literals known for one delivery run with fixed placeholders. Scrubber
// catches credential-shaped text that no literal covers (authorization
// headers, tokens in environment dumps, keys printed by a generator) using
// either a small regexp rule set or the gitleaks default configuration, with
// an optional TOML allowlist for sample credentials that must survive.
package secrets
