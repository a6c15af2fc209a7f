package secrets

import (
	"slices"
	"strings"
)

// Placeholders substituted for known literals.
const (
	SecretPlaceholder = "***"
	URLPlaceholder    = "<hec_url>"
)

// maxRounds bounds placeholder substitution before literals are stripped outright.
const maxRounds = 8

type literal struct {
	value       string
	placeholder string
}

// Sanitize replaces every occurrence of secrets with "***" and of urls with
// "<hec_url>". The result never contains any of the given non-empty literals.
func Sanitize(line string, secrets, urls []string) string {
	return replaceLiterals(line, buildLiterals(secrets, urls))
}

// Sanitizer binds the literals of one delivery run and layers the pattern
// scrubber on top of literal replacement.
type Sanitizer struct {
	scrubber Scrubber
	literals []literal
}

// NewSanitizer creates a Sanitizer. scrubber may be nil.
func NewSanitizer(scrubber Scrubber, secrets, urls []string) *Sanitizer {
	return &Sanitizer{scrubber: scrubber, literals: buildLiterals(secrets, urls)}
}

// Sanitize cleans one line of output. A nil Sanitizer returns line unchanged.
func (s *Sanitizer) Sanitize(line string) string {
	if s == nil {
		return line
	}
	line = replaceLiterals(line, s.literals)
	if s.scrubber != nil && s.scrubber.IsEnabled() {
		// The redaction string can complete a literal, so replace again.
		line = replaceLiterals(s.scrubber.Scrub(line).Scrubbed, s.literals)
	}
	return line
}

func buildLiterals(secrets, urls []string) []literal {
	seen := make(map[string]bool, len(secrets)+len(urls))
	lits := make([]literal, 0, len(secrets)+len(urls))
	add := func(values []string, placeholder string) {
		for _, v := range values {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			lits = append(lits, literal{value: v, placeholder: placeholder})
		}
	}
	// Secrets first so a value listed as both is masked as a secret.
	add(secrets, SecretPlaceholder)
	add(urls, URLPlaceholder)

	for i := range lits {
		// A literal inside a placeholder would be recreated by every substitution.
		if strings.Contains(SecretPlaceholder, lits[i].value) || strings.Contains(URLPlaceholder, lits[i].value) {
			lits[i].placeholder = ""
		}
	}

	slices.SortStableFunc(lits, func(a, b literal) int { return len(b.value) - len(a.value) })
	return lits
}

func replaceLiterals(s string, lits []literal) string {
	if len(lits) == 0 {
		return s
	}
	changed := true
	for round := 0; changed && round < maxRounds; round++ {
		s, changed = replaceOnce(s, lits, false)
	}
	// Placeholders keep combining into literals. Deleting strictly shortens s.
	for changed {
		s, changed = replaceOnce(s, lits, true)
	}
	return s
}

// replaceOnce applies every literal once and reports whether anything changed.
func replaceOnce(s string, lits []literal, strip bool) (string, bool) {
	changed := false
	for _, l := range lits {
		if !strings.Contains(s, l.value) {
			continue
		}
		with := l.placeholder
		if strip {
			with = ""
		}
		s = strings.ReplaceAll(s, l.value, with)
		changed = true
	}
	return s, changed
}
