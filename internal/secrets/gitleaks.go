package secrets

import (
	"regexp"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// gitleaksScrubber redacts whatever the gitleaks default rule set detects.
// It is far slower than the regexp rules and meant for runs whose output
// may carry real credentials.
type gitleaksScrubber struct {
	mu        sync.Mutex
	detector  *detect.Detector
	redaction string
}

// NewGitleaks creates a Scrubber backed by the gitleaks default
// configuration. allow may be nil.
func NewGitleaks(allow *Allowlist, redaction string) (Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	if allow != nil && len(allow.Regexes) > 0 {
		entry := &gitleaksConfig.Allowlist{Description: "eventforge allowlist"}
		for _, pattern := range allow.Regexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, err
			}
			entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, entry)
	}
	if redaction == "" {
		redaction = DefaultRedaction
	}
	return &gitleaksScrubber{detector: detector, redaction: redaction}, nil
}

func (g *gitleaksScrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if content == "" {
		return result
	}

	g.mu.Lock()
	found := g.detector.DetectString(content)
	g.mu.Unlock()

	var spans []span
	seen := make(map[string]bool, len(found))
	for _, f := range found {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" || seen[secret] {
			continue
		}
		seen[secret] = true
		// Findings carry line/column positions; every occurrence of the
		// secret is redacted instead.
		for off := 0; ; {
			i := strings.Index(content[off:], secret)
			if i < 0 {
				break
			}
			start, end := off+i, off+i+len(secret)
			result.Findings = append(result.Findings, Finding{
				RuleID:     f.RuleID,
				StartIndex: start,
				EndIndex:   end,
				Line:       strings.Count(content[:start], "\n") + 1,
			})
			result.ByRule[f.RuleID]++
			spans = append(spans, span{start, end})
			off = end
		}
	}

	if len(spans) > 0 {
		result.Scrubbed = redact(content, spans, g.redaction)
	}
	return result
}

func (g *gitleaksScrubber) IsEnabled() bool { return true }

var _ Scrubber = (*gitleaksScrubber)(nil)
