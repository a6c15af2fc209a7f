package secrets

import (
	"fmt"

	"github.com/fyrsmithlabs/eventforge/internal/config"
)

// FromConfig builds the Scrubber selected by cfg. The allowlist file, when
// set, applies to either engine.
func FromConfig(cfg config.ScrubbingConfig) (Scrubber, error) {
	var allow *Allowlist
	if cfg.AllowlistFile != "" {
		var err error
		if allow, err = LoadAllowlist(cfg.AllowlistFile); err != nil {
			return nil, err
		}
	}

	switch cfg.Engine {
	case config.ScrubEngineOff:
		return NoopScrubber{}, nil
	case config.ScrubEngineGitleaks:
		return NewGitleaks(allow, "")
	case config.ScrubEngineRules, "":
		rules := DefaultConfig()
		if allow != nil {
			rules.AllowList = append(rules.AllowList, allow.Regexes...)
		}
		return New(rules)
	default:
		return nil, fmt.Errorf("unknown scrubbing engine %q", cfg.Engine)
	}
}
