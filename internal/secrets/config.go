package secrets

import (
	"fmt"
	"regexp"
)

const defaultRedaction = "[REDACTED]"

// Detection engines.
const (
	EngineRegex    = "regex"
	EngineGitleaks = "gitleaks"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active.
	Enabled bool `koanf:"enabled"`

	// Engine selects the detector: "regex" (default) runs Rules, "gitleaks"
	// runs the gitleaks default rule set and ignores Rules.
	Engine string `koanf:"engine"`

	// Redaction replaces each detected secret. Default: "[REDACTED]"
	Redaction string `koanf:"redaction"`

	// AllowList holds patterns whose matches are left untouched.
	AllowList []string `koanf:"allow_list"`

	// Rules replace DefaultRules when non-empty.
	Rules []Rule `koanf:"rules"`
}

// Rule is one detection pattern.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`
}

type compiledRule struct {
	id      string
	pattern *regexp.Regexp
}

// DefaultConfig returns an enabled configuration with the default rules.
func DefaultConfig() Config {
	return Config{Enabled: true, Engine: EngineRegex, Redaction: defaultRedaction}
}

func (c Config) compile() ([]compiledRule, []*regexp.Regexp, error) {
	rules := c.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil || r.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %v", r.ID, err)
		}
		compiled = append(compiled, compiledRule{id: r.ID, pattern: re})
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow = append(allow, re)
	}
	return compiled, allow, nil
}
