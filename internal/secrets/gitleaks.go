package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// gitleaksScrubber redacts findings of the gitleaks default rule set.
type gitleaksScrubber struct {
	mu        sync.Mutex
	detector  *detect.Detector
	redaction string
}

func newGitleaksScrubber(cfg Config, redaction string) (*gitleaksScrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if len(cfg.AllowList) > 0 {
		allow := &gitleaksConfig.Allowlist{Description: "llmgw allow_list"}
		for i, p := range cfg.AllowList {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
			}
			allow.Regexes = append(allow.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, allow)
	}
	return &gitleaksScrubber{detector: detector, redaction: redaction}, nil
}

// Scrub replaces every detected secret value with the redaction string.
func (s *gitleaksScrubber) Scrub(text string) Result {
	res := Result{Text: text, ByRule: map[string]int{}}

	s.mu.Lock()
	findings := s.detector.DetectString(text)
	s.mu.Unlock()
	if len(findings) == 0 {
		return res
	}

	values := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		res.ByRule[f.RuleID]++
		values = append(values, f.Secret)
	}
	// Longest first so a secret containing another is replaced whole.
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	for _, sec := range values {
		res.Text = strings.ReplaceAll(res.Text, sec, s.redaction)
	}
	return res
}

func (s *gitleaksScrubber) Enabled() bool { return true }

var _ Scrubber = (*gitleaksScrubber)(nil)
