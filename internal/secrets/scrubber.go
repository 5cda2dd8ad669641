// Package secrets redacts credentials from text before it leaves the
// process in a prompt.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
)

// Result is the outcome of scrubbing one text.
type Result struct {
	Text string
	// ByRule counts redactions per rule id. Matched values are never kept.
	ByRule map[string]int
}

// Total returns the number of redactions.
func (r Result) Total() int {
	n := 0
	for _, c := range r.ByRule {
		n += c
	}
	return n
}

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(text string) Result
	Enabled() bool
}

// New builds a scrubber from cfg. A disabled config yields Nop.
func New(cfg Config) (Scrubber, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	redaction := cfg.Redaction
	if redaction == "" {
		redaction = defaultRedaction
	}
	switch cfg.Engine {
	case "", EngineRegex:
	case EngineGitleaks:
		return newGitleaksScrubber(cfg, redaction)
	default:
		return nil, fmt.Errorf("unknown secrets engine %q", cfg.Engine)
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	return &regexScrubber{rules: rules, allow: allow, redaction: redaction}, nil
}

type regexScrubber struct {
	rules     []compiledRule
	allow     []*regexp.Regexp
	redaction string
}

type span struct{ start, end int }

// Scrub replaces every match with the redaction string. Overlapping matches
// from different rules collapse into one redaction.
func (s *regexScrubber) Scrub(text string) Result {
	res := Result{Text: text, ByRule: map[string]int{}}

	var spans []span
	for _, r := range s.rules {
		for _, m := range r.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			res.ByRule[r.id]++
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	out := make([]byte, 0, len(text))
	prev := 0
	for _, sp := range merged {
		out = append(out, text[prev:sp.start]...)
		out = append(out, s.redaction...)
		prev = sp.end
	}
	out = append(out, text[prev:]...)
	res.Text = string(out)
	return res
}

func (s *regexScrubber) Enabled() bool { return true }

func (s *regexScrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// Nop returns text unchanged.
type Nop struct{}

func (Nop) Scrub(text string) Result { return Result{Text: text, ByRule: map[string]int{}} }
func (Nop) Enabled() bool            { return false }

var (
	_ Scrubber = (*regexScrubber)(nil)
	_ Scrubber = Nop{}
)
