// Package prefilter ranks candidate reference sources against a text unit
// before they are offered to a model.
//
// Scoring is deterministic. Each source scores
//
//	(tierWeight*tierScore + conceptWeight*conceptScore) / (tierWeight+conceptWeight)
//
// where tierScore rewards authoritative (low) tiers and conceptScore is the
// saturated count of the source's keyword signals found in the text. Ties
// are broken by tier, then by registry order.
package prefilter

import (
	"fmt"
	"sort"
)

// Config configures ranking.
type Config struct {
	// TopK bounds the number of candidates returned. Default: 10
	TopK int
	// TierWeight is the weight of tier priority. Default: 0.6
	TierWeight float64
	// ConceptWeight is the weight of concept overlap. Default: 0.4
	ConceptWeight float64
	// Saturation is the overlap count that earns a full concept score.
	// Default: 3
	Saturation int
	// MaxCapitalizedTerms caps the capitalized-run heuristic. Default: 20
	MaxCapitalizedTerms int
}

// DefaultConfig returns the default ranking configuration.
func DefaultConfig() Config {
	return Config{
		TopK:                10,
		TierWeight:          0.6,
		ConceptWeight:       0.4,
		Saturation:          3,
		MaxCapitalizedTerms: 20,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.TierWeight < 0 || c.ConceptWeight < 0 || c.TierWeight+c.ConceptWeight == 0 {
		c.TierWeight, c.ConceptWeight = d.TierWeight, d.ConceptWeight
	}
	if c.Saturation <= 0 {
		c.Saturation = d.Saturation
	}
	if c.MaxCapitalizedTerms == 0 {
		c.MaxCapitalizedTerms = d.MaxCapitalizedTerms
	}
}

// Candidate is a ranked source.
type Candidate struct {
	SourceID string   `json:"source_id"`
	Title    string   `json:"title"`
	Tier     int      `json:"tier"`
	Score    float64  `json:"score"`
	Matched  []string `json:"matched,omitempty"`
	Index    int      `json:"index"`
}

// Prefilter ranks sources. It holds no per-call state and is safe for
// concurrent use.
type Prefilter struct {
	cfg Config
}

// New creates a prefilter.
func New(cfg Config) *Prefilter {
	cfg.ApplyDefaults()
	return &Prefilter{cfg: cfg}
}

// TopK returns the configured default limit.
func (p *Prefilter) TopK() int { return p.cfg.TopK }

// Rank scores every source in reg against text and returns the top-K.
func (p *Prefilter) Rank(text string, reg *Registry) []Candidate {
	return p.RankK(text, reg, p.cfg.TopK)
}

// RankK is Rank with an explicit limit. k <= 0 returns every candidate.
func (p *Prefilter) RankK(text string, reg *Registry, k int) []Candidate {
	if reg == nil || reg.Len() == 0 {
		return []Candidate{}
	}

	concepts := ExtractConcepts(text, p.cfg.MaxCapitalizedTerms)
	span := reg.maxTier - reg.minTier
	total := p.cfg.TierWeight + p.cfg.ConceptWeight

	out := make([]Candidate, reg.Len())
	for i, src := range reg.sources {
		var matched []string
		for _, signal := range reg.signals[i] {
			if concepts.Contains(signal) {
				matched = append(matched, signal)
			}
		}

		tierScore := 1 - float64(src.Tier-reg.minTier)/float64(span+1)
		overlap := len(matched)
		if overlap > p.cfg.Saturation {
			overlap = p.cfg.Saturation
		}
		conceptScore := float64(overlap) / float64(p.cfg.Saturation)

		out[i] = Candidate{
			SourceID: src.ID,
			Title:    src.Title,
			Tier:     src.Tier,
			Score:    clamp01((p.cfg.TierWeight*tierScore + p.cfg.ConceptWeight*conceptScore) / total),
			Matched:  matched,
			Index:    i,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Index < out[j].Index
	})

	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// IDs returns the source ids of candidates in order.
func IDs(candidates []Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.SourceID
	}
	return ids
}

// String implements fmt.Stringer for log output.
func (c Candidate) String() string {
	return fmt.Sprintf("%s(tier=%d score=%.3f)", c.SourceID, c.Tier, c.Score)
}
