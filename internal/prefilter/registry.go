package prefilter

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxRegistryFileSize bounds registry files read from disk.
const maxRegistryFileSize = 4 * 1024 * 1024

// Source is one candidate reference in a registry.
type Source struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	// Tier is the authority class. Lower is more authoritative.
	Tier     int      `yaml:"tier" json:"tier"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Registry is an ordered, immutable set of sources. Order is significant: it
// is the final tie-breaker when ranking.
type Registry struct {
	sources []Source
	signals [][]string
	index   map[string]int
	minTier int
	maxTier int
}

type registryFile struct {
	Sources []Source `yaml:"sources"`
}

// NewRegistry validates sources and builds a registry. Source ids must be
// unique and non-empty; tiers must be non-negative.
func NewRegistry(sources []Source) (*Registry, error) {
	r := &Registry{
		sources: make([]Source, len(sources)),
		signals: make([][]string, len(sources)),
		index:   make(map[string]int, len(sources)),
	}
	for i, s := range sources {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, fmt.Errorf("source %d: id is required", i)
		}
		if s.Tier < 0 {
			return nil, fmt.Errorf("source %q: tier must be non-negative", s.ID)
		}
		if _, dup := r.index[s.ID]; dup {
			return nil, fmt.Errorf("source %q: duplicate id", s.ID)
		}
		s.Keywords = append([]string(nil), s.Keywords...)
		r.sources[i] = s
		r.signals[i] = normalizeSignals(s.Keywords)
		r.index[s.ID] = i

		if i == 0 || s.Tier < r.minTier {
			r.minTier = s.Tier
		}
		if i == 0 || s.Tier > r.maxTier {
			r.maxTier = s.Tier
		}
	}
	return r, nil
}

// ParseRegistry decodes a YAML registry document of the form
//
//	sources:
//	  - id: fomc-statement
//	    title: FOMC Statement
//	    tier: 1
//	    keywords: [federal funds rate, inflation]
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	return NewRegistry(f.Sources)
}

// LoadRegistry reads and parses a YAML registry file.
func LoadRegistry(path string) (*Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if info.Size() > maxRegistryFileSize {
		return nil, fmt.Errorf("registry file too large: %d bytes (max %d)", info.Size(), maxRegistryFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Len returns the number of sources.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sources)
}

// Sources returns a copy of the sources in registry order.
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Lookup returns the source with the given id.
func (r *Registry) Lookup(id string) (Source, bool) {
	if r == nil {
		return Source{}, false
	}
	i, ok := r.index[id]
	if !ok {
		return Source{}, false
	}
	return r.sources[i], true
}

// normalizeSignals lowercases keywords, collapses whitespace and drops
// duplicates while keeping first-seen order.
func normalizeSignals(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.Join(strings.Fields(strings.ToLower(k)), " ")
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
