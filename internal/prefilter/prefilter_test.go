package prefilter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = "Inflation stayed high this quarter. The Federal Reserve said the central bank " +
	"would keep rates steady while the EU reviewed its own outlook."

func tieredRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry([]Source{
		{ID: "A", Title: "Inflation Report", Tier: 1, Keywords: []string{"inflation"}},
		{ID: "B", Title: "Shipping Review", Tier: 1, Keywords: []string{"container freight"}},
		{ID: "C", Title: "Central Bank Notes", Tier: 2, Keywords: []string{"central bank"}},
	})
	require.NoError(t, err)
	return reg
}

func TestRank_TierDominates(t *testing.T) {
	p := New(Config{TierWeight: 0.9, ConceptWeight: 0.1})
	got := p.Rank(sampleText, tieredRegistry(t))
	assert.Equal(t, []string{"A", "B", "C"}, IDs(got))
}

func TestRank_ConceptDominates(t *testing.T) {
	p := New(Config{TierWeight: 0.2, ConceptWeight: 0.8, Saturation: 1})
	got := p.Rank(sampleText, tieredRegistry(t))
	assert.Equal(t, []string{"A", "C", "B"}, IDs(got))
	assert.Equal(t, []string{"inflation"}, got[0].Matched)
	assert.Empty(t, got[2].Matched)
}

func TestRank_TieBreakLaw(t *testing.T) {
	reg, err := NewRegistry([]Source{
		{ID: "late-tier", Tier: 1, Keywords: []string{"inflation", "unmatched"}},
		{ID: "first", Tier: 0},
		{ID: "second", Tier: 0},
	})
	require.NoError(t, err)

	// late-tier: 0.5*0.5 + 0.5*(1/2) = 0.5; tier-0 sources: 0.5*1 + 0 = 0.5.
	p := New(Config{TierWeight: 0.5, ConceptWeight: 0.5, Saturation: 2})
	got := p.Rank(sampleText, reg)

	require.Len(t, got, 3)
	for _, c := range got {
		assert.InDelta(t, 0.5, c.Score, 1e-12)
	}
	assert.Equal(t, []string{"first", "second", "late-tier"}, IDs(got))
}

func TestRank_Deterministic(t *testing.T) {
	p := New(DefaultConfig())
	reg := tieredRegistry(t)
	first := p.Rank(sampleText, reg)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, p.Rank(sampleText, reg))
	}
}

func TestRank_ScoresInUnitInterval(t *testing.T) {
	sources := make([]Source, 0, 30)
	for i := 0; i < 30; i++ {
		sources = append(sources, Source{
			ID:       string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Tier:     i % 5,
			Keywords: []string{"inflation", "federal reserve", "rates", "outlook"},
		})
	}
	reg, err := NewRegistry(sources)
	require.NoError(t, err)

	for _, cfg := range []Config{
		DefaultConfig(),
		{TierWeight: 5, ConceptWeight: 1, Saturation: 1},
		{TierWeight: 0.01, ConceptWeight: 3, Saturation: 10},
	} {
		for _, c := range New(cfg).RankK(sampleText, reg, 0) {
			assert.GreaterOrEqual(t, c.Score, 0.0)
			assert.LessOrEqual(t, c.Score, 1.0)
		}
	}
}

func TestRank_TopK(t *testing.T) {
	sources := make([]Source, 15)
	for i := range sources {
		sources[i] = Source{ID: string(rune('A' + i)), Tier: 1}
	}
	reg, err := NewRegistry(sources)
	require.NoError(t, err)

	p := New(Config{})
	assert.Len(t, p.Rank("", reg), 10)
	assert.Len(t, p.RankK("", reg, 3), 3)
	assert.Len(t, p.RankK("", reg, 0), 15)
	assert.Empty(t, p.Rank("anything", nil))
}

func TestExtractConcepts(t *testing.T) {
	c := ExtractConcepts(sampleText, 20)

	assert.Contains(t, c.Terms, "inflation")
	assert.NotContains(t, c.Terms, "the")
	assert.Contains(t, c.Terms, "eu", "capitalized runs admit short acronyms")
	assert.Contains(t, c.Capitalized, "federal reserve")

	assert.True(t, c.Contains("central bank"))
	assert.True(t, c.Contains("inflation"))
	assert.False(t, c.Contains("bank central"))
	assert.False(t, c.Contains(""))
}

func TestRank_ShortAndCommonKeywordsMatch(t *testing.T) {
	reg, err := NewRegistry([]Source{
		{ID: "ai", Title: "AI Outlook", Tier: 1, Keywords: []string{"ai"}},
		{ID: "us", Title: "US Economy", Tier: 1, Keywords: []string{"us"}},
		{ID: "none", Title: "Shipping Review", Tier: 1, Keywords: []string{"freight"}},
	})
	require.NoError(t, err)

	p := New(Config{TierWeight: 0.2, ConceptWeight: 0.8, Saturation: 1})
	got := p.Rank("demand for ai chips rose across the us and asia", reg)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"ai", "us", "none"}, IDs(got))
	assert.Equal(t, []string{"ai"}, got[0].Matched)
	assert.Equal(t, []string{"us"}, got[1].Matched)

	c := ExtractConcepts("demand for ai chips", 0)
	assert.NotContains(t, c.Terms, "ai")
	assert.True(t, c.Contains("ai"))
	assert.False(t, c.Contains("chip"), "signals match whole words only")
}

func TestExtractConcepts_CapitalizedCap(t *testing.T) {
	text := "Alpha went home. Beta went home. Gamma went home. Delta went home."
	assert.Len(t, ExtractConcepts(text, 2).Capitalized, 2)
	assert.Empty(t, ExtractConcepts(text, -1).Capitalized)
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry([]Source{{ID: ""}})
	assert.Error(t, err)

	_, err = NewRegistry([]Source{{ID: "x"}, {ID: "x"}})
	assert.Error(t, err)

	_, err = NewRegistry([]Source{{ID: "x", Tier: -1}})
	assert.Error(t, err)

	reg, err := NewRegistry([]Source{{ID: "x", Keywords: []string{"  Interest   Rate ", "interest rate"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"interest rate"}, reg.signals[0])
	s, ok := reg.Lookup("x")
	assert.True(t, ok)
	assert.Equal(t, "x", s.ID)
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	doc := `sources:
  - id: fomc
    title: FOMC Statement
    tier: 1
    keywords: [federal reserve, inflation]
  - id: blog
    title: Market Blog
    tier: 3
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, "fomc", reg.Sources()[0].ID)

	_, err = LoadRegistry(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseRegistry([]byte("sources: [::"))
	assert.Error(t, err)
}
