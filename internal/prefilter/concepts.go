package prefilter

import (
	"strings"
	"unicode"
)

// Concepts are the signals extracted from a text unit.
type Concepts struct {
	// Terms are lowercase word tokens plus the words of capitalized runs.
	Terms map[string]struct{}
	// Capitalized are the capitalized-term runs, lowercased, in first-seen
	// order, e.g. "federal reserve".
	Capitalized []string
	// normalized is the lowercased text with single spaces between words,
	// padded with a leading and trailing space for phrase containment.
	normalized string
}

// ExtractConcepts tokenizes text. maxCapitalized caps the number of distinct
// capitalized runs; values <= 0 disable the heuristic.
func ExtractConcepts(text string, maxCapitalized int) Concepts {
	words := splitWords(text)

	c := Concepts{Terms: make(map[string]struct{}, len(words))}
	lower := make([]string, len(words))
	for i, w := range words {
		lw := strings.ToLower(w)
		lower[i] = lw
		if len(lw) >= 3 && !isStopword(lw) {
			c.Terms[lw] = struct{}{}
		}
	}
	c.normalized = " " + strings.Join(lower, " ") + " "

	if maxCapitalized <= 0 {
		return c
	}

	seen := make(map[string]struct{})
	var run []string
	flush := func() {
		defer func() { run = run[:0] }()
		for len(run) > 0 && isStopword(strings.ToLower(run[0])) {
			run = run[1:]
		}
		for len(run) > 0 && isStopword(strings.ToLower(run[len(run)-1])) {
			run = run[:len(run)-1]
		}
		if len(run) == 0 || len(c.Capitalized) >= maxCapitalized {
			return
		}
		phrase := strings.ToLower(strings.Join(run, " "))
		if _, ok := seen[phrase]; ok {
			return
		}
		seen[phrase] = struct{}{}
		c.Capitalized = append(c.Capitalized, phrase)
		for _, w := range run {
			c.Terms[strings.ToLower(w)] = struct{}{}
		}
	}

	for _, w := range words {
		if isCapitalized(w) {
			run = append(run, w)
			continue
		}
		flush()
	}
	flush()
	return c
}

// Contains reports whether a normalized signal is present, either in the
// term set or as a whole-word run of the text. Registry signals are checked
// against every word, so short or common keywords ("ai", "us") still match
// even though they never enter Terms.
func (c Concepts) Contains(signal string) bool {
	if signal == "" {
		return false
	}
	if _, ok := c.Terms[signal]; ok {
		return true
	}
	return strings.Contains(c.normalized, " "+signal+" ")
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '\''
	})
}

func isCapitalized(w string) bool {
	for _, r := range w {
		return unicode.IsUpper(r)
	}
	return false
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "as": {}, "is": {}, "was": {}, "are": {}, "be": {}, "been": {},
	"being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "could": {}, "should": {}, "may": {},
	"might": {}, "this": {}, "that": {}, "these": {}, "those": {}, "it": {},
	"its": {}, "they": {}, "them": {}, "their": {}, "we": {}, "our": {},
	"you": {}, "your": {}, "he": {}, "she": {}, "his": {}, "her": {}, "not": {},
	"than": {}, "then": {}, "there": {}, "which": {}, "who": {}, "what": {},
	"when": {}, "where": {}, "how": {}, "also": {}, "into": {}, "such": {},
	"can": {}, "all": {}, "any": {}, "more": {}, "most": {}, "other": {},
	"some": {}, "about": {}, "over": {}, "after": {}, "before": {},
}

func isStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}
