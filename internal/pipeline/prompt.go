package pipeline

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/llmgw/internal/prefilter"
	"github.com/fyrsmithlabs/llmgw/internal/validate"
)

// SelectionSystemPrompt is used for ephemeral sessions created by Enhance.
const SelectionSystemPrompt = "You help enrich documents with authoritative reference material. " +
	"Follow the output format of each request exactly."

func buildSelectionPrompt(text string, candidates []prefilter.Candidate, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Select at most %d reference sources that would most improve the document below.\n", limit)
	b.WriteString("Only choose from the candidate list. Respond with JSON only, in this shape:\n")
	b.WriteString(`{"requests": [{"id": "r1", "source_id": "<candidate id>", "justification": "<one sentence>"}]}`)
	b.WriteString("\nReturn an empty requests array when no candidate is relevant.\n\n")

	b.WriteString("Candidates:\n")
	if len(candidates) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range candidates {
		title := c.Title
		if title == "" {
			title = c.SourceID
		}
		fmt.Fprintf(&b, "- id=%s tier=%d title=%q\n", c.SourceID, c.Tier, title)
	}

	b.WriteString("\nDocument:\n<<<\n")
	b.WriteString(text)
	b.WriteString("\n>>>\n")
	return b.String()
}

// selectedSource is a chosen source with its justification.
type selectedSource struct {
	source        prefilter.Source
	justification string
}

func buildEnhancementPrompt(text string, sources []selectedSource, instructions string) string {
	var b strings.Builder
	b.WriteString("Rewrite the document below, enhancing it with context drawn from the selected sources. ")
	b.WriteString("Keep the original meaning and structure. Respond with the enhanced document only.\n")
	if instructions != "" {
		b.WriteString("\nAdditional instructions:\n")
		b.WriteString(instructions)
		b.WriteString("\n")
	}

	b.WriteString("\nSelected sources:\n")
	if len(sources) == 0 {
		b.WriteString("(none; improve clarity without adding external material)\n")
	}
	for _, s := range sources {
		title := s.source.Title
		if title == "" {
			title = s.source.ID
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", title, s.source.ID, s.justification)
	}

	b.WriteString("\nDocument:\n<<<\n")
	b.WriteString(text)
	b.WriteString("\n>>>\n")
	return b.String()
}

// uniqueSources returns the distinct source ids of selections in order.
func uniqueSources(selections []validate.Selection) []string {
	seen := make(map[string]struct{}, len(selections))
	ids := make([]string, 0, len(selections))
	for _, s := range selections {
		if _, ok := seen[s.SourceID]; ok {
			continue
		}
		seen[s.SourceID] = struct{}{}
		ids = append(ids, s.SourceID)
	}
	return ids
}
