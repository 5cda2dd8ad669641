// Package validate checks model responses for completeness and structure.
//
// Validation is two-step. The transport finish reason is checked first: a
// truncated or otherwise incomplete response is never parsed. Only a
// response that stopped normally is checked structurally against the shape
// its phase requires.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
)

// Phase identifies a pipeline phase.
type Phase string

const (
	PhaseSelection   Phase = "selection"
	PhaseEnhancement Phase = "enhancement"
)

// Selection is one source request from a selection response.
type Selection struct {
	ID            string `json:"id"`
	SourceID      string `json:"source_id"`
	Justification string `json:"justification"`
}

// Result is the outcome of validating one response.
type Result struct {
	Valid bool
	// Kind is set when Valid is false.
	Kind llmerr.Kind
	// Field names the offending field of a structural failure.
	Field string
	// Index is the offending request object, or -1.
	Index   int
	Message string
	// Selections are the parsed requests of a valid selection response.
	Selections []Selection
}

// Err returns the result as an *llmerr.Error, or nil when valid.
func (r Result) Err() *llmerr.Error {
	if r.Valid {
		return nil
	}
	e := llmerr.New(r.Kind, "%s", r.Message)
	e.Field = r.Field
	return e
}

// Options tune validation.
type Options struct {
	// AllowedSources, when non-nil, restricts selection source ids. An
	// empty non-nil list admits none.
	AllowedSources []string
}

func ok() Result { return Result{Valid: true, Index: -1} }

func fail(kind llmerr.Kind, field string, index int, format string, args ...any) Result {
	return Result{Kind: kind, Field: field, Index: index, Message: fmt.Sprintf(format, args...)}
}

// Check validates a response for phase.
func Check(phase Phase, resp *provider.Response, opts Options) Result {
	if resp == nil {
		return fail(llmerr.KindIncomplete, "", -1, "no response")
	}
	switch resp.FinishReason {
	case provider.FinishStop:
	case provider.FinishLength:
		return fail(llmerr.KindTruncated, "", -1, "response truncated at max output tokens")
	default:
		return fail(llmerr.KindIncomplete, "", -1, "response ended with finish reason %q", resp.FinishReason)
	}

	switch phase {
	case PhaseSelection:
		return checkSelection(resp.Content, opts)
	case PhaseEnhancement:
		return checkEnhancement(resp.Content)
	default:
		return fail(llmerr.KindStructural, "", -1, "unknown phase %q", phase)
	}
}

func checkSelection(content string, opts Options) Result {
	body := stripFence(content)
	if body == "" {
		return fail(llmerr.KindStructural, "requests", -1, "selection response is empty")
	}

	var raw []json.RawMessage
	trimmed := bytes.TrimSpace([]byte(body))
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fail(llmerr.KindStructural, "requests", -1, "selection is not valid JSON: %v", err)
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var wrapper struct {
			Requests *[]json.RawMessage `json:"requests"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return fail(llmerr.KindStructural, "requests", -1, "selection is not valid JSON: %v", err)
		}
		if wrapper.Requests == nil {
			return fail(llmerr.KindStructural, "requests", -1, "selection object has no requests array")
		}
		raw = *wrapper.Requests
	default:
		return fail(llmerr.KindStructural, "requests", -1, "selection must be a JSON array or object")
	}

	restrict := opts.AllowedSources != nil
	allowed := make(map[string]struct{}, len(opts.AllowedSources))
	for _, id := range opts.AllowedSources {
		allowed[id] = struct{}{}
	}

	selections := make([]Selection, 0, len(raw))
	for i, item := range raw {
		var fields map[string]any
		if err := json.Unmarshal(item, &fields); err != nil {
			return fail(llmerr.KindStructural, "requests", i, "request %d is not an object", i)
		}
		var s Selection
		for _, f := range []struct {
			name string
			dst  *string
		}{
			{"id", &s.ID},
			{"source_id", &s.SourceID},
			{"justification", &s.Justification},
		} {
			v, present := fields[f.name]
			if !present {
				return fail(llmerr.KindStructural, f.name, i, "request %d is missing %s", i, f.name)
			}
			str, isString := v.(string)
			if !isString {
				return fail(llmerr.KindStructural, f.name, i, "request %d has non-string %s", i, f.name)
			}
			if strings.TrimSpace(str) == "" {
				return fail(llmerr.KindStructural, f.name, i, "request %d has empty %s", i, f.name)
			}
			*f.dst = str
		}
		if restrict {
			if _, known := allowed[s.SourceID]; !known {
				return fail(llmerr.KindStructural, "source_id", i, "request %d references unknown source %q", i, s.SourceID)
			}
		}
		selections = append(selections, s)
	}

	r := ok()
	r.Selections = selections
	return r
}

func checkEnhancement(content string) Result {
	if strings.TrimSpace(content) == "" {
		return fail(llmerr.KindStructural, "content", -1, "enhanced text is empty")
	}
	if !utf8.ValidString(content) {
		return fail(llmerr.KindStructural, "content", -1, "enhanced text is not valid UTF-8")
	}
	if strings.Count(content, "```")%2 != 0 {
		return fail(llmerr.KindStructural, "content", -1, "enhanced text has an unterminated code fence")
	}
	if isErrorEnvelope(content) {
		return fail(llmerr.KindStructural, "content", -1, "enhanced text is an error payload")
	}
	return ok()
}

// isErrorEnvelope detects a bare {"error": ...} JSON object returned in
// place of prose.
func isErrorEnvelope(content string) bool {
	t := strings.TrimSpace(content)
	if !strings.HasPrefix(t, "{") {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(t), &obj); err != nil {
		return false
	}
	_, has := obj["error"]
	return has
}

// stripFence removes a surrounding ``` fence (with optional language tag).
func stripFence(content string) string {
	t := strings.TrimSpace(content)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		return ""
	}
	if end := strings.LastIndex(t, "```"); end >= 0 {
		t = t[:end]
	}
	return strings.TrimSpace(t)
}
