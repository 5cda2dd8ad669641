package provider

import "fmt"

// Vendor API families understood by New.
const (
	TypeAnthropic = "anthropic"
	TypeOpenAI    = "openai"
)

// New creates an adapter for the given API family.
func New(apiType string, opts Options) (Adapter, error) {
	switch apiType {
	case TypeAnthropic:
		return NewAnthropicAdapter(opts)
	case TypeOpenAI, "":
		return NewOpenAIAdapter(opts)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", apiType)
	}
}
