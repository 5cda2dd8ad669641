// Package providertest provides a scriptable provider.Adapter for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
)

// Step is one scripted outcome.
type Step struct {
	Response *provider.Response
	Err      error
}

// Reply is a convenience Step for a response with the given content and
// finish reason.
func Reply(content string, finish provider.FinishReason) Step {
	return Step{Response: &provider.Response{
		Content:      content,
		FinishReason: finish,
		Usage:        provider.Usage{InputTokens: 10, OutputTokens: provider.EstimateTokens(content)},
	}}
}

// Fail is a convenience Step that returns an error of the given kind.
func Fail(kind llmerr.Kind) Step {
	return Step{Err: llmerr.New(kind, "scripted failure")}
}

// Adapter replays scripted steps in order. When the script is exhausted the
// last step repeats. SendFunc, when set, takes precedence over the script.
type Adapter struct {
	ProviderName string
	Model        string
	SendFunc     func(ctx context.Context, req *provider.Request) (*provider.Response, error)

	mu       sync.Mutex
	script   []Step
	requests []*provider.Request
}

// New creates a fake adapter named name with the given script.
func New(name string, steps ...Step) *Adapter {
	return &Adapter{ProviderName: name, Model: name + "-model", script: steps}
}

func (a *Adapter) Name() string         { return a.ProviderName }
func (a *Adapter) DefaultModel() string { return a.Model }

// Send records the request and returns the next scripted outcome.
func (a *Adapter) Send(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	a.mu.Lock()
	a.requests = append(a.requests, cloneRequest(req))
	var step Step
	switch {
	case a.SendFunc != nil:
	case len(a.script) == 0:
		step = Reply("ok", provider.FinishStop)
	case len(a.script) == 1:
		step = a.script[0]
	default:
		step = a.script[0]
		a.script = a.script[1:]
	}
	fn := a.SendFunc
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, llmerr.As(err).WithProvider(a.ProviderName)
	}
	if step.Err != nil {
		if le := llmerr.As(step.Err); le != nil {
			return nil, le.WithProvider(a.ProviderName)
		}
		return nil, step.Err
	}
	resp := *step.Response
	resp.Provider = a.ProviderName
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Requests returns copies of every request received so far.
func (a *Adapter) Requests() []*provider.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*provider.Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Calls returns the number of Send calls so far.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func cloneRequest(req *provider.Request) *provider.Request {
	c := *req
	c.Messages = append([]provider.Message(nil), req.Messages...)
	return &c
}

var _ provider.Adapter = (*Adapter)(nil)
