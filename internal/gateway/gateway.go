// Package gateway is the facade callers use to talk to language-model
// providers: stateful sessions, parallel fan-out and the two-phase
// enhancement pipeline.
package gateway

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/pipeline"
	"github.com/fyrsmithlabs/llmgw/internal/prefilter"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
	"github.com/fyrsmithlabs/llmgw/internal/resilience"
	"github.com/fyrsmithlabs/llmgw/internal/session"
)

const defaultDispatchTimeout = 2 * time.Minute

// Config configures a Gateway.
type Config struct {
	// DispatchTimeout bounds the overall wait of ParallelDispatch.
	// Default: 2m
	DispatchTimeout time.Duration
	// DefaultProvider is used by Enhance when no session or provider is
	// given.
	DefaultProvider string
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Registry *provider.Registry
	Executor *resilience.Executor
	Sessions *session.Manager
	Pipeline *pipeline.Orchestrator
	// Sources is the default source registry for Enhance.
	Sources *prefilter.Registry
	Logger  *zap.Logger
}

// Gateway is safe for concurrent use.
type Gateway struct {
	cfg      Config
	registry *provider.Registry
	executor *resilience.Executor
	sessions *session.Manager
	pipeline *pipeline.Orchestrator
	sources  *prefilter.Registry
	logger   *zap.Logger
}

// New creates a gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	if deps.Registry == nil || deps.Executor == nil || deps.Sessions == nil {
		return nil, errors.New("gateway: registry, executor and sessions are required")
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:      cfg,
		registry: deps.Registry,
		executor: deps.Executor,
		sessions: deps.Sessions,
		pipeline: deps.Pipeline,
		sources:  deps.Sources,
		logger:   logger,
	}, nil
}

// ProviderInfo describes a registered provider.
type ProviderInfo struct {
	Name         string `json:"name"`
	DefaultModel string `json:"default_model"`
}

// Providers lists registered providers in name order.
func (g *Gateway) Providers() []ProviderInfo {
	names := g.registry.Names()
	out := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		a, err := g.registry.Get(name)
		if err != nil {
			continue
		}
		out = append(out, ProviderInfo{Name: name, DefaultModel: a.DefaultModel()})
	}
	return out
}

// CreateSession opens a session against a registered provider. An empty
// model resolves to the provider default.
func (g *Gateway) CreateSession(ctx context.Context, providerName, model, systemPrompt string) (session.Info, error) {
	a, err := g.registry.Get(providerName)
	if err != nil {
		return session.Info{}, err
	}
	if model == "" {
		model = a.DefaultModel()
	}
	info := g.sessions.Create(providerName, model, systemPrompt)
	g.logger.Info("session opened",
		zap.String("session_id", info.ID),
		zap.String("provider", providerName),
		zap.String("model", model),
	)
	return info, nil
}

// Session returns a snapshot of a session.
func (g *Gateway) Session(ctx context.Context, id string) (session.Snapshot, error) {
	return g.sessions.Get(id)
}

// CloseSession ends a session. Later sends fail with session_closed.
func (g *Gateway) CloseSession(ctx context.Context, id string) error {
	if err := g.sessions.Close(id); err != nil {
		return err
	}
	g.logger.Info("session closed", zap.String("session_id", id))
	return nil
}

// Send appends content as a user message, calls the session's provider
// with the full history and appends the reply. A failed call leaves the
// history unchanged.
func (g *Gateway) Send(ctx context.Context, sessionID, content string) (*provider.Response, error) {
	if content == "" {
		return nil, llmerr.New(llmerr.KindInvalidRequest, "message content is empty").WithSession(sessionID)
	}

	var resp *provider.Response
	err := g.sessions.Do(ctx, sessionID, func(snap session.Snapshot) ([]provider.Message, error) {
		user := provider.NewMessage(provider.RoleUser, content)
		adapter, req, err := g.registry.BuildRequest(snap.Provider, snap.Model, append(snap.Messages(), user))
		if err != nil {
			return nil, err
		}
		r, err := g.executor.Execute(ctx, adapter, req)
		if err != nil {
			return nil, err
		}
		resp = r
		return []provider.Message{user, provider.NewMessage(provider.RoleAssistant, r.Content)}, nil
	})
	if err != nil {
		le := llmerr.As(err).WithSession(sessionID)
		g.logger.Warn("send failed",
			zap.String("session_id", sessionID),
			zap.String("kind", string(le.Kind)),
			zap.Error(le),
		)
		return nil, le
	}
	return resp, nil
}

// DispatchResult is the outcome of one ParallelDispatch branch. Exactly one
// of Response and Err is set.
type DispatchResult struct {
	Provider string             `json:"provider"`
	Response *provider.Response `json:"response,omitempty"`
	Err      *llmerr.Error      `json:"-"`
	Latency  time.Duration      `json:"-"`
}

// ParallelDispatch sends msgs to every named provider concurrently. One
// failing branch never cancels its siblings. Branches still running when
// the overall wait expires are reported as timeouts. The returned error is
// non-nil only when every branch failed; the map is returned either way.
func (g *Gateway) ParallelDispatch(ctx context.Context, providers []string, msgs []provider.Message) (map[string]DispatchResult, error) {
	names := dedupe(providers)
	if len(names) == 0 {
		return nil, llmerr.New(llmerr.KindInvalidRequest, "no providers given")
	}

	dctx, cancel := context.WithTimeout(ctx, g.cfg.DispatchTimeout)
	defer cancel()

	ch := make(chan DispatchResult, len(names))
	for _, name := range names {
		go func(name string) {
			ch <- g.dispatchOne(dctx, name, msgs)
		}(name)
	}

	results := make(map[string]DispatchResult, len(names))
	for len(results) < len(names) {
		select {
		case r := <-ch:
			results[r.Provider] = r
		case <-dctx.Done():
			for _, name := range names {
				if _, done := results[name]; !done {
					results[name] = DispatchResult{
						Provider: name,
						Err:      llmerr.As(dctx.Err()).WithProvider(name),
					}
				}
			}
		}
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	g.logger.Info("parallel dispatch finished",
		zap.Int("providers", len(names)),
		zap.Int("failed", failed),
	)
	if failed == len(names) {
		return results, llmerr.New(llmerr.KindAllProvidersFailed, "all %d providers failed", len(names))
	}
	return results, nil
}

func (g *Gateway) dispatchOne(ctx context.Context, name string, msgs []provider.Message) DispatchResult {
	start := time.Now()
	adapter, req, err := g.registry.BuildRequest(name, "", msgs)
	if err != nil {
		return DispatchResult{Provider: name, Err: llmerr.As(err).WithProvider(name)}
	}
	resp, err := g.executor.Execute(ctx, adapter, req)
	if err != nil {
		return DispatchResult{Provider: name, Err: llmerr.As(err).WithProvider(name), Latency: time.Since(start)}
	}
	return DispatchResult{Provider: name, Response: resp, Latency: time.Since(start)}
}

// EnhanceRequest is the input of Enhance.
type EnhanceRequest struct {
	// SessionID runs the pipeline on an existing session. When empty an
	// ephemeral session is opened on Provider and closed afterwards.
	SessionID    string
	Provider     string
	Model        string
	Text         string
	Instructions string
	// Sources overrides the gateway's default source registry.
	Sources *prefilter.Registry
}

// Enhance runs the selection and enhancement pipeline.
func (g *Gateway) Enhance(ctx context.Context, req EnhanceRequest) (*pipeline.Result, error) {
	if g.pipeline == nil {
		return nil, llmerr.New(llmerr.KindInvalidRequest, "enhancement pipeline is not configured")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		providerName := req.Provider
		if providerName == "" {
			providerName = g.cfg.DefaultProvider
		}
		if providerName == "" {
			if names := g.registry.Names(); len(names) > 0 {
				providerName = names[0]
			}
		}
		info, err := g.CreateSession(ctx, providerName, req.Model, pipeline.SelectionSystemPrompt)
		if err != nil {
			return nil, err
		}
		sessionID = info.ID
		defer func() {
			if err := g.sessions.Close(sessionID); err != nil {
				g.logger.Debug("closing ephemeral session", zap.String("session_id", sessionID), zap.Error(err))
			}
		}()
	}

	sources := req.Sources
	if sources == nil {
		sources = g.sources
	}
	return g.pipeline.Run(ctx, pipeline.Request{
		SessionID:    sessionID,
		Text:         req.Text,
		Sources:      sources,
		Instructions: req.Instructions,
	})
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
