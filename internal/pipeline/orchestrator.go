// Package pipeline drives the two-phase enhancement workflow.
//
// A run first asks the model to SELECT reference sources from a prefiltered
// candidate set, then asks it to ENHANCE the document with the chosen
// sources. A truncated selection is retried with a tighter candidate limit
// taken from the constraint ladder; a truncated enhancement fails the run
// immediately. Truncated or invalid attempts never reach session history or
// the cache; only validated exchanges are appended and stored.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/llmgw/internal/cache"
	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/prefilter"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
	"github.com/fyrsmithlabs/llmgw/internal/resilience"
	"github.com/fyrsmithlabs/llmgw/internal/secrets"
	"github.com/fyrsmithlabs/llmgw/internal/session"
	"github.com/fyrsmithlabs/llmgw/internal/validate"
)

// Config configures the orchestrator.
type Config struct {
	// ConstraintLadder is the strictly decreasing sequence of candidate
	// limits tried on successive truncated selections. Default: [10, 5, 3]
	ConstraintLadder []int
	// MaxSelectionAttempts bounds selection attempts. Default: 3
	MaxSelectionAttempts int
	// MaxInputChars caps document text before prompting. Default: 100000
	MaxInputChars int
	// SelectionTTL is the cache lifetime of selections. Default: 24h
	SelectionTTL time.Duration
	// EnhancementTTL is the cache lifetime of enhancements. Default: 1h
	EnhancementTTL time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		ConstraintLadder:     []int{10, 5, 3},
		MaxSelectionAttempts: 3,
		MaxInputChars:        100_000,
		SelectionTTL:         24 * time.Hour,
		EnhancementTTL:       time.Hour,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if len(c.ConstraintLadder) == 0 {
		c.ConstraintLadder = d.ConstraintLadder
	}
	if c.MaxSelectionAttempts <= 0 {
		c.MaxSelectionAttempts = d.MaxSelectionAttempts
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = d.MaxInputChars
	}
	if c.SelectionTTL <= 0 {
		c.SelectionTTL = d.SelectionTTL
	}
	if c.EnhancementTTL <= 0 {
		c.EnhancementTTL = d.EnhancementTTL
	}
}

// Validate checks the ladder is positive and strictly decreasing.
func (c Config) Validate() error {
	for i, v := range c.ConstraintLadder {
		if v <= 0 {
			return fmt.Errorf("constraint ladder value %d must be positive", v)
		}
		if i > 0 && v >= c.ConstraintLadder[i-1] {
			return fmt.Errorf("constraint ladder must be strictly decreasing: %v", c.ConstraintLadder)
		}
	}
	return nil
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Registry  *provider.Registry
	Executor  *resilience.Executor
	Sessions  *session.Manager
	Prefilter *prefilter.Prefilter
	// Cache is optional; without it nothing is cached.
	Cache *cache.Cache
	// Scrubber is optional; without it text is sent as given.
	Scrubber secrets.Scrubber
	Logger   *zap.Logger
	Metrics  *Metrics
	Tracer   trace.Tracer
}

// Status is the final outcome of a run.
type Status string

const (
	StatusDone   Status = "DONE"
	StatusFailed Status = "FAILED"
)

// Attempt traces one model exchange.
type Attempt struct {
	Phase        validate.Phase        `json:"phase"`
	Limit        int                   `json:"limit"`
	CacheHit     bool                  `json:"cache_hit"`
	FinishReason provider.FinishReason `json:"finish_reason,omitempty"`
	ErrorKind    llmerr.Kind           `json:"error_kind,omitempty"`
}

// Result is the output of a run.
type Result struct {
	SessionID         string                `json:"session_id"`
	Status            Status                `json:"status"`
	SelectedSourceIDs []string              `json:"selected_source_ids"`
	Selections        []validate.Selection  `json:"selections"`
	Candidates        []prefilter.Candidate `json:"candidates,omitempty"`
	EnhancedText      string                `json:"enhanced_text,omitempty"`
	ErrorKind         llmerr.Kind           `json:"error_kind,omitempty"`
	Error             string                `json:"error,omitempty"`
	ErrorField        string                `json:"error_field,omitempty"`
	Attempts          []Attempt             `json:"attempts"`
	Transitions       []State               `json:"transitions"`
}

// Request is the input of a run.
type Request struct {
	SessionID string
	Text      string
	Sources   *prefilter.Registry
	// Instructions are optional extra guidance for the enhancement phase.
	Instructions string
}

// Orchestrator runs the selection and enhancement phases.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil || deps.Executor == nil || deps.Sessions == nil || deps.Prefilter == nil {
		return nil, errors.New("pipeline: registry, executor, sessions and prefilter are required")
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(cache.NopStore{}, deps.Logger)
	}
	if deps.Scrubber == nil {
		deps.Scrubber = secrets.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = Tracer()
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: deps.Logger}, nil
}

// cachedExchange is the cached form of a validated response.
type cachedExchange struct {
	Content      string                `json:"content"`
	FinishReason provider.FinishReason `json:"finish_reason"`
	Model        string                `json:"model"`
	Usage        provider.Usage        `json:"usage"`
}

// rejected carries a validation failure out of a cache compute so the
// response is neither cached nor appended.
type rejected struct {
	result validate.Result
}

func (r *rejected) Error() string { return r.result.Message }

// phaseCall is one exchange within a phase.
type phaseCall struct {
	phase     validate.Phase
	limit     int
	prompt    string
	key       string
	ttl       time.Duration
	validated validate.Options
}

type phaseOutcome struct {
	attempt    Attempt
	validation validate.Result
	content    string
}

// Run executes both phases against the session. The returned Result is
// always populated; the error is non-nil exactly when Status is FAILED.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := o.deps.Tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.String("session_id", req.SessionID)))
	defer span.End()

	m := newMachine()
	res := &Result{SessionID: req.SessionID, Selections: []validate.Selection{}, SelectedSourceIDs: []string{}}
	log := o.log.With(zap.String("session_id", req.SessionID))

	finish := func(err *llmerr.Error) (*Result, error) {
		if err != nil {
			m.fail()
			err = err.WithSession(req.SessionID)
			res.Status = StatusFailed
			res.ErrorKind = err.Kind
			res.Error = err.Error()
			res.ErrorField = err.Field
			span.RecordError(err)
			span.SetStatus(codes.Error, string(err.Kind))
			log.Warn("pipeline run failed", zap.String("kind", string(err.Kind)), zap.Error(err))
		} else {
			res.Status = StatusDone
			span.SetStatus(codes.Ok, "")
			log.Info("pipeline run completed",
				zap.Int("attempts", len(res.Attempts)),
				zap.Strings("selected", res.SelectedSourceIDs),
			)
		}
		res.Transitions = append([]State(nil), m.trace...)
		o.deps.Metrics.recordRun(ctx, res, time.Since(start))
		if err != nil {
			return res, err
		}
		return res, nil
	}

	snap, err := o.deps.Sessions.Get(req.SessionID)
	if err != nil {
		return finish(llmerr.As(err))
	}
	text := o.prepareText(req.Text)
	if strings.TrimSpace(text) == "" {
		return finish(llmerr.New(llmerr.KindInvalidRequest, "document text is empty"))
	}
	span.SetAttributes(
		attribute.String("provider", snap.Provider),
		attribute.String("model", snap.Model),
		attribute.Int("text_chars", len(text)),
	)

	candidates := o.deps.Prefilter.Rank(text, req.Sources)
	res.Candidates = candidates

	// SELECTION
	selections, ferr := o.selectSources(ctx, m, res, snap, text, candidates)
	if ferr != nil {
		return finish(ferr)
	}
	res.Selections = selections
	res.SelectedSourceIDs = uniqueSources(selections)

	// ENHANCEMENT
	if err := m.to(StateEnhancing); err != nil {
		return finish(llmerr.Wrap(llmerr.KindInvalidRequest, err, "pipeline state"))
	}
	sources := make([]selectedSource, 0, len(selections))
	seen := map[string]struct{}{}
	for _, s := range selections {
		if _, dup := seen[s.SourceID]; dup {
			continue
		}
		seen[s.SourceID] = struct{}{}
		src, _ := req.Sources.Lookup(s.SourceID)
		if src.ID == "" {
			src.ID = s.SourceID
		}
		sources = append(sources, selectedSource{source: src, justification: s.Justification})
	}

	call := phaseCall{
		phase:  validate.PhaseEnhancement,
		limit:  len(sources),
		prompt: buildEnhancementPrompt(text, sources, req.Instructions),
		ttl:    o.cfg.EnhancementTTL,
	}
	call.key = cache.Key(string(call.phase), call.limit,
		snap.Provider, snap.Model, text, strings.Join(res.SelectedSourceIDs, "\x1f"), req.Instructions)

	out, err := o.exchange(ctx, req.SessionID, call)
	if out != nil {
		res.Attempts = append(res.Attempts, out.attempt)
	}
	if err != nil {
		return finish(llmerr.As(err))
	}
	if err := m.to(StateValidatingEnhancement); err != nil {
		return finish(llmerr.Wrap(llmerr.KindInvalidRequest, err, "pipeline state"))
	}
	if v := out.validation; !v.Valid {
		if v.Kind == llmerr.KindTruncated {
			return finish(llmerr.New(llmerr.KindTruncatedEnhancement, "enhancement truncated; not retried"))
		}
		return finish(v.Err())
	}

	res.EnhancedText = out.content
	if err := m.to(StateDone); err != nil {
		return finish(llmerr.Wrap(llmerr.KindInvalidRequest, err, "pipeline state"))
	}
	return finish(nil)
}

// selectSources walks the constraint ladder until a selection validates.
func (o *Orchestrator) selectSources(ctx context.Context, m *machine, res *Result, snap session.Snapshot, text string, candidates []prefilter.Candidate) ([]validate.Selection, *llmerr.Error) {
	ladder := o.cfg.ConstraintLadder
	maxAttempts := len(ladder)
	if o.cfg.MaxSelectionAttempts < maxAttempts {
		maxAttempts = o.cfg.MaxSelectionAttempts
	}

	for i := 0; i < maxAttempts; i++ {
		limit := ladder[i]
		offered := candidates
		if len(offered) > limit {
			offered = offered[:limit]
		}
		ids := prefilter.IDs(offered)

		call := phaseCall{
			phase:     validate.PhaseSelection,
			limit:     limit,
			prompt:    buildSelectionPrompt(text, offered, limit),
			ttl:       o.cfg.SelectionTTL,
			validated: validate.Options{AllowedSources: ids},
		}
		call.key = cache.Key(string(call.phase), limit, snap.Provider, snap.Model, text, strings.Join(ids, "\x1f"))

		out, err := o.exchange(ctx, snap.ID, call)
		if out != nil {
			res.Attempts = append(res.Attempts, out.attempt)
		}
		if err != nil {
			return nil, llmerr.As(err)
		}
		if err := m.to(StateValidatingSelection); err != nil {
			return nil, llmerr.Wrap(llmerr.KindInvalidRequest, err, "pipeline state")
		}

		v := out.validation
		switch {
		case v.Valid:
			return v.Selections, nil
		case v.Kind == llmerr.KindTruncated:
			if i+1 >= maxAttempts {
				return nil, llmerr.New(llmerr.KindTruncationExceeded,
					"selection truncated on all %d attempts (last limit %d)", i+1, limit)
			}
			o.log.Info("selection truncated; tightening candidate limit",
				zap.String("session_id", snap.ID),
				zap.Int("limit", limit),
				zap.Int("next_limit", ladder[i+1]),
			)
			if err := m.to(StateConstraining); err != nil {
				return nil, llmerr.Wrap(llmerr.KindInvalidRequest, err, "pipeline state")
			}
			if err := m.to(StateSelecting); err != nil {
				return nil, llmerr.Wrap(llmerr.KindInvalidRequest, err, "pipeline state")
			}
		default:
			return nil, v.Err()
		}
	}
	return nil, llmerr.New(llmerr.KindTruncationExceeded, "selection attempts exhausted")
}

// exchange performs one serialized session exchange, consulting the cache
// first. A validated response is cached and appended to history; a rejected
// one is returned in the outcome without touching either. The error is
// reserved for transport and session failures.
func (o *Orchestrator) exchange(ctx context.Context, sessionID string, call phaseCall) (*phaseOutcome, error) {
	ctx, span := o.deps.Tracer.Start(ctx, "pipeline."+string(call.phase),
		trace.WithAttributes(attribute.Int("limit", call.limit)))
	defer span.End()

	out := &phaseOutcome{attempt: Attempt{Phase: call.phase, Limit: call.limit}}
	userMsg := provider.NewMessage(provider.RoleUser, call.prompt)

	err := o.deps.Sessions.Do(ctx, sessionID, func(snap session.Snapshot) ([]provider.Message, error) {
		compute := func(ctx context.Context) ([]byte, error) {
			adapter, req, err := o.deps.Registry.BuildRequest(snap.Provider, snap.Model, append(snap.Messages(), userMsg))
			if err != nil {
				return nil, err
			}
			resp, err := o.deps.Executor.Execute(ctx, adapter, req)
			if err != nil {
				return nil, err
			}
			out.attempt.FinishReason = resp.FinishReason
			if v := validate.Check(call.phase, resp, call.validated); !v.Valid {
				return nil, &rejected{result: v}
			}
			return json.Marshal(cachedExchange{
				Content:      resp.Content,
				FinishReason: resp.FinishReason,
				Model:        resp.Model,
				Usage:        resp.Usage,
			})
		}

		var ce cachedExchange
		data, outcome, err := o.deps.Cache.Fetch(ctx, call.key, call.ttl, compute)
		if err == nil {
			if derr := json.Unmarshal(data, &ce); derr != nil {
				// An intact envelope holding a foreign payload is a miss.
				o.log.Warn("discarding undecodable cache entry",
					zap.String("phase", string(call.phase)), zap.String("key", call.key), zap.Error(derr))
				_ = o.deps.Cache.Delete(ctx, call.key)
				outcome = cache.OutcomeMiss
				data, err = compute(ctx)
				if err == nil {
					if serr := o.deps.Cache.Set(ctx, call.key, data, call.ttl); serr != nil {
						o.log.Warn("cache set failed", zap.String("key", call.key), zap.Error(serr))
					}
					if derr := json.Unmarshal(data, &ce); derr != nil {
						err = llmerr.Wrap(llmerr.KindCacheCorruption, derr, "decoding exchange")
					}
				}
			}
		}

		var rej *rejected
		if errors.As(err, &rej) {
			out.validation = rej.result
			out.attempt.ErrorKind = rej.result.Kind
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		out.attempt.CacheHit = outcome == cache.OutcomeHit
		out.attempt.FinishReason = ce.FinishReason

		v := validate.Check(call.phase, &provider.Response{Content: ce.Content, FinishReason: ce.FinishReason}, call.validated)
		out.validation = v
		out.content = ce.Content
		if !v.Valid {
			// A stored entry that no longer validates is dropped, never appended.
			_ = o.deps.Cache.Delete(ctx, call.key)
			out.attempt.ErrorKind = v.Kind
			return nil, nil
		}
		return []provider.Message{userMsg, provider.NewMessage(provider.RoleAssistant, ce.Content)}, nil
	})

	span.SetAttributes(
		attribute.Bool("cache_hit", out.attempt.CacheHit),
		attribute.String("finish_reason", string(out.attempt.FinishReason)),
	)
	if err != nil {
		le := llmerr.As(err)
		out.attempt.ErrorKind = le.Kind
		span.RecordError(le)
		span.SetStatus(codes.Error, string(le.Kind))
		o.deps.Metrics.recordAttempt(ctx, out.attempt)
		return out, le
	}
	o.deps.Metrics.recordAttempt(ctx, out.attempt)
	return out, nil
}

// prepareText scrubs secrets and caps the text length on a rune boundary.
func (o *Orchestrator) prepareText(text string) string {
	scrubbed := o.deps.Scrubber.Scrub(text)
	if n := scrubbed.Total(); n > 0 {
		o.log.Info("redacted secrets from document text", zap.Int("count", n))
	}
	text = scrubbed.Text
	if len(text) <= o.cfg.MaxInputChars {
		return text
	}
	runes := []rune(text)
	if len(runes) > o.cfg.MaxInputChars {
		text = string(runes[:o.cfg.MaxInputChars])
	}
	return text
}
