// Package session holds conversation sessions in memory.
//
// A session's history is append-only and at most one send runs against a
// session at a time. Senders wait for the per-session lock under their own
// context, so a caller whose deadline passes gives up instead of queuing
// forever. Idle sessions expire lazily on access and, when the janitor is
// running, in the background. A session is never evicted while a send holds
// or waits for its lock.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
)

// Config configures a Manager.
type Config struct {
	// IdleTTL expires sessions with no activity for this long. Zero
	// disables expiry.
	IdleTTL time.Duration
	// SweepInterval is the janitor period. Default: IdleTTL/2
	SweepInterval time.Duration
	// TombstoneTTL is how long a swept session's id keeps reporting closed
	// or expired before it reads as not found. Default: 24h
	TombstoneTTL time.Duration
}

// Info describes a session.
type Info struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	Info
	History []provider.Message `json:"history"`
}

// Messages returns the request message list: the system prompt, when set,
// followed by the history.
func (s Snapshot) Messages() []provider.Message {
	out := make([]provider.Message, 0, len(s.History)+1)
	if s.SystemPrompt != "" {
		out = append(out, provider.NewMessage(provider.RoleSystem, s.SystemPrompt))
	}
	return append(out, s.History...)
}

type state int

const (
	stateActive state = iota
	stateClosed
	stateExpired
)

type session struct {
	id       string
	provider string
	model    string
	system   string
	created  time.Time
	lock     chan struct{}

	// Guarded by Manager.mu.
	state      state
	history    []provider.Message
	lastActive time.Time
	endedAt    time.Time
	busy       int
}

// Manager owns all sessions. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	ended    map[string]tombstone
}

// tombstone remembers how a forgotten session ended.
type tombstone struct {
	state state
	at    time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager.
func NewManager(cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 && cfg.IdleTTL > 0 {
		cfg.SweepInterval = cfg.IdleTTL / 2
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = 24 * time.Hour
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
		ended:    make(map[string]tombstone),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new session.
func (m *Manager) Create(providerName, model, systemPrompt string) Info {
	now := m.now()
	s := &session{
		id:         uuid.NewString(),
		provider:   providerName,
		model:      model,
		system:     systemPrompt,
		created:    now,
		lock:       make(chan struct{}, 1),
		lastActive: now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	info := s.info()
	m.mu.Unlock()

	m.logger.Debug("session created",
		zap.String("session_id", s.id),
		zap.String("provider", providerName),
		zap.String("model", model),
	)
	return info
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookupLocked(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Do runs fn with exclusive access to the session. fn receives a snapshot
// and returns the messages to append; nil appends nothing. If fn fails the
// history is left untouched.
func (m *Manager) Do(ctx context.Context, id string, fn func(Snapshot) ([]provider.Message, error)) error {
	s, err := m.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer m.release(s)

	m.mu.Lock()
	if s.state != stateActive {
		err := s.endedErr()
		m.mu.Unlock()
		return err
	}
	snap := s.snapshot()
	m.mu.Unlock()

	msgs, err := fn(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.state != stateActive {
		return s.endedErr()
	}
	s.history = append(s.history, msgs...)
	s.lastActive = m.now()
	return nil
}

// Close ends a session. Closing a closed session is a no-op.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		if _, gone := m.ended[id]; gone {
			return nil
		}
		return llmerr.New(llmerr.KindSessionNotFound, "session %s not found", id).WithSession(id)
	}
	if s.state == stateActive {
		s.end(stateClosed, m.now())
		m.logger.Debug("session closed", zap.String("session_id", id))
	}
	return nil
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.state == stateActive {
			n++
		}
	}
	return n
}

// Sweep expires idle sessions and forgets ended sessions older than the
// idle TTL, leaving a tombstone so their ids still report how they ended.
// Tombstones older than TombstoneTTL are dropped. It returns the number of
// sessions expired.
func (m *Manager) Sweep() int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	now := m.now()
	expired := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		switch {
		case s.state == stateActive && m.idleLocked(s, now):
			s.end(stateExpired, now)
			expired++
		case s.state != stateActive && s.busy == 0 && now.Sub(s.endedAt) > m.cfg.IdleTTL:
			delete(m.sessions, id)
			m.ended[id] = tombstone{state: s.state, at: s.endedAt}
		}
	}
	for id, ts := range m.ended {
		if now.Sub(ts.at) > m.cfg.IdleTTL+m.cfg.TombstoneTTL {
			delete(m.ended, id)
		}
	}
	if expired > 0 {
		m.logger.Info("expired idle sessions", zap.Int("count", expired))
	}
	return expired
}

// StartJanitor sweeps on the configured interval until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context) {
	if m.cfg.IdleTTL <= 0 || m.cfg.SweepInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

func (m *Manager) acquire(ctx context.Context, id string) (*session, error) {
	m.mu.Lock()
	s, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	s.busy++
	m.mu.Unlock()

	select {
	case s.lock <- struct{}{}:
		return s, nil
	case <-ctx.Done():
		m.mu.Lock()
		s.busy--
		m.mu.Unlock()
		return nil, llmerr.As(ctx.Err()).WithSession(id)
	}
}

func (m *Manager) release(s *session) {
	<-s.lock
	m.mu.Lock()
	s.busy--
	m.mu.Unlock()
}

// lookupLocked resolves id, expiring the session first when it has been
// idle past the TTL.
func (m *Manager) lookupLocked(id string) (*session, error) {
	s, ok := m.sessions[id]
	if !ok {
		if ts, gone := m.ended[id]; gone {
			return nil, endedErr(id, ts.state)
		}
		return nil, llmerr.New(llmerr.KindSessionNotFound, "session %s not found", id).WithSession(id)
	}
	if s.state == stateActive && m.idleLocked(s, m.now()) {
		s.end(stateExpired, m.now())
		m.logger.Debug("session expired", zap.String("session_id", id))
	}
	if s.state != stateActive {
		return nil, s.endedErr()
	}
	return s, nil
}

func (m *Manager) idleLocked(s *session, now time.Time) bool {
	return m.cfg.IdleTTL > 0 && s.busy == 0 && now.Sub(s.lastActive) > m.cfg.IdleTTL
}

func (s *session) end(st state, now time.Time) {
	s.state = st
	s.endedAt = now
	s.history = nil
}

func (s *session) endedErr() error {
	return endedErr(s.id, s.state)
}

func endedErr(id string, st state) error {
	if st == stateExpired {
		return llmerr.New(llmerr.KindSessionExpired, "session %s expired", id).WithSession(id)
	}
	return llmerr.New(llmerr.KindSessionClosed, "session %s is closed", id).WithSession(id)
}

func (s *session) info() Info {
	return Info{
		ID:           s.id,
		Provider:     s.provider,
		Model:        s.model,
		SystemPrompt: s.system,
		MessageCount: len(s.history),
		CreatedAt:    s.created,
		LastActive:   s.lastActive,
	}
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		Info:    s.info(),
		History: append([]provider.Message(nil), s.history...),
	}
}
