package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func exchange(user, assistant string) func(Snapshot) ([]provider.Message, error) {
	return func(Snapshot) ([]provider.Message, error) {
		return []provider.Message{
			provider.NewMessage(provider.RoleUser, user),
			provider.NewMessage(provider.RoleAssistant, assistant),
		}, nil
	}
}

func TestManager_HistoryIsAppendOnly(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	info := m.Create("anthropic", "claude", "be helpful")
	assert.NotEmpty(t, info.ID)

	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, m.Do(context.Background(), info.ID, exchange(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))))
	}

	snap, err := m.Get(info.ID)
	require.NoError(t, err)
	require.Len(t, snap.History, 2*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, provider.RoleUser, snap.History[2*i].Role)
		assert.Equal(t, fmt.Sprintf("q%d", i), snap.History[2*i].Content)
		assert.Equal(t, provider.RoleAssistant, snap.History[2*i+1].Role)
		assert.Equal(t, fmt.Sprintf("a%d", i), snap.History[2*i+1].Content)
	}
	assert.Equal(t, 2*n, snap.MessageCount)

	msgs := snap.Messages()
	require.Len(t, msgs, 2*n+1)
	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
}

func TestManager_FailedSendLeavesHistoryUntouched(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	info := m.Create("p", "m", "")
	require.NoError(t, m.Do(context.Background(), info.ID, exchange("q", "a")))

	boom := errors.New("boom")
	err := m.Do(context.Background(), info.ID, func(Snapshot) ([]provider.Message, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	require.NoError(t, m.Do(context.Background(), info.ID, func(Snapshot) ([]provider.Message, error) { return nil, nil }))

	snap, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Len(t, snap.History, 2)
	assert.Equal(t, provider.RoleUser, snap.Messages()[0].Role, "no system message without a system prompt")
}

func TestManager_SnapshotIsACopy(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	info := m.Create("p", "m", "")
	require.NoError(t, m.Do(context.Background(), info.ID, exchange("q", "a")))

	snap, _ := m.Get(info.ID)
	snap.History[0].Content = "mutated"

	again, _ := m.Get(info.ID)
	assert.Equal(t, "q", again.History[0].Content)
}

func TestManager_SendsAreSerialized(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	info := m.Create("p", "m", "")

	var inFlight, maxInFlight int32
	const senders = 20
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.Do(context.Background(), info.ID, func(s Snapshot) ([]provider.Message, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					prev := atomic.LoadInt32(&maxInFlight)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return exchange(fmt.Sprintf("q%d", i), "a")(s)
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&maxInFlight))
	snap, _ := m.Get(info.ID)
	assert.Len(t, snap.History, 2*senders)
	for i := 0; i < len(snap.History); i += 2 {
		assert.Equal(t, provider.RoleUser, snap.History[i].Role, "pairs must stay adjacent")
		assert.Equal(t, provider.RoleAssistant, snap.History[i+1].Role)
	}
}

func TestManager_WaiterHonorsContext(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	info := m.Create("p", "m", "")

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.Do(context.Background(), info.ID, func(Snapshot) ([]provider.Message, error) {
			close(holding)
			<-release
			return nil, nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Do(ctx, info.ID, exchange("q", "a"))
	require.Error(t, err)
	assert.Equal(t, llmerr.KindTimeout, llmerr.KindOf(err))
	assert.Equal(t, info.ID, llmerr.As(err).SessionID)
	close(release)
}

func TestManager_Close(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	info := m.Create("p", "m", "")

	require.NoError(t, m.Close(info.ID))
	require.NoError(t, m.Close(info.ID), "closing twice is a no-op")

	err := m.Do(context.Background(), info.ID, exchange("q", "a"))
	assert.True(t, errors.Is(err, llmerr.ErrSessionClosed))

	_, err = m.Get(info.ID)
	assert.True(t, errors.Is(err, llmerr.ErrSessionClosed))
	assert.Equal(t, 0, m.Len())

	assert.True(t, errors.Is(m.Close("missing"), llmerr.ErrSessionNotFound))
	_, err = m.Get("missing")
	assert.True(t, errors.Is(err, llmerr.ErrSessionNotFound))
}

func TestManager_CloseDuringSendDiscardsAppend(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	info := m.Create("p", "m", "")

	err := m.Do(context.Background(), info.ID, func(s Snapshot) ([]provider.Message, error) {
		require.NoError(t, m.Close(info.ID))
		return exchange("q", "a")(s)
	})
	assert.True(t, errors.Is(err, llmerr.ErrSessionClosed))
}

func TestManager_IdleExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Config{IdleTTL: time.Minute}, zaptest.NewLogger(t), WithClock(clock.Now))
	info := m.Create("p", "m", "")

	clock.Advance(30 * time.Second)
	require.NoError(t, m.Do(context.Background(), info.ID, exchange("q", "a")))

	clock.Advance(45 * time.Second)
	_, err := m.Get(info.ID)
	require.NoError(t, err, "activity resets the idle clock")

	clock.Advance(2 * time.Minute)
	err = m.Do(context.Background(), info.ID, exchange("q", "a"))
	assert.True(t, errors.Is(err, llmerr.ErrSessionExpired))
}

func TestManager_BusySessionsAreNotEvicted(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Config{IdleTTL: time.Minute}, zaptest.NewLogger(t), WithClock(clock.Now))
	info := m.Create("p", "m", "")

	err := m.Do(context.Background(), info.ID, func(s Snapshot) ([]provider.Message, error) {
		clock.Advance(10 * time.Minute)
		assert.Equal(t, 0, m.Sweep(), "mid-send sessions are never evicted")
		return exchange("q", "a")(s)
	})
	require.NoError(t, err)

	snap, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Len(t, snap.History, 2)
}

func TestManager_Sweep(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Config{IdleTTL: time.Minute, TombstoneTTL: 10 * time.Minute}, zaptest.NewLogger(t), WithClock(clock.Now))
	idle := m.Create("p", "m", "")
	clock.Advance(50 * time.Second)
	fresh := m.Create("p", "m", "")

	clock.Advance(20 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())

	_, err := m.Get(idle.ID)
	assert.True(t, errors.Is(err, llmerr.ErrSessionExpired))
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)

	clock.Advance(2 * time.Minute)
	m.Sweep()
	_, err = m.Get(idle.ID)
	assert.True(t, errors.Is(err, llmerr.ErrSessionExpired), "swept sessions keep reporting how they ended")

	clock.Advance(10 * time.Minute)
	m.Sweep()
	_, err = m.Get(idle.ID)
	assert.True(t, errors.Is(err, llmerr.ErrSessionNotFound), "tombstones are eventually forgotten")
}

func TestManager_SweptClosedSessionStaysClosed(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Config{IdleTTL: time.Minute}, zaptest.NewLogger(t), WithClock(clock.Now))
	info := m.Create("p", "m", "")
	require.NoError(t, m.Close(info.ID))

	clock.Advance(5 * time.Minute)
	m.Sweep()

	err := m.Do(context.Background(), info.ID, exchange("q", "a"))
	assert.True(t, errors.Is(err, llmerr.ErrSessionClosed))
	assert.Equal(t, llmerr.KindSessionClosed, llmerr.KindOf(err))
	assert.NoError(t, m.Close(info.ID), "closing a swept session is still a no-op")
}

func TestManager_Janitor(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Config{IdleTTL: time.Minute, SweepInterval: 5 * time.Millisecond}, zaptest.NewLogger(t), WithClock(clock.Now))
	m.Create("p", "m", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx)

	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}
