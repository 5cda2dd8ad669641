// Package cache stores validated model results by content fingerprint.
//
// Entries are wrapped in an integrity envelope carrying a checksum. A
// corrupted entry is logged, deleted and reported as a miss, so callers
// recompute rather than consume bad data. Concurrent misses on one key are
// coalesced into a single compute.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
)

const envelopeVersion = 1

// Outcome describes how a Fetch was satisfied.
type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeShared Outcome = "shared"
)

type envelope struct {
	Version  int    `json:"v"`
	Checksum string `json:"sum"`
	StoredAt int64  `json:"at"`
	Data     []byte `json:"data"`
}

// Cache wraps a Store with integrity checks and single-flight coalescing.
type Cache struct {
	store  Store
	logger *zap.Logger
	group  singleflight.Group
}

// New creates a cache over store. A nil store behaves as NopStore.
func New(store Store, logger *zap.Logger) *Cache {
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, logger: logger}
}

// Key derives a deterministic key from a phase, a constraint level and the
// input parts. Parts are whitespace-normalized and every field is
// length-prefixed before hashing, so distinct inputs never collide by
// concatenation.
func Key(phase string, constraint int, parts ...string) string {
	h := sha256.New()
	write := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	write(phase)
	write(strconv.Itoa(constraint))
	for _, p := range parts {
		write(Normalize(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize collapses runs of whitespace and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Get returns the value stored under key. Store errors and corrupted
// entries are reported as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		Requests.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		return nil, false
	}

	data, err := c.open(key, raw)
	if err != nil {
		c.logger.Warn("discarding corrupted cache entry", zap.String("key", key), zap.Error(err))
		Requests.WithLabelValues("corrupt").Inc()
		if derr := c.store.Delete(ctx, key); derr != nil {
			c.logger.Warn("deleting corrupted cache entry failed", zap.String("key", key), zap.Error(derr))
		}
		return nil, false
	}
	return data, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := json.Marshal(envelope{
		Version:  envelopeVersion,
		Checksum: checksum(value),
		StoredAt: time.Now().Unix(),
		Data:     value,
	})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, raw, ttl)
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Cache) open(key string, raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, llmerr.Wrap(llmerr.KindCacheCorruption, err, "entry %s is not a valid envelope", key)
	}
	if env.Version != envelopeVersion {
		return nil, llmerr.New(llmerr.KindCacheCorruption, "entry %s has unsupported version %d", key, env.Version)
	}
	if checksum(env.Data) != env.Checksum {
		return nil, llmerr.New(llmerr.KindCacheCorruption, "entry %s failed checksum", key)
	}
	return env.Data, nil
}

// Fetch returns the value under key, calling compute on a miss and storing
// its result for ttl. Concurrent misses on the same key share one compute;
// the compute runs under the context of the flight leader. A follower whose
// own context is still live retries once when the leader was canceled.
// Failed computes are never stored.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, Outcome, error) {
	if data, ok := c.Get(ctx, key); ok {
		Requests.WithLabelValues("hit").Inc()
		return data, OutcomeHit, nil
	}

	data, outcome, err := c.flight(ctx, key, ttl, compute)
	if outcome == OutcomeShared && isContextErr(err) && ctx.Err() == nil {
		c.logger.Debug("shared compute canceled by its leader, retrying", zap.String("key", key))
		data, outcome, err = c.flight(ctx, key, ttl, compute)
	}
	return data, outcome, err
}

func (c *Cache) flight(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, Outcome, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have stored the value between our Get and
		// becoming the flight leader.
		if data, ok := c.Get(ctx, key); ok {
			return data, nil
		}
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if serr := c.Set(ctx, key, data, ttl); serr != nil {
			c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(serr))
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, OutcomeMiss, llmerr.As(ctx.Err())
	case res := <-ch:
		outcome := OutcomeMiss
		if res.Shared {
			outcome = OutcomeShared
		}
		Requests.WithLabelValues(string(outcome)).Inc()
		if res.Err != nil {
			return nil, outcome, res.Err
		}
		data, _ := res.Val.([]byte)
		return data, outcome, nil
	}
}

func isContextErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return llmerr.KindOf(err) == llmerr.KindCanceled
}
