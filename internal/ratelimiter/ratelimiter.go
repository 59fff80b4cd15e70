package ratelimiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"pagesum/internal/kv"
	"strings"
	"sync"
	"time"
)

// RateLimiter keeps a sliding log of request instants per identity.
type RateLimiter struct {
	window      time.Duration
	maxRequests int
	requests    map[string][]time.Time
	mu          sync.Mutex
	now         func() time.Time
	persister   kv.Store
	stateKey    string
	log         *slog.Logger
}

type Option func(*RateLimiter)

func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// WithPersistence keeps the history in store. Every check re-reads it and writes the result back in one
// kv.Store.Update, so limiters in several processes sharing store draw from one quota.
func WithPersistence(store kv.Store, key string) Option {
	return func(rl *RateLimiter) {
		rl.persister = store
		rl.stateKey = key
	}
}

func New(
	window time.Duration,
	maxRequests int,
	log *slog.Logger,
	opts ...Option,
) *RateLimiter {
	rl := &RateLimiter{
		window:      window,
		maxRequests: max(maxRequests, 0),
		requests:    make(map[string][]time.Time),
		now:         time.Now,
		stateKey:    StateKey,
		log:         log,
	}

	for _, opt := range opts {
		opt(rl)
	}

	rl.refreshLocked()

	return rl
}

func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}

func (rl *RateLimiter) MaxRequests() int {
	return rl.maxRequests
}

// CheckLimit reports whether identity may issue a request now. An allowed call is recorded as a request.
func (rl *RateLimiter) CheckLimit(identity string) bool {
	identity = normalizeIdentity(identity)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	allowed := false

	rl.updateLocked(func(now time.Time) bool {
		recent := rl.recentLocked(identity, now)

		if len(recent) >= rl.maxRequests {
			rl.log.Debug("Rate limiting request",
				"identity", identity,
				"requestsInWindow", len(recent),
				"maxRequests", rl.maxRequests)

			allowed = false
			return false
		}

		rl.requests[identity] = append(recent, now)
		allowed = true

		return true
	})

	return allowed
}

func (rl *RateLimiter) Remaining(identity string) int {
	identity = normalizeIdentity(identity)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refreshLocked()
	recent := rl.recentLocked(identity, rl.now())

	return max(rl.maxRequests-len(recent), 0)
}

// RetryAfter returns how long identity has to wait before the oldest request leaves the window.
func (rl *RateLimiter) RetryAfter(identity string) time.Duration {
	identity = normalizeIdentity(identity)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refreshLocked()
	now := rl.now()
	recent := rl.recentLocked(identity, now)
	if len(recent) < rl.maxRequests || len(recent) == 0 {
		return 0
	}

	return max(recent[0].Add(rl.window).Sub(now), 0)
}

func (rl *RateLimiter) Reset(identity string) {
	identity = normalizeIdentity(identity)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.updateLocked(func(time.Time) bool {
		_, exists := rl.requests[identity]
		delete(rl.requests, identity)

		return exists
	})
}

// Prune drops identities without requests in the current window and returns how many were removed.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0

	rl.updateLocked(func(now time.Time) bool {
		removed = 0
		for identity := range rl.requests {
			if len(rl.recentLocked(identity, now)) == 0 {
				delete(rl.requests, identity)
				removed++
			}
		}

		return removed > 0
	})

	return removed
}

// recentLocked filters the history of identity down to the window and stores the result back.
func (rl *RateLimiter) recentLocked(identity string, now time.Time) []time.Time {
	history, exists := rl.requests[identity]
	if !exists {
		return nil
	}

	recent := make([]time.Time, 0, len(history))
	for _, ts := range history {
		if now.Sub(ts) < rl.window {
			recent = append(recent, ts)
		}
	}

	if len(recent) == 0 {
		delete(rl.requests, identity)
		return nil
	}

	rl.requests[identity] = recent

	return recent
}

// updateLocked re-reads the persisted history, lets fn change it and writes it back in one store update.
// fn reports whether it changed anything. Without persistence, or when the store fails before fn ran, fn works
// on the in-memory history alone.
func (rl *RateLimiter) updateLocked(fn func(now time.Time) bool) {
	now := rl.now()

	if rl.persister == nil {
		fn(now)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	applied := false

	err := rl.persister.Update(ctx, rl.stateKey, func(raw []byte) ([]byte, error) {
		if raw != nil {
			rl.requests = rl.decode(ctx, raw)
		} else {
			rl.requests = make(map[string][]time.Time)
		}
		applied = true

		if !fn(now) {
			return nil, kv.ErrUnchanged
		}

		return encodeState(rl.requests)
	})
	if err != nil {
		rl.log.WarnContext(ctx, "Failed to persist rate limiter state",
			"error", err,
			"stateKey", rl.stateKey,
			"identityCount", len(rl.requests))

		if !applied {
			fn(now)
		}
	}
}

// refreshLocked replaces the in-memory history with the persisted one. A failing store keeps memory as is.
func (rl *RateLimiter) refreshLocked() {
	if rl.persister == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	raw, err := rl.persister.Get(ctx, rl.stateKey)
	if errors.Is(err, kv.ErrNotFound) {
		rl.requests = make(map[string][]time.Time)
		return
	}
	if err != nil {
		rl.log.WarnContext(ctx, "Failed to load rate limiter state",
			"error", err,
			"stateKey", rl.stateKey)

		return
	}

	rl.requests = rl.decode(ctx, raw)
}

// decode treats unreadable state as empty so a corrupted key cannot lock every caller out.
func (rl *RateLimiter) decode(ctx context.Context, raw []byte) map[string][]time.Time {
	requests, err := decodeState(raw)
	if err != nil {
		rl.log.WarnContext(ctx, "Failed to decode rate limiter state",
			"error", err,
			"stateKey", rl.stateKey)

		return make(map[string][]time.Time)
	}

	return requests
}

func encodeState(requests map[string][]time.Time) ([]byte, error) {
	state := make(map[string][]int64, len(requests))
	for identity, history := range requests {
		ms := make([]int64, 0, len(history))
		for _, ts := range history {
			ms = append(ms, ts.UnixMilli())
		}
		state[identity] = ms
	}

	return json.Marshal(state)
}

func decodeState(raw []byte) (map[string][]time.Time, error) {
	var state map[string][]int64
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}

	requests := make(map[string][]time.Time, len(state))
	for identity, ms := range state {
		history := make([]time.Time, 0, len(ms))
		for _, v := range ms {
			history = append(history, time.UnixMilli(v))
		}
		requests[identity] = history
	}

	return requests, nil
}

func normalizeIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return UnknownIdentity
	}
	return identity
}
