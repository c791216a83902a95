package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nkiryanov/homestay/internal/logger"
)

const defaultGCInterval = time.Minute

// Named policies keyed by client identity
var (
	LoginPolicy    = Policy{Name: "login", Limit: 5, Window: time.Minute}
	RegisterPolicy = Policy{Name: "register", Limit: 3, Window: time.Hour}
	APIPolicy      = Policy{Name: "api", Limit: 100, Window: time.Minute}
)

type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Record is the fixed window counter for a single key
type Record struct {
	Count   int
	ResetAt time.Time
}

// Store keeps counters. Implementations must run Update atomically per key.
type Store interface {
	// Update applies fn to the current record of key and saves the result
	// found is false when the key has no record
	Update(ctx context.Context, key string, fn func(rec Record, found bool) Record) (Record, error)

	// DeleteExpired removes records whose window ended before now
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns whole seconds until the window resets, at least one
func (r Result) RetryAfter(now time.Time) int {
	seconds := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	return max(seconds, 1)
}

type Limiter struct {
	store  Store
	now    func() time.Time
	logger logger.Logger
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func New(store Store, l logger.Logger, opts ...Option) *Limiter {
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	limiter := &Limiter{
		store:  store,
		now:    time.Now,
		logger: l,
	}
	for _, option := range opts {
		option(limiter)
	}

	return limiter
}

// Check counts a hit for identity in a fixed window.
// The first hit opens the window, hits past the limit are rejected until the window resets.
func (l *Limiter) Check(ctx context.Context, identity string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, errors.New("limit and window must be positive")
	}

	now := l.now()
	allowed := false

	rec, err := l.store.Update(ctx, identity, func(rec Record, found bool) Record {
		switch {
		case !found || now.After(rec.ResetAt):
			allowed = true
			return Record{Count: 1, ResetAt: now.Add(window)}
		case rec.Count < limit:
			allowed = true
			rec.Count++
			return rec
		default:
			allowed = false
			return rec
		}
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store error: %w", err)
	}

	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-rec.Count, 0),
		ResetAt:   rec.ResetAt,
	}, nil
}

// Allow checks identity against the named policy. Policies do not share counters.
func (l *Limiter) Allow(ctx context.Context, policy Policy, identity string) (Result, error) {
	return l.Check(ctx, policy.Name+":"+identity, policy.Limit, policy.Window)
}

func (l *Limiter) Now() time.Time {
	return l.now()
}

// RunGC purges expired records every interval until ctx is done.
// The returned channel is closed when the loop stopped.
func (l *Limiter) RunGC(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	idleStopped := make(chan struct{})

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				l.logger.Debug("Rate limiter GC stopped")
				return
			case <-ticker.C:
				deleted, err := l.store.DeleteExpired(ctx, l.now())
				if err != nil {
					l.logger.Error("Failed to purge rate limit records", "error", err)
					continue
				}
				if deleted > 0 {
					l.logger.Debug("Rate limit records purged", "count", deleted)
				}
			}
		}
	}()

	return idleStopped
}
