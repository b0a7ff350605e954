// Package ratelimit implements a sliding-window request limiter keyed by
// principal. A Redis backend is used when configured so the window is shared
// across gateway replicas; otherwise a single-process in-memory window is
// used.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter int // seconds
}

type Limiter struct {
	limit  int
	window time.Duration
	rdb    redis.Cmdable

	mu  sync.Mutex
	mem map[string][]time.Time
}

// New creates a limiter allowing `limit` requests per `window` per
// principal. A nil Redis client selects the in-memory backend. limit <= 0
// disables limiting.
func New(limit int, window time.Duration, rdb redis.Cmdable) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		rdb:    rdb,
		mem:    make(map[string][]time.Time),
	}
}

// Allow records one request for the principal and reports whether it is
// within the window. Backend failures fail open: the request is allowed and
// the error is returned for logging.
func (l *Limiter) Allow(ctx context.Context, principal string, now time.Time) (Decision, error) {
	if l == nil || l.limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	if principal == "" {
		principal = "anonymous"
	}
	if l.rdb != nil {
		d, err := l.allowRedis(ctx, principal, now)
		if err != nil {
			return Decision{Allowed: true}, err
		}
		return d, nil
	}
	return l.allowMemory(principal, now), nil
}

func (l *Limiter) allowRedis(ctx context.Context, principal string, now time.Time) (Decision, error) {
	key := "vocalis:rl:" + principal
	cutoff := now.Add(-l.window).UnixNano()

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: ulid.Make().String()})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit backend: %w", err)
	}

	count := int(card.Val())
	return l.decide(count), nil
}

func (l *Limiter) allowMemory(principal string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	hits := l.mem[principal][:0]
	for _, t := range l.mem[principal] {
		if t.After(cutoff) {
			hits = append(hits, t)
		}
	}
	hits = append(hits, now)
	l.mem[principal] = hits
	return l.decide(len(hits))
}

func (l *Limiter) decide(count int) Decision {
	if count > l.limit {
		return Decision{
			Allowed:    false,
			RetryAfter: int(l.window.Seconds()),
		}
	}
	return Decision{Allowed: true, Remaining: l.limit - count}
}
