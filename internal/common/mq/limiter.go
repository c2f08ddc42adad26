package mq

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/limit"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"golang.org/x/time/rate"
)

// FetchLimiter bounds how many handlers run at once.
type FetchLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// StartLimiter bounds how many handlers may start within a window.
type StartLimiter interface {
	Wait(ctx context.Context) error
}

// TokenLimiter is a simple counting limiter for fetch control.
type TokenLimiter struct {
	tokens chan struct{}
}

// NewTokenLimiter creates a limiter with a fixed capacity.
func NewTokenLimiter(size int) *TokenLimiter {
	if size <= 0 {
		size = 1
	}
	tokens := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		tokens <- struct{}{}
	}
	return &TokenLimiter{tokens: tokens}
}

// Acquire blocks until a token is available or ctx is canceled.
func (l *TokenLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

// Release returns a token to the limiter.
func (l *TokenLimiter) Release() {
	select {
	case l.tokens <- struct{}{}:
	default:
	}
}

// Available reports the number of free tokens.
func (l *TokenLimiter) Available() int {
	return len(l.tokens)
}

// RateLimiter is a process-local token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perSecond starts on average with bursts up to burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	every := rate.Limit(perSecond)
	if perSecond <= 0 {
		every = rate.Inf
	}
	return &RateLimiter{limiter: rate.NewLimiter(every, burst)}
}

// Wait blocks until a start token is available.
func (l *RateLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// RedisRateLimiter shares one token bucket across every worker process pointing at the same key.
// go-zero falls back to a local bucket while Redis is unreachable.
type RedisRateLimiter struct {
	limiter *limit.TokenLimiter
	poll    time.Duration
}

// NewRedisRateLimiter creates a cluster-wide start limiter.
func NewRedisRateLimiter(store *redis.Redis, key string, perSecond, burst int, poll time.Duration) *RedisRateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = perSecond
	}
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &RedisRateLimiter{
		limiter: limit.NewTokenLimiter(perSecond, burst, store, key),
		poll:    poll,
	}
}

// Allow takes a token without waiting.
func (l *RedisRateLimiter) Allow(ctx context.Context) bool {
	return l.limiter.AllowCtx(ctx)
}

// Wait polls the shared bucket until a token is granted.
func (l *RedisRateLimiter) Wait(ctx context.Context) error {
	for {
		if l.limiter.AllowCtx(ctx) {
			return nil
		}
		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
