// Package rate provides Redis-backed fixed-window throttles for the login
// and refresh paths. The limiter is optional; a nil *Limiter admits
// everything, so deployments without Redis simply run unthrottled.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when an identifier exhausts its attempt budget.
var ErrRateLimited = errors.New("rate limited")

// ErrUnavailable wraps Redis I/O failures.
var ErrUnavailable = errors.New("rate limiter backend unavailable")

// Config holds throttle tuning parameters.
type Config struct {
	MaxLoginAttempts   int
	LoginWindow        time.Duration
	MaxRefreshAttempts int
	RefreshWindow      time.Duration
}

// DefaultConfig mirrors the limits the HTTP surface shipped with.
func DefaultConfig() Config {
	return Config{
		MaxLoginAttempts:   10,
		LoginWindow:        15 * time.Minute,
		MaxRefreshAttempts: 60,
		RefreshWindow:      time.Minute,
	}
}

// Limiter counts attempts per identifier in Redis.
type Limiter struct {
	rdb    redis.UniversalClient
	config Config
}

// New returns a limiter on the given client.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{rdb: rdb, config: cfg}
}

func loginKey(email string) string     { return "rl:login:" + email }
func refreshKey(subject string) string { return "rl:refresh:" + subject }

// AllowLogin consumes one login attempt for the email and reports whether
// the caller is still within budget.
func (l *Limiter) AllowLogin(ctx context.Context, email string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	return l.consume(ctx, loginKey(email), l.config.MaxLoginAttempts, l.config.LoginWindow)
}

// ResetLogin clears the email's attempt counter after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	if err := l.rdb.Del(ctx, loginKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AllowRefresh consumes one rotation attempt for the subject.
func (l *Limiter) AllowRefresh(ctx context.Context, subjectID string) error {
	if l == nil || l.config.MaxRefreshAttempts <= 0 {
		return nil
	}
	return l.consume(ctx, refreshKey(subjectID), l.config.MaxRefreshAttempts, l.config.RefreshWindow)
}

func (l *Limiter) consume(ctx context.Context, key string, budget int, window time.Duration) error {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Fixed-window semantics: the first hit in a window starts its TTL.
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > int64(budget) {
		return ErrRateLimited
	}
	return nil
}
