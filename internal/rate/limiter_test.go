package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, cfg), mr
}

func TestLoginBudget(t *testing.T) {
	l, _ := newLimiter(t, Config{MaxLoginAttempts: 3, LoginWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.AllowLogin(ctx, "a@example.com"); err != nil {
			t.Fatalf("attempt %d unexpectedly limited: %v", i+1, err)
		}
	}
	if err := l.AllowLogin(ctx, "a@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// A different identifier has its own budget.
	if err := l.AllowLogin(ctx, "b@example.com"); err != nil {
		t.Fatalf("unrelated identifier limited: %v", err)
	}
}

func TestWindowExpiry(t *testing.T) {
	l, mr := newLimiter(t, Config{MaxLoginAttempts: 1, LoginWindow: time.Minute})
	ctx := context.Background()

	if err := l.AllowLogin(ctx, "a@example.com"); err != nil {
		t.Fatalf("first attempt limited: %v", err)
	}
	if err := l.AllowLogin(ctx, "a@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := l.AllowLogin(ctx, "a@example.com"); err != nil {
		t.Fatalf("attempt after window limited: %v", err)
	}
}

func TestResetLogin(t *testing.T) {
	l, _ := newLimiter(t, Config{MaxLoginAttempts: 1, LoginWindow: time.Minute})
	ctx := context.Background()

	_ = l.AllowLogin(ctx, "a@example.com")
	if err := l.ResetLogin(ctx, "a@example.com"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if err := l.AllowLogin(ctx, "a@example.com"); err != nil {
		t.Fatalf("attempt after reset limited: %v", err)
	}
}

func TestNilLimiterAdmitsEverything(t *testing.T) {
	var l *Limiter
	ctx := context.Background()

	if err := l.AllowLogin(ctx, "a@example.com"); err != nil {
		t.Fatalf("nil limiter returned %v", err)
	}
	if err := l.AllowRefresh(ctx, "u1"); err != nil {
		t.Fatalf("nil limiter returned %v", err)
	}
	if err := l.ResetLogin(ctx, "a@example.com"); err != nil {
		t.Fatalf("nil limiter returned %v", err)
	}
}
