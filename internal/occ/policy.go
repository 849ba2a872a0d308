// Package occ holds the optimistic-concurrency retry policy shared by the
// game and tournament stores.
package occ

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrConflict marks a detected write conflict that is worth retrying.
var ErrConflict = errors.New("write conflict")

// IsConflict reports whether err is a transient write conflict: a failed
// WATCH transaction or an explicit ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, redis.TxFailedErr) || errors.Is(err, ErrConflict)
}

type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
}

// NoRetry runs the operation exactly once.
func NoRetry() Policy { return Policy{} }

// Backoff returns the wait before retry number n (1-based): base, 2*base, 4*base...
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay << (n - 1)
}

// Do runs fn until it succeeds, fails with a non-conflict error, or the retry
// budget is spent. Exhaustion surfaces as a concurrency_conflict DomainError.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := p.sleep(ctx, p.Backoff(i)); err != nil {
				return err
			}
		}
		last = fn()
		if last == nil || !IsConflict(last) {
			return last
		}
		obslog.L().Debug("occ_conflict", zap.String("op", op), zap.Int("attempt", i+1))
	}
	obslog.L().Warn("occ_exhausted", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(last))
	return chessdto.Errorf(chessdto.CodeConcurrencyConflict, "%s: concurrent update, reload and try again", op)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
