package occ

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/redis/go-redis/v9"
)

func recordingPolicy(retries int) (Policy, *[]time.Duration) {
	var waits []time.Duration
	return Policy{
		MaxRetries: retries,
		BaseDelay:  100 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}, &waits
}

func TestDoRetriesConflictsWithExponentialBackoff(t *testing.T) {
	p, waits := recordingPolicy(3)
	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return redis.TxFailedErr
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if fmt.Sprint(*waits) != fmt.Sprint(want) {
		t.Fatalf("waits %v want %v", *waits, want)
	}
}

func TestDoExhaustionSurfacesConcurrencyConflict(t *testing.T) {
	p, waits := recordingPolicy(3)
	calls := 0
	err := p.Do(context.Background(), "game_update", func() error {
		calls++
		return fmt.Errorf("commit: %w", ErrConflict)
	})
	if !errors.Is(err, chessdto.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if calls != 4 || len(*waits) != 3 {
		t.Fatalf("expected 4 calls and 3 waits, got %d/%d", calls, len(*waits))
	}
	if (*waits)[2] != 400*time.Millisecond {
		t.Fatalf("third backoff should be 400ms, got %v", (*waits)[2])
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	p, _ := recordingPolicy(3)
	calls := 0
	boom := errors.New("boom")
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single call returning boom, got %d %v", calls, err)
	}
}

func TestNoRetry(t *testing.T) {
	calls := 0
	err := NoRetry().Do(context.Background(), "admin", func() error {
		calls++
		return redis.TxFailedErr
	})
	if calls != 1 || !errors.Is(err, chessdto.ErrConcurrencyConflict) {
		t.Fatalf("expected one attempt then conflict: %d %v", calls, err)
	}
}

func TestDoHonoursContext(t *testing.T) {
	p := Policy{MaxRetries: 2, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Do(ctx, "test", func() error { return redis.TxFailedErr })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
