package search

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 2 {
			return io.EOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryDoesNotRetryDeniedErrors(t *testing.T) {
	calls := 0
	denied := &StatusError{Provider: "github", Code: 403}
	err := RetryWithBackoff(context.Background(), fastRetryConfig(), func() error {
		calls++
		return denied
	})
	if !errors.Is(err, error(denied)) {
		t.Fatalf("expected the denied error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("denied errors must not be retried, got %d attempts", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetryConfig(), func() error {
		calls++
		return io.ErrUnexpectedEOF
	})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected last error back, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryRespectsContextBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := fastRetryConfig()
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 100 * time.Millisecond

	err := RetryWithBackoff(ctx, cfg, func() error {
		calls++
		cancel()
		return io.EOF
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", calls)
	}
}

func TestApplyJitterStaysInBand(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		jittered := applyJitter(base)
		if jittered < 75*time.Millisecond || jittered >= 125*time.Millisecond {
			t.Fatalf("jitter out of band: %s", jittered)
		}
	}
}
