package search

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls the exponential backoff used around provider calls.
// Health probing has its own fixed-linear backoff in internal/health; the
// two are intentionally separate.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns 2 attempts with a 400ms first delay. Plan steps
// already run under tight per-call timeouts, so long retry chains would only
// eat the step ceiling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 400 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryWithBackoff retries fn with exponential backoff and ±25% jitter.
// Only errors classified as timeout or generic network failures are retried;
// everything else (denied, DNS, parse errors) returns immediately. Context
// cancellation between attempts is respected.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		switch Classify(lastErr) {
		case KindTimeout, KindNetwork:
		default:
			return lastErr
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		jittered := applyJitter(delay)
		if jittered > cfg.MaxDelay {
			jittered = cfg.MaxDelay
		}

		timer := time.NewTimer(jittered)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

// applyJitter randomizes a delay into [0.75d, 1.25d) to avoid thundering
// herd across concurrent steps.
func applyJitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}
