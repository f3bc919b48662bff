package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"iptvstream/scanservice/internal/domain"
)

// pulseFunc receives the periodic in-flight signal while a step runs:
// elapsed wall time and the current merged candidate count. Observability
// only; it must not influence the step outcome.
type pulseFunc func(elapsed time.Duration, merged int)

// executeStep runs one plan step under the hard step ceiling. Single-scope
// requests issue one provider call; ALL-scope requests fan out to every
// concrete provider with per-call isolation and succeed when at least one
// provider call succeeded. Search-engine mode always collapses to one call.
func (s *Service) executeStep(ctx context.Context, step domain.PlanStep, perCallTimeout time.Duration, onPulse pulseFunc) ([]domain.PlaylistCandidate, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepCeiling)
	defer cancel()

	var mergedCount atomic.Int64
	if onPulse != nil {
		started := time.Now()
		ticker := time.NewTicker(s.cfg.PulseInterval)
		done := make(chan struct{})
		defer close(done)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					onPulse(time.Since(started), int(mergedCount.Load()))
				}
			}
		}()
	}

	request := step.Request
	if request.Mode == domain.ModeSearchEngine || request.Scope != domain.ScopeAll {
		provider, ok := s.providerFor(request.Scope, request.Mode)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, request.Scope)
		}
		items, err := s.callProvider(stepCtx, provider, request, perCallTimeout)
		if err != nil {
			return nil, s.ceilingError(ctx, stepCtx, step, err)
		}
		mergedCount.Store(int64(len(items)))
		return items, nil
	}

	scopes := domain.ConcreteScopes(request.RepoFilter)
	results := make([][]domain.PlaylistCandidate, len(scopes))
	callErrs := make([]error, len(scopes))

	sem := semaphore.NewWeighted(s.cfg.MaxConcurrentProviders)
	var wg sync.WaitGroup
	for i, scope := range scopes {
		provider, ok := s.providers[scope]
		if !ok {
			callErrs[i] = fmt.Errorf("%w: %s", ErrUnknownProvider, scope)
			continue
		}
		wg.Add(1)
		go func(index int, scope domain.ProviderScope, current Provider) {
			defer wg.Done()

			if err := sem.Acquire(stepCtx, 1); err != nil {
				callErrs[index] = fmt.Errorf("%s: %w", scope, err)
				return
			}
			defer sem.Release(1)

			perRequest := request
			perRequest.Scope = scope
			items, err := s.callProvider(stepCtx, current, perRequest, perCallTimeout)
			if err != nil {
				callErrs[index] = fmt.Errorf("%s: %w", scope, err)
				return
			}
			results[index] = items
			mergedCount.Add(int64(len(items)))
		}(i, scope, provider)
	}
	wg.Wait()

	// Only this goroutine merges: children fill disjoint slots above, so the
	// id-based first-seen-wins merge is race-free and idempotent.
	merged := make([]domain.PlaylistCandidate, 0)
	seen := make(map[string]struct{})
	successes := 0
	var errs []error
	for i := range scopes {
		if callErrs[i] != nil {
			errs = append(errs, callErrs[i])
			continue
		}
		successes++
		for _, item := range results[i] {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			merged = append(merged, item)
		}
	}

	// Succeed, possibly empty, as long as one provider answered.
	if successes == 0 && len(errs) > 0 {
		return nil, s.ceilingError(ctx, stepCtx, step, errors.Join(errs...))
	}
	return merged, nil
}

// ceilingError converts a step-ceiling expiry into a synthetic timeout error
// while letting upstream cancellation pass through untouched.
func (s *Service) ceilingError(parent, stepCtx context.Context, step domain.PlanStep, err error) error {
	if parent.Err() != nil {
		// The plan itself was cancelled or timed out; do not relabel.
		return err
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("step %q exceeded %s ceiling: %w", step.Label, s.cfg.StepCeiling, context.DeadlineExceeded)
	}
	return err
}

// callProvider issues one rate-limited, retried, circuit-checked provider
// call under the per-call timeout.
func (s *Service) callProvider(ctx context.Context, provider Provider, request domain.SearchRequest, perCallTimeout time.Duration) ([]domain.PlaylistCandidate, error) {
	providerKey := strings.ToLower(strings.TrimSpace(provider.Name()))

	if blocked, until, lastErr := s.isProviderBlocked(providerKey, time.Now()); blocked {
		return nil, fmt.Errorf("provider %s temporarily unhealthy until %s: %s", providerKey, until.UTC().Format(time.RFC3339), lastErr)
	}
	if err := s.waitProviderRateLimit(ctx, providerKey); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	started := time.Now()
	var items []domain.PlaylistCandidate
	err := RetryWithBackoff(callCtx, DefaultRetryConfig(), func() error {
		var callErr error
		items, callErr = provider.Search(callCtx, request)
		return callErr
	})
	elapsed := time.Since(started)
	s.recordProviderResult(providerKey, request.Query, err, elapsed, time.Now())

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Upstream cancellation is not a provider failure.
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timeout %ds for %s: %w", int(perCallTimeout.Seconds()), providerKey, context.DeadlineExceeded)
		}
		slog.Warn("provider call failed",
			slog.String("provider", providerKey),
			slog.String("query", request.Query),
			slog.Int64("elapsedMs", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	slog.Debug("provider call completed",
		slog.String("provider", providerKey),
		slog.String("query", request.Query),
		slog.Int("results", len(items)),
		slog.Int64("elapsedMs", elapsed.Milliseconds()),
	)
	return items, nil
}
