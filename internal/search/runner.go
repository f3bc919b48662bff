package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/metrics"
)

// RunOptions carry the per-run knobs of a plan execution.
type RunOptions struct {
	// TargetCount stops the plan once that many unique candidates are
	// merged. Defaults to the request limit, then to 50.
	TargetCount int
	PresetID    string
	// Stop is the cooperative user-stop signal, checked between steps and
	// inside the per-step wait. Closing it preserves partial results.
	Stop <-chan struct{}
	// Pulse receives periodic in-flight progress. Never affects the outcome.
	Pulse func(domain.PlanPulse)
	// TailImport, when set, runs after the plan settles with everything
	// merged so far. It executes under a non-cancellable scope so a user
	// stop cannot lose already-found results mid-import.
	TailImport func(ctx context.Context, candidates []domain.PlaylistCandidate)
}

const defaultTargetCount = 50

// RunPlan executes the full search plan for one request and always settles
// on a PlanOutcome: step failures are collected, never propagated. The only
// error return is request validation.
func (s *Service) RunPlan(ctx context.Context, request domain.SearchRequest, opts RunOptions) (outcome domain.PlanOutcome, err error) {
	if strings.TrimSpace(request.Query) == "" {
		return domain.PlanOutcome{}, ErrInvalidQuery
	}

	startedAt := time.Now()
	defer func() {
		// A panic anywhere in plan execution becomes a terminal error
		// outcome, not a crash.
		if r := recover(); r != nil {
			slog.Error("plan run panicked", slog.Any("panic", r))
			outcome = domain.PlanOutcome{
				State:     domain.PlanError,
				Status:    "the scan failed unexpectedly; please retry",
				Hint:      Hint(KindOther),
				Errors:    []string{fmt.Sprintf("unexpected failure: %v", r)},
				ElapsedMS: time.Since(startedAt).Milliseconds(),
			}
			err = nil
		}
		metrics.PlanRunsTotal.WithLabelValues(string(outcome.State)).Inc()
		metrics.PlanCandidatesFound.Observe(float64(len(outcome.Candidates)))
	}()

	request.Scope = domain.NormalizeScope(string(request.Scope))
	request.Mode = domain.NormalizeMode(string(request.Mode))

	target := opts.TargetCount
	if target <= 0 {
		target = request.Limit
	}
	if target <= 0 {
		target = defaultTargetCount
	}

	snapshot := s.prober.Snapshot(ctx, nil, nil)
	s.sink.Log("preflight", strings.Join(snapshot.Details, " "))

	perCallTimeout := s.cfg.PerCallTimeout
	if snapshot.Degraded() {
		perCallTimeout = s.cfg.DegradedPerCallTimeout
		s.sink.Log("preflight", "both host groups unreachable; running degraded plan")
	}
	if request.Mode == domain.ModeAuto {
		request.Mode = resolveAutoMode(snapshot, s.webSearch != nil)
	}

	var learned []domain.LearnedQuery
	if s.cfg.LearningEnabled && s.learned != nil {
		stored, loadErr := s.learned.Load(ctx)
		if loadErr != nil {
			slog.Warn("learned query load failed", slog.String("error", loadErr.Error()))
		} else {
			learned = stored
		}
	}

	plan := BuildPlan(request, PlanOptions{
		LearningEnabled: s.cfg.LearningEnabled,
		VariantsEnabled: s.cfg.VariantsEnabled,
		Learned:         learned,
		PresetID:        opts.PresetID,
		Degraded:        snapshot.Degraded(),
		Weights:         s.cfg.Weights,
	})

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.PlanBudget)
	defer cancel()

	merged := make([]domain.PlaylistCandidate, 0, target)
	seen := make(map[string]struct{})
	statuses := make([]domain.StepStatus, 0, len(plan))
	var runErrors []string
	var successfulQueries []string
	var dominantKind ErrorKind
	fatalStreak := 0

	state := domain.PlanRunning
	stopped := func() bool {
		if opts.Stop == nil {
			return false
		}
		select {
		case <-opts.Stop:
			return true
		default:
			return false
		}
	}

steps:
	for i, step := range plan {
		switch {
		case stopped():
			state = domain.PlanStoppedByUser
			break steps
		case len(merged) >= target:
			state = domain.PlanDone
			break steps
		case runCtx.Err() != nil:
			state = budgetState(ctx, runCtx)
			break steps
		}

		stepStarted := time.Now()
		onPulse := func(elapsed time.Duration, stepMerged int) {
			if opts.Pulse == nil {
				return
			}
			opts.Pulse(domain.PlanPulse{
				StepLabel:   step.Label,
				StepIndex:   i,
				StepCount:   len(plan),
				MergedCount: len(merged) + stepMerged,
				ElapsedMS:   elapsed.Milliseconds(),
			})
		}

		items, stepErr := s.executeStep(runCtx, step, perCallTimeout, onPulse)
		status := domain.StepStatus{
			Label:     step.Label,
			Query:     step.Request.Query,
			OK:        stepErr == nil,
			Count:     len(items),
			ElapsedMS: time.Since(stepStarted).Milliseconds(),
		}

		if stepErr != nil {
			status.Error = stepErr.Error()
			statuses = append(statuses, status)

			if errors.Is(stepErr, context.Canceled) && ctx.Err() != nil {
				state = domain.PlanStoppedByUser
				break steps
			}
			if runCtx.Err() != nil && ctx.Err() == nil {
				state = domain.PlanTimedOut
				break steps
			}

			kind := Classify(stepErr)
			metrics.PlanStepsTotal.WithLabelValues(string(kind)).Inc()
			runErrors = append(runErrors, fmt.Sprintf("%s: %s", step.Label, stepErr.Error()))
			if dominantKind == "" || kind.FatalNetwork() {
				dominantKind = kind
			}
			s.sink.Log("step", fmt.Sprintf("%s failed (%s)", step.Label, kind))

			if kind.FatalNetwork() {
				fatalStreak++
				// Consecutive fatal connectivity failures at the head of the
				// plan with nothing found: the remaining steps will almost
				// certainly fail the same way, so stop burning the budget.
				if fatalStreak >= 2 && len(merged) == 0 && i <= 1 {
					state = domain.PlanError
					break steps
				}
			}
			continue
		}

		fatalStreak = 0
		metrics.PlanStepsTotal.WithLabelValues("ok").Inc()

		newCount := 0
		for _, item := range items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			merged = append(merged, item)
			newCount++
		}
		status.NewCount = newCount
		statuses = append(statuses, status)

		if newCount > 0 {
			successfulQueries = appendUniqueQuery(successfulQueries, step.Request.Query)
		}
		s.sink.Log("step", fmt.Sprintf("%s: %d results, %d new, %d total", step.Label, len(items), newCount, len(merged)))
	}

	switch {
	case state == domain.PlanRunning && stopped():
		state = domain.PlanStoppedByUser
	case state == domain.PlanRunning && runCtx.Err() != nil:
		state = budgetState(ctx, runCtx)
	case state == domain.PlanRunning:
		state = domain.PlanDone
	}

	if len(merged) > target {
		merged = merged[:target]
	}

	// Learning and the save-what-was-found import both run in a scope immune
	// to the caller's cancellation: a stopped run still keeps its findings.
	tailCtx := context.WithoutCancel(ctx)
	if s.cfg.LearningEnabled && s.learned != nil && len(merged) > 0 {
		if saveErr := s.learned.Save(tailCtx, request.Query, successfulQueries, opts.PresetID); saveErr != nil {
			slog.Warn("learned query save failed", slog.String("error", saveErr.Error()))
		}
	}
	if opts.TailImport != nil && len(merged) > 0 {
		opts.TailImport(tailCtx, merged)
	}

	outcome = domain.PlanOutcome{
		State:                 state,
		Candidates:            merged,
		Errors:                runErrors,
		SuccessfulStepQueries: successfulQueries,
		TimedOut:              state == domain.PlanTimedOut,
		Steps:                 statuses,
		ElapsedMS:             time.Since(startedAt).Milliseconds(),
	}
	outcome.Status, outcome.Hint = describeOutcome(outcome, dominantKind)
	s.sink.Log("plan", outcome.Status)
	return outcome, nil
}

// resolveAutoMode turns AUTO into a concrete mode using the preflight
// verdict: APIs reachable means direct API; otherwise fall back to the
// search-engine path when one is configured.
func resolveAutoMode(snapshot domain.ReachabilitySnapshot, hasWebSearch bool) domain.SearchMode {
	if snapshot.APIReachable {
		return domain.ModeDirectAPI
	}
	if snapshot.WebReachable && hasWebSearch {
		return domain.ModeSearchEngine
	}
	return domain.ModeDirectAPI
}

// budgetState distinguishes the global budget expiring (a recognized
// outcome, not an error) from the caller cancelling the run.
func budgetState(parent, runCtx context.Context) domain.PlanState {
	if parent.Err() != nil {
		return domain.PlanStoppedByUser
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return domain.PlanTimedOut
	}
	return domain.PlanStoppedByUser
}

// describeOutcome builds the human-readable terminal status. Zero results
// always carry an actionable hint.
func describeOutcome(outcome domain.PlanOutcome, dominantKind ErrorKind) (string, string) {
	count := len(outcome.Candidates)
	switch outcome.State {
	case domain.PlanStoppedByUser:
		return fmt.Sprintf("stopped by request; keeping %d playlists found so far", count), ""
	case domain.PlanTimedOut:
		status := fmt.Sprintf("time budget exceeded; keeping %d playlists found so far", count)
		if count == 0 {
			return status, Hint(KindTimeout)
		}
		return status, ""
	case domain.PlanError:
		if dominantKind == "" {
			dominantKind = KindOther
		}
		return "scan aborted: providers are unreachable", Hint(dominantKind)
	default:
		if count == 0 {
			if dominantKind == "" {
				dominantKind = KindOther
			}
			return "no playlists found", Hint(dominantKind)
		}
		return fmt.Sprintf("found %d playlists", count), ""
	}
}

func appendUniqueQuery(queries []string, query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return queries
	}
	for _, existing := range queries {
		if strings.EqualFold(existing, query) {
			return queries
		}
	}
	return append(queries, query)
}
