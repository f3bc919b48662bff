package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/netprobe"
)

type fakeProvider struct {
	name  string
	scope domain.ProviderScope
	fn    func(ctx context.Context, req domain.SearchRequest) ([]domain.PlaylistCandidate, error)
	calls atomic.Int32
}

func (f *fakeProvider) Name() string                { return f.name }
func (f *fakeProvider) Scope() domain.ProviderScope { return f.scope }

func (f *fakeProvider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{Name: f.name, Label: f.name, Kind: "test", Enabled: true}
}

func (f *fakeProvider) Search(ctx context.Context, req domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

type resolverFunc func(ctx context.Context, host string) ([]string, error)

func (fn resolverFunc) LookupHost(ctx context.Context, host string) ([]string, error) {
	return fn(ctx, host)
}

func okResolver() netprobe.Resolver {
	return resolverFunc(func(context.Context, string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	})
}

func failResolver() netprobe.Resolver {
	return resolverFunc(func(_ context.Context, host string) ([]string, error) {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	})
}

type memLearnedStore struct {
	mu      sync.Mutex
	stored  []domain.LearnedQuery
	savedAt int
	primary string
	related []string
}

func (m *memLearnedStore) Load(context.Context) ([]domain.LearnedQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored, nil
}

func (m *memLearnedStore) Save(_ context.Context, primary string, related []string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedAt++
	m.primary = primary
	m.related = append([]string(nil), related...)
	return nil
}

func testConfig() Config {
	return Config{
		PerCallTimeout:         time.Second,
		DegradedPerCallTimeout: 500 * time.Millisecond,
		StepCeiling:            2 * time.Second,
		PlanBudget:             5 * time.Second,
		PulseInterval:          10 * time.Millisecond,
		MaxConcurrentProviders: 4,
		ProviderRPS:            1000,
		ProviderBurst:          1000,
	}
}

func cand(id string) domain.PlaylistCandidate {
	return domain.PlaylistCandidate{
		ID:          id,
		Provider:    strings.SplitN(id, ":", 2)[0],
		Repository:  "repo/" + id,
		Path:        id + ".m3u",
		Name:        id,
		DownloadURL: "https://example.com/" + id + ".m3u",
	}
}

func TestRunPlanRejectsEmptyQuery(t *testing.T) {
	svc := NewService(nil, testConfig(), WithProber(netprobe.New(netprobe.WithResolver(okResolver()))))
	if _, err := svc.RunPlan(context.Background(), domain.SearchRequest{Query: "   "}, RunOptions{}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestRunPlanMergesFirstSeenWins(t *testing.T) {
	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return []domain.PlaylistCandidate{cand("github:a"), cand("github:b"), cand("github:c")}, nil
	}}
	duplicate := cand("github:a")
	duplicate.Name = "different payload, same id"
	gitlab := &fakeProvider{name: "gitlab", scope: domain.ScopeGitLab, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return []domain.PlaylistCandidate{duplicate, cand("gitlab:x"), cand("gitlab:y")}, nil
	}}

	svc := NewService([]Provider{github, gitlab}, testConfig(),
		WithProber(netprobe.New(netprobe.WithResolver(okResolver()))))

	outcome, err := svc.RunPlan(context.Background(), domain.SearchRequest{
		Query: "test channels",
		Scope: domain.ScopeAll,
	}, RunOptions{TargetCount: 10})
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}

	if outcome.State != domain.PlanDone {
		t.Fatalf("expected done state, got %s (status=%q)", outcome.State, outcome.Status)
	}
	if outcome.TimedOut {
		t.Fatalf("unexpected timedOut")
	}
	if len(outcome.Candidates) != 5 {
		t.Fatalf("expected 5 merged candidates, got %d", len(outcome.Candidates))
	}
	for _, c := range outcome.Candidates {
		if c.ID == "github:a" && c.Name != "github:a" {
			t.Fatalf("duplicate id overwrote the first-seen candidate: %+v", c)
		}
	}
	if len(outcome.SuccessfulStepQueries) == 0 || outcome.SuccessfulStepQueries[0] != "test channels" {
		t.Fatalf("expected base query recorded as successful, got %v", outcome.SuccessfulStepQueries)
	}
}

func TestRunPlanTargetCountTruncates(t *testing.T) {
	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		items := make([]domain.PlaylistCandidate, 0, 10)
		for i := 0; i < 10; i++ {
			items = append(items, cand(fmt.Sprintf("github:%d", i)))
		}
		return items, nil
	}}

	svc := NewService([]Provider{github}, testConfig(),
		WithProber(netprobe.New(netprobe.WithResolver(okResolver()))))

	outcome, err := svc.RunPlan(context.Background(), domain.SearchRequest{
		Query: "test channels",
		Scope: domain.ScopeGitHub,
	}, RunOptions{TargetCount: 5})
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}
	if len(outcome.Candidates) != 5 {
		t.Fatalf("expected truncation to 5, got %d", len(outcome.Candidates))
	}
	if outcome.State != domain.PlanDone {
		t.Fatalf("expected done, got %s", outcome.State)
	}
}

func TestRunPlanStopPreservesPartialResults(t *testing.T) {
	stop := make(chan struct{})
	var closeOnce sync.Once

	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		defer closeOnce.Do(func() { close(stop) })
		return []domain.PlaylistCandidate{
			cand("github:1"), cand("github:2"), cand("github:3"), cand("github:4"), cand("github:5"),
		}, nil
	}}

	svc := NewService([]Provider{github}, testConfig(),
		WithProber(netprobe.New(netprobe.WithResolver(okResolver()))))

	outcome, err := svc.RunPlan(context.Background(), domain.SearchRequest{
		Query:      "test channels",
		Scope:      domain.ScopeGitHub,
		PathFilter: "playlists/",
	}, RunOptions{TargetCount: 100, Stop: stop})
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}

	if outcome.State != domain.PlanStoppedByUser {
		t.Fatalf("expected stoppedByUser, got %s", outcome.State)
	}
	if len(outcome.Candidates) != 5 {
		t.Fatalf("stop lost partial results: got %d candidates", len(outcome.Candidates))
	}
	if got := github.calls.Load(); got != 1 {
		t.Fatalf("expected a single provider call before stop, got %d", got)
	}
}

func TestRunPlanFailFastOnConsecutiveFatalErrors(t *testing.T) {
	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return nil, &net.DNSError{Err: "no such host", Name: "api.github.com", IsNotFound: true}
	}}

	svc := NewService([]Provider{github}, testConfig(),
		WithProber(netprobe.New(netprobe.WithResolver(okResolver()))))

	outcome, err := svc.RunPlan(context.Background(), domain.SearchRequest{
		Query:      "test channels",
		Scope:      domain.ScopeGitHub,
		PathFilter: "playlists/",
	}, RunOptions{TargetCount: 10})
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}

	if outcome.State != domain.PlanError {
		t.Fatalf("expected error state, got %s", outcome.State)
	}
	if len(outcome.Candidates) != 0 {
		t.Fatalf("expected no candidates, got %d", len(outcome.Candidates))
	}
	if outcome.Hint == "" {
		t.Fatalf("zero-result error outcome must carry a hint")
	}
	// Two fatal steps abort the plan; the remaining steps never run.
	if got := github.calls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 provider calls before fail-fast, got %d", got)
	}
}

func TestRunPlanSearchEngineModeCollapsesToAggregator(t *testing.T) {
	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return []domain.PlaylistCandidate{cand("github:never")}, nil
	}}
	web := &fakeProvider{name: "websearch", scope: domain.ScopeAll, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return []domain.PlaylistCandidate{cand("websearch:1"), cand("websearch:2")}, nil
	}}

	svc := NewService([]Provider{github}, testConfig(),
		WithProber(netprobe.New(netprobe.WithResolver(okResolver()))),
		WithWebSearch(web))

	outcome, err := svc.RunPlan(context.Background(), domain.SearchRequest{
		Query: "test channels",
		Scope: domain.ScopeAll,
		Mode:  domain.ModeSearchEngine,
	}, RunOptions{TargetCount: 10})
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}

	if github.calls.Load() != 0 {
		t.Fatalf("direct provider must not be called in search-engine mode")
	}
	if web.calls.Load() == 0 {
		t.Fatalf("aggregator was never called")
	}
	if len(outcome.Candidates) != 2 {
		t.Fatalf("expected 2 candidates from aggregator, got %d", len(outcome.Candidates))
	}
}

func TestRunPlanAutoModeFallsBackToWebSearch(t *testing.T) {
	// API hosts unreachable, web hosts resolving: AUTO must pick the
	// search-engine path.
	resolver := resolverFunc(func(_ context.Context, host string) ([]string, error) {
		switch host {
		case "api.github.com", "gitlab.com", "api.bitbucket.org":
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		default:
			return []string{"127.0.0.1"}, nil
		}
	})

	web := &fakeProvider{name: "websearch", scope: domain.ScopeAll, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return []domain.PlaylistCandidate{cand("websearch:1")}, nil
	}}
	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return nil, errors.New("should not be called")
	}}

	svc := NewService([]Provider{github}, testConfig(),
		WithProber(netprobe.New(netprobe.WithResolver(resolver))),
		WithWebSearch(web))

	outcome, err := svc.RunPlan(context.Background(), domain.SearchRequest{
		Query: "test channels",
		Scope: domain.ScopeAll,
		Mode:  domain.ModeAuto,
	}, RunOptions{TargetCount: 10})
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}
	if github.calls.Load() != 0 {
		t.Fatalf("auto mode used the unreachable direct path")
	}
	if len(outcome.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(outcome.Candidates))
	}
}

func TestRunPlanDegradedPreflightShortensPlan(t *testing.T) {
	calls := atomic.Int32{}
	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		calls.Add(1)
		return nil, nil
	}}

	cfg := testConfig()
	cfg.VariantsEnabled = true
	svc := NewService([]Provider{github}, cfg,
		WithProber(netprobe.New(netprobe.WithResolver(failResolver()))))

	outcome, err := svc.RunPlan(context.Background(), domain.SearchRequest{
		Query:      "test channels",
		Scope:      domain.ScopeGitHub,
		PathFilter: "playlists/",
	}, RunOptions{TargetCount: 10})
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}

	if got := calls.Load(); got > 2 {
		t.Fatalf("degraded plan ran %d steps, want at most 2", got)
	}
	if len(outcome.Steps) > 2 {
		t.Fatalf("degraded plan reported %d steps, want at most 2", len(outcome.Steps))
	}
}

func TestRunPlanSavesLearnedQueriesAfterRun(t *testing.T) {
	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return []domain.PlaylistCandidate{cand("github:1")}, nil
	}}

	learned := &memLearnedStore{}
	cfg := testConfig()
	cfg.LearningEnabled = true
	svc := NewService([]Provider{github}, cfg,
		WithProber(netprobe.New(netprobe.WithResolver(okResolver()))),
		WithLearnedStore(learned))

	if _, err := svc.RunPlan(context.Background(), domain.SearchRequest{
		Query: "test channels",
		Scope: domain.ScopeGitHub,
	}, RunOptions{TargetCount: 10}); err != nil {
		t.Fatalf("RunPlan: %v", err)
	}

	learned.mu.Lock()
	defer learned.mu.Unlock()
	if learned.savedAt != 1 {
		t.Fatalf("expected one learned save, got %d", learned.savedAt)
	}
	if learned.primary != "test channels" {
		t.Fatalf("unexpected primary learned query %q", learned.primary)
	}
}

func TestRunPlanTailImportReceivesMergedCandidates(t *testing.T) {
	github := &fakeProvider{name: "github", scope: domain.ScopeGitHub, fn: func(context.Context, domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
		return []domain.PlaylistCandidate{cand("github:1"), cand("github:2")}, nil
	}}

	svc := NewService([]Provider{github}, testConfig(),
		WithProber(netprobe.New(netprobe.WithResolver(okResolver()))))

	var imported []domain.PlaylistCandidate
	var importCtxAlive bool
	ctx, cancel := context.WithCancel(context.Background())
	outcome, err := svc.RunPlan(ctx, domain.SearchRequest{
		Query: "test channels",
		Scope: domain.ScopeGitHub,
	}, RunOptions{
		TargetCount: 10,
		TailImport: func(tailCtx context.Context, candidates []domain.PlaylistCandidate) {
			cancel()
			importCtxAlive = tailCtx.Err() == nil
			imported = append(imported, candidates...)
		},
	})
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}

	if len(imported) != len(outcome.Candidates) {
		t.Fatalf("tail import got %d candidates, outcome has %d", len(imported), len(outcome.Candidates))
	}
	if !importCtxAlive {
		t.Fatalf("tail import context must survive caller cancellation")
	}
}
