package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"iptvstream/scanservice/internal/diag"
	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/netprobe"
)

// Provider is one playlist search backend: a code-hosting API client or the
// search-engine aggregator. The service treats all of them as black boxes.
type Provider interface {
	Name() string
	Scope() domain.ProviderScope
	Info() domain.ProviderInfo
	Search(ctx context.Context, request domain.SearchRequest) ([]domain.PlaylistCandidate, error)
}

// LearnedQueryStore persists queries that produced results, for biasing
// future plans. The concrete encoding is the store's business.
type LearnedQueryStore interface {
	Load(ctx context.Context) ([]domain.LearnedQuery, error)
	Save(ctx context.Context, primaryQuery string, relatedQueries []string, presetID string) error
}

// Config carries the tunables of the plan pipeline. Zero values fall back to
// the defaults below; tests override the timings to run fast.
type Config struct {
	PerCallTimeout         time.Duration
	DegradedPerCallTimeout time.Duration
	StepCeiling            time.Duration
	PlanBudget             time.Duration
	PulseInterval          time.Duration
	MaxConcurrentProviders int64
	ProviderRPS            rate.Limit
	ProviderBurst          int
	LearningEnabled        bool
	VariantsEnabled        bool
	Weights                LearnedScoreWeights
}

func (c Config) withDefaults() Config {
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = 20 * time.Second
	}
	if c.DegradedPerCallTimeout <= 0 {
		c.DegradedPerCallTimeout = 6 * time.Second
	}
	if c.StepCeiling <= 0 {
		c.StepCeiling = 45 * time.Second
	}
	if c.PlanBudget <= 0 {
		c.PlanBudget = 5 * time.Minute
	}
	if c.PulseInterval <= 0 {
		c.PulseInterval = time.Second
	}
	if c.MaxConcurrentProviders <= 0 {
		c.MaxConcurrentProviders = 4
	}
	if c.ProviderRPS <= 0 {
		c.ProviderRPS = 2
	}
	if c.ProviderBurst <= 0 {
		c.ProviderBurst = 4
	}
	if c.Weights == (LearnedScoreWeights{}) {
		c.Weights = DefaultLearnedScoreWeights()
	}
	return c
}

// Service drives the plan pipeline: preflight, plan building, bounded step
// execution, merge, learning and diagnostics.
type Service struct {
	providers map[domain.ProviderScope]Provider
	webSearch Provider
	cfg       Config
	prober    *netprobe.Prober
	learned   LearnedQueryStore
	sink      diag.Sink

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	healthMu sync.Mutex
	health   map[string]*providerHealth
}

type ServiceOption func(*Service)

func WithLearnedStore(store LearnedQueryStore) ServiceOption {
	return func(s *Service) {
		s.learned = store
	}
}

func WithDiagnostics(sink diag.Sink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithProber(prober *netprobe.Prober) ServiceOption {
	return func(s *Service) {
		if prober != nil {
			s.prober = prober
		}
	}
}

func WithWebSearch(provider Provider) ServiceOption {
	return func(s *Service) {
		s.webSearch = provider
	}
}

func NewService(providers []Provider, cfg Config, opts ...ServiceOption) *Service {
	registry := make(map[domain.ProviderScope]Provider, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		scope := provider.Scope()
		if scope == "" || scope == domain.ScopeAll {
			continue
		}
		if _, exists := registry[scope]; exists {
			continue
		}
		registry[scope] = provider
	}

	svc := &Service{
		providers: registry,
		cfg:       cfg.withDefaults(),
		prober:    netprobe.New(),
		sink:      diag.Discard(),
		limiters:  make(map[string]*rate.Limiter),
		health:    make(map[string]*providerHealth),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// providerFor resolves the backend for a single-scope request under the
// given mode. Search-engine mode always collapses onto the aggregator.
func (s *Service) providerFor(scope domain.ProviderScope, mode domain.SearchMode) (Provider, bool) {
	if mode == domain.ModeSearchEngine {
		if s.webSearch != nil {
			return s.webSearch, true
		}
		return nil, false
	}
	provider, ok := s.providers[scope]
	return provider, ok
}

// Providers lists the configured backends, aggregator included, for the
// diagnostics surface.
func (s *Service) Providers() []domain.ProviderInfo {
	items := make([]domain.ProviderInfo, 0, len(s.providers)+1)
	for _, provider := range s.providers {
		items = append(items, normalizeInfo(provider))
	}
	if s.webSearch != nil {
		items = append(items, normalizeInfo(s.webSearch))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

func normalizeInfo(provider Provider) domain.ProviderInfo {
	info := provider.Info()
	info.Name = strings.ToLower(strings.TrimSpace(info.Name))
	if info.Name == "" {
		info.Name = strings.ToLower(strings.TrimSpace(provider.Name()))
	}
	if info.Label == "" {
		info.Label = info.Name
	}
	return info
}

// waitProviderRateLimit blocks until the per-provider limiter admits one
// more call, or the context is cancelled.
func (s *Service) waitProviderRateLimit(ctx context.Context, providerKey string) error {
	providerKey = strings.ToLower(strings.TrimSpace(providerKey))
	if providerKey == "" {
		return nil
	}

	s.limiterMu.Lock()
	limiter, ok := s.limiters[providerKey]
	if !ok {
		limiter = rate.NewLimiter(s.cfg.ProviderRPS, s.cfg.ProviderBurst)
		s.limiters[providerKey] = limiter
	}
	s.limiterMu.Unlock()

	return limiter.Wait(ctx)
}
