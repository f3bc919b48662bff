package search

import (
	"sort"
	"strings"
	"time"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/metrics"
)

const (
	providerFailureThreshold = 3
	providerBlockBase        = 2 * time.Minute
	providerBlockMax         = 15 * time.Minute
)

type providerHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	lastQuery           string
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

// isProviderBlocked reports whether the circuit breaker has the provider on
// hold. Blocked providers are skipped inside fan-out instead of burning a
// slot of the step ceiling.
func (s *Service) isProviderBlocked(providerKey string, now time.Time) (bool, time.Time, string) {
	name := strings.ToLower(strings.TrimSpace(providerKey))
	if name == "" {
		return false, time.Time{}, ""
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[name]
	if state == nil {
		return false, time.Time{}, ""
	}
	if state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, state.blockedUntil, state.lastError
}

func (s *Service) recordProviderResult(providerKey, query string, err error, latency time.Duration, now time.Time) {
	name := strings.ToLower(strings.TrimSpace(providerKey))
	if name == "" {
		return
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[name]
	if state == nil {
		state = &providerHealth{}
		s.health[name] = state
	}
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.ProviderRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	state.lastTimeout = Classify(err) == KindTimeout && err != nil
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.ProviderRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.ProviderAvailable.WithLabelValues(name).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(name, status).Inc()

	if state.consecutiveFailures >= providerFailureThreshold {
		state.blockedUntil = now.Add(blockDuration(state.consecutiveFailures))
		metrics.ProviderAvailable.WithLabelValues(name).Set(0)
	}
}

// blockDuration doubles per failure beyond the threshold, capped at 15min.
func blockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - providerFailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := providerBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > providerBlockMax {
			return providerBlockMax
		}
	}
	return d
}

func (s *Service) ProviderDiagnostics() []domain.ProviderDiagnostics {
	infos := s.Providers()
	if len(infos) == 0 {
		return nil
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	items := make([]domain.ProviderDiagnostics, 0, len(infos))
	for _, info := range infos {
		state := s.health[info.Name]
		item := domain.ProviderDiagnostics{
			Name:    info.Name,
			Label:   info.Label,
			Kind:    info.Kind,
			Enabled: info.Enabled,
		}
		if state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			if !state.blockedUntil.IsZero() {
				blockedUntil := state.blockedUntil
				item.BlockedUntil = &blockedUntil
			}
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items
}
