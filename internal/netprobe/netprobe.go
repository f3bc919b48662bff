// Package netprobe runs DNS reachability preflights so the scan pipeline can
// pick a search mode and timeout profile before issuing provider calls.
package netprobe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/metrics"
)

const (
	// DefaultTimeout bounds a single host resolution.
	DefaultTimeout = 1500 * time.Millisecond
	// cacheTTL keeps resolved verdicts hot within one scan session so repeated
	// preflights do not cause resolution storms.
	cacheTTL = 30 * time.Second
)

// DefaultAPIHosts are the provider API endpoints a direct-API scan depends on.
var DefaultAPIHosts = []string{"api.github.com", "gitlab.com", "api.bitbucket.org"}

// DefaultWebHosts represent plain web reachability for the search-engine path.
var DefaultWebHosts = []string{"github.com", "raw.githubusercontent.com", "duckduckgo.com"}

// Resolver is the injectable DNS lookup seam.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type cacheEntry struct {
	detail     string
	ok         bool
	resolvedAt time.Time
}

// Prober resolves well-known hosts with a tight timeout and caches verdicts
// per host for a short TTL.
type Prober struct {
	resolver Resolver
	timeout  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type Option func(*Prober)

func WithResolver(resolver Resolver) Option {
	return func(p *Prober) {
		if resolver != nil {
			p.resolver = resolver
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Prober) {
		if now != nil {
			p.now = now
		}
	}
}

func New(opts ...Option) *Prober {
	p := &Prober{
		resolver: net.DefaultResolver,
		timeout:  DefaultTimeout,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe resolves each host and returns one encoded line per host:
// "host=ok(ip1,ip2)", "host=probe_timeout(Nms)" or "host=err(Type:msg)".
func (p *Prober) Probe(ctx context.Context, hosts []string) []string {
	details := make([]string, 0, len(hosts))
	for _, host := range hosts {
		detail, _ := p.probeHost(ctx, host)
		details = append(details, detail)
	}
	return details
}

// Snapshot probes the API and web host groups and derives the reachability
// booleans: a group is reachable iff at least one of its hosts resolved.
func (p *Prober) Snapshot(ctx context.Context, apiHosts, webHosts []string) domain.ReachabilitySnapshot {
	if len(apiHosts) == 0 {
		apiHosts = DefaultAPIHosts
	}
	if len(webHosts) == 0 {
		webHosts = DefaultWebHosts
	}

	snapshot := domain.ReachabilitySnapshot{}
	for _, host := range apiHosts {
		detail, ok := p.probeHost(ctx, host)
		snapshot.Details = append(snapshot.Details, detail)
		if ok {
			snapshot.APIReachable = true
		}
	}
	for _, host := range webHosts {
		detail, ok := p.probeHost(ctx, host)
		snapshot.Details = append(snapshot.Details, detail)
		if ok {
			snapshot.WebReachable = true
		}
	}
	return snapshot
}

func (p *Prober) probeHost(ctx context.Context, host string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "=err(empty host)", false
	}

	now := p.now()
	p.mu.Lock()
	if entry, found := p.cache[host]; found && now.Sub(entry.resolvedAt) < cacheTTL {
		p.mu.Unlock()
		return entry.detail, entry.ok
	}
	p.mu.Unlock()

	detail, ok := p.resolveOnce(ctx, host)

	p.mu.Lock()
	p.cache[host] = cacheEntry{detail: detail, ok: ok, resolvedAt: now}
	p.mu.Unlock()
	return detail, ok
}

func (p *Prober) resolveOnce(ctx context.Context, host string) (string, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type lookupResult struct {
		addrs []string
		err   error
	}
	resultCh := make(chan lookupResult, 1)
	go func() {
		addrs, err := p.resolver.LookupHost(lookupCtx, host)
		resultCh <- lookupResult{addrs: addrs, err: err}
	}()

	select {
	case <-lookupCtx.Done():
		metrics.DNSProbesTotal.WithLabelValues("timeout").Inc()
		return fmt.Sprintf("%s=probe_timeout(%dms)", host, p.timeout.Milliseconds()), false
	case result := <-resultCh:
		if result.err != nil {
			metrics.DNSProbesTotal.WithLabelValues("error").Inc()
			return fmt.Sprintf("%s=err(%T:%s)", host, result.err, compactError(result.err)), false
		}
		if len(result.addrs) == 0 {
			metrics.DNSProbesTotal.WithLabelValues("empty").Inc()
			return fmt.Sprintf("%s=err(no addresses)", host), false
		}
		metrics.DNSProbesTotal.WithLabelValues("ok").Inc()
		return fmt.Sprintf("%s=ok(%s)", host, strings.Join(result.addrs, ",")), true
	}
}

func compactError(err error) string {
	msg := strings.TrimSpace(err.Error())
	msg = strings.ReplaceAll(msg, "\n", " ")
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}
