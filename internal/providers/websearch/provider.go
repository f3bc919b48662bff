// Package websearch aggregates playlist links from a SearxNG-compatible
// metasearch endpoint. It is the fallback path when the code-hosting APIs
// are unreachable but the open web still is.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/providers/common"
)

const defaultUserAgent = "iptv-scan-service/1.0"

// ErrNoEndpoint is returned when the provider is constructed without a
// search endpoint. The caller decides whether that disables the fallback.
var ErrNoEndpoint = errors.New("websearch: no endpoint configured")

type Config struct {
	// Endpoint is a SearxNG-style search URL, e.g. https://searx.example/search.
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Provider{
		client:    client,
		endpoint:  strings.TrimSpace(cfg.Endpoint),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string { return "websearch" }

// Scope is ALL: the aggregator is never registered per-host, it substitutes
// for the whole fan-out in search-engine mode.
func (p *Provider) Scope() domain.ProviderScope { return domain.ScopeAll }

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "Web search",
		Kind:    "aggregator",
		Enabled: p.endpoint != "",
	}
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
	if p.endpoint == "" {
		return nil, ErrNoEndpoint
	}
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	limit := request.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := uri.Query()
	query.Set("q", buildWebQuery(request))
	query.Set("format", "json")
	uri.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}

	var payload searchResponse
	if err := common.DecodeResponse(p.Name(), resp, &payload); err != nil {
		return nil, err
	}

	results := make([]domain.PlaylistCandidate, 0, len(payload.Results))
	for _, item := range payload.Results {
		link := strings.TrimSpace(item.URL)
		if !looksLikePlaylistLink(link) {
			continue
		}
		host := hostOf(link)
		results = append(results, domain.PlaylistCandidate{
			ID:          common.CandidateID(p.Name(), host, link),
			Provider:    p.Name(),
			Repository:  host,
			Path:        link,
			Name:        strings.TrimSpace(item.Title),
			DownloadURL: link,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func buildWebQuery(request domain.SearchRequest) string {
	parts := []string{strings.TrimSpace(request.Query), "iptv m3u8 playlist"}
	for _, keyword := range request.Keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword != "" && !strings.Contains(strings.ToLower(parts[0]), strings.ToLower(keyword)) {
			parts = append(parts, keyword)
		}
	}
	return strings.Join(parts, " ")
}

// looksLikePlaylistLink keeps only direct playlist URLs; search engines
// return plenty of article pages that merely mention m3u.
func looksLikePlaylistLink(link string) bool {
	parsed, err := url.Parse(link)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false
	}
	return common.LooksLikePlaylist(parsed.Path)
}

func hostOf(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return parsed.Host
}
