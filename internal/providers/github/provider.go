// Package github searches the GitHub code-search API for playlist files.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/providers/common"
)

const (
	defaultEndpoint  = "https://api.github.com/search/code"
	defaultUserAgent = "iptv-scan-service/1.0"
)

type Config struct {
	Endpoint  string
	Token     string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	token     string
	userAgent string
}

type searchResponse struct {
	TotalCount int          `json:"total_count"`
	Items      []searchItem `json:"items"`
}

type searchItem struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	HTMLURL    string `json:"html_url"`
	Repository struct {
		FullName string `json:"full_name"`
		PushedAt string `json:"pushed_at"`
	} `json:"repository"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Provider{
		client:    client,
		endpoint:  endpoint,
		token:     strings.TrimSpace(cfg.Token),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string { return "github" }

func (p *Provider) Scope() domain.ProviderScope { return domain.ScopeGitHub }

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "GitHub",
		Kind:    "codehost",
		Enabled: true,
	}
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	limit := request.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := uri.Query()
	query.Set("q", buildQualifiedQuery(request))
	query.Set("per_page", strconv.Itoa(limit))
	uri.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}

	var payload searchResponse
	if err := common.DecodeResponse(p.Name(), resp, &payload); err != nil {
		return nil, err
	}

	results := make([]domain.PlaylistCandidate, 0, len(payload.Items))
	for _, item := range payload.Items {
		if !common.LooksLikePlaylist(item.Path) {
			continue
		}
		repo := strings.TrimSpace(item.Repository.FullName)
		if repo == "" {
			continue
		}
		results = append(results, domain.PlaylistCandidate{
			ID:          common.CandidateID(p.Name(), repo, item.Path),
			Provider:    p.Name(),
			Repository:  repo,
			Path:        item.Path,
			Name:        item.Name,
			DownloadURL: fmt.Sprintf("https://raw.githubusercontent.com/%s/HEAD/%s", repo, item.Path),
			UpdatedAt:   item.Repository.PushedAt,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// buildQualifiedQuery maps the request filters onto GitHub search
// qualifiers. The extension qualifier narrows hits to playlist files before
// the client-side suffix filter runs.
func buildQualifiedQuery(request domain.SearchRequest) string {
	parts := []string{strings.TrimSpace(request.Query), "in:file", "extension:m3u"}
	if repo := strings.TrimSpace(request.RepoFilter); repo != "" {
		parts = append(parts, "repo:"+repo)
	}
	if path := strings.TrimSpace(request.PathFilter); path != "" {
		parts = append(parts, "path:"+path)
	}
	if request.MinSizeBytes > 0 && request.MaxSizeBytes > 0 {
		parts = append(parts, fmt.Sprintf("size:%d..%d", request.MinSizeBytes, request.MaxSizeBytes))
	} else if request.MinSizeBytes > 0 {
		parts = append(parts, fmt.Sprintf("size:>=%d", request.MinSizeBytes))
	} else if request.MaxSizeBytes > 0 {
		parts = append(parts, fmt.Sprintf("size:<=%d", request.MaxSizeBytes))
	}
	if request.UpdatedAfterMS > 0 {
		parts = append(parts, "pushed:>"+time.UnixMilli(request.UpdatedAfterMS).UTC().Format("2006-01-02"))
	}
	return strings.Join(parts, " ")
}
