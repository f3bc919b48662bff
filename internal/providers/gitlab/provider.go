// Package gitlab searches the GitLab blob-search API for playlist files.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/providers/common"
)

const (
	defaultBaseURL   = "https://gitlab.com"
	defaultUserAgent = "iptv-scan-service/1.0"
)

type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	baseURL   string
	token     string
	userAgent string
}

type blobItem struct {
	Basename  string `json:"basename"`
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	ProjectID int64  `json:"project_id"`
	Ref       string `json:"ref"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Provider{
		client:    client,
		baseURL:   baseURL,
		token:     strings.TrimSpace(cfg.Token),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string { return "gitlab" }

func (p *Provider) Scope() domain.ProviderScope { return domain.ScopeGitLab }

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "GitLab",
		Kind:    "codehost",
		Enabled: true,
	}
}

// Search hits the global blob search, or the project-scoped variant when a
// repo filter narrows the request to one project.
func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
	endpoint := p.baseURL + "/api/v4/search"
	if repo := strings.TrimSpace(request.RepoFilter); repo != "" {
		endpoint = fmt.Sprintf("%s/api/v4/projects/%s/search", p.baseURL, url.PathEscape(repo))
	}
	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	limit := request.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := uri.Query()
	query.Set("scope", "blobs")
	query.Set("search", buildBlobQuery(request))
	query.Set("per_page", strconv.Itoa(limit))
	uri.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	if p.token != "" {
		req.Header.Set("PRIVATE-TOKEN", p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}

	var items []blobItem
	if err := common.DecodeResponse(p.Name(), resp, &items); err != nil {
		return nil, err
	}

	results := make([]domain.PlaylistCandidate, 0, len(items))
	for _, item := range items {
		if !common.LooksLikePlaylist(item.Path) {
			continue
		}
		repo := strconv.FormatInt(item.ProjectID, 10)
		ref := item.Ref
		if ref == "" {
			ref = "HEAD"
		}
		results = append(results, domain.PlaylistCandidate{
			ID:         common.CandidateID(p.Name(), repo, item.Path),
			Provider:   p.Name(),
			Repository: repo,
			Path:       item.Path,
			Name:       item.Filename,
			DownloadURL: fmt.Sprintf("%s/api/v4/projects/%s/repository/files/%s/raw?ref=%s",
				p.baseURL, repo, url.PathEscape(item.Path), url.QueryEscape(ref)),
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// buildBlobQuery appends the filename filter GitLab understands; the other
// request filters have no blob-search equivalent and stay client-side.
func buildBlobQuery(request domain.SearchRequest) string {
	parts := []string{strings.TrimSpace(request.Query), "filename:*.m3u*"}
	if path := strings.TrimSpace(request.PathFilter); path != "" {
		parts = append(parts, "path:"+path)
	}
	return strings.Join(parts, " ")
}
