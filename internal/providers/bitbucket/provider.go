// Package bitbucket searches the Bitbucket Cloud workspace code search.
// Bitbucket has no global code search; a workspace (taken from the repo
// filter) is mandatory.
package bitbucket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/providers/common"
)

const (
	defaultBaseURL   = "https://api.bitbucket.org/2.0"
	defaultUserAgent = "iptv-scan-service/1.0"
)

// ErrWorkspaceRequired is returned when the request carries no repo filter to
// derive a workspace from.
var ErrWorkspaceRequired = errors.New("bitbucket: search requires a workspace in the repo filter")

type Config struct {
	BaseURL   string
	Username  string
	Password  string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	baseURL   string
	username  string
	password  string
	userAgent string
}

type searchResponse struct {
	Values []searchValue `json:"values"`
}

type searchValue struct {
	File struct {
		Path  string `json:"path"`
		Links struct {
			Self struct {
				Href string `json:"href"`
			} `json:"self"`
		} `json:"links"`
	} `json:"file"`
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
		username:  strings.TrimSpace(cfg.Username),
		password:  strings.TrimSpace(cfg.Password),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string { return "bitbucket" }

func (p *Provider) Scope() domain.ProviderScope { return domain.ScopeBitbucket }

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "Bitbucket",
		Kind:    "codehost",
		Enabled: true,
	}
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.PlaylistCandidate, error) {
	// "workspace" or "workspace/repo"; the first segment addresses the
	// search endpoint, the full value filters results.
	repoFilter := strings.TrimSpace(request.RepoFilter)
	if repoFilter == "" {
		return nil, ErrWorkspaceRequired
	}
	workspace, _, _ := strings.Cut(repoFilter, "/")

	uri, err := url.Parse(fmt.Sprintf("%s/workspaces/%s/search/code", p.baseURL, url.PathEscape(workspace)))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	limit := request.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := uri.Query()
	query.Set("search_query", buildQuery(request))
	query.Set("pagelen", strconv.Itoa(limit))
	uri.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")
	if p.username != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}

	var payload searchResponse
	if err := common.DecodeResponse(p.Name(), resp, &payload); err != nil {
		return nil, err
	}

	results := make([]domain.PlaylistCandidate, 0, len(payload.Values))
	for _, value := range payload.Values {
		path := value.File.Path
		if !common.LooksLikePlaylist(path) {
			continue
		}
		repo, filePath := splitSelfLink(value.File.Links.Self.Href, workspace, path)
		results = append(results, domain.PlaylistCandidate{
			ID:          common.CandidateID(p.Name(), repo, filePath),
			Provider:    p.Name(),
			Repository:  repo,
			Path:        filePath,
			Name:        baseName(filePath),
			DownloadURL: value.File.Links.Self.Href,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func buildQuery(request domain.SearchRequest) string {
	parts := []string{strings.TrimSpace(request.Query), "ext:m3u"}
	if path := strings.TrimSpace(request.PathFilter); path != "" {
		parts = append(parts, "path:"+path)
	}
	return strings.Join(parts, " ")
}

// splitSelfLink recovers "workspace/repo" from the file's API self link,
// shaped .../repositories/{workspace}/{repo}/src/{commit}/{path}. When the
// link does not parse, fall back to the workspace alone.
func splitSelfLink(href, workspace, path string) (string, string) {
	marker := "/repositories/"
	idx := strings.Index(href, marker)
	if idx < 0 {
		return workspace, path
	}
	rest := strings.TrimPrefix(href[idx+len(marker):], "/")
	segments := strings.SplitN(rest, "/", 3)
	if len(segments) < 2 {
		return workspace, path
	}
	return segments[0] + "/" + segments[1], path
}

func baseName(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
