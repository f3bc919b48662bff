package domain

import (
	"strconv"
	"strings"
	"time"
)

type ProviderScope string

const (
	ScopeAll       ProviderScope = "all"
	ScopeGitHub    ProviderScope = "github"
	ScopeGitLab    ProviderScope = "gitlab"
	ScopeBitbucket ProviderScope = "bitbucket"
)

// ConcreteScopes lists the code-hosting providers an "all" scope fans out to.
// Bitbucket's search API mandates a workspace, so it only participates when a
// repo filter is present on the request.
func ConcreteScopes(repoFilter string) []ProviderScope {
	scopes := []ProviderScope{ScopeGitHub, ScopeGitLab}
	if strings.TrimSpace(repoFilter) != "" {
		scopes = append(scopes, ScopeBitbucket)
	}
	return scopes
}

type SearchMode string

const (
	ModeAuto         SearchMode = "auto"
	ModeDirectAPI    SearchMode = "directApi"
	ModeSearchEngine SearchMode = "searchEngine"
)

// SearchRequest describes one playlist discovery query. Treated as an
// immutable value; Key identifies duplicate plan steps.
type SearchRequest struct {
	Query          string        `json:"query"`
	Keywords       []string      `json:"keywords,omitempty"`
	Scope          ProviderScope `json:"scope"`
	Mode           SearchMode    `json:"mode"`
	RepoFilter     string        `json:"repoFilter,omitempty"`
	PathFilter     string        `json:"pathFilter,omitempty"`
	UpdatedAfterMS int64         `json:"updatedAfterMs,omitempty"`
	MinSizeBytes   int64         `json:"minSizeBytes,omitempty"`
	MaxSizeBytes   int64         `json:"maxSizeBytes,omitempty"`
	Limit          int           `json:"limit"`
}

// Key builds the canonical dedup key for a request: normalized fields joined
// in a fixed order. Two steps with the same key would hit providers with the
// same effective parameters.
func (r SearchRequest) Key() string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(r.Query)),
		strings.ToLower(strings.Join(r.Keywords, ",")),
		string(NormalizeScope(string(r.Scope))),
		string(NormalizeMode(string(r.Mode))),
		strings.ToLower(strings.TrimSpace(r.RepoFilter)),
		strings.ToLower(strings.TrimSpace(r.PathFilter)),
		strconv.FormatInt(r.UpdatedAfterMS, 10),
		strconv.FormatInt(r.MinSizeBytes, 10),
		strconv.FormatInt(r.MaxSizeBytes, 10),
	}
	return strings.Join(parts, "|")
}

// PlanStep is one phase of a search plan: a human-readable label plus the
// request to execute.
type PlanStep struct {
	Label   string        `json:"label"`
	Request SearchRequest `json:"request"`
}

// PlaylistCandidate is a discovered playlist file reference, not yet
// imported. ID is the stable dedup key (provider+repo+path).
type PlaylistCandidate struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	Repository  string `json:"repository"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	DownloadURL string `json:"downloadUrl"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}

type PlanState string

const (
	PlanRunning       PlanState = "running"
	PlanDone          PlanState = "done"
	PlanStoppedByUser PlanState = "stoppedByUser"
	PlanTimedOut      PlanState = "timedOut"
	PlanError         PlanState = "error"
)

// StepStatus reports how a single plan step went.
type StepStatus struct {
	Label     string `json:"label"`
	Query     string `json:"query"`
	OK        bool   `json:"ok"`
	Count     int    `json:"count"`
	NewCount  int    `json:"newCount"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsedMs"`
}

// PlanOutcome is the terminal result of a plan run. It is always produced;
// step failures are folded into Errors, never propagated as exceptions.
type PlanOutcome struct {
	State                 PlanState           `json:"state"`
	Candidates            []PlaylistCandidate `json:"candidates"`
	Errors                []string            `json:"errors,omitempty"`
	SuccessfulStepQueries []string            `json:"successfulStepQueries,omitempty"`
	TimedOut              bool                `json:"timedOut"`
	Status                string              `json:"status"`
	Hint                  string              `json:"hint,omitempty"`
	Steps                 []StepStatus        `json:"steps,omitempty"`
	ElapsedMS             int64               `json:"elapsedMs"`
}

// PlanPulse is the periodic in-flight visibility signal emitted while a step
// runs. It never affects the outcome.
type PlanPulse struct {
	StepLabel   string `json:"stepLabel"`
	StepIndex   int    `json:"stepIndex"`
	StepCount   int    `json:"stepCount"`
	MergedCount int    `json:"mergedCount"`
	ElapsedMS   int64  `json:"elapsedMs"`
}

// LearnedQuery records a query that produced results in the past. Hits
// saturates at LearnedHitsCap.
type LearnedQuery struct {
	Query         string `json:"query"`
	Hits          int    `json:"hits"`
	LastSuccessAt int64  `json:"lastSuccessAt"`
	PresetID      string `json:"presetId,omitempty"`
}

const LearnedHitsCap = 50

type ChannelHealth string

const (
	HealthUnknown     ChannelHealth = "unknown"
	HealthAvailable   ChannelHealth = "available"
	HealthUnstable    ChannelHealth = "unstable"
	HealthUnavailable ChannelHealth = "unavailable"
)

// Channel is the probe engine input: one stream reference out of an already
// parsed playlist.
type Channel struct {
	ID        string `json:"id"`
	StreamURL string `json:"streamUrl"`
}

type ChannelHealthResult struct {
	ID     string        `json:"id"`
	Health ChannelHealth `json:"health"`
}

// ImportProgress is emitted once with zero counters before the first item
// and once after every processed candidate. Processed is strictly monotonic.
type ImportProgress struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Imported  int    `json:"imported"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Current   string `json:"current,omitempty"`
}

type ProviderInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type ProviderDiagnostics struct {
	Name                string     `json:"name"`
	Label               string     `json:"label"`
	Kind                string     `json:"kind"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
}

// ReachabilitySnapshot is the preflight verdict used to pick a search mode
// and timeout profile before committing to a plan.
type ReachabilitySnapshot struct {
	APIReachable bool     `json:"apiReachable"`
	WebReachable bool     `json:"webReachable"`
	Details      []string `json:"details"`
}

// Degraded reports whether both host groups failed to resolve; the plan is
// then cut to a short prefix so the run fails fast instead of burning the
// whole time budget on unreachable hosts.
func (s ReachabilitySnapshot) Degraded() bool {
	return !s.APIReachable && !s.WebReachable
}

func NormalizeScope(raw string) ProviderScope {
	switch ProviderScope(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopeGitHub:
		return ScopeGitHub
	case ScopeGitLab:
		return ScopeGitLab
	case ScopeBitbucket:
		return ScopeBitbucket
	default:
		return ScopeAll
	}
}

func NormalizeMode(raw string) SearchMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "directapi", "direct_api", "api":
		return ModeDirectAPI
	case "searchengine", "search_engine", "web":
		return ModeSearchEngine
	default:
		return ModeAuto
	}
}
