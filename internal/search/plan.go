package search

import (
	"strings"
	"time"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/intent"
)

const (
	// maxPlanSteps caps a basic plan; maxPlanStepsExtended applies once
	// learned or variant steps are enabled.
	maxPlanSteps         = 6
	maxPlanStepsExtended = 14
	// degradedPlanSteps is the forced prefix when preflight says both host
	// groups are unreachable: fail fast instead of exhausting the budget.
	degradedPlanSteps = 2

	maxLearnedSteps = 4
	maxVariantSteps = 8
)

// PlanOptions feed the builder everything beyond the base request: stored
// learned queries, preset context and the preflight verdict.
type PlanOptions struct {
	LearningEnabled bool
	VariantsEnabled bool
	Learned         []domain.LearnedQuery
	PresetID        string
	Degraded        bool
	Now             time.Time
	Weights         LearnedScoreWeights
}

// BuildPlan turns one base request into the ordered list of search steps:
// exact, relaxed, intent-boosted, per-provider, broad fallback, learned and
// variant phases, deduplicated by request key and capped.
func BuildPlan(request domain.SearchRequest, opts PlanOptions) []domain.PlanStep {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Weights == (LearnedScoreWeights{}) {
		opts.Weights = DefaultLearnedScoreWeights()
	}

	request.Scope = domain.NormalizeScope(string(request.Scope))
	request.Mode = domain.NormalizeMode(string(request.Mode))

	inferred := intent.InferKeywords(request.Query, request.Keywords)

	var steps []domain.PlanStep
	add := func(label string, req domain.SearchRequest) {
		steps = append(steps, domain.PlanStep{Label: label, Request: req})
	}

	add("exact", request)

	relaxed := relaxRequest(request)
	add("relaxed filters", relaxed)

	if boosted, changed := boostWithKeywords(relaxed, inferred); changed {
		add("intent keywords", boosted)
	}

	if request.Scope == domain.ScopeAll {
		for _, scope := range domain.ConcreteScopes(request.RepoFilter) {
			perProvider := request
			perProvider.Scope = scope
			add(string(scope)+" only", perProvider)
		}
	}

	if broad := broadFallbackQuery(inferred); !strings.EqualFold(broad, strings.TrimSpace(request.Query)) {
		fallback := relaxed
		fallback.Query = broad
		add("broad fallback", fallback)
	}

	if opts.LearningEnabled {
		ranked := rankLearnedQueries(opts.Learned, request.Query, inferred, opts.PresetID, opts.Now, opts.Weights, maxLearnedSteps)
		for _, lq := range ranked {
			learnedStep := relaxed
			learnedStep.Query = lq.Query
			add("learned: "+lq.Query, learnedStep)
		}
	}

	if opts.VariantsEnabled {
		variants := intent.BuildVariants(request.Query, request.Keywords, inferred)
		if len(variants) > maxVariantSteps {
			variants = variants[:maxVariantSteps]
		}
		for _, variant := range variants {
			variantStep := relaxed
			variantStep.Query = variant
			add("variant: "+variant, variantStep)
		}
		// Seed the strongest variant into forced single-provider steps so it
		// is tried even when the fan-out phases were already spent.
		if request.Scope == domain.ScopeAll && len(variants) > 0 {
			for _, scope := range []domain.ProviderScope{domain.ScopeGitHub, domain.ScopeGitLab} {
				forced := relaxed
				forced.Query = variants[0]
				forced.Scope = scope
				add("variant "+string(scope), forced)
			}
		}
	}

	steps = dedupeSteps(steps)

	limit := maxPlanSteps
	if opts.LearningEnabled || opts.VariantsEnabled {
		limit = maxPlanStepsExtended
	}
	if opts.Degraded && limit > degradedPlanSteps {
		limit = degradedPlanSteps
	}
	if len(steps) > limit {
		steps = steps[:limit]
	}
	return steps
}

// relaxRequest clears the optional filters. The repo filter survives for
// Bitbucket scope because its API cannot search without a workspace.
func relaxRequest(request domain.SearchRequest) domain.SearchRequest {
	relaxed := request
	if request.Scope != domain.ScopeBitbucket {
		relaxed.RepoFilter = ""
	}
	relaxed.PathFilter = ""
	relaxed.UpdatedAfterMS = 0
	relaxed.MinSizeBytes = 0
	relaxed.MaxSizeBytes = 0
	return relaxed
}

// boostWithKeywords appends inferred keywords that are not already tokens of
// the query. Reports false when nothing new would be added.
func boostWithKeywords(request domain.SearchRequest, inferred []string) (domain.SearchRequest, bool) {
	existing := tokenSet(tokenize(request.Query))
	extra := make([]string, 0, len(inferred))
	for _, keyword := range inferred {
		if _, ok := existing[keyword]; ok {
			continue
		}
		extra = append(extra, keyword)
	}
	if len(extra) == 0 {
		return request, false
	}
	boosted := request
	boosted.Query = strings.TrimSpace(request.Query + " " + strings.Join(extra, " "))
	return boosted, true
}

// broadFallbackQuery picks the fixed generic query for the strongest matched
// topic, defaulting to the plain playlist query.
func broadFallbackQuery(inferred []string) string {
	for _, keyword := range inferred {
		switch keyword {
		case "russian", "ru":
			return "russian iptv m3u m3u8"
		case "sport", "sports":
			return "sport iptv m3u playlist"
		case "kids", "cartoons":
			return "kids iptv m3u playlist"
		case "music":
			return "music tv iptv m3u"
		case "news":
			return "news tv iptv m3u"
		}
	}
	return "iptv m3u m3u8 playlist"
}

func dedupeSteps(steps []domain.PlanStep) []domain.PlanStep {
	seen := make(map[string]struct{}, len(steps))
	out := make([]domain.PlanStep, 0, len(steps))
	for _, step := range steps {
		key := step.Request.Key()
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, step)
	}
	return out
}
