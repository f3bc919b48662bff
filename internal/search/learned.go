package search

import (
	"sort"
	"strings"
	"time"

	"iptvstream/scanservice/internal/domain"
)

// LearnedScoreWeights tunes how previously successful queries are ranked
// when seeding plan steps. The defaults reproduce the empirically tuned
// shipped behavior; treat them as configuration, not constants.
type LearnedScoreWeights struct {
	Hits          float64
	Overlap       float64
	IntentOverlap float64
	PresetBoost   float64
	RecencyBoost  float64
}

func DefaultLearnedScoreWeights() LearnedScoreWeights {
	return LearnedScoreWeights{
		Hits:          3,
		Overlap:       4,
		IntentOverlap: 3,
		PresetBoost:   5,
		RecencyBoost:  10,
	}
}

const recencyWindow = 7 * 24 * time.Hour

// scoreLearnedQuery combines hit count, token overlap with the base query,
// overlap with the inferred intent keywords, a preset match bonus and a
// linear recency term decaying to zero over a week.
func scoreLearnedQuery(lq domain.LearnedQuery, baseTokens, intentKeywords map[string]struct{}, presetID string, now time.Time, w LearnedScoreWeights) float64 {
	hits := lq.Hits
	if hits > domain.LearnedHitsCap {
		hits = domain.LearnedHitsCap
	}
	score := float64(hits) * w.Hits

	for _, token := range tokenize(lq.Query) {
		if _, ok := baseTokens[token]; ok {
			score += w.Overlap
		}
		if _, ok := intentKeywords[token]; ok {
			score += w.IntentOverlap
		}
	}

	if presetID != "" && lq.PresetID == presetID {
		score += w.PresetBoost
	}

	if lq.LastSuccessAt > 0 {
		age := now.Sub(time.UnixMilli(lq.LastSuccessAt))
		if age >= 0 && age < recencyWindow {
			score += w.RecencyBoost * (1 - float64(age)/float64(recencyWindow))
		}
	}
	return score
}

// rankLearnedQueries returns the topN stored queries by score, skipping ones
// equal to the base query. Ties keep stored order so ranking is stable.
func rankLearnedQueries(learned []domain.LearnedQuery, baseQuery string, intentKeywords []string, presetID string, now time.Time, w LearnedScoreWeights, topN int) []domain.LearnedQuery {
	if topN <= 0 || len(learned) == 0 {
		return nil
	}

	baseTokens := tokenSet(tokenize(baseQuery))
	intentSet := tokenSet(intentKeywords)

	type scored struct {
		query domain.LearnedQuery
		score float64
		index int
	}
	ranked := make([]scored, 0, len(learned))
	for i, lq := range learned {
		if strings.TrimSpace(lq.Query) == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(lq.Query), strings.TrimSpace(baseQuery)) {
			continue
		}
		ranked = append(ranked, scored{
			query: lq,
			score: scoreLearnedQuery(lq, baseTokens, intentSet, presetID, now, w),
			index: i,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	out := make([]domain.LearnedQuery, 0, len(ranked))
	for _, item := range ranked {
		out = append(out, item.query)
	}
	return out
}

func tokenize(input string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(input)))
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, ".,;:!?\"'()[]")
		if len(field) >= 2 {
			out = append(out, field)
		}
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token != "" {
			set[token] = struct{}{}
		}
	}
	return set
}
