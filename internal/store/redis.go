package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"iptvstream/scanservice/internal/domain"
)

const (
	learnedKey = "scan:learned:queries"

	// maxLearnedRecords bounds the stored set; the weakest records fall off
	// once the cap is reached.
	maxLearnedRecords = 50
	// maxRelatedPerSave bounds how many step queries one run may contribute
	// beyond the primary query.
	maxRelatedPerSave = 4
)

// LearnedQueryRepository persists learned queries as one JSON document in
// Redis. The set is small and read once per plan run, so a single key beats
// per-record keys.
type LearnedQueryRepository struct {
	client *redis.Client
}

func NewLearnedQueryRepository(client *redis.Client) *LearnedQueryRepository {
	return &LearnedQueryRepository{client: client}
}

func (r *LearnedQueryRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *LearnedQueryRepository) Load(ctx context.Context) ([]domain.LearnedQuery, error) {
	data, err := r.client.Get(ctx, learnedKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var records []domain.LearnedQuery
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Save records the run's primary query plus up to maxRelatedPerSave step
// queries that produced new results. Hits saturate; the set is trimmed to
// the strongest maxLearnedRecords entries.
func (r *LearnedQueryRepository) Save(ctx context.Context, primaryQuery string, relatedQueries []string, presetID string) error {
	records, err := r.Load(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	records = bump(records, primaryQuery, presetID, now)
	saved := 0
	for _, related := range relatedQueries {
		if saved >= maxRelatedPerSave {
			break
		}
		if strings.EqualFold(strings.TrimSpace(related), strings.TrimSpace(primaryQuery)) {
			continue
		}
		records = bump(records, related, presetID, now)
		saved++
	}

	if len(records) > maxLearnedRecords {
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Hits != records[j].Hits {
				return records[i].Hits > records[j].Hits
			}
			return records[i].LastSuccessAt > records[j].LastSuccessAt
		})
		records = records[:maxLearnedRecords]
	}

	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, learnedKey, data, 0).Err()
}

func bump(records []domain.LearnedQuery, query, presetID string, now int64) []domain.LearnedQuery {
	query = strings.TrimSpace(query)
	if query == "" {
		return records
	}
	for i := range records {
		if strings.EqualFold(records[i].Query, query) {
			if records[i].Hits < domain.LearnedHitsCap {
				records[i].Hits++
			}
			records[i].LastSuccessAt = now
			if presetID != "" {
				records[i].PresetID = presetID
			}
			return records
		}
	}
	return append(records, domain.LearnedQuery{
		Query:         query,
		Hits:          1,
		LastSuccessAt: now,
		PresetID:      presetID,
	})
}
