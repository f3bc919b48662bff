// Package store holds the persistence backends: Mongo for imported
// playlists, Redis for learned queries.
package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	playlistCollection = "playlists"

	maxPlaylistBytes = 16 * 1024 * 1024
	fetchTimeout     = 30 * time.Second
)

// PlaylistRepository persists imported playlists in MongoDB. Each document
// keeps the source URL so re-imports can be detected.
type PlaylistRepository struct {
	col    *mongo.Collection
	client *http.Client
}

func NewPlaylistRepository(db *mongo.Database, httpClient *http.Client) *PlaylistRepository {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	return &PlaylistRepository{
		col:    db.Collection(playlistCollection),
		client: httpClient,
	}
}

// EnsureIndexes creates the unique source index the duplicate check relies on.
func (r *PlaylistRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "source", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// ListExistingSources returns the source URLs of every stored playlist.
func (r *PlaylistRepository) ListExistingSources(ctx context.Context) ([]string, error) {
	cursor, err := r.col.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"source": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sources []string
	for cursor.Next(ctx) {
		var doc struct {
			Source string `bson:"source"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		if doc.Source != "" {
			sources = append(sources, doc.Source)
		}
	}
	return sources, cursor.Err()
}

// ImportFromURL downloads the playlist, verifies it actually is one and
// stores it. Returns the new document id.
func (r *PlaylistRepository) ImportFromURL(ctx context.Context, url, name string) (string, error) {
	body, err := r.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	channels := countChannels(body)
	if channels == 0 && !strings.Contains(body, "#EXTM3U") {
		return "", fmt.Errorf("source is not an m3u playlist: %s", url)
	}

	id := primitive.NewObjectID()
	_, err = r.col.InsertOne(ctx, bson.M{
		"_id":        id,
		"name":       strings.TrimSpace(name),
		"source":     url,
		"raw":        body,
		"channels":   channels,
		"sizeBytes":  len(body),
		"importedAt": time.Now().UnixMilli(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("playlist already imported: %s", url)
		}
		return "", err
	}
	return id.Hex(), nil
}

func (r *PlaylistRepository) fetch(ctx context.Context, url string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch playlist: unexpected status %d from %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func countChannels(body string) int {
	count := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#EXTINF") {
			count++
		}
	}
	return count
}
