// Package importer drives the bulk import of discovered playlist candidates
// into the store, streaming per-item progress to the caller.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/metrics"
)

// PlaylistStore is the destination for discovered playlists.
type PlaylistStore interface {
	ListExistingSources(ctx context.Context) ([]string, error)
	ImportFromURL(ctx context.Context, url, name string) (playlistID string, err error)
}

// ProgressFunc receives one zero-state emission before the first item and
// one emission per processed candidate.
type ProgressFunc func(progress domain.ImportProgress)

type Importer struct {
	store PlaylistStore
}

func New(store PlaylistStore) *Importer {
	return &Importer{store: store}
}

// Run imports candidates sequentially; the destination store is
// rate-sensitive, so no fan-out here. Candidates whose normalized source URL
// already exists are skipped; import failures accumulate without aborting
// the batch. Once started, the loop runs under a non-cancellable scope so a
// cancelled parent never loses a half-reported item.
func (imp *Importer) Run(ctx context.Context, candidates []domain.PlaylistCandidate, onProgress ProgressFunc) (domain.ImportProgress, error) {
	existing, err := imp.store.ListExistingSources(ctx)
	if err != nil {
		return domain.ImportProgress{}, fmt.Errorf("list existing sources: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, source := range existing {
		known[normalizeSource(source)] = struct{}{}
	}

	// Progress must keep flowing even under external cancellation pressure;
	// partial imports are never silently lost mid-item.
	runCtx := context.WithoutCancel(ctx)

	progress := domain.ImportProgress{Total: len(candidates)}
	emit := func() {
		if onProgress != nil {
			onProgress(progress)
		}
	}
	emit()

	for _, candidate := range candidates {
		progress.Current = describeCandidate(candidate)

		source := normalizeSource(candidate.DownloadURL)
		if source == "" {
			progress.Failed++
			metrics.ImportItemsTotal.WithLabelValues("failed").Inc()
		} else if _, dup := known[source]; dup {
			progress.Skipped++
			metrics.ImportItemsTotal.WithLabelValues("skipped").Inc()
		} else if _, importErr := imp.store.ImportFromURL(runCtx, candidate.DownloadURL, candidate.Name); importErr != nil {
			progress.Failed++
			metrics.ImportItemsTotal.WithLabelValues("failed").Inc()
			slog.Warn("playlist import failed",
				slog.String("url", candidate.DownloadURL),
				slog.String("error", importErr.Error()),
			)
		} else {
			known[source] = struct{}{}
			progress.Imported++
			metrics.ImportItemsTotal.WithLabelValues("imported").Inc()
		}

		progress.Processed++
		emit()
	}

	progress.Current = ""
	return progress, nil
}

// normalizeSource makes the duplicate check case- and whitespace-insensitive.
func normalizeSource(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), "")
}

func describeCandidate(candidate domain.PlaylistCandidate) string {
	name := strings.TrimSpace(candidate.Name)
	if name == "" {
		name = strings.TrimSpace(candidate.Path)
	}
	if name == "" {
		return candidate.DownloadURL
	}
	if candidate.Repository != "" {
		return candidate.Repository + "/" + name
	}
	return name
}
