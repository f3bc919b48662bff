package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"iptvstream/scanservice/internal/domain"
)

type fakeStore struct {
	existing  []string
	failOn    map[string]error
	imported  []string
	listErr   error
	ctxSample context.Context
}

func (s *fakeStore) ListExistingSources(context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.existing, nil
}

func (s *fakeStore) ImportFromURL(ctx context.Context, url, _ string) (string, error) {
	s.ctxSample = ctx
	if err, found := s.failOn[url]; found {
		return "", err
	}
	s.imported = append(s.imported, url)
	return fmt.Sprintf("id-%d", len(s.imported)), nil
}

func candidate(url string) domain.PlaylistCandidate {
	return domain.PlaylistCandidate{
		ID:          url,
		Provider:    "github",
		Repository:  "owner/repo",
		Path:        "list.m3u",
		Name:        "list",
		DownloadURL: url,
	}
}

func TestRunEmitsZeroStateThenOneTickPerItem(t *testing.T) {
	store := &fakeStore{}
	imp := New(store)

	candidates := []domain.PlaylistCandidate{
		candidate("https://example.com/a.m3u"),
		candidate("https://example.com/b.m3u"),
	}

	var ticks []domain.ImportProgress
	final, err := imp.Run(context.Background(), candidates, func(p domain.ImportProgress) {
		ticks = append(ticks, p)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ticks) != len(candidates)+1 {
		t.Fatalf("expected %d emissions, got %d", len(candidates)+1, len(ticks))
	}
	if ticks[0].Processed != 0 || ticks[0].Total != 2 {
		t.Fatalf("first emission must be the zero state with total, got %+v", ticks[0])
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].Processed != ticks[i-1].Processed+1 {
			t.Fatalf("processed is not strictly monotonic: %+v then %+v", ticks[i-1], ticks[i])
		}
	}
	if final.Imported != 2 || final.Failed != 0 || final.Skipped != 0 {
		t.Fatalf("unexpected final progress %+v", final)
	}
}

func TestRunSkipsDuplicatesByNormalizedSource(t *testing.T) {
	store := &fakeStore{existing: []string{"https://example.com/List.M3U "}}
	imp := New(store)

	final, err := imp.Run(context.Background(), []domain.PlaylistCandidate{
		candidate("HTTPS://EXAMPLE.COM/list.m3u"),
		candidate("https://example.com/other.m3u"),
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final.Skipped != 1 {
		t.Fatalf("case and whitespace variant should be skipped, got %+v", final)
	}
	if final.Imported != 1 {
		t.Fatalf("expected 1 import, got %+v", final)
	}
	if len(store.imported) != 1 || store.imported[0] != "https://example.com/other.m3u" {
		t.Fatalf("wrong urls imported: %v", store.imported)
	}
}

func TestRunSkipsRepeatedCandidateWithinBatch(t *testing.T) {
	store := &fakeStore{}
	imp := New(store)

	final, err := imp.Run(context.Background(), []domain.PlaylistCandidate{
		candidate("https://example.com/a.m3u"),
		candidate("https://example.com/A.m3u"),
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Imported != 1 || final.Skipped != 1 {
		t.Fatalf("second occurrence must be skipped, got %+v", final)
	}
}

func TestRunContinuesAfterItemFailure(t *testing.T) {
	store := &fakeStore{
		failOn: map[string]error{
			"https://example.com/bad.m3u": errors.New("fetch failed"),
		},
	}
	imp := New(store)

	final, err := imp.Run(context.Background(), []domain.PlaylistCandidate{
		candidate("https://example.com/bad.m3u"),
		candidate("https://example.com/good.m3u"),
	}, nil)
	if err != nil {
		t.Fatalf("a failed item must not abort the batch: %v", err)
	}
	if final.Failed != 1 || final.Imported != 1 {
		t.Fatalf("unexpected progress %+v", final)
	}
	if final.Processed != 2 {
		t.Fatalf("both items must be processed, got %+v", final)
	}
}

func TestRunCountsEmptySourceAsFailed(t *testing.T) {
	store := &fakeStore{}
	imp := New(store)

	empty := candidate("")
	final, err := imp.Run(context.Background(), []domain.PlaylistCandidate{empty}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Failed != 1 {
		t.Fatalf("empty source must count as failed, got %+v", final)
	}
}

func TestRunListFailureAborts(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db down")}
	imp := New(store)

	if _, err := imp.Run(context.Background(), []domain.PlaylistCandidate{candidate("https://example.com/a.m3u")}, nil); err == nil {
		t.Fatalf("expected error when listing existing sources fails")
	}
}

func TestRunSurvivesCallerCancellation(t *testing.T) {
	store := &fakeStore{}
	imp := New(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The batch starts under an already-cancelled parent; imports still run
	// because progress must never be lost mid-item.
	final, err := imp.Run(ctx, []domain.PlaylistCandidate{candidate("https://example.com/a.m3u")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Imported != 1 {
		t.Fatalf("import under cancelled parent should still run, got %+v", final)
	}
	if store.ctxSample == nil || store.ctxSample.Err() != nil {
		t.Fatalf("store must receive a non-cancelled context")
	}
}

func TestNormalizeSource(t *testing.T) {
	cases := map[string]string{
		"  HTTPS://Example.com/List.M3U ": "https://example.com/list.m3u",
		"https://a b.com/x.m3u":           "https://ab.com/x.m3u",
		"":                                "",
	}
	for input, want := range cases {
		if got := normalizeSource(input); got != want {
			t.Fatalf("normalizeSource(%q) = %q, want %q", input, got, want)
		}
	}
}
