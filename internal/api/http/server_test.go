package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/importer"
	"iptvstream/scanservice/internal/search"
)

type fakeScanService struct {
	outcome     domain.PlanOutcome
	err         error
	lastRequest domain.SearchRequest
	lastOpts    search.RunOptions
}

func (f *fakeScanService) RunPlan(ctx context.Context, request domain.SearchRequest, opts search.RunOptions) (domain.PlanOutcome, error) {
	f.lastRequest = request
	f.lastOpts = opts
	if f.err != nil {
		return domain.PlanOutcome{}, f.err
	}
	if opts.Pulse != nil {
		opts.Pulse(domain.PlanPulse{StepLabel: "exact", StepCount: 1, MergedCount: 1})
	}
	if opts.TailImport != nil {
		opts.TailImport(context.WithoutCancel(ctx), f.outcome.Candidates)
	}
	return f.outcome, nil
}

func (f *fakeScanService) Providers() []domain.ProviderInfo {
	return []domain.ProviderInfo{{Name: "github", Label: "GitHub", Kind: "codehost", Enabled: true}}
}

func (f *fakeScanService) ProviderDiagnostics() []domain.ProviderDiagnostics {
	return []domain.ProviderDiagnostics{{Name: "github", Enabled: true}}
}

type fakeProbeService struct {
	results []domain.ChannelHealthResult
}

func (f *fakeProbeService) ProbeAll(_ context.Context, channels []domain.Channel, _ int) []domain.ChannelHealthResult {
	if f.results != nil {
		return f.results
	}
	out := make([]domain.ChannelHealthResult, 0, len(channels))
	for _, ch := range channels {
		out = append(out, domain.ChannelHealthResult{ID: ch.ID, Health: domain.HealthAvailable})
	}
	return out
}

type fakeNetProber struct{}

func (fakeNetProber) Probe(context.Context, []string) []string {
	return []string{"api.github.com=ok(1.2.3.4)"}
}

func (fakeNetProber) Snapshot(context.Context, []string, []string) domain.ReachabilitySnapshot {
	return domain.ReachabilitySnapshot{
		APIReachable: true,
		WebReachable: true,
		Details:      []string{"api.github.com=ok(1.2.3.4)"},
	}
}

type fakeImportService struct {
	final domain.ImportProgress
}

func (f *fakeImportService) Run(_ context.Context, candidates []domain.PlaylistCandidate, onProgress importer.ProgressFunc) (domain.ImportProgress, error) {
	progress := domain.ImportProgress{Total: len(candidates)}
	if onProgress != nil {
		onProgress(progress)
	}
	for range candidates {
		progress.Processed++
		progress.Imported++
		if onProgress != nil {
			onProgress(progress)
		}
	}
	f.final = progress
	return progress, nil
}

func testHandler(scan *fakeScanService) http.Handler {
	return NewServer(scan,
		WithProbe(&fakeProbeService{}),
		WithProber(fakeNetProber{}),
		WithImporter(&fakeImportService{}),
	).Handler()
}

func TestScanEndpointReturnsOutcome(t *testing.T) {
	scan := &fakeScanService{outcome: domain.PlanOutcome{
		State:      domain.PlanDone,
		Candidates: []domain.PlaylistCandidate{{ID: "github:a", DownloadURL: "https://example.com/a.m3u"}},
		Status:     "found 1 playlists",
	}}
	handler := testHandler(scan)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan?q=russian+channels&scope=github&target=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var outcome domain.PlanOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.State != domain.PlanDone || len(outcome.Candidates) != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if scan.lastRequest.Scope != domain.ScopeGitHub {
		t.Fatalf("scope not parsed: %+v", scan.lastRequest)
	}
	if scan.lastOpts.TargetCount != 5 {
		t.Fatalf("target not parsed: %+v", scan.lastOpts)
	}
}

func TestScanEndpointRequiresQuery(t *testing.T) {
	handler := testHandler(&fakeScanService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestScanEndpointRejectsInvalidQueryError(t *testing.T) {
	handler := testHandler(&fakeScanService{err: search.ErrInvalidQuery})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan?q=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestScanStreamEmitsPulseAndDone(t *testing.T) {
	scan := &fakeScanService{outcome: domain.PlanOutcome{State: domain.PlanDone, Status: "found 0 playlists"}}
	handler := testHandler(scan)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan/stream?q=test", nil))

	body := rec.Body.String()
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/event-stream") {
		t.Fatalf("wrong content type %q", rec.Header().Get("Content-Type"))
	}
	for _, event := range []string{"event: bootstrap", "event: pulse", "event: done"} {
		if !strings.Contains(body, event) {
			t.Fatalf("missing %q in stream:\n%s", event, body)
		}
	}
}

func TestScanImportStreamEmitsProgress(t *testing.T) {
	scan := &fakeScanService{outcome: domain.PlanOutcome{
		State:      domain.PlanDone,
		Candidates: []domain.PlaylistCandidate{{ID: "github:a", DownloadURL: "https://example.com/a.m3u"}},
	}}
	handler := testHandler(scan)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan/import?q=test", nil))

	body := rec.Body.String()
	for _, event := range []string{"event: progress", "event: imported", "event: done"} {
		if !strings.Contains(body, event) {
			t.Fatalf("missing %q in stream:\n%s", event, body)
		}
	}
}

func TestProbeEndpoint(t *testing.T) {
	handler := testHandler(&fakeScanService{})

	payload := `{"channels":[{"id":"c1","streamUrl":"https://example.com/a.ts"}]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/probe", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var response struct {
		Results []domain.ChannelHealthResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(response.Results) != 1 || response.Results[0].ID != "c1" {
		t.Fatalf("unexpected results %+v", response.Results)
	}
}

func TestProbeEndpointRejectsEmptyBatch(t *testing.T) {
	handler := testHandler(&fakeScanService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/probe", strings.NewReader(`{"channels":[]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestProvidersEndpoints(t *testing.T) {
	handler := testHandler(&fakeScanService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "github") {
		t.Fatalf("providers: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "github") {
		t.Fatalf("providers/health: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestNetcheckEndpoint(t *testing.T) {
	handler := testHandler(&fakeScanService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/netcheck", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var snapshot domain.ReachabilitySnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snapshot.APIReachable {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := testHandler(&fakeScanService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := testHandler(&fakeScanService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scan", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", rec.Code)
	}
}
