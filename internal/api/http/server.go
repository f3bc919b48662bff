// Package apihttp exposes the scan service over HTTP: blocking and streaming
// scan endpoints, the import pipeline, channel health probing and the
// diagnostics surface.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/importer"
	"iptvstream/scanservice/internal/search"
)

type ScanService interface {
	RunPlan(ctx context.Context, request domain.SearchRequest, opts search.RunOptions) (domain.PlanOutcome, error)
	Providers() []domain.ProviderInfo
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

type ImportService interface {
	Run(ctx context.Context, candidates []domain.PlaylistCandidate, onProgress importer.ProgressFunc) (domain.ImportProgress, error)
}

type ProbeService interface {
	ProbeAll(ctx context.Context, channels []domain.Channel, maxConcurrency int) []domain.ChannelHealthResult
}

type NetProber interface {
	Probe(ctx context.Context, hosts []string) []string
	Snapshot(ctx context.Context, apiHosts, webHosts []string) domain.ReachabilitySnapshot
}

type Server struct {
	scan         ScanService
	importer     ImportService
	probe        ProbeService
	prober       NetProber
	probeWorkers int
	logger       *slog.Logger
}

const (
	maxQueryLength  = 500
	maxProbeBatch   = 1000
	maxProbeWorkers = 20
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithImporter(importService ImportService) ServerOption {
	return func(s *Server) {
		s.importer = importService
	}
}

func WithProbe(probeService ProbeService) ServerOption {
	return func(s *Server) {
		s.probe = probeService
	}
}

func WithProber(prober NetProber) ServerOption {
	return func(s *Server) {
		s.prober = prober
	}
}

// WithProbeWorkers overrides the upper bound on concurrent channel probes.
func WithProbeWorkers(workers int) ServerOption {
	return func(s *Server) {
		if workers > 0 {
			s.probeWorkers = workers
		}
	}
}

func NewServer(scanService ScanService, options ...ServerOption) *Server {
	server := &Server{
		scan:         scanService,
		probeWorkers: maxProbeWorkers,
		logger:       slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/providers/health", s.handleProvidersHealth)
	mux.HandleFunc("/providers", s.handleProviders)
	mux.HandleFunc("/netcheck", s.handleNetcheck)
	mux.HandleFunc("/probe", s.handleProbe)
	mux.HandleFunc("/scan/stream", s.handleScanStream)
	mux.HandleFunc("/scan/import", s.handleScanImport)
	mux.HandleFunc("/scan", s.handleScan)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "iptv-scan",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/scan" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request, opts, err := parseScanRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	outcome, err := s.scan.RunPlan(r.Context(), request, opts)
	if err != nil {
		s.logger.Warn("scan request failed",
			slog.String("query", truncate(request.Query, 80)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, search.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "scan failed")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type streamEvent struct {
	name    string
	payload any
}

func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	s.streamScan(w, r, false)
}

// handleScanImport runs the scan and then imports everything found, with
// per-item progress events on the same stream.
func (s *Server) handleScanImport(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "import store is not configured")
		return
	}
	s.streamScan(w, r, true)
}

func (s *Server) streamScan(w http.ResponseWriter, r *http.Request, withImport bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	request, opts, err := parseScanRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "bootstrap", map[string]any{
		"query":  request.Query,
		"status": "started",
	}); err != nil {
		return // Client disconnected
	}

	events := make(chan streamEvent, 32)
	emit := func(event streamEvent) {
		// Progress events are advisory; drop instead of blocking the plan
		// when the client stops reading.
		select {
		case events <- event:
		case <-r.Context().Done():
		default:
		}
	}

	opts.Pulse = func(pulse domain.PlanPulse) {
		emit(streamEvent{name: "pulse", payload: pulse})
	}
	if withImport {
		opts.TailImport = func(ctx context.Context, candidates []domain.PlaylistCandidate) {
			progress, importErr := s.importer.Run(ctx, candidates, func(p domain.ImportProgress) {
				emit(streamEvent{name: "progress", payload: p})
			})
			if importErr != nil {
				emit(streamEvent{name: "error", payload: map[string]any{"message": importErr.Error()}})
				return
			}
			emit(streamEvent{name: "imported", payload: progress})
		}
	}

	go func() {
		defer close(events)
		outcome, runErr := s.scan.RunPlan(r.Context(), request, opts)
		if runErr != nil {
			select {
			case events <- streamEvent{name: "error", payload: map[string]any{"message": runErr.Error()}}:
			case <-r.Context().Done():
			}
			return
		}
		select {
		case events <- streamEvent{name: "done", payload: outcome}:
		case <-r.Context().Done():
		}
	}()

	for event := range events {
		if err := writeSSEEvent(w, flusher, event.name, event.payload); err != nil {
			// Client disconnected; the request context cancels the plan,
			// drain what remains.
			for range events {
			}
			return
		}
	}
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.probe == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "probe engine is not configured")
		return
	}

	var body struct {
		Channels       []domain.Channel `json:"channels"`
		MaxConcurrency int              `json:"maxConcurrency"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(body.Channels) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "channels are required")
		return
	}
	if len(body.Channels) > maxProbeBatch {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("too many channels (max %d)", maxProbeBatch))
		return
	}
	concurrency := body.MaxConcurrency
	if concurrency <= 0 || concurrency > s.probeWorkers {
		concurrency = s.probeWorkers
	}

	results := s.probe.ProbeAll(r.Context(), body.Channels, concurrency)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/providers" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.scan.Providers()})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.scan.ProviderDiagnostics()})
}

func (s *Server) handleNetcheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.prober == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "network prober is not configured")
		return
	}
	snapshot := s.prober.Snapshot(r.Context(), nil, nil)
	writeJSON(w, http.StatusOK, snapshot)
}

func parseScanRequest(r *http.Request) (domain.SearchRequest, search.RunOptions, error) {
	q := r.URL.Query()

	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		return domain.SearchRequest{}, search.RunOptions{}, errors.New("query is required")
	}
	if len(query) > maxQueryLength {
		return domain.SearchRequest{}, search.RunOptions{}, fmt.Errorf("query too long (max %d characters)", maxQueryLength)
	}

	limit, err := parsePositiveInt(r, "limit", 50)
	if err != nil {
		return domain.SearchRequest{}, search.RunOptions{}, errors.New("invalid limit")
	}
	target, err := parsePositiveInt(r, "target", limit)
	if err != nil {
		return domain.SearchRequest{}, search.RunOptions{}, errors.New("invalid target")
	}

	request := domain.SearchRequest{
		Query:      query,
		Keywords:   parseCSV(q.Get("keywords")),
		Scope:      domain.NormalizeScope(q.Get("scope")),
		Mode:       domain.NormalizeMode(q.Get("mode")),
		RepoFilter: strings.TrimSpace(q.Get("repo")),
		PathFilter: strings.TrimSpace(q.Get("path")),
		Limit:      limit,
	}
	if v := strings.TrimSpace(q.Get("updatedAfterMs")); v != "" {
		parsed, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil || parsed < 0 {
			return domain.SearchRequest{}, search.RunOptions{}, errors.New("invalid updatedAfterMs")
		}
		request.UpdatedAfterMS = parsed
	}
	if v := strings.TrimSpace(q.Get("minSizeBytes")); v != "" {
		parsed, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil || parsed < 0 {
			return domain.SearchRequest{}, search.RunOptions{}, errors.New("invalid minSizeBytes")
		}
		request.MinSizeBytes = parsed
	}
	if v := strings.TrimSpace(q.Get("maxSizeBytes")); v != "" {
		parsed, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil || parsed < 0 {
			return domain.SearchRequest{}, search.RunOptions{}, errors.New("invalid maxSizeBytes")
		}
		request.MaxSizeBytes = parsed
	}

	opts := search.RunOptions{
		TargetCount: target,
		PresetID:    strings.TrimSpace(q.Get("preset")),
	}
	return request, opts, nil
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.ToLower(strings.TrimSpace(part))
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
