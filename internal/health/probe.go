// Package health probes channel stream URLs and classifies each as
// available, unstable or unavailable. Probing never throws: every channel
// resolves to a health value.
package health

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"iptvstream/scanservice/internal/domain"
	"iptvstream/scanservice/internal/metrics"
)

const (
	// DefaultMaxConcurrency caps simultaneous probes regardless of how many
	// channels the caller supplies.
	DefaultMaxConcurrency = 20

	maxAttempts = 2
	// backoffBase scales linearly with the attempt number (450ms, 900ms).
	// Fixed-linear on purpose; exponential would skew the timing contract.
	backoffBase = 450 * time.Millisecond

	connectTimeout = 4 * time.Second
	readTimeout    = 5 * time.Second
	callTimeout    = 7 * time.Second

	rangeHeader = "bytes=0-1024"
)

// retryableStatuses are the only failures worth a second attempt. Anything
// else is terminal immediately.
var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Doer is the HTTP seam; tests plug a scripted transport in.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sleeper waits out the backoff; injectable so tests run instantly.
type Sleeper func(ctx context.Context, d time.Duration) error

// Engine runs bounded-concurrency channel probes.
type Engine struct {
	client Doer
	sleep  Sleeper
}

type Option func(*Engine)

func WithClient(client Doer) Option {
	return func(e *Engine) {
		if client != nil {
			e.client = client
		}
	}
}

func WithSleeper(sleep Sleeper) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		client: defaultClient(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	transport.ResponseHeaderTimeout = readTimeout
	return &http.Client{
		Timeout:   callTimeout,
		Transport: transport,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProbeAll probes every channel with at most maxConcurrency in flight.
// Results preserve the input order.
func (e *Engine) ProbeAll(ctx context.Context, channels []domain.Channel, maxConcurrency int) []domain.ChannelHealthResult {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	results := make([]domain.ChannelHealthResult, len(channels))
	sem := semaphore.NewWeighted(int64(maxConcurrency))
	done := make(chan int, len(channels))

	for i, channel := range channels {
		go func(index int, ch domain.Channel) {
			defer func() { done <- index }()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[index] = domain.ChannelHealthResult{ID: ch.ID, Health: domain.HealthUnavailable}
				return
			}
			defer sem.Release(1)

			started := time.Now()
			health := e.probeOne(ctx, ch.StreamURL)
			metrics.HealthProbeDuration.Observe(time.Since(started).Seconds())
			metrics.HealthProbesTotal.WithLabelValues(string(health)).Inc()
			results[index] = domain.ChannelHealthResult{ID: ch.ID, Health: health}
		}(i, channel)
	}
	for range channels {
		<-done
	}
	return results
}

// probeOne applies the classification contract: non-HTTP(S) is UNSTABLE with
// no network call; a first-attempt success with a strong media content type
// is AVAILABLE; any other success is UNSTABLE; a retryable status gets one
// more try after a linear backoff; everything else is UNAVAILABLE.
func (e *Engine) probeOne(ctx context.Context, streamURL string) domain.ChannelHealth {
	parsed, err := url.Parse(strings.TrimSpace(streamURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return domain.HealthUnstable
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, contentType, attemptErr := e.attempt(ctx, parsed.String())
		if attemptErr != nil {
			// Network failures are terminal; retries are reserved for the
			// retryable status set.
			return domain.HealthUnavailable
		}

		if status >= 200 && status < 300 {
			// A channel that needed a retry to answer is unstable even if it
			// ultimately responded with the right content type.
			if attempt == 1 && isStrongMediaType(contentType) {
				return domain.HealthAvailable
			}
			return domain.HealthUnstable
		}

		if _, retryable := retryableStatuses[status]; !retryable {
			return domain.HealthUnavailable
		}
		if attempt == maxAttempts {
			break
		}
		if err := e.sleep(ctx, backoffBase*time.Duration(attempt)); err != nil {
			return domain.HealthUnavailable
		}
	}
	return domain.HealthUnavailable
}

// attempt issues a HEAD request, falling back to a ranged GET when the
// server rejects the HEAD method.
func (e *Engine) attempt(ctx context.Context, streamURL string) (int, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	status, contentType, err := e.request(callCtx, http.MethodHead, streamURL)
	if err != nil {
		return 0, "", err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		return e.request(callCtx, http.MethodGet, streamURL)
	}
	return status, contentType, nil
}

func (e *Engine) request(ctx context.Context, method, streamURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, streamURL, nil)
	if err != nil {
		return 0, "", err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	return resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

// isStrongMediaType reports whether the content type clearly identifies a
// media stream rather than an HTML error page served with 200.
func isStrongMediaType(contentType string) bool {
	value := strings.ToLower(strings.TrimSpace(contentType))
	if value == "" {
		return false
	}
	for _, marker := range []string{"video/", "audio/", "mpegurl", "dash+xml", "octet-stream"} {
		if strings.Contains(value, marker) {
			return true
		}
	}
	return false
}
