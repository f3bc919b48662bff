// Package proxy builds HTTP clients with an optional per-provider proxy.
// Applying the same URL twice is a no-op; an empty URL clears the proxy.
package proxy

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewClient returns an instrumented HTTP client. When proxyRaw is a valid
// absolute URL the client routes through it; invalid values log a warning
// and disable the proxy rather than failing startup.
func NewClient(timeout time.Duration, proxyRaw string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = true
	transport.Proxy = resolveProxy(proxyRaw)

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

func resolveProxy(proxyRaw string) func(*http.Request) (*url.URL, error) {
	value := strings.TrimSpace(proxyRaw)
	if value == "" {
		// Do not pick up container/host proxy environment variables unless
		// explicitly configured.
		return nil
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		if err == nil {
			err = errors.New("missing scheme or host")
		}
		slog.Default().Warn("invalid proxy url; proxy disabled", slog.String("error", err.Error()))
		return nil
	}
	return http.ProxyURL(parsed)
}
