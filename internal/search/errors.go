package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

var (
	ErrInvalidQuery    = errors.New("query is required")
	ErrNoProviders     = errors.New("no search providers configured")
	ErrUnknownProvider = errors.New("unknown provider")
)

// StatusError is returned by providers for non-2xx responses so the
// classifier can separate access problems from connectivity problems.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s HTTP %d: %s", e.Provider, e.Code, e.Body)
	}
	return fmt.Sprintf("%s HTTP %d", e.Provider, e.Code)
}

// ErrorKind drives the fail-fast decision and the user-facing hint.
type ErrorKind string

const (
	// KindDNS, KindNetwork and KindTimeout are fatal for fail-fast purposes.
	KindDNS     ErrorKind = "dns"
	KindNetwork ErrorKind = "network"
	KindTimeout ErrorKind = "timeout"
	// KindDenied covers HTTP 401/403/429: surfaced as a hint, never fatal.
	KindDenied ErrorKind = "denied"
	KindOther  ErrorKind = "other"
)

// FatalNetwork reports whether consecutive errors of this kind justify
// aborting the remaining plan steps.
func (k ErrorKind) FatalNetwork() bool {
	switch k {
	case KindDNS, KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}

// Classify maps an arbitrary provider error onto the taxonomy. Order
// matters: DNS failures also satisfy net.Error, and timeouts also satisfy
// generic network checks.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return KindDenied
		default:
			return KindOther
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetwork
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "no such host") || strings.Contains(lower, "dns"):
		return KindDNS
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "network is unreachable"):
		return KindNetwork
	default:
		return KindOther
	}
}

// Hint translates an error kind into an actionable suggestion for the
// caller. Zero-result outcomes always carry one of these rather than a bare
// "no results".
func Hint(kind ErrorKind) string {
	switch kind {
	case KindDNS:
		return "hosts are not resolving; check the network connection or configure a proxy"
	case KindNetwork:
		return "network errors while contacting providers; retry later or switch the search mode"
	case KindTimeout:
		return "providers are responding slowly; retry later or narrow the query"
	case KindDenied:
		return "a provider denied the request (rate limit or missing token); add an API token or wait before retrying"
	default:
		return "try a simpler query, a different provider scope, or the search-engine mode"
	}
}
