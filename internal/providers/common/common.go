// Package common holds helpers shared by the provider search clients.
package common

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"iptvstream/scanservice/internal/search"
)

const maxResponseBytes = 4 * 1024 * 1024

// LooksLikePlaylist filters provider hits down to plausible playlist files.
func LooksLikePlaylist(path string) bool {
	lower := strings.ToLower(strings.TrimSpace(path))
	return strings.HasSuffix(lower, ".m3u") || strings.HasSuffix(lower, ".m3u8")
}

// CandidateID builds the stable dedup key for a discovered file.
func CandidateID(provider, repository, path string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + ":" +
		strings.TrimSpace(repository) + ":" + strings.TrimSpace(path)
}

// DecodeResponse enforces the shared status handling: non-2xx responses
// become a classified StatusError, bodies are size-capped before decoding.
func DecodeResponse(providerName string, resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &search.StatusError{
			Provider: providerName,
			Code:     resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: unexpected payload: %w", providerName, err)
	}
	return nil
}
