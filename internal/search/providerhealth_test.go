package search

import (
	"errors"
	"testing"
	"time"

	"iptvstream/scanservice/internal/netprobe"
)

func newHealthTestService() *Service {
	return NewService(nil, testConfig(), WithProber(netprobe.New(netprobe.WithResolver(okResolver()))))
}

func TestProviderBlocksAfterConsecutiveFailures(t *testing.T) {
	svc := newHealthTestService()
	now := time.Now()
	failure := errors.New("connection refused")

	for i := 0; i < providerFailureThreshold-1; i++ {
		svc.recordProviderResult("github", "q", failure, 10*time.Millisecond, now)
		if blocked, _, _ := svc.isProviderBlocked("github", now); blocked {
			t.Fatalf("blocked after %d failures, threshold is %d", i+1, providerFailureThreshold)
		}
	}

	svc.recordProviderResult("github", "q", failure, 10*time.Millisecond, now)
	blocked, until, lastErr := svc.isProviderBlocked("github", now)
	if !blocked {
		t.Fatalf("expected block after %d failures", providerFailureThreshold)
	}
	if want := now.Add(providerBlockBase); !until.Equal(want) {
		t.Fatalf("block until %s, want %s", until, want)
	}
	if lastErr == "" {
		t.Fatalf("block must carry the last error")
	}
}

func TestProviderBlockExpires(t *testing.T) {
	svc := newHealthTestService()
	now := time.Now()
	failure := errors.New("connection refused")

	for i := 0; i < providerFailureThreshold; i++ {
		svc.recordProviderResult("github", "q", failure, 0, now)
	}
	if blocked, _, _ := svc.isProviderBlocked("github", now.Add(providerBlockBase+time.Second)); blocked {
		t.Fatalf("block should have expired")
	}
}

func TestProviderSuccessResetsCircuit(t *testing.T) {
	svc := newHealthTestService()
	now := time.Now()
	failure := errors.New("connection refused")

	for i := 0; i < providerFailureThreshold; i++ {
		svc.recordProviderResult("github", "q", failure, 0, now)
	}
	svc.recordProviderResult("github", "q", nil, 5*time.Millisecond, now)
	if blocked, _, _ := svc.isProviderBlocked("github", now); blocked {
		t.Fatalf("success must clear the block")
	}
}

func TestBlockDurationDoublesAndCaps(t *testing.T) {
	if got := blockDuration(providerFailureThreshold); got != providerBlockBase {
		t.Fatalf("base block = %s, want %s", got, providerBlockBase)
	}
	if got := blockDuration(providerFailureThreshold + 1); got != 2*providerBlockBase {
		t.Fatalf("second block = %s, want %s", got, 2*providerBlockBase)
	}
	if got := blockDuration(providerFailureThreshold + 10); got != providerBlockMax {
		t.Fatalf("block must cap at %s, got %s", providerBlockMax, got)
	}
}
