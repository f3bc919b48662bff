// Package diag is the fire-and-forget diagnostics side-channel. Sinks must
// never propagate failures into the scan pipeline.
package diag

import "log/slog"

// Sink receives coarse status transitions ("preflight", "step", "import",
// ...) with a free-form message. Implementations swallow their own errors.
type Sink interface {
	Log(status, message string)
}

type slogSink struct {
	logger *slog.Logger
}

// NewSlogSink logs diagnostics through the given structured logger.
func NewSlogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogSink{logger: logger}
}

func (s *slogSink) Log(status, message string) {
	defer func() {
		// A diagnostics sink must never take the caller down.
		_ = recover()
	}()
	s.logger.Info("diagnostics", slog.String("status", status), slog.String("message", message))
}

type discardSink struct{}

func (discardSink) Log(string, string) {}

// Discard returns a sink that drops everything.
func Discard() Sink {
	return discardSink{}
}
