package audit

import (
	"context"
	"log/slog"

	"github.com/codetutor/tutorgate/internal/domain/audit"
)

// LogStore implements audit.Store by writing each event as a structured log line.
type LogStore struct {
	logger *slog.Logger
}

// NewLogStore creates a store logging to logger, or slog.Default() if nil.
func NewLogStore(logger *slog.Logger) *LogStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStore{logger: logger.With("component", "audit")}
}

// Append logs events at info level, failures at warn.
func (s *LogStore) Append(ctx context.Context, events ...audit.Event) error {
	for _, e := range events {
		level := slog.LevelInfo
		if e.Outcome == audit.OutcomeFailure {
			level = slog.LevelWarn
		}
		attrs := []any{
			"type", string(e.Type),
			"outcome", e.Outcome,
			"user_id", e.UserID,
			"request_id", e.RequestID,
			"remote_ip", e.RemoteIP,
		}
		for k, v := range e.Detail {
			attrs = append(attrs, k, v)
		}
		s.logger.Log(ctx, level, "security event", attrs...)
	}
	return nil
}

// Close is a no-op.
func (s *LogStore) Close() error {
	return nil
}

// Compile-time interface verification.
var _ audit.Store = (*LogStore)(nil)
