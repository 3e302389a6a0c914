package receipt

import (
	"context"
	"log/slog"
)

// LogSink writes receipts to the structured log. Used in development and as
// the fallback when no printer address is configured.
type LogSink struct {
	Log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{Log: log}
}

func (s *LogSink) Print(_ context.Context, p Payload) error {
	s.Log.Info("receipt",
		"session_id", p.SessionID,
		"split", p.SplitName,
		"total", p.Total.StringFixed(2),
		"method", p.Method,
		"items", len(p.Items),
	)
	return nil
}
