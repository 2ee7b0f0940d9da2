package notify

import (
	"context"
	"log/slog"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// LogSender writes notifications to the logger instead of delivering them.
// It is the fallback when no real sender handles a type.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(ctx context.Context, req model.NotificationRequest) error {
	l.logger.InfoContext(ctx, "notification",
		"id", req.ID,
		"type", req.Type,
		"recipient", req.Recipient,
		"priority", req.Priority,
		"subject", req.Subject,
		"message", req.Message,
	)
	return nil
}
