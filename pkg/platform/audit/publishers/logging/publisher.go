// Package logging publishes audit events as structured log records. It is the
// sink used when no Kafka brokers are configured.
package logging

import (
	"context"
	"log/slog"

	"github.com/govuk-one-login/account-components-sub001/pkg/platform/audit"
)

type Publisher struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Publisher {
	return &Publisher{logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event audit.Event) {
	level := slog.LevelInfo
	if event.Category == audit.CategorySecurity {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "audit event",
		"category", event.Category,
		"action", event.Action,
		"client_id", event.ClientID,
		"subject", event.Subject,
		"error_code", event.ErrorCode,
		"reason", event.Reason,
		"severity", event.Severity,
		"request_id", event.RequestID,
		"ip", event.IP,
		"timestamp", event.Timestamp,
	)
}
