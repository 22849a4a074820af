package webhook

import (
	"context"

	"github.com/rs/zerolog"
)

// LogAuditor writes delivery creation records to the structured log
type LogAuditor struct {
	logger zerolog.Logger
}

func NewLogAuditor(logger zerolog.Logger) *LogAuditor {
	return &LogAuditor{logger: logger.With().Str("component", "audit").Logger()}
}

func (a *LogAuditor) DeliveryCreated(_ context.Context, d Delivery) {
	a.logger.Info().
		Str("delivery_id", d.ID).
		Str("event", d.Event).
		Str("user_id", d.UserID).
		Str("source_user_id", d.SourceUserID).
		Str("url", MaskURL(d.WebhookURL)).
		Str("status", d.Status.String()).
		Msg("webhook delivery created")
}
