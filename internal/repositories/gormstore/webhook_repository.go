package gormstore

import (
	"context"
	"time"

	"github.com/houseofkezura/backend-sub000/internal/platform/database"
)

type webhookRepository struct {
	s *Store
}

// MarkProcessed relies on the unique (provider, reference, event) index so a replay
// surfaces as a conflict.
func (r webhookRepository) MarkProcessed(ctx context.Context, provider, reference, event string, at time.Time) error {
	model := processedWebhookModel{
		Provider:    provider,
		Reference:   reference,
		Event:       event,
		ProcessedAt: at.UTC(),
	}
	return database.WrapError("webhooks.mark_processed", r.s.conn(ctx).Create(&model).Error)
}
