package webhook

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/repository"
)

// Service is the replay guard for gateway webhooks. Handlers call Register
// inside the transaction that applies the event's effects, so a duplicate
// delivery rolls back with the insert.
type Service struct {
	db     *gorm.DB
	events repository.Repository[WebhookEvent]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		events: repository.ProvideStore[WebhookEvent](p.DB),
	}
}

// Seen reports whether the event was already processed.
func (s *Service) Seen(ctx context.Context, eventID string) (bool, error) {
	ev, err := s.events.FindOne(ctx, &WebhookEvent{EventID: eventID})
	if err != nil {
		return false, err
	}
	return ev != nil, nil
}

// Register claims the event id. It returns DuplicateOperation if another
// delivery got there first; callers treat that as a clean no-op.
func (s *Service) Register(ctx context.Context, tx *gorm.DB, provider, eventID, eventType string) error {
	if tx == nil {
		tx = s.db
	}
	ev := WebhookEvent{
		EventID:     eventID,
		Provider:    provider,
		Type:        eventType,
		ProcessedAt: time.Now(),
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		zap.L().Info("duplicate webhook delivery dropped",
			zap.String("provider", provider),
			zap.String("event_id", eventID),
			zap.String("type", eventType),
		)
		return errutil.DuplicateOperation("webhook event already processed")
	}
	return nil
}
