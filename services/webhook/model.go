package webhook

import "time"

// WebhookEvent records every gateway event the system has already handled,
// keyed by the provider's own event id. A second delivery of the same event
// finds the row and is dropped.
type WebhookEvent struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	Provider    string    `gorm:"column:provider;not null"`
	Type        string    `gorm:"column:type;index"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
