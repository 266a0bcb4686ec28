// Package notify is the outbound notification boundary. Dispatching is
// fire-and-continue: the core enqueues after its transaction commits and a
// delivery failure is never allowed to fail the calling operation.
package notify

import (
	"context"
	"encoding/json"

	"creatorlink-marketplace/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TaskDispatch = "notify:dispatch"

type Dispatcher interface {
	Notify(ctx context.Context, recipientID, templateKey string, payload map[string]any)
}

type Message struct {
	RecipientID string         `json:"recipient_id"`
	TemplateKey string         `json:"template_key"`
	Payload     map[string]any `json:"payload,omitempty"`
}

var Module = fx.Module("notify",
	fx.Provide(NewQueueDispatcher),
)

type queueDispatcher struct {
	enqueuer task.Enqueuer
}

func NewQueueDispatcher(enqueuer task.Enqueuer) Dispatcher {
	return &queueDispatcher{enqueuer: enqueuer}
}

func (d *queueDispatcher) Notify(ctx context.Context, recipientID, templateKey string, payload map[string]any) {
	body, err := json.Marshal(Message{
		RecipientID: recipientID,
		TemplateKey: templateKey,
		Payload:     payload,
	})
	if err != nil {
		zap.L().Error("notify: failed to marshal message",
			zap.String("template_key", templateKey),
			zap.Error(err),
		)
		return
	}

	if _, err := d.enqueuer.Enqueue(ctx, asynq.NewTask(TaskDispatch, body), asynq.Queue("low")); err != nil {
		zap.L().Error("notify: failed to enqueue message",
			zap.String("recipient_id", recipientID),
			zap.String("template_key", templateKey),
			zap.Error(err),
		)
	}
}

// Nop discards every message. Used where a dispatcher is required but
// delivery is not wired, including tests.
type Nop struct{}

func (Nop) Notify(ctx context.Context, recipientID, templateKey string, payload map[string]any) {}
