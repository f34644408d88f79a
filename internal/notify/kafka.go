package notify

import (
	"context"
	"log/slog"

	"github.com/semilia/storefront/pkg/kafka"
	"github.com/semilia/storefront/pkg/logger"
)

// EventTypeNotification is the event type of published notifications.
const EventTypeNotification = "cart.notification"

// Publisher is the part of *kafka.Producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Kafka publishes notifications as events keyed by storefront session, so
// other channels (email, push) can relay them.
type Kafka struct {
	publisher Publisher
	topic     string
	logger    *slog.Logger
}

// NewKafka creates a notifier publishing to storefront.cart.notifications.
func NewKafka(p Publisher, logger *slog.Logger) *Kafka {
	return &Kafka{publisher: p, topic: kafka.Topic("cart", "notifications"), logger: logger}
}

// Topic returns the destination topic.
func (k *Kafka) Topic() string {
	return k.topic
}

func (k *Kafka) Notify(ctx context.Context, n Notification) {
	sessionID := logger.SessionIDFromContext(ctx)
	event, err := kafka.NewEvent(EventTypeNotification, sessionID, n,
		kafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
		kafka.WithAttribute("user_id", logger.UserIDFromContext(ctx)),
		kafka.WithAttribute("level", string(n.Level)),
	)
	if err != nil {
		k.logger.ErrorContext(ctx, "encode notification event", slog.String("error", err.Error()))
		return
	}

	if err := k.publisher.Publish(ctx, k.topic, event); err != nil {
		k.logger.WarnContext(ctx, "notification not published",
			slog.String("action", n.Action),
			slog.String("error", err.Error()),
		)
	}
}
