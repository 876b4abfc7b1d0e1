package service

import (
	"context"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/port"

	"go.uber.org/zap"
)

// publishEvent hands an event to the publisher. Failures are logged and
// never affect the operation that produced the event.
func publishEvent(ctx context.Context, pub port.EventPublisher, logger *zap.Logger, routingKey string, event any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, routingKey, event); err != nil {
		logger.Warn("event not published", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }
