package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/metrics"
	"github.com/notifyd/notifyd/internal/model"
)

// PublishChannel is the subset of the AMQP channel the publisher needs.
type PublishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher hands enriched payloads to the broker, routed by channel.
type Publisher interface {
	Publish(ctx context.Context, payload model.EnrichedPayload) error
}

type amqpPublisher struct {
	ch       PublishChannel
	exchange string
	log      *slog.Logger
}

func NewPublisher(ch PublishChannel, exchange string, log *slog.Logger) Publisher {
	return &amqpPublisher{
		ch:       ch,
		exchange: exchange,
		log:      log.With("component", "publisher"),
	}
}

// Publish marshals the payload and publishes it persistently to the routing
// key of its channel.
func (p *amqpPublisher) Publish(ctx context.Context, payload model.EnrichedPayload) error {
	key, err := KeyFor(payload.Channel)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return appErr.NewPublish("marshal payload for request %s: %v", payload.RequestID, err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		Headers:      InjectTraceContext(ctx, nil),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		metrics.PublishTotal.WithLabelValues(key, "failure").Inc()
		p.log.Error("Failed to publish payload",
			slog.String("request_id", payload.RequestID),
			slog.String("routing_key", key),
			slog.Any("error", err))
		return appErr.NewPublish("publish request %s to key %s: %v", payload.RequestID, key, err)
	}

	metrics.PublishTotal.WithLabelValues(key, "success").Inc()
	p.log.Info("Payload published",
		slog.String("request_id", payload.RequestID),
		slog.String("routing_key", key))
	return nil
}
