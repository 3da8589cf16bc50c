package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/metrics"
	"github.com/notifyd/notifyd/internal/model"
)

const prefetchCount = 8

// Reconciler applies a reported delivery outcome to the audit trail.
type Reconciler interface {
	Reconcile(ctx context.Context, report model.StatusReport) (model.AuditRecord, error)
}

// ConsumeChannel is the subset of the AMQP channel the consumer needs.
type ConsumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer drains the report queue and reconciles each delivery outcome.
// Malformed, unknown, and conflicting reports are discarded; reports that
// failed only because the store was unavailable are requeued.
type Consumer struct {
	ch         ConsumeChannel
	queue      string
	reconciler Reconciler
	log        *slog.Logger
}

func NewConsumer(ch ConsumeChannel, queue string, reconciler Reconciler, log *slog.Logger) *Consumer {
	return &Consumer{
		ch:         ch,
		queue:      queue,
		reconciler: reconciler,
		log:        log.With("component", "reportConsumer"),
	}
}

// Start blocks until the context is cancelled, re-registering the consumer
// with backoff whenever the delivery stream drops.
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("Report consumer started", slog.String("queue", c.queue))

	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			c.log.Info("Context cancelled, stopping consumer")
			return err
		}

		deliveries, err := c.subscribe()
		if err != nil {
			c.log.Error("Failed to register consumer", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.drain(ctx, deliveries); err != nil {
			return err
		}
		c.log.Warn("Delivery stream closed, re-registering")
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(prefetchCount, 0, false); err != nil {
		return nil, err
	}
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}

// drain processes deliveries until the context is cancelled or the stream
// closes. A nil return means the stream closed and should be re-registered.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Context cancelled, stopping consumer")
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	ctx = ExtractTraceContext(ctx, d.Headers)

	var report model.StatusReport
	if err := json.Unmarshal(d.Body, &report); err != nil {
		c.log.Error("Failed to decode report, discarding", slog.Any("error", err))
		metrics.ReconcileTotal.WithLabelValues("malformed").Inc()
		c.nack(d, false)
		return
	}

	_, err := c.reconciler.Reconcile(ctx, report)
	switch {
	case err == nil:
		c.ack(d)
	case appErr.IsStoreUnavailable(err):
		c.log.Warn("Store unavailable, requeueing report",
			slog.String("notification_id", report.NotificationID))
		c.nack(d, true)
	case appErr.IsNotFound(err), appErr.IsInvalidTransition(err), appErr.IsValidation(err):
		c.log.Warn("Discarding unprocessable report",
			slog.String("notification_id", report.NotificationID),
			slog.String("status", string(report.Status)),
			slog.Any("error", err))
		c.nack(d, false)
	default:
		// Unclassified errors are assumed transient.
		c.log.Error("Report handling failed, requeueing", slog.Any("error", err))
		c.nack(d, true)
	}
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.log.Warn("Failed to ack delivery", slog.Any("error", err))
	}
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.log.Warn("Failed to nack delivery", slog.Any("error", err))
	}
}
