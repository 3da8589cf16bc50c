package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyChannel is the subset of the AMQP channel used for declarations.
type TopologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology declares the topic exchange, the per-channel queues, and
// the report queue, and binds each queue to its routing key. Declarations
// are idempotent, so this runs on every start.
func DeclareTopology(ch TopologyChannel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to key %s: %w", b.queue, b.key, err)
		}
	}
	return nil
}
