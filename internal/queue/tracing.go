package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceContext injects OpenTelemetry trace context into AMQP message
// headers for propagation to downstream workers.
func InjectTraceContext(ctx context.Context, headers amqp.Table) amqp.Table {
	carrier := propagation.MapCarrier{}
	propagator := propagation.TraceContext{}
	propagator.Inject(ctx, carrier)

	// Create a new table to avoid mutation
	newHeaders := make(amqp.Table, len(headers)+len(carrier))
	for k, v := range headers {
		newHeaders[k] = v
	}
	for k, v := range carrier {
		newHeaders[k] = v
	}

	return newHeaders
}

// ExtractTraceContext extracts OpenTelemetry trace context from AMQP message
// headers so consumer spans join the publisher's trace.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}

	propagator := propagation.TraceContext{}
	return propagator.Extract(ctx, carrier)
}
