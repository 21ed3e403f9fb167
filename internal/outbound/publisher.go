// Package outbound publishes settlement events to NATS JetStream for
// downstream consumers (reporting, reconciliation, notifications).
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/boltfi/protocol-v1/internal/event"
	"github.com/boltfi/protocol-v1/internal/observability"
)

const streamName = "VAULT_EVENTS"

// Publisher drains the engine's publish channel and publishes each
// event to vault.events.{event_type}. Publishing is best effort: a
// failed publish is logged and counted, never retried here, because
// the event log in Postgres is the durable record and consumers can
// re-read it.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan event.Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, input <-chan event.Envelope, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, input: input, log: log, metrics: metrics}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				p.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("vault.events.%s", env.Type.String())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"vault.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
