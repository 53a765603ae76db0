package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/whistleline/platform/internal/shared/metrics"
)

// EventBus publishes audit events. There is no subscription side: consumers
// read the KurrentDB streams directly.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Close()
	Health() error
}

// Emit publishes an event without failing the caller. A failed publish is
// logged and counted.
func Emit(ctx context.Context, bus EventBus, log zerolog.Logger, event Event) {
	if bus == nil {
		return
	}
	err := bus.Publish(ctx, event)
	metrics.RecordEventPublished(event.Type, err)
	if err != nil {
		log.Error().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("failed to publish event")
	}
}

// LogBus writes events to the structured log. Used when KurrentDB is not
// configured.
type LogBus struct {
	log zerolog.Logger
}

func NewLogBus(log zerolog.Logger) *LogBus {
	return &LogBus{log: log.With().Str("component", "events").Logger()}
}

func (b *LogBus) Publish(_ context.Context, event Event) error {
	b.log.Info().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("source", event.Source).
		Str("actor_id", event.ActorID.String()).
		Str("actor_role", event.ActorRole).
		Interface("data", event.Data).
		Msg("audit event")
	return nil
}

func (b *LogBus) Close() {}

func (b *LogBus) Health() error { return nil }

var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*LogBus)(nil)
)
