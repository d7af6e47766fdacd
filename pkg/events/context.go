package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

type sinksKey struct{}

// WithEventSinks returns a context carrying sinks on top of the ones ctx
// already carries. A turn publishes to every sink of its context.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := SinksFromContext(ctx)
	// clip so that sibling contexts never share a backing array
	combined := append(existing[:len(existing):len(existing)], sinks...)
	return context.WithValue(ctx, sinksKey{}, combined)
}

func SinksFromContext(ctx context.Context) []EventSink {
	sinks, _ := ctx.Value(sinksKey{}).([]EventSink)
	return sinks
}

// Publish hands event to the sinks of ctx. A failing sink does not keep the
// others from receiving the event, and never fails the turn.
func Publish(ctx context.Context, event Event) {
	meta := event.Metadata()
	for _, sink := range SinksFromContext(ctx) {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).
				Str("event_type", string(event.Type())).
				Str("session_id", meta.SessionID).
				Str("turn_id", meta.TurnID).
				Msg("event sink failed")
		}
	}
}
