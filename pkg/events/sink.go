package events

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// EventSink is a destination for turn events.
type EventSink interface {
	PublishEvent(event Event) error
}

// NullSink discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(Event) error {
	return nil
}

var _ EventSink = (*NullSink)(nil)

// WatermillSink publishes events as JSON to a watermill topic. Every message
// carries a sequence_number in its metadata, in publish order, and the turn
// id as correlation_id.
type WatermillSink struct {
	publisher message.Publisher
	topic     string

	mu             sync.Mutex
	sequenceNumber uint64
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("sequence_number", strconv.FormatUint(w.sequenceNumber, 10))
	if turnID := event.Metadata().TurnID; turnID != "" {
		msg.Metadata.Set("correlation_id", turnID)
	}
	w.sequenceNumber++

	err = w.publisher.Publish(w.topic, msg)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)

// SinkFunc adapts a function to an EventSink.
type SinkFunc func(event Event) error

func (f SinkFunc) PublishEvent(event Event) error {
	return f(event)
}
