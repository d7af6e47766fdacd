package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/threadline/pkg/helpers"
	"github.com/rs/zerolog/log"
)

const DefaultTopic = "chat"

// ChatEventHandler receives the events of a turn, already decoded.
type ChatEventHandler interface {
	HandleStart(ctx context.Context, e *EventStart) error
	HandlePartialCompletion(ctx context.Context, e *EventPartialCompletion) error
	HandleFinal(ctx context.Context, e *EventFinal) error
	HandleError(ctx context.Context, e *EventError) error
	HandleInterrupt(ctx context.Context, e *EventInterrupt) error
	HandleSessionRekeyed(ctx context.Context, e *EventSessionRekeyed) error
}

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
	output     io.Writer
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		r.logger = helpers.NewWatermill(log.Logger)
	}
}

// WithOutput sets where DumpRawEvents writes to. Defaults to stdout.
func WithOutput(w io.Writer) EventRouterOption {
	return func(r *EventRouter) {
		r.output = w
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
		output: os.Stdout,
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

// Sink returns an EventSink that publishes to topic on this router.
func (e *EventRouter) Sink(topic string) *WatermillSink {
	return NewWatermillSink(e.Publisher, topic)
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}

	log.Debug().Msg("Closing router")
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}

	return nil
}

// NewChatDispatchHandler returns a watermill handler that decodes events and
// hands them to the matching method of handler. Undecodable messages are
// logged and acknowledged.
func NewChatDispatchHandler(handler ChatEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).
				Str("message_id", msg.UUID).
				Str("payload", string(msg.Payload)).
				Msg("Failed to parse chat event from message payload")
			return nil
		}

		ctx := msg.Context()
		var handlerErr error
		switch ev := e.(type) {
		case *EventStart:
			handlerErr = handler.HandleStart(ctx, ev)
		case *EventPartialCompletion:
			handlerErr = handler.HandlePartialCompletion(ctx, ev)
		case *EventFinal:
			handlerErr = handler.HandleFinal(ctx, ev)
		case *EventError:
			handlerErr = handler.HandleError(ctx, ev)
		case *EventInterrupt:
			handlerErr = handler.HandleInterrupt(ctx, ev)
		case *EventSessionRekeyed:
			handlerErr = handler.HandleSessionRekeyed(ctx, ev)
		default:
			log.Warn().
				Str("message_id", msg.UUID).
				Str("event_type", string(e.Type())).
				Msg("Unhandled chat event type")
		}

		if handlerErr != nil {
			log.Error().Err(handlerErr).Str("event_type", string(e.Type())).Msg("Error processing chat event")
			return handlerErr
		}

		return nil
	}
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// DumpRawEvents prints every event as indented JSON. Unless verbose is set,
// the metadata block is folded into a single id field.
func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	err := json.Unmarshal(msg.Payload, &s)
	if err != nil {
		return err
	}
	if !e.verbose {
		if meta, ok := s["meta"].(map[string]interface{}); ok {
			s["id"] = meta["message_id"]
			if sessionID, ok := meta["session_id"]; ok {
				s["session_id"] = sessionID
			}
		}
		delete(s, "meta")
	}
	s_, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.output, string(s_))
	return err
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

// RunHandlers starts handlers added after Run.
func (e *EventRouter) RunHandlers(ctx context.Context) error {
	return e.router.RunHandlers(ctx)
}
