package events

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJsonTypes(t *testing.T) {
	meta := NewEventMetadata("sess-1", "turn-1")
	tests := []struct {
		event Event
		check func(t *testing.T, e Event)
	}{
		{
			event: NewPartialCompletionEvent(meta, " world", "hello world"),
			check: func(t *testing.T, e Event) {
				p, ok := e.(*EventPartialCompletion)
				require.True(t, ok)
				assert.Equal(t, " world", p.Delta)
				assert.Equal(t, "hello world", p.Completion)
			},
		},
		{
			event: NewFinalEvent(meta, "done"),
			check: func(t *testing.T, e Event) {
				f, ok := e.(*EventFinal)
				require.True(t, ok)
				assert.Equal(t, "done", f.Text)
			},
		},
		{
			event: NewErrorEvent(meta, errors.New("boom"), "notice"),
			check: func(t *testing.T, e Event) {
				ee, ok := e.(*EventError)
				require.True(t, ok)
				assert.Equal(t, "boom", ee.ErrorString)
				assert.Equal(t, "notice", ee.Notice)
			},
		},
		{
			event: NewSessionRekeyedEvent(meta, "sess-1", "srv-9"),
			check: func(t *testing.T, e Event) {
				r, ok := e.(*EventSessionRekeyed)
				require.True(t, ok)
				assert.Equal(t, "srv-9", r.NewID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.event.Type()), func(t *testing.T) {
			b, err := json.Marshal(tt.event)
			require.NoError(t, err)

			e, err := NewEventFromJson(b)
			require.NoError(t, err)
			assert.Equal(t, tt.event.Type(), e.Type())
			assert.Equal(t, meta, e.Metadata())
			assert.Equal(t, b, e.Payload())
			tt.check(t, e)
		})
	}

	_, err := NewEventFromJson([]byte("nope"))
	assert.Error(t, err)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingHandler) add(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
	return nil
}

func (r *recordingHandler) HandleStart(_ context.Context, e *EventStart) error {
	return r.add("start:" + e.Query)
}

func (r *recordingHandler) HandlePartialCompletion(_ context.Context, e *EventPartialCompletion) error {
	return r.add("partial:" + e.Completion)
}

func (r *recordingHandler) HandleFinal(_ context.Context, e *EventFinal) error {
	return r.add("final:" + e.Text)
}

func (r *recordingHandler) HandleError(_ context.Context, e *EventError) error {
	return r.add("error:" + e.ErrorString)
}

func (r *recordingHandler) HandleInterrupt(_ context.Context, e *EventInterrupt) error {
	return r.add("interrupt:" + e.Text)
}

func (r *recordingHandler) HandleSessionRekeyed(_ context.Context, e *EventSessionRekeyed) error {
	return r.add("rekeyed:" + e.OldID + "->" + e.NewID)
}

func TestRouterDispatchesInOrder(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	handler := &recordingHandler{}
	router.AddHandler("test", DefaultTopic, NewChatDispatchHandler(handler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- router.Run(ctx)
	}()
	<-router.Running()

	sink := router.Sink(DefaultTopic)
	meta := NewEventMetadata("local", "turn")
	require.NoError(t, sink.PublishEvent(NewStartEvent(meta, "hi")))
	require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(meta, "a", "a")))
	require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(meta, "b", "ab")))
	require.NoError(t, sink.PublishEvent(NewSessionRekeyedEvent(meta, "local", "srv")))
	require.NoError(t, sink.PublishEvent(NewFinalEvent(meta, "ab")))

	require.NoError(t, router.Close())
	cancel()
	<-done

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{
		"start:hi",
		"partial:a",
		"partial:ab",
		"rekeyed:local->srv",
		"final:ab",
	}, handler.events)
}

func TestWatermillSinkSequenceNumbers(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	messages, err := pubSub.Subscribe(context.Background(), "topic")
	require.NoError(t, err)

	var mu sync.Mutex
	var sequence, correlation []string
	go func() {
		for msg := range messages {
			mu.Lock()
			sequence = append(sequence, msg.Metadata.Get("sequence_number"))
			correlation = append(correlation, msg.Metadata.Get("correlation_id"))
			mu.Unlock()
			msg.Ack()
		}
	}()

	sink := NewWatermillSink(pubSub, "topic")
	meta := NewEventMetadata("s", "turn-7")
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(meta, "x", "x")))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "1", "2"}, sequence)
	assert.Equal(t, []string{"turn-7", "turn-7", "turn-7"}, correlation)
}

func TestPrinterFunc(t *testing.T) {
	var buf bytes.Buffer
	printer := PrinterFunc("assistant", &buf)
	meta := NewEventMetadata("s", "t")

	for _, e := range []Event{
		NewStartEvent(meta, "q"),
		NewPartialCompletionEvent(meta, "Hel", "Hel"),
		NewPartialCompletionEvent(meta, "lo", "Hello"),
		NewFinalEvent(meta, "Hello"),
	} {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, printer(message.NewMessage(watermill.NewUUID(), b)))
	}

	assert.Equal(t, "\nassistant: \nHello\n", buf.String())
}

func TestPublishReachesEverySink(t *testing.T) {
	var got []EventType
	sink := SinkFunc(func(e Event) error {
		got = append(got, e.Type())
		return nil
	})
	failing := SinkFunc(func(Event) error {
		return errors.New("broken sink")
	})

	base := WithEventSinks(context.Background(), failing)
	ctx := WithEventSinks(base, sink)
	assert.Len(t, SinksFromContext(ctx), 2)
	assert.Len(t, SinksFromContext(base), 1)

	Publish(ctx, NewFinalEvent(NewEventMetadata("s", "t"), "x"))
	assert.Equal(t, []EventType{EventTypeFinal}, got)

	// no sinks is fine
	Publish(context.Background(), NewFinalEvent(NewEventMetadata("s", "t"), "x"))
}
