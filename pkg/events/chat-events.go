package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart is published when a turn starts sending its request.
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"

	// EventTypeSessionRekeyed is published after a session took over the id
	// assigned by the server.
	EventTypeSessionRekeyed EventType = "session-rekeyed"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson)
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
	Query string `json:"query"`
}

func NewStartEvent(metadata EventMetadata, query string) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
		Query: query,
	}
}

var _ Event = &EventStart{}

// EventPartialCompletion carries one fragment of the answer and everything
// received so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialCompletion{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	// Notice is the text shown to the user in place of an answer, if any.
	Notice string `json:"notice,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, err error, notice string) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
		Notice:      notice,
	}
}

var _ Event = &EventError{}

// EventInterrupt is published when a turn was canceled. Text is the partial
// answer at that point, it is not committed anywhere.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventInterrupt{}

type EventSessionRekeyed struct {
	EventImpl
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

func NewSessionRekeyedEvent(metadata EventMetadata, oldID, newID string) *EventSessionRekeyed {
	return &EventSessionRekeyed{
		EventImpl: EventImpl{
			Type_:     EventTypeSessionRekeyed,
			Metadata_: metadata,
		},
		OldID: oldID,
		NewID: newID,
	}
}

var _ Event = &EventSessionRekeyed{}

// EventMetadata is passed along with every event.
type EventMetadata struct {
	ID uuid.UUID `json:"message_id" yaml:"message_id" mapstructure:"message_id"`
	// SessionID is the session the turn was started on. After a rekey the
	// session is known under EventSessionRekeyed.NewID.
	SessionID string                 `json:"session_id,omitempty" yaml:"session_id,omitempty" mapstructure:"session_id"`
	TurnID    string                 `json:"turn_id,omitempty" yaml:"turn_id,omitempty" mapstructure:"turn_id"`
	Extra     map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

func NewEventMetadata(sessionID, turnID string) EventMetadata {
	return EventMetadata{
		ID:        uuid.New(),
		SessionID: sessionID,
		TurnID:    turnID,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.TurnID != "" {
		e.Str("turn_id", em.TurnID)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event")
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return toTyped[EventStart](e)
	case EventTypePartialCompletion:
		return toTyped[EventPartialCompletion](e)
	case EventTypeFinal:
		return toTyped[EventFinal](e)
	case EventTypeError:
		return toTyped[EventError](e)
	case EventTypeInterrupt:
		return toTyped[EventInterrupt](e)
	case EventTypeSessionRekeyed:
		return toTyped[EventSessionRekeyed](e)
	}

	return e, nil
}

func toTyped[T any, PT interface {
	*T
	Event
	SetPayload([]byte)
}](e *EventImpl) (Event, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok || ret == nil {
		return nil, fmt.Errorf("could not cast event to %T", ret)
	}
	PT(ret).SetPayload(e.payload)
	return PT(ret), nil
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}

func (e EventStart) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("query_length", len(e.Query))
}

func (e EventPartialCompletion) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta).Int("completion_length", len(e.Completion))
}

func (e EventFinal) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("text", e.Text)
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString)
}

func (e EventInterrupt) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("text_length", len(e.Text))
}

func (e EventSessionRekeyed) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("old_id", e.OldID).Str("new_id", e.NewID)
}
