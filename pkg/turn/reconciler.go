package turn

import (
	"context"
	"strings"
	"sync"

	"github.com/go-go-golems/threadline/pkg/conversation"
	"github.com/go-go-golems/threadline/pkg/events"
	"github.com/go-go-golems/threadline/pkg/stream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Committer is the part of the session store a turn writes to.
type Committer interface {
	AppendMessage(sessionID string, message conversation.Message) bool
	RekeySession(oldID, newID string, message conversation.Message, activate bool) error
}

var _ Committer = (*conversation.Store)(nil)

// Result describes how a turn ended.
type Result struct {
	TurnID string `json:"turn_id" yaml:"turn_id"`
	// OriginID is the session id the request was sent for.
	OriginID string `json:"origin_id" yaml:"origin_id"`
	// SessionID is the id the session is known under after the turn. It
	// differs from OriginID when the server assigned a new one.
	SessionID string `json:"session_id" yaml:"session_id"`
	State     State  `json:"state" yaml:"state"`
	Answer    string `json:"answer,omitempty" yaml:"answer,omitempty"`
	Err       error  `json:"-" yaml:"-"`
}

func (r Result) Rekeyed() bool {
	return r.State == StateDone && r.SessionID != r.OriginID
}

func (r Result) MarshalZerologObject(e *zerolog.Event) {
	e.Str("turn_id", r.TurnID).
		Str("origin_id", r.OriginID).
		Str("session_id", r.SessionID).
		Str("state", string(r.State)).
		Int("answer_length", len(r.Answer))
	if r.Err != nil {
		e.Err(r.Err)
	}
}

// Reconciler runs one request/response exchange for a session. It collects
// the streamed answer and writes it to the store exactly once: as a plain
// append, or, if the server assigned another session id, as a rekey of the
// originating session.
//
// A Reconciler is driven from a single goroutine. Preview and State may be
// read concurrently.
type Reconciler struct {
	id            string
	originID      string
	store         Committer
	failureNotice string

	mu         sync.Mutex
	state      State
	preview    strings.Builder
	capturedID string
	result     Result
}

type Option func(*Reconciler)

func WithFailureNotice(notice string) Option {
	return func(r *Reconciler) {
		r.failureNotice = notice
	}
}

func WithTurnID(id string) Option {
	return func(r *Reconciler) {
		r.id = id
	}
}

func NewReconciler(originID string, store Committer, options ...Option) *Reconciler {
	ret := &Reconciler{
		id:            uuid.NewString(),
		originID:      originID,
		store:         store,
		failureNotice: DefaultFailureNotice,
		state:         StateIdle,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (r *Reconciler) ID() string {
	return r.id
}

func (r *Reconciler) OriginID() string {
	return r.originID
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Preview returns the answer received so far. It is empty once the turn has
// ended, whatever the outcome.
func (r *Reconciler) Preview() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preview.String()
}

// Result returns the outcome. It is only meaningful once State is terminal.
func (r *Reconciler) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *Reconciler) metadata() events.EventMetadata {
	return events.NewEventMetadata(r.originID, r.id)
}

func (r *Reconciler) transitionLocked(next State) error {
	if !r.state.CanTransitionTo(next) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", r.state, next)
	}
	log.Trace().
		Str("turn_id", r.id).
		Str("from", string(r.state)).
		Str("to", string(next)).
		Msg("turn state transition")
	r.state = next
	return nil
}

func (r *Reconciler) transition(next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(next)
}

// Begin marks the request as being sent.
func (r *Reconciler) Begin(ctx context.Context, query string) error {
	if err := r.transition(StateSending); err != nil {
		return err
	}
	events.Publish(ctx, events.NewStartEvent(r.metadata(), query))
	return nil
}

// StartStreaming marks the response stream as open.
func (r *Reconciler) StartStreaming() error {
	return r.transition(StateStreaming)
}

// Observe feeds one record into the turn. A record with turn_complete set
// commits the turn; the returned error is then the commit error, if any.
func (r *Reconciler) Observe(ctx context.Context, record stream.Record) error {
	r.mu.Lock()
	if r.state != StateStreaming {
		state := r.state
		r.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "observe record in state %s", state)
	}

	var preview string
	if record.Data != "" {
		r.preview.WriteString(record.Data)
		preview = r.preview.String()
	}
	// the first session id wins, the server must not send a differing one later
	if r.capturedID == "" && record.SessionID != "" {
		r.capturedID = record.SessionID
		log.Debug().
			Str("turn_id", r.id).
			Str("origin_id", r.originID).
			Str("session_id", record.SessionID).
			Msg("captured server session id")
	} else if record.SessionID != "" && record.SessionID != r.capturedID {
		log.Warn().
			Str("turn_id", r.id).
			Str("captured", r.capturedID).
			Str("ignored", record.SessionID).
			Msg("ignoring second session id in turn")
	}
	r.mu.Unlock()

	if record.Data != "" {
		events.Publish(ctx, events.NewPartialCompletionEvent(r.metadata(), record.Data, preview))
	}

	if record.TurnComplete {
		return r.commit(ctx)
	}
	return nil
}

func (r *Reconciler) commit(ctx context.Context) error {
	r.mu.Lock()
	if err := r.transitionLocked(StateCommitting); err != nil {
		r.mu.Unlock()
		return err
	}
	finalID := r.originID
	if r.capturedID != "" {
		finalID = r.capturedID
	}
	answer := strings.TrimSpace(r.preview.String())
	r.mu.Unlock()

	message := conversation.NewAssistantMessage(answer)
	var err error
	if finalID != r.originID {
		err = r.store.RekeySession(r.originID, finalID, message, true)
	} else if !r.store.AppendMessage(r.originID, message) {
		err = errors.Wrapf(conversation.ErrSessionNotFound, "commit to %s", r.originID)
	}

	if err != nil {
		// nothing was written, the store rejects conflicting ids as a whole
		r.finish(StateFailed, Result{
			SessionID: r.originID,
			Err:       err,
		})
		log.Error().Err(err).
			Str("turn_id", r.id).
			Str("origin_id", r.originID).
			Str("session_id", finalID).
			Msg("could not commit turn")
		events.Publish(ctx, events.NewErrorEvent(r.metadata(), err, ""))
		return err
	}

	r.finish(StateDone, Result{
		SessionID: finalID,
		Answer:    answer,
	})
	if finalID != r.originID {
		events.Publish(ctx, events.NewSessionRekeyedEvent(r.metadata(), r.originID, finalID))
	}
	events.Publish(ctx, events.NewFinalEvent(r.metadata(), answer))
	log.Debug().Object("result", r.Result()).Msg("turn committed")
	return nil
}

func (r *Reconciler) finish(state State, result Result) {
	r.mu.Lock()
	r.state = state
	r.preview.Reset()
	result.TurnID = r.id
	result.OriginID = r.originID
	result.State = state
	r.result = result
	r.mu.Unlock()
}

// Fail ends the turn without committing any of the partial answer. Unless
// the turn was canceled, the failure notice is appended to the originating
// session.
func (r *Reconciler) Fail(ctx context.Context, cause error) error {
	if cause == nil {
		cause = ErrStreamTruncated
	}
	canceled := errors.Is(cause, context.Canceled) || errors.Is(cause, ErrTurnCanceled)
	if canceled && !errors.Is(cause, ErrTurnCanceled) {
		cause = errors.Wrap(ErrTurnCanceled, cause.Error())
	}

	r.mu.Lock()
	if err := r.transitionLocked(StateFailed); err != nil {
		r.mu.Unlock()
		return err
	}
	partial := r.preview.String()
	r.mu.Unlock()

	r.finish(StateFailed, Result{
		SessionID: r.originID,
		Err:       cause,
	})

	if canceled {
		log.Debug().Str("turn_id", r.id).Str("origin_id", r.originID).Msg("turn canceled")
		// the caller's ctx is done, the interrupt still has to reach the sinks
		events.Publish(context.WithoutCancel(ctx), events.NewInterruptEvent(r.metadata(), partial))
		return nil
	}

	log.Warn().Err(cause).Str("turn_id", r.id).Str("origin_id", r.originID).Msg("turn failed")
	if !r.store.AppendMessage(r.originID, conversation.NewAssistantMessage(r.failureNotice)) {
		log.Warn().Str("origin_id", r.originID).Msg("session of failed turn is gone, notice dropped")
	}
	events.Publish(ctx, events.NewErrorEvent(r.metadata(), cause, r.failureNotice))
	return nil
}

// Drive reads the stream until the turn commits or the stream ends, and
// fails the turn if it ended any other way. The returned error is the
// reason the turn failed, or nil once it is done.
func (r *Reconciler) Drive(ctx context.Context, decoder *stream.Decoder) (Result, error) {
	if err := r.StartStreaming(); err != nil {
		return r.Result(), err
	}

	err := decoder.Run(ctx, func(record stream.Record) error {
		return r.Observe(ctx, record)
	})

	stats := decoder.Stats()
	log.Debug().Str("turn_id", r.id).Object("stats", stats).Msg("stream finished")

	switch r.State() {
	case StateDone:
		return r.Result(), nil
	case StateFailed:
		// commit failed
		return r.Result(), err
	}

	// a deadline counts as a truncated stream, only cancellation is silent
	if err == nil {
		err = ErrStreamTruncated
	} else if !errors.Is(err, context.Canceled) {
		err = errors.Wrap(ErrStreamTruncated, err.Error())
	}

	if failErr := r.Fail(ctx, err); failErr != nil {
		return r.Result(), failErr
	}
	result := r.Result()
	return result, result.Err
}
