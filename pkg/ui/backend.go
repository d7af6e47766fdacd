package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/threadline/pkg/chat"
	"github.com/go-go-golems/threadline/pkg/conversation"
	"github.com/go-go-golems/threadline/pkg/events"
	"github.com/go-go-golems/threadline/pkg/turn"
)

// StateChangedMsg is sent after every store mutation.
type StateChangedMsg struct {
	Version int64
}

type TurnStartedMsg struct {
	SessionID string
	TurnID    string
}

type PreviewMsg struct {
	SessionID string
	TurnID    string
	Delta     string
	Preview   string
}

type SessionRekeyedMsg struct {
	OldID string
	NewID string
}

// TurnEndedMsg is sent when a turn published its final, error or interrupt
// event.
type TurnEndedMsg struct {
	SessionID   string
	TurnID      string
	Err         string
	Notice      string
	Interrupted bool
}

// TurnFinishedMsg carries the outcome of a turn submitted by the model.
type TurnFinishedMsg struct {
	Handle *chat.Handle
	Result turn.Result
	Err    error
}

type submittedMsg struct {
	handle *chat.Handle
	err    error
}

// Forwarder turns chat events into bubbletea messages.
type Forwarder struct {
	send func(tea.Msg)
}

// NewForwarder returns a forwarder calling send, usually tea.Program.Send.
func NewForwarder(send func(tea.Msg)) *Forwarder {
	return &Forwarder{send: send}
}

func (f *Forwarder) HandleStart(_ context.Context, e *events.EventStart) error {
	m := e.Metadata()
	f.send(TurnStartedMsg{SessionID: m.SessionID, TurnID: m.TurnID})
	return nil
}

func (f *Forwarder) HandlePartialCompletion(_ context.Context, e *events.EventPartialCompletion) error {
	m := e.Metadata()
	f.send(PreviewMsg{SessionID: m.SessionID, TurnID: m.TurnID, Delta: e.Delta, Preview: e.Completion})
	return nil
}

func (f *Forwarder) HandleFinal(_ context.Context, e *events.EventFinal) error {
	m := e.Metadata()
	f.send(TurnEndedMsg{SessionID: m.SessionID, TurnID: m.TurnID})
	return nil
}

func (f *Forwarder) HandleError(_ context.Context, e *events.EventError) error {
	m := e.Metadata()
	f.send(TurnEndedMsg{SessionID: m.SessionID, TurnID: m.TurnID, Err: e.ErrorString, Notice: e.Notice})
	return nil
}

func (f *Forwarder) HandleInterrupt(_ context.Context, e *events.EventInterrupt) error {
	m := e.Metadata()
	f.send(TurnEndedMsg{SessionID: m.SessionID, TurnID: m.TurnID, Interrupted: true})
	return nil
}

func (f *Forwarder) HandleSessionRekeyed(_ context.Context, e *events.EventSessionRekeyed) error {
	f.send(SessionRekeyedMsg{OldID: e.OldID, NewID: e.NewID})
	return nil
}

var _ events.ChatEventHandler = (*Forwarder)(nil)

// ChatForwardFunc is a router handler sending chat events to p.
func ChatForwardFunc(p *tea.Program) events.ChatEventHandler {
	return NewForwarder(p.Send)
}

// SubscribeStore sends a StateChangedMsg after every store mutation. Sending
// happens on its own goroutine, mutations are also applied from within
// Update.
func SubscribeStore(store *conversation.Store, send func(tea.Msg)) func() {
	return store.Subscribe(func(s conversation.State) {
		go send(StateChangedMsg{Version: s.Version})
	})
}

func submitCmd(ctx context.Context, c *chat.Controller, query string) tea.Cmd {
	return func() tea.Msg {
		h, err := c.SubmitAsync(ctx, query)
		return submittedMsg{handle: h, err: err}
	}
}

func waitCmd(h *chat.Handle) tea.Cmd {
	return func() tea.Msg {
		result, err := h.Wait()
		return TurnFinishedMsg{Handle: h, Result: result, Err: err}
	}
}
