package chat

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/threadline/pkg/attachment"
	"github.com/go-go-golems/threadline/pkg/client"
	"github.com/go-go-golems/threadline/pkg/conversation"
	"github.com/go-go-golems/threadline/pkg/events"
	"github.com/go-go-golems/threadline/pkg/fixtures"
	"github.com/go-go-golems/threadline/pkg/request"
	"github.com/go-go-golems/threadline/pkg/turn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func answer(text, sessionID string) *fixtures.Scenario {
	return &fixtures.Scenario{
		Name: text,
		Chunks: []string{
			fmt.Sprintf("data: {\"data\": %q}\n", text),
			fmt.Sprintf("data: {\"turn_complete\": true, \"session_id\": %q}\n", sessionID),
		},
	}
}

func newServerController(t *testing.T, scenarios []*fixtures.Scenario, options ...ControllerOption) (*Controller, *fixtures.Server) {
	t.Helper()
	srv := fixtures.NewServer(scenarios...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	c := NewController(conversation.NewStore(), client.NewClient(client.WithBaseURL(ts.URL)), options...)
	return c, srv
}

// pipeTransport hands every request a pipe the test writes the stream into.
type pipeTransport struct {
	mu       sync.Mutex
	payloads []*request.Payload
	writers  chan *io.PipeWriter
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{writers: make(chan *io.PipeWriter, 4)}
}

func (p *pipeTransport) Ask(_ context.Context, payload *request.Payload) (io.ReadCloser, error) {
	r, w := io.Pipe()
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	p.mu.Unlock()
	p.writers <- w
	return r, nil
}

func TestFirstTurnAdoptsServerSessionID(t *testing.T) {
	var mu sync.Mutex
	var types []events.EventType
	sink := events.SinkFunc(func(e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type())
		return nil
	})

	c, srv := newServerController(t, []*fixtures.Scenario{{
		Name: "fragmented",
		Chunks: []string{
			"data: {\"da",
			"ta\": \"Start\"}\n\ndata: {\"data\": \" wri",
			"ting\"}\n",
			"data: {\"data\": \" with...\"}\ndata: {\"turn_complete\": true, \"session_id\": \"srv-42\"}\n",
		},
	}}, WithEventSinks(sink))

	result, err := c.Submit(context.Background(), "How do I write a cover letter?")
	require.NoError(t, err)
	assert.Equal(t, turn.StateDone, result.State)
	assert.Equal(t, "srv-42", result.SessionID)
	assert.Equal(t, "Start writing with...", result.Answer)

	view := c.View()
	assert.Equal(t, "srv-42", view.ActiveID)
	require.Len(t, view.Sessions, 1)
	assert.Equal(t, "How do I", view.Sessions[0].Name)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, conversation.RoleUser, view.Messages[0].Role)
	assert.Equal(t, "How do I write a cover letter?", view.Messages[0].Content)
	assert.Equal(t, "Start writing with...", view.Messages[1].Content)
	assert.False(t, view.InFlight)
	assert.Empty(t, view.StreamingPreview)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	assert.Empty(t, requests[0].SessionID)
	assert.Nil(t, requests[0].File)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(types), 3)
	assert.Equal(t, events.EventTypeStart, types[0])
	assert.Equal(t, events.EventTypeSessionRekeyed, types[len(types)-2])
	assert.Equal(t, events.EventTypeFinal, types[len(types)-1])
}

func TestSecondTurnContinuesServerSession(t *testing.T) {
	c, srv := newServerController(t, []*fixtures.Scenario{
		answer("first", "srv-7"),
		answer("second", "srv-7"),
	})

	_, err := c.Submit(context.Background(), "one")
	require.NoError(t, err)
	result, err := c.Submit(context.Background(), "two")
	require.NoError(t, err)
	assert.False(t, result.Rekeyed())

	requests := srv.Requests()
	require.Len(t, requests, 2)
	assert.Empty(t, requests[0].SessionID)
	assert.Equal(t, "srv-7", requests[1].SessionID)

	session, ok := c.Store().Session("srv-7")
	require.True(t, ok)
	require.Len(t, session.Messages, 4)
	assert.Equal(t, "second", session.Messages[3].Content)
}

func TestNewSessionStartsWithoutContinuation(t *testing.T) {
	c, srv := newServerController(t, []*fixtures.Scenario{
		answer("first", "srv-1"),
		answer("other", "srv-2"),
	})

	_, err := c.Submit(context.Background(), "one")
	require.NoError(t, err)
	created := c.CreateSession()
	_, err = c.Submit(context.Background(), "two")
	require.NoError(t, err)

	requests := srv.Requests()
	require.Len(t, requests, 2)
	assert.Empty(t, requests[1].SessionID)

	view := c.View()
	assert.Equal(t, "srv-2", view.ActiveID)
	require.Len(t, view.Sessions, 2)
	_, ok := c.Store().Session(created.ID)
	assert.False(t, ok)
}

func TestEmptyQueryIsRefused(t *testing.T) {
	c, srv := newServerController(t, []*fixtures.Scenario{answer("x", "s")})

	_, err := c.Submit(context.Background(), "   \n")
	assert.True(t, errors.Is(err, request.ErrEmptyQuery))
	assert.Empty(t, c.View().Sessions)
	assert.Empty(t, srv.Requests())
}

func TestTransportFailureAppendsNotice(t *testing.T) {
	ts := httptest.NewServer(fixtures.NewServer())
	url := ts.URL
	ts.Close()

	c := NewController(conversation.NewStore(), client.NewClient(client.WithBaseURL(url)), WithFailureNotice("offline"))
	result, err := c.Submit(context.Background(), "hello there")
	require.Error(t, err)
	var transportErr *client.TransportError
	assert.True(t, errors.As(err, &transportErr))
	assert.Equal(t, turn.StateFailed, result.State)

	view := c.View()
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "hello there", view.Messages[0].Content)
	assert.Equal(t, conversation.RoleAssistant, view.Messages[1].Role)
	assert.Equal(t, "offline", view.Messages[1].Content)
	assert.False(t, c.InFlight(view.ActiveID))
}

func TestServerErrorStatusFailsTurn(t *testing.T) {
	c, _ := newServerController(t, []*fixtures.Scenario{{Name: "down", Status: 502}})

	_, err := c.Submit(context.Background(), "hello")
	require.Error(t, err)

	view := c.View()
	require.Len(t, view.Messages, 2)
	assert.Equal(t, turn.DefaultFailureNotice, view.Messages[1].Content)
}

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestAttachmentIsSentOnce(t *testing.T) {
	c, srv := newServerController(t, []*fixtures.Scenario{answer("read it", "srv-1")})
	path := writeFile(t, "CV.pdf", "%PDF-1.4")

	pending, err := c.SelectAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "CV.pdf", pending.Name)
	require.NotNil(t, c.View().Attachment)

	_, err = c.Submit(context.Background(), "review my cv")
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), "thanks")
	require.NoError(t, err)

	requests := srv.Requests()
	require.Len(t, requests, 2)
	require.NotNil(t, requests[0].File)
	assert.Equal(t, "CV.pdf", requests[0].File.Filename)
	assert.Equal(t, "application/pdf", requests[0].File.Type)
	assert.Equal(t, attachment.DataURL("application/pdf", []byte("%PDF-1.4")), requests[0].File.Content)
	assert.Nil(t, requests[1].File)
	assert.Nil(t, c.View().Attachment)
}

func TestSelectAttachmentRejectsExtension(t *testing.T) {
	c := NewController(conversation.NewStore(), newPipeTransport())
	_, err := c.SelectAttachment("/tmp/notes.txt")
	assert.True(t, errors.Is(err, attachment.ErrUnsupportedExtension))
	assert.Nil(t, c.PendingAttachment())

	c = NewController(conversation.NewStore(), newPipeTransport(), WithAttachmentPatterns("*.txt"))
	_, err = c.SelectAttachment("/tmp/notes.txt")
	assert.NoError(t, err)
	c.ClearAttachment()
	assert.Nil(t, c.PendingAttachment())
}

func TestAttachmentFailureDegradesToText(t *testing.T) {
	c, srv := newServerController(t, []*fixtures.Scenario{answer("ok", "srv-1")})
	path := writeFile(t, "gone.pdf", "x")
	_, err := c.SelectAttachment(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	result, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, turn.StateDone, result.State)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	assert.Nil(t, requests[0].File)
	assert.Nil(t, c.PendingAttachment())
}

func TestStrictAttachmentFailureRefusesSubmit(t *testing.T) {
	c, srv := newServerController(t, []*fixtures.Scenario{answer("ok", "srv-1")}, WithStrictAttachments(true))
	path := writeFile(t, "gone.pdf", "x")
	_, err := c.SelectAttachment(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = c.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, attachment.ErrEncoding))

	assert.Empty(t, c.View().Sessions)
	assert.Empty(t, srv.Requests())
	assert.NotNil(t, c.PendingAttachment())
}

func TestEncoderIsPluggable(t *testing.T) {
	encoder := attachment.EncoderFunc(func(_ context.Context, p *attachment.Pending) (*attachment.EncodedFile, error) {
		return &attachment.EncodedFile{Content: "data:x;base64,", Filename: p.Name, Type: "x"}, nil
	})
	c, srv := newServerController(t, []*fixtures.Scenario{answer("ok", "srv-1")}, WithEncoder(encoder))
	_, err := c.SelectAttachment("/nowhere/report.docx")
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "hello")
	require.NoError(t, err)
	requests := srv.Requests()
	require.Len(t, requests, 1)
	require.NotNil(t, requests[0].File)
	assert.Equal(t, "report.docx", requests[0].File.Filename)
}

func TestStreamingPreviewAndInFlightRefusal(t *testing.T) {
	tr := newPipeTransport()
	c := NewController(conversation.NewStore(), tr)

	h, err := c.SubmitAsync(context.Background(), "tell me")
	require.NoError(t, err)
	assert.True(t, h.IsRunning())

	view := c.View()
	assert.Equal(t, h.SessionID, view.ActiveID)
	require.Len(t, view.Messages, 1)
	assert.True(t, view.InFlight)

	_, err = c.Submit(context.Background(), "again")
	assert.True(t, errors.Is(err, ErrTurnInFlight))

	w := <-tr.writers
	_, err = io.WriteString(w, "data: {\"data\": \"Hel\"}\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return c.View().StreamingPreview == "Hel"
	}, time.Second, 5*time.Millisecond)

	_, err = io.WriteString(w, "data: {\"data\": \"lo\"}\ndata: {\"turn_complete\": true}\n")
	require.NoError(t, err)

	result, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Answer)
	assert.False(t, h.IsRunning())
	_ = w.Close()

	view = c.View()
	assert.False(t, view.InFlight)
	assert.Empty(t, view.StreamingPreview)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "Hello", view.Messages[1].Content)
}

func TestTurnsOnOtherSessionsRunConcurrently(t *testing.T) {
	tr := newPipeTransport()
	c := NewController(conversation.NewStore(), tr)

	first, err := c.SubmitAsync(context.Background(), "first")
	require.NoError(t, err)
	w1 := <-tr.writers

	c.CreateSession()
	second, err := c.SubmitAsync(context.Background(), "second")
	require.NoError(t, err)
	w2 := <-tr.writers
	assert.NotEqual(t, first.SessionID, second.SessionID)

	_, err = io.WriteString(w2, "data: {\"data\": \"b\", \"turn_complete\": true}\n")
	require.NoError(t, err)
	_, err = io.WriteString(w1, "data: {\"data\": \"a\", \"turn_complete\": true}\n")
	require.NoError(t, err)
	c.Wait()

	a, ok := c.Store().Session(first.SessionID)
	require.True(t, ok)
	require.Len(t, a.Messages, 2)
	assert.Equal(t, "a", a.Messages[1].Content)
	b, ok := c.Store().Session(second.SessionID)
	require.True(t, ok)
	require.Len(t, b.Messages, 2)
	assert.Equal(t, "b", b.Messages[1].Content)
}

func TestCancelAbandonsTurn(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var mu sync.Mutex
	var last events.Event
	sink := events.SinkFunc(func(e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		last = e
		return nil
	})

	tr := newPipeTransport()
	c := NewController(conversation.NewStore(), tr, WithEventSinks(sink))

	h, err := c.SubmitAsync(context.Background(), "long question")
	require.NoError(t, err)
	w := <-tr.writers
	_, err = io.WriteString(w, "data: {\"data\": \"half an ans\"}\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return c.View().StreamingPreview == "half an ans"
	}, time.Second, 5*time.Millisecond)

	assert.True(t, c.CancelActive(h.SessionID))
	result, err := h.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, turn.ErrTurnCanceled))
	assert.Equal(t, turn.StateFailed, result.State)
	c.Wait()

	// the reader side was closed, the server side sees it
	_, err = io.WriteString(w, "data: {\"data\": \"wer\"}\n")
	assert.Error(t, err)

	view := c.View()
	require.Len(t, view.Messages, 1)
	assert.False(t, view.InFlight)
	assert.False(t, c.CancelActive(h.SessionID))

	mu.Lock()
	defer mu.Unlock()
	interrupt, ok := last.(*events.EventInterrupt)
	require.True(t, ok)
	assert.Equal(t, "half an ans", interrupt.Text)
}

func TestParentContextCancelsTurn(t *testing.T) {
	tr := newPipeTransport()
	c := NewController(conversation.NewStore(), tr)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := c.SubmitAsync(ctx, "question")
	require.NoError(t, err)
	<-tr.writers
	cancel()

	_, err = h.Wait()
	assert.True(t, errors.Is(err, turn.ErrTurnCanceled))
	require.Len(t, c.View().Messages, 1)
}
