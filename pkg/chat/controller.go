package chat

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/go-go-golems/threadline/pkg/attachment"
	"github.com/go-go-golems/threadline/pkg/client"
	"github.com/go-go-golems/threadline/pkg/conversation"
	"github.com/go-go-golems/threadline/pkg/events"
	"github.com/go-go-golems/threadline/pkg/request"
	"github.com/go-go-golems/threadline/pkg/stream"
	"github.com/go-go-golems/threadline/pkg/turn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrTurnInFlight = errors.New("session already has a turn in flight")

// Controller drives conversations: it turns a submitted query into a
// request, streams the answer into the session store and keeps track of the
// turns in flight. At most one turn runs per session.
type Controller struct {
	store     *conversation.Store
	transport client.Transport
	encoder   attachment.Encoder

	patterns          []string
	failureNotice     string
	strictAttachments bool
	sinks             []events.EventSink

	mu       sync.Mutex
	inFlight map[string]*inFlightTurn
	pending  *attachment.Pending
	wg       sync.WaitGroup
}

type inFlightTurn struct {
	reconciler *turn.Reconciler
	cancel     context.CancelFunc
}

type ControllerOption func(*Controller)

func WithEncoder(encoder attachment.Encoder) ControllerOption {
	return func(c *Controller) {
		c.encoder = encoder
	}
}

// WithAttachmentPatterns sets the file name patterns accepted by
// SelectAttachment.
func WithAttachmentPatterns(patterns ...string) ControllerOption {
	return func(c *Controller) {
		c.patterns = patterns
	}
}

func WithFailureNotice(notice string) ControllerOption {
	return func(c *Controller) {
		c.failureNotice = notice
	}
}

// WithStrictAttachments makes a submission fail when its attachment can not
// be encoded. By default the query is sent without the attachment.
func WithStrictAttachments(strict bool) ControllerOption {
	return func(c *Controller) {
		c.strictAttachments = strict
	}
}

func WithEventSinks(sinks ...events.EventSink) ControllerOption {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sinks...)
	}
}

func NewController(store *conversation.Store, transport client.Transport, options ...ControllerOption) *Controller {
	ret := &Controller{
		store:         store,
		transport:     transport,
		encoder:       attachment.NewDataURLEncoder(attachment.DefaultMaxSize),
		patterns:      attachment.DefaultPatterns,
		failureNotice: turn.DefaultFailureNotice,
		inFlight:      map[string]*inFlightTurn{},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (c *Controller) Store() *conversation.Store {
	return c.store
}

func (c *Controller) CreateSession() conversation.Session {
	return c.store.CreateSession("")
}

func (c *Controller) SelectSession(id string) error {
	return c.store.SelectSession(id)
}

// SelectAttachment validates path and holds it for the next submission,
// replacing any attachment selected before.
func (c *Controller) SelectAttachment(path string) (*attachment.Pending, error) {
	pending, err := attachment.Select(path, c.patterns)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.pending = pending
	c.mu.Unlock()
	log.Debug().Str("path", pending.Path).Msg("attachment selected")
	return pending, nil
}

func (c *Controller) ClearAttachment() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

func (c *Controller) PendingAttachment() *attachment.Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	ret := *c.pending
	return &ret
}

// InFlight reports whether sessionID has a turn running.
func (c *Controller) InFlight(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[sessionID]
	return ok
}

// CancelActive cancels the turn running for sessionID, if any.
func (c *Controller) CancelActive(sessionID string) bool {
	c.mu.Lock()
	t, ok := c.inFlight[sessionID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	log.Debug().Str("session_id", sessionID).Str("turn_id", t.reconciler.ID()).Msg("canceling turn")
	t.cancel()
	return true
}

// CancelAll cancels every running turn.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	turns := make([]*inFlightTurn, 0, len(c.inFlight))
	for _, t := range c.inFlight {
		turns = append(turns, t)
	}
	c.mu.Unlock()
	for _, t := range turns {
		t.cancel()
	}
}

// Wait blocks until all turns started with SubmitAsync have ended.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// preparedTurn is a submission that passed all checks. The user message is
// in the store and the turn is registered as in flight.
type preparedTurn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	sessionID  string
	payload    *request.Payload
	reconciler *turn.Reconciler
}

func (c *Controller) prepare(ctx context.Context, query string) (*preparedTurn, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, request.ErrEmptyQuery
	}

	c.mu.Lock()
	sessionID := c.store.ActiveID()
	if _, ok := c.inFlight[sessionID]; ok && sessionID != "" {
		c.mu.Unlock()
		return nil, errors.Wrapf(ErrTurnInFlight, "session %s", sessionID)
	}
	pending := c.pending
	c.mu.Unlock()

	var file *attachment.EncodedFile
	if pending != nil {
		var err error
		file, err = c.encoder.Encode(ctx, pending)
		if err != nil {
			if c.strictAttachments {
				return nil, errors.Wrapf(err, "could not attach %s", pending.Name)
			}
			log.Warn().Err(err).Str("path", pending.Path).Msg("sending query without attachment")
			file = nil
		}
	}

	if sessionID == "" {
		sessionID = c.store.CreateSession(query).ID
	}

	turnCtx, cancel := context.WithCancel(ctx)
	turnCtx = events.WithEventSinks(turnCtx, c.sinks...)
	reconciler := turn.NewReconciler(sessionID, c.store, turn.WithFailureNotice(c.failureNotice))

	c.mu.Lock()
	if _, ok := c.inFlight[sessionID]; ok {
		c.mu.Unlock()
		cancel()
		return nil, errors.Wrapf(ErrTurnInFlight, "session %s", sessionID)
	}
	c.inFlight[sessionID] = &inFlightTurn{reconciler: reconciler, cancel: cancel}
	// attachments are one-shot, unless another one was picked meanwhile
	if pending != nil && c.pending == pending {
		c.pending = nil
	}
	c.mu.Unlock()

	session, ok := c.store.Session(sessionID)
	if !ok {
		c.release(sessionID)
		cancel()
		return nil, errors.Wrapf(conversation.ErrSessionNotFound, "submit to %s", sessionID)
	}
	messageCount := len(session.Messages)

	// the question is visible before anything is sent
	if !c.store.AppendMessage(sessionID, conversation.NewUserMessage(query)) {
		c.release(sessionID)
		cancel()
		return nil, errors.Wrapf(conversation.ErrSessionNotFound, "submit to %s", sessionID)
	}

	payload, err := request.Build(query, sessionID, messageCount, file)
	if err != nil {
		c.release(sessionID)
		cancel()
		return nil, err
	}

	if err := reconciler.Begin(turnCtx, query); err != nil {
		c.release(sessionID)
		cancel()
		return nil, err
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("turn_id", reconciler.ID()).
		Int("previous_messages", messageCount).
		Bool("continuation", payload.SessionID != "").
		Bool("attachment", file != nil).
		Msg("submitting query")

	return &preparedTurn{
		ctx:        turnCtx,
		cancel:     cancel,
		sessionID:  sessionID,
		payload:    payload,
		reconciler: reconciler,
	}, nil
}

func (c *Controller) release(sessionID string) {
	c.mu.Lock()
	delete(c.inFlight, sessionID)
	c.mu.Unlock()
}

func (c *Controller) run(p *preparedTurn) (turn.Result, error) {
	defer p.cancel()
	defer c.release(p.sessionID)

	ctx := p.ctx
	body, err := c.transport.Ask(ctx, p.payload)
	if err != nil {
		if failErr := p.reconciler.Fail(ctx, err); failErr != nil {
			log.Error().Err(failErr).Msg("could not fail turn")
		}
		result := p.reconciler.Result()
		return result, result.Err
	}

	// a blocked read only returns once the body is closed
	stop := context.AfterFunc(ctx, func() {
		_ = body.Close()
	})
	defer func(body io.ReadCloser) {
		stop()
		_ = body.Close()
	}(body)

	return p.reconciler.Drive(ctx, stream.NewDecoder(body))
}

// Submit sends query on the active session, creating one seeded with the
// query if none is active, and blocks until the turn ended.
//
// Submissions that are refused (empty query, turn already in flight, strict
// attachment failure) return an error and leave the store untouched. Once
// the turn ran, the returned error is the reason it failed, if it did.
func (c *Controller) Submit(ctx context.Context, query string) (turn.Result, error) {
	p, err := c.prepare(ctx, query)
	if err != nil {
		return turn.Result{}, err
	}
	return c.run(p)
}

// SubmitAsync does the same checks as Submit and runs the turn in the
// background. The user message is in the store when it returns.
func (c *Controller) SubmitAsync(ctx context.Context, query string) (*Handle, error) {
	p, err := c.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	h := newHandle(p.sessionID, p.reconciler.ID(), p.cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result, err := c.run(p)
		h.setResult(result, err)
	}()
	return h, nil
}
