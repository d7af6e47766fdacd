package chat

import (
	"context"
	"sync"

	"github.com/go-go-golems/threadline/pkg/turn"
)

// Handle is a turn running in the background.
type Handle struct {
	SessionID string
	TurnID    string

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result turn.Result
	err    error
}

func newHandle(sessionID, turnID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		SessionID: sessionID,
		TurnID:    turnID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (h *Handle) setResult(result turn.Result, err error) {
	h.mu.Lock()
	h.result = result
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Cancel abandons the turn. The session keeps the user message and gets no
// answer.
func (h *Handle) Cancel() {
	if h == nil || h.cancel == nil {
		return
	}
	h.cancel()
}

// Done is closed once the turn ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the turn ended and returns its result.
func (h *Handle) Wait() (turn.Result, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *Handle) IsRunning() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
