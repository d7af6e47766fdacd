package chat

import (
	"github.com/go-go-golems/threadline/pkg/attachment"
	"github.com/go-go-golems/threadline/pkg/conversation"
)

// View is what a front end renders: the session list, the active thread and
// the answer being streamed into it.
type View struct {
	Sessions []conversation.Summary `json:"sessions" yaml:"sessions"`
	ActiveID string                 `json:"activeSessionId" yaml:"activeSessionId"`
	Messages []conversation.Message `json:"messages" yaml:"messages"`
	// StreamingPreview is the partial answer of the turn running on the
	// active session, empty when no turn is streaming.
	StreamingPreview string              `json:"streamingPreview,omitempty" yaml:"streamingPreview,omitempty"`
	InFlight         bool                `json:"inFlight" yaml:"inFlight"`
	Attachment       *attachment.Pending `json:"attachment,omitempty" yaml:"attachment,omitempty"`
	Version          int64               `json:"version" yaml:"version"`
}

func (c *Controller) View() View {
	state := c.store.Snapshot()
	ret := View{
		Sessions: state.Summaries(),
		ActiveID: state.ActiveID,
		Version:  state.Version,
	}
	if active, ok := state.Active(); ok {
		ret.Messages = active.Messages
	}

	c.mu.Lock()
	if t, ok := c.inFlight[state.ActiveID]; ok {
		ret.InFlight = true
		ret.StreamingPreview = t.reconciler.Preview()
	}
	if c.pending != nil {
		pending := *c.pending
		ret.Attachment = &pending
	}
	c.mu.Unlock()

	return ret
}
