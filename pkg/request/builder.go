package request

import (
	"strings"

	"github.com/go-go-golems/threadline/pkg/attachment"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrEmptyQuery = errors.New("query is empty")

// MinMessagesForContinuation is the number of messages a session needs before
// requests carry its id. Until then the server mints a fresh one.
const MinMessagesForContinuation = 2

// Payload is the body of an ask request.
type Payload struct {
	Query     string                  `json:"query"`
	SessionID string                  `json:"session_id,omitempty"`
	File      *attachment.EncodedFile `json:"file,omitempty"`
}

func (p Payload) MarshalZerologObject(e *zerolog.Event) {
	e.Int("query_length", len(p.Query))
	if p.SessionID != "" {
		e.Str("session_id", p.SessionID)
	}
	if p.File != nil {
		e.Str("filename", p.File.Filename)
		e.Str("type", p.File.Type)
		e.Int("content_length", len(p.File.Content))
	}
}

var _ zerolog.LogObjectMarshaler = Payload{}

// Build assembles the payload for a query against a session that currently
// holds sessionMessageCount messages. The user message for this query must
// not be counted.
func Build(query string, continuationID string, sessionMessageCount int, file *attachment.EncodedFile) (*Payload, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	ret := &Payload{
		Query: query,
		File:  file,
	}
	if sessionMessageCount >= MinMessagesForContinuation {
		ret.SessionID = continuationID
	}

	return ret, nil
}
