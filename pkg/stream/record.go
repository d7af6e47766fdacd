package stream

import (
	"github.com/rs/zerolog"
)

// Record is one decoded line of the ask response stream.
type Record struct {
	SessionID    string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Data         string `json:"data,omitempty" yaml:"data,omitempty"`
	TurnComplete bool   `json:"turn_complete,omitempty" yaml:"turn_complete,omitempty"`
}

func (r Record) MarshalZerologObject(e *zerolog.Event) {
	if r.SessionID != "" {
		e.Str("session_id", r.SessionID)
	}
	e.Int("data_length", len(r.Data))
	if r.TurnComplete {
		e.Bool("turn_complete", true)
	}
}

var _ zerolog.LogObjectMarshaler = Record{}

// Stats counts what the decoder saw on the wire.
type Stats struct {
	// Lines is the number of newline separated lines read, including the
	// unterminated tail at end of stream.
	Lines int `json:"lines" yaml:"lines"`
	// Records were parsed and handed out.
	Records int `json:"records" yaml:"records"`
	// Ignored lines did not carry the record prefix.
	Ignored int `json:"ignored" yaml:"ignored"`
	// Dropped lines carried the prefix but no valid payload.
	Dropped int `json:"dropped" yaml:"dropped"`
}

func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("lines", s.Lines).
		Int("records", s.Records).
		Int("ignored", s.Ignored).
		Int("dropped", s.Dropped)
}
