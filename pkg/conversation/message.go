package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single utterance inside a Session. Messages are values and are
// never mutated once they have been appended to a session.
type Message struct {
	ID      string    `json:"id" yaml:"id"`
	Content string    `json:"content" yaml:"content"`
	Role    Role      `json:"sender" yaml:"sender"`
	Time    time.Time `json:"timestamp" yaml:"timestamp"`
}

type MessageOption func(*Message)

func WithTime(t time.Time) MessageOption {
	return func(message *Message) {
		message.Time = t
	}
}

func WithID(id string) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

// NewMessageID returns a time-ordered identifier (uuid v7), so that two
// messages created one after the other always sort in creation order.
func NewMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func NewMessage(role Role, content string, options ...MessageOption) Message {
	ret := Message{
		ID:      NewMessageID(),
		Content: content,
		Role:    role,
		Time:    time.Now(),
	}

	for _, option := range options {
		option(&ret)
	}

	return ret
}

func NewUserMessage(content string, options ...MessageOption) Message {
	return NewMessage(RoleUser, content, options...)
}

func NewAssistantMessage(content string, options ...MessageOption) Message {
	return NewMessage(RoleAssistant, content, options...)
}

func (m Message) String() string {
	return m.Content
}

func (m Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

func (m Message) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", m.ID)
	e.Str("role", string(m.Role))
	e.Int("content_length", len(m.Content))
	e.Time("time", m.Time)
}

var _ zerolog.LogObjectMarshaler = Message{}
