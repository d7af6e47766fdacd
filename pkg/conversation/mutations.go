package conversation

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptySessionID  = errors.New("session id is empty")

	// ErrRekeyConflict is returned when a session would be renamed to an id
	// that another session already holds.
	ErrRekeyConflict = errors.New("session id already in use")
)

// Mutation represents a deterministic change to the store. A mutation either
// applies completely or returns an error and leaves the state untouched.
type Mutation interface {
	Apply(s *State) error
	Name() string
}

type createSessionMutation struct {
	id     string
	seed   string
	titler TitleFunc
	now    time.Time

	created Session
}

func (m *createSessionMutation) Apply(s *State) error {
	if m.id == "" {
		return ErrEmptySessionID
	}
	if s.index(m.id) >= 0 {
		return errors.Errorf("session %s already exists", m.id)
	}
	titler := m.titler
	if titler == nil {
		titler = DefaultTitler
	}
	session := Session{
		ID:        m.id,
		Name:      titler(m.seed, len(s.Sessions)+1),
		Messages:  []Message{},
		CreatedAt: m.now,
	}
	s.Sessions = append(s.Sessions, session)
	s.ActiveID = session.ID
	m.created = session
	return nil
}

func (m *createSessionMutation) Name() string { return "create_session" }

type selectSessionMutation struct {
	id string
}

func (m selectSessionMutation) Apply(s *State) error {
	if s.index(m.id) < 0 {
		return errors.Wrapf(ErrSessionNotFound, "select session %s", m.id)
	}
	s.ActiveID = m.id
	return nil
}

func (m selectSessionMutation) Name() string { return "select_session" }

// MutateSelectSession makes the session with the given id the active one.
func MutateSelectSession(id string) Mutation {
	return selectSessionMutation{id: id}
}

type appendMessageMutation struct {
	sessionID string
	message   Message
}

func (m appendMessageMutation) Apply(s *State) error {
	idx := s.index(m.sessionID)
	if idx < 0 {
		return errors.Wrapf(ErrSessionNotFound, "append message to %s", m.sessionID)
	}
	s.Sessions[idx].Messages = append(s.Sessions[idx].Messages, m.message)
	return nil
}

func (m appendMessageMutation) Name() string { return "append_message" }

// MutateAppendMessage appends a message to an existing session.
func MutateAppendMessage(sessionID string, message Message) Mutation {
	return appendMessageMutation{sessionID: sessionID, message: message}
}

type rekeySessionMutation struct {
	oldID    string
	newID    string
	message  Message
	activate bool
}

func (m rekeySessionMutation) Apply(s *State) error {
	if m.newID == "" {
		return ErrEmptySessionID
	}
	idx := s.index(m.oldID)
	if idx < 0 {
		return errors.Wrapf(ErrSessionNotFound, "rekey session %s", m.oldID)
	}
	if m.newID != m.oldID && s.index(m.newID) >= 0 {
		return errors.Wrapf(ErrRekeyConflict, "rekey session %s to %s", m.oldID, m.newID)
	}

	// all checks passed, from here on nothing can fail
	s.Sessions[idx].ID = m.newID
	s.Sessions[idx].Messages = append(s.Sessions[idx].Messages, m.message)
	if m.activate || s.ActiveID == m.oldID {
		s.ActiveID = m.newID
	}
	return nil
}

func (m rekeySessionMutation) Name() string { return "rekey_session" }

// MutateRekeySession replaces the id of a session and appends a message in
// the same step. If activate is set, the renamed session becomes the active
// one. A session that was active before the rename stays active in any case.
func MutateRekeySession(oldID, newID string, message Message, activate bool) Mutation {
	return rekeySessionMutation{
		oldID:    oldID,
		newID:    newID,
		message:  message,
		activate: activate,
	}
}
