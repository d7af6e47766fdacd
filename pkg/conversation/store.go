package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Store struct {
	mu    sync.Mutex
	state State

	titler TitleFunc
	newID  func() string
	now    func() time.Time

	subscribers      map[int]func(State)
	nextSubscriberID int
}

type StoreOption func(*Store)

func WithTitler(titler TitleFunc) StoreOption {
	return func(s *Store) {
		s.titler = titler
	}
}

func WithIDGenerator(newID func() string) StoreOption {
	return func(s *Store) {
		s.newID = newID
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(options ...StoreOption) *Store {
	ret := &Store{
		state: State{
			Sessions: []Session{},
		},
		titler:      DefaultTitler,
		newID:       NewSessionID,
		now:         time.Now,
		subscribers: map[int]func(State){},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Apply runs a mutation against the store. On success the version is bumped
// and subscribers are notified with a snapshot of the new state.
//
// Subscribers are called outside of the store lock, in the goroutine that
// applied the mutation. When mutations race, a subscriber can observe
// snapshots out of order and should compare State.Version.
func (s *Store) Apply(m Mutation) error {
	if m == nil {
		return errors.New("mutation is nil")
	}

	s.mu.Lock()
	if err := m.Apply(&s.state); err != nil {
		s.mu.Unlock()
		return errors.Wrapf(err, "mutation %s failed", m.Name())
	}
	s.state.Version++
	snapshot := s.state.Clone()
	subscribers := s.subscribersLocked()
	s.mu.Unlock()

	log.Trace().
		Str("mutation", m.Name()).
		Int64("version", snapshot.Version).
		Str("active_id", snapshot.ActiveID).
		Int("session_count", len(snapshot.Sessions)).
		Msg("applied store mutation")

	for _, fn := range subscribers {
		fn(snapshot)
	}

	return nil
}

func (s *Store) subscribersLocked() []func(State) {
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ret := make([]func(State), 0, len(ids))
	for _, id := range ids {
		ret = append(ret, s.subscribers[id])
	}
	return ret
}

// Subscribe registers fn to be called after every successful mutation. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubscriberID
	s.nextSubscriberID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// CreateSession adds a new session and makes it the active one. If seed is
// not empty, its first words become the title.
func (s *Store) CreateSession(seed string) Session {
	m := &createSessionMutation{
		id:     s.newID(),
		seed:   seed,
		titler: s.titler,
		now:    s.now(),
	}
	if err := s.Apply(m); err != nil {
		// only possible with a colliding id generator, retry once with a fresh uuid
		log.Warn().Err(err).Msg("could not create session, retrying with a random id")
		m.id = NewSessionID()
		if err := s.Apply(m); err != nil {
			log.Error().Err(err).Msg("could not create session")
		}
	}
	return m.created
}

func (s *Store) SelectSession(id string) error {
	return s.Apply(MutateSelectSession(id))
}

// AppendMessage appends message to the session with the given id. It returns
// false if no such session exists, in which case nothing is changed.
func (s *Store) AppendMessage(sessionID string, message Message) bool {
	if err := s.Apply(MutateAppendMessage(sessionID, message)); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("dropping message for unknown session")
		return false
	}
	return true
}

// RekeySession renames a session and appends message to it in a single
// mutation. Renaming to an id held by another session fails with
// ErrRekeyConflict and leaves the store unchanged. If newID equals oldID this
// is a plain append.
func (s *Store) RekeySession(oldID, newID string, message Message, activate bool) error {
	return s.Apply(MutateRekeySession(oldID, newID, message, activate))
}

func (s *Store) Session(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.state.Session(id)
	if !ok {
		return Session{}, false
	}
	return State{Sessions: []Session{session}}.Clone().Sessions[0], true
}

func (s *Store) Active() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.state.Active()
	if !ok {
		return Session{}, false
	}
	return State{Sessions: []Session{session}}.Clone().Sessions[0], true
}

func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ActiveID
}

func (s *Store) Summaries() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Summaries()
}
