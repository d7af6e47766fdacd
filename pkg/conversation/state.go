package conversation

import (
	"github.com/huandu/go-clone"
)

// State is the content of the session store at one point in time. Values
// handed out by Store.Snapshot are deep copies and can be read without
// holding any lock.
type State struct {
	Sessions []Session `json:"sessions" yaml:"sessions"`
	ActiveID string    `json:"activeSessionId" yaml:"activeSessionId"`
	Version  int64     `json:"version" yaml:"version"`
}

func (s State) Clone() State {
	return clone.Clone(s).(State)
}

func (s State) index(id string) int {
	for i := range s.Sessions {
		if s.Sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// Session returns the session with the given id.
func (s State) Session(id string) (Session, bool) {
	idx := s.index(id)
	if idx < 0 {
		return Session{}, false
	}
	return s.Sessions[idx], true
}

// Active returns the currently selected session, if any.
func (s State) Active() (Session, bool) {
	if s.ActiveID == "" {
		return Session{}, false
	}
	return s.Session(s.ActiveID)
}

func (s State) Summaries() []Summary {
	ret := make([]Summary, 0, len(s.Sessions))
	for _, session := range s.Sessions {
		ret = append(ret, session.Summary())
	}
	return ret
}
