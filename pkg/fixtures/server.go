package fixtures

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-go-golems/threadline/pkg/request"
	"github.com/rs/zerolog/log"
)

// Server replays scenarios as an ask endpoint. Each request gets the next
// scenario; once all were served the last one repeats.
type Server struct {
	mu        sync.Mutex
	scenarios []*Scenario
	next      int
	requests  []request.Payload
}

func NewServer(scenarios ...*Scenario) *Server {
	return &Server{scenarios: scenarios}
}

// Requests returns the payloads received so far, in order.
func (s *Server) Requests() []request.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]request.Payload, len(s.requests))
	copy(ret, s.requests)
	return ret
}

func (s *Server) nextScenario() *Scenario {
	if len(s.scenarios) == 0 {
		return nil
	}
	ret := s.scenarios[s.next]
	if s.next < len(s.scenarios)-1 {
		s.next++
	}
	return ret
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	var payload request.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, payload)
	scenario := s.nextScenario()
	s.mu.Unlock()

	if scenario == nil {
		http.Error(w, "no scenario loaded", http.StatusServiceUnavailable)
		return
	}

	log.Debug().
		Str("scenario", scenario.Name).
		Object("payload", payload).
		Msg("replaying scenario")

	status := scenario.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	for i, chunk := range scenario.Chunks {
		if i > 0 && scenario.ChunkDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(scenario.ChunkDelay):
			}
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			log.Debug().Err(err).Str("scenario", scenario.Name).Msg("client went away")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

var _ http.Handler = (*Server)(nil)
