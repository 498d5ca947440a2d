package game

import (
	"maps"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/loop"
)

type State int

const (
	StateNotStarted State = iota
	StateAwaitingAnswers
	StateRevealing
	StateSettling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateAwaitingAnswers:
		return "awaiting_answers"
	case StateRevealing:
		return "revealing"
	case StateSettling:
		return "settling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the in-memory state of one lobby's match.
type Session struct {
	LobbyID   string
	Questions []domain.Question

	state    State
	index    int
	answers  map[string]string
	order    []string
	scores   map[string]int
	players  []string
	correct  string
	revealed bool
	early    bool
	timer    loop.Timer
}

func newSession(lobbyID string, questions []domain.Question) *Session {
	qs := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		qs = append(qs, q.Clone())
	}

	return &Session{
		LobbyID:   lobbyID,
		Questions: qs,
		state:     StateNotStarted,
		answers:   make(map[string]string),
		scores:    make(map[string]int),
	}
}

func (s *Session) State() State { return s.state }

// Index is the question currently asked.
func (s *Session) Index() int { return s.index }

func (s *Session) Revealed() bool { return s.revealed }

// Scores returns a copy of the cumulative scores keyed by player id.
func (s *Session) Scores() map[string]int {
	return maps.Clone(s.scores)
}

// Answers returns the player ids that answered the current question, in submission order.
func (s *Session) Answers() []string {
	return append([]string(nil), s.order...)
}

// Players returns every player seen in the match, in first-seen order.
func (s *Session) Players() []string {
	return append([]string(nil), s.players...)
}

// begin enters AwaitingAnswers for question i.
func (s *Session) begin(i int) {
	if i == 0 {
		clear(s.scores)
	}

	s.state = StateAwaitingAnswers
	s.index = i
	s.correct = s.Questions[i].CorrectAnswer
	s.revealed = false
	s.early = false
	clear(s.answers)
	s.order = s.order[:0]
}

// record stores a first answer and reports whether it was accepted.
func (s *Session) record(playerID, option string) bool {
	if s.state != StateAwaitingAnswers || s.revealed {
		return false
	}
	if _, ok := s.answers[playerID]; ok {
		return false
	}

	s.see(playerID)
	s.answers[playerID] = option
	s.order = append(s.order, playerID)
	return true
}

func (s *Session) forget(playerID string) {
	if _, ok := s.answers[playerID]; !ok {
		return
	}

	delete(s.answers, playerID)
	for i, id := range s.order {
		if id == playerID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Session) see(playerID string) {
	for _, id := range s.players {
		if id == playerID {
			return
		}
	}
	s.players = append(s.players, playerID)
}

// score marks playerID correct or not for the current question and returns the verdict.
// Every scored player gets an entry, even with zero points.
func (s *Session) score(playerID string) bool {
	s.see(playerID)

	a, ok := s.answers[playerID]
	correct := ok && a == s.correct
	if correct {
		s.scores[playerID]++
	} else if _, ok := s.scores[playerID]; !ok {
		s.scores[playerID] = 0
	}

	return correct
}

// setTimer replaces the pending timer.
func (s *Session) setTimer(t loop.Timer) {
	s.stopTimer()
	s.timer = t
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Registry maps lobby ids to their sessions. It is owned by the event loop.
type Registry struct {
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Get(lobbyID string) (*Session, bool) {
	s, ok := r.sessions[lobbyID]
	return s, ok
}

// Put inserts s unless its lobby already has a session.
func (r *Registry) Put(s *Session) bool {
	if _, ok := r.sessions[s.LobbyID]; ok {
		return false
	}
	r.sessions[s.LobbyID] = s
	return true
}

func (r *Registry) Delete(lobbyID string) bool {
	if _, ok := r.sessions[lobbyID]; !ok {
		return false
	}
	delete(r.sessions, lobbyID)
	return true
}

func (r *Registry) Len() int {
	return len(r.sessions)
}
