// Package game runs the per-lobby match state machine.
//
// Every Engine method must be called from the event loop that owns the session and room
// registries. Timers are created through the Scheduler, which posts callbacks onto the same loop.
package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/event"
	"github.com/victornm/duelquiz/internal/loop"
	"github.com/victornm/duelquiz/internal/room"
	"github.com/victornm/duelquiz/internal/telemetry"
)

const (
	RoundTimeout = 10500 * time.Millisecond
	GraceDelay   = 500 * time.Millisecond
	RevealPause  = 5 * time.Second
)

// Reveal triggers.
const (
	TriggerTimeout     = "timeout"
	TriggerAllAnswered = "all_answered"
)

type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) loop.Timer
}

// Rooms is the view of room membership the engine needs.
type Rooms interface {
	Members(room string) []room.Member
	Has(room, memberID string) bool
	Count(room string) int
	Broadcast(room, event string, data any)
}

type Publisher interface {
	Publish(ctx context.Context, e event.Event)
}

type Config struct {
	Sessions  *Registry
	Rooms     Rooms
	Scheduler Scheduler
	EventBus  Publisher
	Metrics   *telemetry.GameMetrics
}

type Engine struct {
	sessions *Registry
	rooms    Rooms
	sched    Scheduler
	eb       Publisher
	metrics  *telemetry.GameMetrics
}

func NewEngine(c Config) *Engine {
	return &Engine{
		sessions: c.Sessions,
		rooms:    c.Rooms,
		sched:    c.Scheduler,
		eb:       c.EventBus,
		metrics:  c.Metrics,
	}
}

// Session returns the running session of a lobby.
func (e *Engine) Session(lobbyID string) (*Session, bool) {
	return e.sessions.Get(lobbyID)
}

// Start creates the lobby's session and asks the first question.
// It reports false when a session already exists or there is nothing to ask.
func (e *Engine) Start(ctx context.Context, lobbyID string, questions []domain.Question) bool {
	if _, ok := e.sessions.Get(lobbyID); ok {
		return false
	}
	if len(questions) == 0 {
		slog.WarnContext(ctx, "game: lobby has no questions", "lobby_id", lobbyID)
		return false
	}

	s := newSession(lobbyID, questions)
	e.sessions.Put(s)
	for _, m := range e.rooms.Members(lobbyID) {
		s.see(m.ID())
	}

	slog.InfoContext(ctx, "game: match started", "lobby_id", lobbyID, "questions", len(s.Questions))
	e.metrics.MatchStarted()
	e.eb.Publish(ctx, domain.EventMatchStarted{LobbyID: lobbyID})

	e.ask(s, 0)
	return true
}

func (e *Engine) ask(s *Session, i int) {
	s.begin(i)

	lobbyID := s.LobbyID
	s.setTimer(e.sched.AfterFunc(RoundTimeout, func() {
		e.reveal(context.Background(), lobbyID, i, TriggerTimeout)
	}))

	q := s.Questions[i]
	e.rooms.Broadcast(lobbyID, EventNewQuestion, NewQuestion{
		Question: q.Text,
		Options:  q.Options,
		Index:    i,
	})
}

// Submit records a player's answer to the current question. Answers from non-members,
// repeated answers and answers after the reveal are dropped.
func (e *Engine) Submit(_ context.Context, lobbyID, playerID, option string) {
	s, ok := e.sessions.Get(lobbyID)
	if !ok {
		return
	}
	if !e.rooms.Has(lobbyID, playerID) {
		return
	}
	if !s.record(playerID, option) {
		return
	}

	e.revealIfAllAnswered(s)
}

// Leave must be called after the player has left the lobby room.
// The match continues with the remaining member and is abandoned once the room is empty.
func (e *Engine) Leave(ctx context.Context, lobbyID, playerID string) {
	s, ok := e.sessions.Get(lobbyID)
	if !ok {
		return
	}

	if e.rooms.Count(lobbyID) == 0 {
		e.abandon(ctx, s)
		return
	}

	s.forget(playerID)
	e.revealIfAllAnswered(s)
}

// revealIfAllAnswered replaces the round timeout with the grace timer once every current
// member has answered.
func (e *Engine) revealIfAllAnswered(s *Session) {
	if s.state != StateAwaitingAnswers || s.revealed || s.early {
		return
	}

	members := e.rooms.Members(s.LobbyID)
	if len(members) == 0 {
		return
	}
	for _, m := range members {
		if _, ok := s.answers[m.ID()]; !ok {
			return
		}
	}

	s.early = true
	lobbyID, i := s.LobbyID, s.index
	s.setTimer(e.sched.AfterFunc(GraceDelay, func() {
		e.reveal(context.Background(), lobbyID, i, TriggerAllAnswered)
	}))
}

func (e *Engine) reveal(ctx context.Context, lobbyID string, i int, trigger string) {
	s, ok := e.sessions.Get(lobbyID)
	if !ok || s.index != i || s.revealed {
		return
	}

	s.revealed = true
	s.state = StateRevealing
	s.stopTimer()

	for _, m := range e.rooms.Members(lobbyID) {
		m.Emit(EventRevealResult, RevealResult{
			CorrectAnswer: s.correct,
			IsCorrect:     s.score(m.ID()),
		})
	}

	slog.DebugContext(ctx, "game: round revealed", "lobby_id", lobbyID, "index", i, "trigger", trigger)
	e.metrics.Revealed(trigger)

	s.setTimer(e.sched.AfterFunc(RevealPause, func() {
		e.advance(context.Background(), lobbyID, i+1)
	}))
}

func (e *Engine) advance(ctx context.Context, lobbyID string, next int) {
	s, ok := e.sessions.Get(lobbyID)
	if !ok || s.index+1 != next || !s.revealed {
		return
	}

	if next >= len(s.Questions) {
		e.settle(ctx, s)
		return
	}

	e.ask(s, next)
}

func (e *Engine) settle(ctx context.Context, s *Session) {
	s.state = StateSettling
	s.stopTimer()

	scores := s.Scores()
	draw, outcomes := Outcomes(s.players, scores)

	e.rooms.Broadcast(s.LobbyID, EventGameOver, GameOver{Scores: scores, Draw: draw})

	results := make([]domain.PlayerResult, 0, len(outcomes))
	for _, m := range e.rooms.Members(s.LobbyID) {
		o, ok := outcomes[m.ID()]
		if !ok {
			continue
		}
		results = append(results, domain.PlayerResult{
			PlayerID: m.ID(),
			UserID:   m.UserID(),
			Username: m.Username(),
			Score:    scores[m.ID()],
			Outcome:  o,
		})
	}

	e.sessions.Delete(s.LobbyID)
	s.state = StateClosed

	slog.InfoContext(ctx, "game: match settled", "lobby_id", s.LobbyID, "scores", scores, "draw", draw)
	e.metrics.MatchEnded("settled")
	e.eb.Publish(ctx, domain.EventMatchSettled{
		LobbyID: s.LobbyID,
		Scores:  scores,
		Draw:    draw,
		Results: results,
	})
}

func (e *Engine) abandon(ctx context.Context, s *Session) {
	s.stopTimer()
	e.sessions.Delete(s.LobbyID)
	s.state = StateClosed

	slog.InfoContext(ctx, "game: match abandoned", "lobby_id", s.LobbyID, "index", s.index)
	e.metrics.MatchEnded("abandoned")
	e.eb.Publish(ctx, domain.EventMatchAbandoned{LobbyID: s.LobbyID})
}
