package game_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/event"
	"github.com/victornm/duelquiz/internal/game"
	"github.com/victornm/duelquiz/internal/loop"
	"github.com/victornm/duelquiz/internal/room"
	"github.com/victornm/duelquiz/internal/telemetry"
)

const lobbyID = "lobby-1"

func TestEngine_FullMatch(t *testing.T) {
	h := newHarness(t)
	qs := makeQuestions(domain.QuestionsPerMatch)
	require.True(t, h.start(qs))

	// Both right on six questions, both wrong on four.
	for i := range domain.QuestionsPerMatch {
		ans := "a"
		if i >= 6 {
			ans = "b"
		}
		h.playRound(ans, ans)
	}

	for _, m := range []*member{h.a, h.b} {
		asked := m.all(game.EventNewQuestion)
		require.Len(t, asked, domain.QuestionsPerMatch)
		for i, d := range asked {
			nq := d.(game.NewQuestion)
			assert.Equal(t, i, nq.Index)
			assert.Equal(t, qs[i].Text, nq.Question)
			assert.Equal(t, qs[i].Options, nq.Options)
		}

		assert.Len(t, m.all(game.EventRevealResult), domain.QuestionsPerMatch)

		over := m.all(game.EventGameOver)
		require.Len(t, over, 1)
		assert.Equal(t, game.GameOver{Scores: map[string]int{"a": 6, "b": 6}, Draw: true}, over[0])
	}

	_, ok := h.engine.Session(lobbyID)
	assert.False(t, ok, "session should be deleted after settlement")
	assert.Equal(t, 0, h.sched.pending())

	require.Len(t, h.bus.events, 2)
	assert.Equal(t, domain.EventMatchStarted{LobbyID: lobbyID}, h.bus.events[0])

	settled := h.bus.events[1].(domain.EventMatchSettled)
	assert.True(t, settled.Draw)
	assert.Equal(t, []domain.PlayerResult{
		{PlayerID: "a", UserID: "user-a", Username: "name-a", Score: 6, Outcome: domain.OutcomeDraw},
		{PlayerID: "b", UserID: "user-b", Username: "name-b", Score: 6, Outcome: domain.OutcomeDraw},
	}, settled.Results)
}

func TestEngine_AllAnsweredRevealsAfterGrace(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.start(makeQuestions(domain.QuestionsPerMatch)))

	h.sched.advance(time.Second)
	h.submit(h.a, "a")
	h.submit(h.b, "a")

	h.sched.advance(game.GraceDelay - time.Millisecond)
	assert.Empty(t, h.a.all(game.EventRevealResult), "reveal should wait for the grace delay")

	h.sched.advance(time.Millisecond)
	for _, m := range []*member{h.a, h.b} {
		assert.Equal(t, []any{game.RevealResult{CorrectAnswer: "a", IsCorrect: true}}, m.all(game.EventRevealResult))
	}

	s, ok := h.engine.Session(lobbyID)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, s.Scores())
	assert.Equal(t, game.StateRevealing, s.State())

	// The round timeout was replaced and must not reveal again.
	h.sched.advance(game.RoundTimeout)
	assert.Len(t, h.a.all(game.EventRevealResult), 1)
}

func TestEngine_TimeoutRevealsUnansweredAsIncorrect(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.start(makeQuestions(domain.QuestionsPerMatch)))

	h.submit(h.a, "a")

	h.sched.advance(game.RoundTimeout - time.Millisecond)
	assert.Empty(t, h.a.all(game.EventRevealResult))

	h.sched.advance(time.Millisecond)
	assert.Equal(t, []any{game.RevealResult{CorrectAnswer: "a", IsCorrect: true}}, h.a.all(game.EventRevealResult))
	assert.Equal(t, []any{game.RevealResult{CorrectAnswer: "a", IsCorrect: false}}, h.b.all(game.EventRevealResult))

	s, _ := h.engine.Session(lobbyID)
	assert.Equal(t, map[string]int{"a": 1, "b": 0}, s.Scores())

	h.sched.advance(game.RevealPause - time.Millisecond)
	assert.Len(t, h.a.all(game.EventNewQuestion), 1)

	h.sched.advance(time.Millisecond)
	asked := h.a.all(game.EventNewQuestion)
	require.Len(t, asked, 2)
	assert.Equal(t, 1, asked[1].(game.NewQuestion).Index)
	assert.Equal(t, game.StateAwaitingAnswers, s.State())
	assert.Empty(t, s.Answers(), "answers should be cleared for the next question")
}

func TestEngine_Submit_Ignored(t *testing.T) {
	tests := map[string]struct {
		arrange func(h *harness)
		assert  func(t *testing.T, h *harness)
	}{
		"no session": {
			arrange: func(h *harness) {
				h.engine.Submit(context.Background(), "other-lobby", "a", "a")
			},
			assert: func(t *testing.T, h *harness) {
				_, ok := h.engine.Session("other-lobby")
				assert.False(t, ok)
			},
		},
		"duplicate answer keeps the first": {
			arrange: func(h *harness) {
				h.start(makeQuestions(domain.QuestionsPerMatch))
				h.submit(h.a, "b")
				h.submit(h.a, "a")
				h.sched.advance(game.RoundTimeout)
			},
			assert: func(t *testing.T, h *harness) {
				assert.Equal(t, []any{game.RevealResult{CorrectAnswer: "a", IsCorrect: false}}, h.a.all(game.EventRevealResult))
			},
		},
		"answer after reveal": {
			arrange: func(h *harness) {
				h.start(makeQuestions(domain.QuestionsPerMatch))
				h.sched.advance(game.RoundTimeout)
				h.submit(h.a, "a")
			},
			assert: func(t *testing.T, h *harness) {
				s, _ := h.engine.Session(lobbyID)
				assert.Empty(t, s.Answers())
				assert.Equal(t, map[string]int{"a": 0, "b": 0}, s.Scores())
			},
		},
		"player outside the room": {
			arrange: func(h *harness) {
				h.start(makeQuestions(domain.QuestionsPerMatch))
				h.engine.Submit(context.Background(), lobbyID, "stranger", "a")
			},
			assert: func(t *testing.T, h *harness) {
				s, _ := h.engine.Session(lobbyID)
				assert.Empty(t, s.Answers())
				assert.NotContains(t, s.Players(), "stranger")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			tt.arrange(h)
			tt.assert(t, h)
		})
	}
}

func TestEngine_StaleTimersAreNoops(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.start(makeQuestions(domain.QuestionsPerMatch)))

	roundTimeout := h.sched.last()
	h.submit(h.a, "a")
	h.submit(h.b, "a")
	h.sched.advance(game.GraceDelay)

	advance := h.sched.last()
	h.sched.advance(game.RevealPause)
	require.Len(t, h.a.all(game.EventNewQuestion), 2)

	// Callbacks of superseded rounds, as if they had been queued before being stopped.
	roundTimeout.fn()
	advance.fn()

	assert.Len(t, h.a.all(game.EventRevealResult), 1)
	assert.Len(t, h.a.all(game.EventNewQuestion), 2)

	s, _ := h.engine.Session(lobbyID)
	assert.Equal(t, 1, s.Index())
	assert.False(t, s.Revealed())
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, s.Scores())
}

func TestEngine_AtMostOneTimerPending(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.start(makeQuestions(domain.QuestionsPerMatch)))
	assert.Equal(t, 1, h.sched.pending())

	h.submit(h.a, "a")
	assert.Equal(t, 1, h.sched.pending())

	h.submit(h.b, "a")
	assert.Equal(t, 1, h.sched.pending(), "grace timer should replace the round timeout")

	h.sched.advance(game.GraceDelay)
	assert.Equal(t, 1, h.sched.pending())
}

func TestEngine_StartTwice(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.start(makeQuestions(domain.QuestionsPerMatch)))
	assert.False(t, h.start(makeQuestions(domain.QuestionsPerMatch)))

	assert.Len(t, h.a.all(game.EventNewQuestion), 1)
	assert.Len(t, h.bus.events, 1)
	assert.False(t, h.engine.Start(context.Background(), "empty", nil))
}

func TestEngine_ScoresResetOnNewMatch(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.start(makeQuestions(3)))
	for range 3 {
		h.playRound("a", "b")
	}

	over := h.a.all(game.EventGameOver)
	require.Len(t, over, 1)
	assert.Equal(t, game.GameOver{Scores: map[string]int{"a": 3, "b": 0}}, over[0])

	settled := h.bus.events[len(h.bus.events)-1].(domain.EventMatchSettled)
	outcomes := map[string]domain.Outcome{}
	for _, r := range settled.Results {
		outcomes[r.PlayerID] = r.Outcome
	}
	assert.Equal(t, map[string]domain.Outcome{"a": domain.OutcomeWin, "b": domain.OutcomeLoss}, outcomes)

	require.True(t, h.start(makeQuestions(3)))
	h.playRound("b", "a")

	s, ok := h.engine.Session(lobbyID)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, s.Scores())
}

func TestEngine_LeaveMidMatchContinues(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.start(makeQuestions(2)))

	h.playRound("a", "a")

	h.submit(h.b, "a")
	h.rooms.Leave(lobbyID, "b")
	h.engine.Leave(context.Background(), lobbyID, "b")

	s, ok := h.engine.Session(lobbyID)
	require.True(t, ok)
	assert.Empty(t, s.Answers(), "departed player's answer should be dropped")

	// The remaining player answering is enough for the grace reveal.
	h.submit(h.a, "c")
	h.sched.advance(game.GraceDelay)
	assert.Len(t, h.a.all(game.EventRevealResult), 2)
	assert.Len(t, h.b.all(game.EventRevealResult), 1)

	h.sched.advance(game.RevealPause)

	over := h.a.all(game.EventGameOver)
	require.Len(t, over, 1)
	assert.Equal(t, game.GameOver{Scores: map[string]int{"a": 1, "b": 1}, Draw: true}, over[0])

	settled := h.bus.events[len(h.bus.events)-1].(domain.EventMatchSettled)
	assert.Equal(t, []domain.PlayerResult{
		{PlayerID: "a", UserID: "user-a", Username: "name-a", Score: 1, Outcome: domain.OutcomeDraw},
	}, settled.Results, "departed player should be skipped")
}

func TestEngine_LeaveAfterOthersAnswered(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.start(makeQuestions(2)))

	h.submit(h.a, "a")
	h.rooms.Leave(lobbyID, "b")
	h.engine.Leave(context.Background(), lobbyID, "b")

	h.sched.advance(game.GraceDelay)
	assert.Equal(t, []any{game.RevealResult{CorrectAnswer: "a", IsCorrect: true}}, h.a.all(game.EventRevealResult))
}

func TestEngine_LastMemberLeavingAbandons(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.start(makeQuestions(domain.QuestionsPerMatch)))

	h.rooms.Leave(lobbyID, "a")
	h.engine.Leave(context.Background(), lobbyID, "a")
	_, ok := h.engine.Session(lobbyID)
	require.True(t, ok)

	h.rooms.Leave(lobbyID, "b")
	h.engine.Leave(context.Background(), lobbyID, "b")

	_, ok = h.engine.Session(lobbyID)
	assert.False(t, ok)
	assert.Equal(t, 0, h.sched.pending())
	assert.Equal(t, domain.EventMatchAbandoned{LobbyID: lobbyID}, h.bus.events[len(h.bus.events)-1])

	h.sched.advance(time.Minute)
	assert.Len(t, h.a.all(game.EventRevealResult), 0)
}

func TestOutcomes(t *testing.T) {
	tests := map[string]struct {
		players  []string
		scores   map[string]int
		draw     bool
		outcomes map[string]domain.Outcome
	}{
		"equal scores": {
			players:  []string{"a", "b"},
			scores:   map[string]int{"a": 6, "b": 6},
			draw:     true,
			outcomes: map[string]domain.Outcome{"a": domain.OutcomeDraw, "b": domain.OutcomeDraw},
		},
		"first wins": {
			players:  []string{"a", "b"},
			scores:   map[string]int{"a": 7, "b": 3},
			outcomes: map[string]domain.Outcome{"a": domain.OutcomeWin, "b": domain.OutcomeLoss},
		},
		"second wins": {
			players:  []string{"a", "b"},
			scores:   map[string]int{"a": 2, "b": 3},
			outcomes: map[string]domain.Outcome{"a": domain.OutcomeLoss, "b": domain.OutcomeWin},
		},
		"missing score counts as zero": {
			players:  []string{"a", "b"},
			scores:   map[string]int{"b": 1},
			outcomes: map[string]domain.Outcome{"a": domain.OutcomeLoss, "b": domain.OutcomeWin},
		},
		"single player against nobody": {
			players:  []string{"a"},
			scores:   map[string]int{"a": 0},
			draw:     true,
			outcomes: map[string]domain.Outcome{"a": domain.OutcomeDraw},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			draw, outcomes := game.Outcomes(tt.players, tt.scores)
			assert.Equal(t, tt.draw, draw)
			assert.Equal(t, tt.outcomes, outcomes)
		})
	}
}

type harness struct {
	engine *game.Engine
	rooms  *room.Registry
	sched  *fakeScheduler
	bus    *recorder
	a, b   *member
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		rooms: room.NewRegistry(),
		sched: &fakeScheduler{},
		bus:   &recorder{},
		a:     &member{id: "a"},
		b:     &member{id: "b"},
	}

	h.engine = game.NewEngine(game.Config{
		Sessions:  game.NewRegistry(),
		Rooms:     h.rooms,
		Scheduler: h.sched,
		EventBus:  h.bus,
		Metrics:   telemetry.NewGameMetrics(prometheus.NewRegistry()),
	})

	h.rooms.Join(lobbyID, h.a)
	h.rooms.Join(lobbyID, h.b)
	return h
}

func (h *harness) start(qs []domain.Question) bool {
	return h.engine.Start(context.Background(), lobbyID, qs)
}

func (h *harness) submit(m *member, answer string) {
	h.engine.Submit(context.Background(), lobbyID, m.id, answer)
}

// playRound submits the given answers, an empty answer meaning no submission,
// then lets the reveal and the post-reveal pause elapse.
func (h *harness) playRound(answerA, answerB string) {
	if answerA != "" {
		h.submit(h.a, answerA)
	}
	if answerB != "" {
		h.submit(h.b, answerB)
	}

	if answerA != "" && answerB != "" {
		h.sched.advance(game.GraceDelay)
	} else {
		h.sched.advance(game.RoundTimeout)
	}
	h.sched.advance(game.RevealPause)
}

// fakeScheduler runs timers synchronously as its virtual time advances.
type fakeScheduler struct {
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (f *fakeScheduler) AfterFunc(d time.Duration, fn func()) loop.Timer {
	t := &fakeTimer{at: f.now + d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeScheduler) advance(d time.Duration) {
	target := f.now + d
	for {
		next := f.next(target)
		if next == nil {
			break
		}
		f.now = next.at
		next.fired = true
		next.fn()
	}
	f.now = target
}

func (f *fakeScheduler) next(until time.Duration) *fakeTimer {
	var due []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.fired && t.at <= until {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	return due[0]
}

func (f *fakeScheduler) pending() int {
	n := 0
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (f *fakeScheduler) last() *fakeTimer {
	return f.timers[len(f.timers)-1]
}

type recorder struct {
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, e event.Event) {
	r.events = append(r.events, e)
}

type emitted struct {
	event string
	data  any
}

type member struct {
	id     string
	events []emitted
}

func (m *member) ID() string       { return m.id }
func (m *member) UserID() string   { return "user-" + m.id }
func (m *member) Username() string { return "name-" + m.id }

func (m *member) Emit(event string, data any) {
	m.events = append(m.events, emitted{event: event, data: data})
}

func (m *member) all(event string) []any {
	var out []any
	for _, e := range m.events {
		if e.event == event {
			out = append(out, e.data)
		}
	}
	return out
}

func makeQuestions(n int) []domain.Question {
	qs := make([]domain.Question, 0, n)
	for i := range n {
		qs = append(qs, domain.Question{
			Text:          fmt.Sprintf("question %d", i),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: "a",
			Category:      "action",
			Difficulty:    "easy",
		})
	}
	return qs
}
