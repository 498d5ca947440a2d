package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GameMetrics counts match lifecycle events. A nil *GameMetrics records nothing.
type GameMetrics struct {
	matches  *prometheus.CounterVec
	reveals  *prometheus.CounterVec
	sessions prometheus.Gauge
}

func NewGameMetrics(reg prometheus.Registerer) *GameMetrics {
	m := &GameMetrics{
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duelquiz",
			Name:      "matches_total",
			Help:      "Matches by final state.",
		}, []string{"state"}),
		reveals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duelquiz",
			Name:      "reveals_total",
			Help:      "Round reveals by what triggered them.",
		}, []string{"trigger"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duelquiz",
			Name:      "active_sessions",
			Help:      "Game sessions currently in progress.",
		}),
	}

	reg.MustRegister(m.matches, m.reveals, m.sessions)
	return m
}

func (m *GameMetrics) MatchStarted() {
	if m == nil {
		return
	}
	m.matches.WithLabelValues("started").Inc()
	m.sessions.Inc()
}

// MatchEnded records a match leaving memory, state is "settled" or "abandoned".
func (m *GameMetrics) MatchEnded(state string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(state).Inc()
	m.sessions.Dec()
}

func (m *GameMetrics) Revealed(trigger string) {
	if m == nil {
		return
	}
	m.reveals.WithLabelValues(trigger).Inc()
}
