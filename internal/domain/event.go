package domain

const (
	EventNameMatchStarted       = "match.started"
	EventNameMatchSettled       = "match.settled"
	EventNameMatchAbandoned     = "match.abandoned"
	EventNameLobbyChanged       = "lobby.changed"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventMatchStarted struct {
	LobbyID string
}

func (EventMatchStarted) Name() string { return EventNameMatchStarted }

// EventMatchSettled is published once per match, after the in-memory session is gone.
// Results only hold players whose connection was still live at settlement.
type EventMatchSettled struct {
	LobbyID string
	Scores  map[string]int
	Draw    bool
	Results []PlayerResult
}

func (EventMatchSettled) Name() string { return EventNameMatchSettled }

type EventMatchAbandoned struct {
	LobbyID string
}

func (EventMatchAbandoned) Name() string { return EventNameMatchAbandoned }

// EventLobbyChanged is published when a lobby is created, deleted or changes status.
type EventLobbyChanged struct {
	LobbyID string
}

func (EventLobbyChanged) Name() string { return EventNameLobbyChanged }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
