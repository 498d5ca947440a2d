package gateway

import (
	"encoding/json"
	"fmt"
)

// Client events.
const (
	EventEnterDashboard        = "enterDashboard"
	EventJoinLobby             = "joinLobby"
	EventReadyForFirstQuestion = "readyForFirstQuestion"
	EventSubmitAnswer          = "submitAnswer"
)

// Server events.
const (
	EventConnected       = "connected"
	EventPlayerJoined    = "playerJoined"
	EventAllPlayersReady = "allPlayersReady"
	EventLobbyFull       = "lobbyFull"
	EventLobbyNotFound   = "lobbyNotFound"
	EventLobbyForbidden  = "lobbyForbidden"
)

type Connected struct {
	PlayerID string `json:"playerId"`
}

// PlayerJoined lists the usernames of the connections in the lobby room, in join order.
type PlayerJoined struct {
	Count   int      `json:"count"`
	Players []string `json:"players"`
}

type LobbyRef struct {
	LobbyID string `json:"lobbyId"`
}

type SubmitAnswer struct {
	LobbyID string `json:"lobbyId"`
	Answer  string `json:"answer"`
}

// decodeLobbyID accepts either a bare string or an object with a lobbyId field.
func decodeLobbyID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil && id != "" {
		return id, nil
	}

	var ref LobbyRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return "", fmt.Errorf("decode lobby id: %w", err)
	}
	if ref.LobbyID == "" {
		return "", fmt.Errorf("decode lobby id: missing")
	}

	return ref.LobbyID, nil
}
