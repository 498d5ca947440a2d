package api

import (
	"time"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/errors"
)

type (
	CreateLobbyRequest struct {
		Name       string `json:"name" binding:"required"`
		Password   string `json:"password"`
		Category   string `json:"category" binding:"required"`
		Difficulty string `json:"difficulty" binding:"required"`
	}

	JoinLobbyRequest struct {
		Password string `json:"password"`
	}

	Lobby struct {
		ID         string    `json:"id"`
		Name       string    `json:"name"`
		Category   string    `json:"category"`
		Difficulty string    `json:"difficulty"`
		Creator    string    `json:"creator"`
		Private    bool      `json:"private"`
		Status     string    `json:"status"`
		Count      int       `json:"count"`
		Players    []Player  `json:"players"`
		CreateTime time.Time `json:"createTime"`
	}

	Player struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}

	ListLobbiesResponse struct {
		Lobbies []Lobby `json:"lobbies"`
	}

	Stats struct {
		UserID     string `json:"userId"`
		Username   string `json:"username"`
		Wins       int    `json:"wins"`
		Losses     int    `json:"losses"`
		Draws      int    `json:"draws"`
		TotalGames int    `json:"totalGames"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Wins     int    `json:"wins"`
	}

	ErrorResponse struct {
		Error *errors.Error `json:"error"`
	}
)

// toLobby hides the password hash and the question set.
func toLobby(l domain.Lobby) Lobby {
	players := make([]Player, 0, len(l.Players))
	for _, p := range l.Players {
		players = append(players, Player{UserID: p.UserID, Username: p.Username})
	}

	return Lobby{
		ID:         l.LobbyID,
		Name:       l.Name,
		Category:   l.Category,
		Difficulty: l.Difficulty,
		Creator:    l.Creator,
		Private:    l.Password != "",
		Status:     string(l.Status),
		Count:      len(players),
		Players:    players,
		CreateTime: l.CreateTime,
	}
}
