package domain

import "time"

// QuestionsPerMatch is the size of every match question set.
const QuestionsPerMatch = 10

// MaxPlayers is the number of players in a lobby.
const MaxPlayers = 2

// Question is a single trivia item. Field names follow the question bank file format.
type Question struct {
	Text          string   `json:"question" yaml:"question"`
	Options       []string `json:"options" yaml:"options"`
	CorrectAnswer string   `json:"correctAnswer" yaml:"correctAnswer"`
	Category      string   `json:"category" yaml:"category"`
	Difficulty    string   `json:"difficulty" yaml:"difficulty"`
}

// Clone returns a copy that shares no memory with q.
func (q Question) Clone() Question {
	q.Options = append([]string(nil), q.Options...)
	return q
}

type LobbyStatus string

const (
	LobbyStatusWaiting LobbyStatus = "waiting"
	LobbyStatusPlaying LobbyStatus = "playing"
)

// Lobby is the persisted record two players gather in before a match.
type Lobby struct {
	LobbyID    string
	Name       string
	Password   string
	Category   string
	Difficulty string
	Creator    string
	Players    []LobbyPlayer
	Questions  []Question
	Status     LobbyStatus
	CreateTime time.Time
}

// Usernames returns the roster names in join order.
func (l *Lobby) Usernames() []string {
	names := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		names = append(names, p.Username)
	}
	return names
}

func (l *Lobby) HasPlayer(userID string) bool {
	for _, p := range l.Players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

type LobbyPlayer struct {
	UserID   string
	Username string
}

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Stats is a user's cumulative match record.
type Stats struct {
	UserID     string
	Username   string
	Wins       int
	Losses     int
	Draws      int
	TotalGames int
}

// PlayerResult is the settlement of one player with a live connection at the end of a match.
type PlayerResult struct {
	PlayerID string
	UserID   string
	Username string
	Score    int
	Outcome  Outcome
}

// Leaderboard represents the users with most wins, sorted in descending order.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	UserID   string
	Username string
	Wins     int
}
