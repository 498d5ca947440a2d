package game

// Events sent to room members.
const (
	EventNewQuestion  = "newQuestion"
	EventRevealResult = "revealResult"
	EventGameOver     = "gameOver"
)

type NewQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Index    int      `json:"index"`
}

// RevealResult is sent to each connection separately.
type RevealResult struct {
	CorrectAnswer string `json:"correctAnswer"`
	IsCorrect     bool   `json:"isCorrect"`
}

type GameOver struct {
	Scores map[string]int `json:"scores"`
	Draw   bool           `json:"draw"`
}
