package game

import "github.com/victornm/duelquiz/internal/domain"

// Outcomes compares the first two players by score. A missing player or score counts as 0.
func Outcomes(players []string, scores map[string]int) (draw bool, outcomes map[string]domain.Outcome) {
	var p1, p2 string
	if len(players) > 0 {
		p1 = players[0]
	}
	if len(players) > 1 {
		p2 = players[1]
	}

	s1, s2 := scores[p1], scores[p2]
	outcomes = make(map[string]domain.Outcome, 2)

	set := func(id string, o domain.Outcome) {
		if id != "" {
			outcomes[id] = o
		}
	}

	switch {
	case s1 == s2:
		set(p1, domain.OutcomeDraw)
		set(p2, domain.OutcomeDraw)
		return true, outcomes
	case s1 > s2:
		set(p1, domain.OutcomeWin)
		set(p2, domain.OutcomeLoss)
	default:
		set(p1, domain.OutcomeLoss)
		set(p2, domain.OutcomeWin)
	}

	return false, outcomes
}
