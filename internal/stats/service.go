package stats

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/errors"
	"github.com/victornm/duelquiz/internal/event"
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	s.eb.Subscribe(domain.EventNameMatchSettled, func(ctx context.Context, e event.Event) error {
		return s.RecordMatch(ctx, e.(domain.EventMatchSettled))
	})

	return s
}

// RecordMatch increments the stats of every settled player. Players are written independently,
// so one failure does not prevent the others from being recorded.
func (s *Service) RecordMatch(ctx context.Context, e domain.EventMatchSettled) error {
	var errs []error
	for _, r := range e.Results {
		if err := s.increment(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", r.UserID, err))
			continue
		}
		slog.DebugContext(ctx, "stats: recorded", "lobby_id", e.LobbyID, "user_id", r.UserID, "outcome", r.Outcome)
	}

	return stderrors.Join(errs...)
}

func (s *Service) increment(ctx context.Context, r domain.PlayerResult) error {
	var win, loss, draw int
	switch r.Outcome {
	case domain.OutcomeWin:
		win = 1
	case domain.OutcomeLoss:
		loss = 1
	case domain.OutcomeDraw:
		draw = 1
	default:
		return fmt.Errorf("unknown outcome %q", r.Outcome)
	}

	const stmt = `
INSERT INTO user_stats (user_id, username, wins, losses, draws, total_games)
VALUES ($1, $2, $3, $4, $5, 1)
ON CONFLICT (user_id) DO UPDATE SET
	username    = EXCLUDED.username,
	wins        = user_stats.wins + EXCLUDED.wins,
	losses      = user_stats.losses + EXCLUDED.losses,
	draws       = user_stats.draws + EXCLUDED.draws,
	total_games = user_stats.total_games + 1;`

	_, err := s.db.Exec(ctx, stmt, r.UserID, r.Username, win, loss, draw)
	return err
}

type GetStatsRequest struct {
	UserID string
}

// GetStats returns the user's record. A user who never finished a match has zero stats.
func (s *Service) GetStats(ctx context.Context, req GetStatsRequest) (*domain.Stats, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id is required"))
	}

	const stmt = `
SELECT username, wins, losses, draws, total_games
FROM user_stats
WHERE user_id = $1;`

	st := domain.Stats{UserID: req.UserID}
	err := s.db.QueryRow(ctx, stmt, req.UserID).Scan(&st.Username, &st.Wins, &st.Losses, &st.Draws, &st.TotalGames)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	return &st, nil
}
