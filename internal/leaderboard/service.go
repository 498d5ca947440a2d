package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultLimit    = 10
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameMatchSettled, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventMatchSettled))
	})

	return s
}

type GetLeaderboardRequest struct {
	// Limit defaults to 10.
	Limit int
}

// GetLeaderboard returns the users with most wins, in descending order.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.winsKey(), 0, int64(req.Limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	l := &domain.Leaderboard{Entries: make([]domain.LeaderboardEntry, 0, len(res))}
	if len(res) == 0 {
		return l, nil
	}

	ids := make([]string, 0, len(res))
	for _, z := range res {
		ids = append(ids, z.Member.(string))
	}

	names, err := s.redis.HMGet(ctx, s.namesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get usernames: %w", err)
	}

	for i, z := range res {
		name, _ := names[i].(string)
		l.Entries = append(l.Entries, domain.LeaderboardEntry{
			UserID:   ids[i],
			Username: name,
			Wins:     int(z.Score),
		})
	}

	return l, nil
}

// UpdateLeaderboard adds one win per winner. Every other settled player is listed with their current wins.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventMatchSettled) error {
	if len(e.Results) == 0 {
		return nil
	}

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, r := range e.Results {
			if r.Outcome == domain.OutcomeWin {
				p.ZIncrBy(ctx, s.winsKey(), 1, r.UserID)
			} else {
				p.ZAddNX(ctx, s.winsKey(), redis.Z{Score: 0, Member: r.UserID})
			}
			p.HSet(ctx, s.namesKey(), r.UserID, r.Username)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx)
}

// schedulePublishLeaderboard publishes the leaderboard at most once per publishInterval.
// Matches end in bursts, so most settlements within the interval are folded into one event.
func (s *Service) schedulePublishLeaderboard(ctx context.Context) error {
	ok, err := s.redis.SetNX(ctx, s.publishKey(), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) winsKey() string {
	return fmt.Sprintf("%s:leaderboard:wins", s.prefix)
}

func (s *Service) namesKey() string {
	return fmt.Sprintf("%s:leaderboard:names", s.prefix)
}

func (s *Service) publishKey() string {
	return fmt.Sprintf("%s:leaderboard:time", s.prefix)
}
