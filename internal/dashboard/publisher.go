// Package dashboard fans lobby list changes out to every connection browsing the dashboard.
//
// Notifications go through a Redis channel so that every server instance relays them to its own
// dashboard room.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/event"
)

// Events sent to the dashboard room.
const (
	EventRefreshLobbies     = "refreshLobbies"
	EventUpdateLobbyStatus  = "updateLobbyStatus"
	EventLeaderboardUpdated = "leaderboardUpdated"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	LobbyStatus struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Wins     int    `json:"wins"`
	}
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Publisher struct {
	redis   redis.UniversalClient
	channel string
}

func NewPublisher(c Config) *Publisher {
	p := &Publisher{
		redis:   c.Redis,
		channel: channel(c.Prefix),
	}

	c.EventBus.Subscribe(domain.EventNameLobbyChanged, func(ctx context.Context, _ event.Event) error {
		return p.RefreshLobbies(ctx)
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return p.PublishLeaderboard(ctx, e.(domain.EventLeaderboardUpdated).Leaderboard)
	})

	return p
}

// RefreshLobbies tells dashboards to reload the lobby list.
func (p *Publisher) RefreshLobbies(ctx context.Context) error {
	return p.publish(ctx, EventRefreshLobbies, nil)
}

func (p *Publisher) UpdateLobbyStatus(ctx context.Context, lobbyID string, count int) error {
	return p.publish(ctx, EventUpdateLobbyStatus, LobbyStatus{ID: lobbyID, Count: count})
}

func (p *Publisher) PublishLeaderboard(ctx context.Context, l domain.Leaderboard) error {
	data := Leaderboard{Entries: make([]LeaderboardEntry, 0, len(l.Entries))}
	for _, e := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			UserID:   e.UserID,
			Username: e.Username,
			Wins:     e.Wins,
		})
	}

	return p.publish(ctx, EventLeaderboardUpdated, data)
}

func (p *Publisher) publish(ctx context.Context, event string, data any) error {
	b, err := json.Marshal(Notification{
		Event: event,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("dashboard: marshal %s: %v", event, err)
	}

	return p.redis.Publish(ctx, p.channel, b).Err()
}

func channel(prefix string) string {
	return fmt.Sprintf("%s:dashboard", prefix)
}
