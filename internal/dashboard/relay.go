package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/duelquiz/internal/room"
)

// Poster runs a callback on the event loop.
type Poster interface {
	Post(fn func()) bool
}

type Broadcaster interface {
	Broadcast(room, event string, data any)
}

type RelayConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	Loop   Poster
	Rooms  Broadcaster
}

// Relay forwards notifications from the Redis channel to the local dashboard room.
type Relay struct {
	redis   redis.UniversalClient
	channel string
	loop    Poster
	rooms   Broadcaster
}

func NewRelay(c RelayConfig) *Relay {
	return &Relay{
		redis:   c.Redis,
		channel: channel(c.Prefix),
		loop:    c.Loop,
		rooms:   c.Rooms,
	}
}

// Run relays notifications until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.redis.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("dashboard: subscribe %s: %w", r.channel, err)
	}
	slog.InfoContext(ctx, "dashboard: relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.relay(ctx, msg.Payload)
		}
	}
}

func (r *Relay) relay(ctx context.Context, payload string) {
	var n struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		slog.WarnContext(ctx, "dashboard: invalid notification", "error", err)
		return
	}

	var data any
	if len(n.Data) > 0 && string(n.Data) != "null" {
		data = n.Data
	}

	r.loop.Post(func() {
		r.rooms.Broadcast(room.Dashboard, n.Event, data)
	})
}
