// Package gateway connects WebSocket clients to the lobby rooms and the game engine.
//
// Each connection has a read pump that decodes client events and a write pump that drains its
// send buffer. Room and session state is only touched through the event loop; lobby store calls
// happen on the read pump before anything is posted.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/errors"
	"github.com/victornm/duelquiz/internal/game"
	"github.com/victornm/duelquiz/internal/lobby"
	"github.com/victornm/duelquiz/internal/loop"
	"github.com/victornm/duelquiz/internal/room"
)

type Lobbies interface {
	GetLobby(ctx context.Context, req lobby.GetLobbyRequest) (*domain.Lobby, error)
	LeaveLobby(ctx context.Context, req lobby.LeaveLobbyRequest) (*domain.Lobby, error)
}

type Dashboard interface {
	UpdateLobbyStatus(ctx context.Context, lobbyID string, count int) error
}

type Config struct {
	Loop      *loop.Loop
	Rooms     *room.Registry
	Engine    *game.Engine
	Lobbies   Lobbies
	Dashboard Dashboard

	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	RequestTimeout  time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

func (c *Config) setDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

type Hub struct {
	c        Config
	upgrader websocket.Upgrader

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewHub(c Config) *Hub {
	c.setDefaults()

	return &Hub{
		c: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  c.ReadBufferSize,
			WriteBufferSize: c.WriteBufferSize,
			CheckOrigin:     c.CheckOrigin,
		},
		conns: make(map[*Conn]struct{}),
	}
}

// ServeWS upgrades the request. The player is identified by the user_id and username query parameters.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, username := r.URL.Query().Get("user_id"), r.URL.Query().Get("username")
	if userID == "" || username == "" {
		e := errors.New(errors.CodeUnauthenticated, errors.WithMessagef("user_id and username are required"))
		http.Error(w, e.Message, e.HTTPStatusCode())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "gateway: upgrade failed", "error", err)
		return
	}

	c := &Conn{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		ctx:      context.WithoutCancel(r.Context()),
		ws:       ws,
		hub:      h,
		send:     make(chan []byte, h.c.SendBufferSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.InfoContext(c.ctx, "gateway: connected", "conn_id", c.id, "user_id", userID)
	c.Emit(EventConnected, Connected{PlayerID: c.id})

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// Shutdown closes every connection and waits for their pumps to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for c := range h.conns {
		c.close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) dispatch(c *Conn, msg envelope) {
	switch msg.Event {
	case EventEnterDashboard:
		h.c.Loop.Post(func() {
			h.c.Rooms.Join(room.Dashboard, c)
		})

	case EventJoinLobby:
		id, err := decodeLobbyID(msg.Data)
		if err != nil {
			slog.DebugContext(c.ctx, "gateway: bad joinLobby", "conn_id", c.id, "error", err)
			return
		}
		h.joinLobby(c, id)

	case EventReadyForFirstQuestion:
		id, err := decodeLobbyID(msg.Data)
		if err != nil {
			slog.DebugContext(c.ctx, "gateway: bad readyForFirstQuestion", "conn_id", c.id, "error", err)
			return
		}
		h.ready(c, id)

	case EventSubmitAnswer:
		var req SubmitAnswer
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.DebugContext(c.ctx, "gateway: bad submitAnswer", "conn_id", c.id, "error", err)
			return
		}
		h.c.Loop.Post(func() {
			h.c.Engine.Submit(c.ctx, req.LobbyID, c.id, req.Answer)
		})

	default:
		slog.DebugContext(c.ctx, "gateway: unknown event", "conn_id", c.id, "event", msg.Event)
	}
}

func (h *Hub) joinLobby(c *Conn, lobbyID string) {
	ctx, cancel := context.WithTimeout(c.ctx, h.c.RequestTimeout)
	defer cancel()

	l, err := h.c.Lobbies.GetLobby(ctx, lobby.GetLobbyRequest{LobbyID: lobbyID})
	if err != nil {
		if !errors.Is(err, errors.CodeNotFound) {
			slog.ErrorContext(ctx, "gateway: get lobby failed", "lobby_id", lobbyID, "error", err)
		}
		c.Emit(EventLobbyNotFound, LobbyRef{LobbyID: lobbyID})
		return
	}

	if !l.HasPlayer(c.userID) {
		slog.InfoContext(ctx, "gateway: join refused, not on lobby roster", "lobby_id", lobbyID, "user_id", c.userID)
		c.Emit(EventLobbyForbidden, LobbyRef{LobbyID: lobbyID})
		return
	}

	var (
		count  int
		joined bool
		full   bool
	)
	err = h.c.Loop.Call(ctx, func() {
		if h.c.Rooms.Has(lobbyID, c.id) {
			return
		}

		_, playing := h.c.Engine.Session(lobbyID)
		if playing || h.c.Rooms.Count(lobbyID) >= domain.MaxPlayers {
			full = true
			return
		}

		count = h.c.Rooms.Join(lobbyID, c)
		joined = true
		h.c.Rooms.Broadcast(lobbyID, EventPlayerJoined, h.playerJoined(lobbyID))
		if count == domain.MaxPlayers {
			h.c.Rooms.Broadcast(lobbyID, EventAllPlayersReady, nil)
		}
	})
	if err != nil {
		slog.WarnContext(ctx, "gateway: join lobby failed", "lobby_id", lobbyID, "error", err)
		return
	}

	if full {
		c.Emit(EventLobbyFull, LobbyRef{LobbyID: lobbyID})
		return
	}

	if joined {
		slog.InfoContext(ctx, "gateway: joined lobby", "lobby_id", lobbyID, "conn_id", c.id, "count", count)
		h.updateLobbyStatus(ctx, lobbyID, count)
	}
}

func (h *Hub) ready(c *Conn, lobbyID string) {
	ctx, cancel := context.WithTimeout(c.ctx, h.c.RequestTimeout)
	defer cancel()

	l, err := h.c.Lobbies.GetLobby(ctx, lobby.GetLobbyRequest{LobbyID: lobbyID})
	if err != nil {
		if !errors.Is(err, errors.CodeNotFound) {
			slog.ErrorContext(ctx, "gateway: get lobby failed", "lobby_id", lobbyID, "error", err)
		}
		return
	}

	h.c.Loop.Post(func() {
		if !h.c.Rooms.Has(lobbyID, c.id) {
			return
		}
		h.c.Engine.Start(c.ctx, lobbyID, l.Questions)
	})
}

func (h *Hub) disconnect(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, h.c.RequestTimeout)
	defer cancel()

	var lobbies []string
	err := h.c.Loop.Call(ctx, func() {
		for _, id := range h.c.Rooms.LeaveAll(c.id) {
			if id == room.Dashboard {
				continue
			}
			lobbies = append(lobbies, id)
			h.c.Engine.Leave(c.ctx, id, c.id)
		}
	})
	if err != nil {
		slog.WarnContext(ctx, "gateway: leave rooms failed", "conn_id", c.id, "error", err)
		return
	}

	for _, id := range lobbies {
		h.leaveLobby(ctx, c, id)
	}

	slog.InfoContext(ctx, "gateway: disconnected", "conn_id", c.id, "user_id", c.userID)
}

func (h *Hub) leaveLobby(ctx context.Context, c *Conn, lobbyID string) {
	_, err := h.c.Lobbies.LeaveLobby(ctx, lobby.LeaveLobbyRequest{LobbyID: lobbyID, UserID: c.userID})
	if errors.Is(err, errors.CodeNotFound) {
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "gateway: leave lobby failed", "lobby_id", lobbyID, "error", err)
		return
	}

	var count int
	err = h.c.Loop.Call(ctx, func() {
		count = h.c.Rooms.Count(lobbyID)
		if count > 0 {
			h.c.Rooms.Broadcast(lobbyID, EventPlayerJoined, h.playerJoined(lobbyID))
		}
	})
	if err != nil {
		return
	}

	h.updateLobbyStatus(ctx, lobbyID, count)
}

// playerJoined describes the connections currently in the lobby room. Must run on the loop.
func (h *Hub) playerJoined(lobbyID string) PlayerJoined {
	members := h.c.Rooms.Members(lobbyID)
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Username())
	}
	return PlayerJoined{Count: len(members), Players: names}
}

func (h *Hub) updateLobbyStatus(ctx context.Context, lobbyID string, count int) {
	if err := h.c.Dashboard.UpdateLobbyStatus(ctx, lobbyID, count); err != nil {
		slog.ErrorContext(ctx, "gateway: update lobby status failed", "lobby_id", lobbyID, "error", err)
	}
}
