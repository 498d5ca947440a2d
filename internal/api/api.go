package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/errors"
	"github.com/victornm/duelquiz/internal/leaderboard"
	"github.com/victornm/duelquiz/internal/lobby"
	"github.com/victornm/duelquiz/internal/stats"
)

const (
	headerUserID   = "X-User-ID"
	headerUsername = "X-Username"

	ctxKeyPlayer = "player"
)

type LobbyService interface {
	CreateLobby(ctx context.Context, req lobby.CreateLobbyRequest) (*domain.Lobby, error)
	GetLobby(ctx context.Context, req lobby.GetLobbyRequest) (*domain.Lobby, error)
	ListLobbies(ctx context.Context, req lobby.ListLobbiesRequest) ([]domain.Lobby, error)
	JoinLobby(ctx context.Context, req lobby.JoinLobbyRequest) (*domain.Lobby, error)
	DeleteLobby(ctx context.Context, req lobby.DeleteLobbyRequest) error
}

type StatsService interface {
	GetStats(ctx context.Context, req stats.GetStatsRequest) (*domain.Stats, error)
}

type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, req leaderboard.GetLeaderboardRequest) (*domain.Leaderboard, error)
}

type Config struct {
	Lobby       LobbyService
	Stats       StatsService
	Leaderboard LeaderboardService
	// WebSocket serves GET /ws.
	WebSocket http.HandlerFunc
}

type API struct {
	lobby LobbyService
	stats StatsService
	board LeaderboardService
	ws    http.HandlerFunc
}

func New(c Config) *API {
	return &API{
		lobby: c.Lobby,
		stats: c.Stats,
		board: c.Leaderboard,
		ws:    c.WebSocket,
	}
}

// Register mounts the HTTP routes on e.
func (a *API) Register(e *gin.Engine) {
	e.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if a.ws != nil {
		e.GET("/ws", gin.WrapF(a.ws))
	}

	r := e.Group("/api")
	r.GET("/lobbies", a.ListLobbies)
	r.GET("/lobbies/:id", a.GetLobby)
	r.GET("/leaderboard", a.GetLeaderboard)
	r.GET("/users/:id/stats", a.GetStats)

	auth := r.Group("", authenticate)
	auth.POST("/lobbies", a.CreateLobby)
	auth.POST("/lobbies/:id/join", a.JoinLobby)
	auth.DELETE("/lobbies/:id", a.DeleteLobby)
}

// authenticate reads the identity set by the upstream proxy.
func authenticate(c *gin.Context) {
	p := domain.LobbyPlayer{
		UserID:   c.GetHeader(headerUserID),
		Username: c.GetHeader(headerUsername),
	}
	if p.UserID == "" || p.Username == "" {
		abort(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing %s or %s header", headerUserID, headerUsername)))
		return
	}

	c.Set(ctxKeyPlayer, p)
	c.Next()
}

func player(c *gin.Context) domain.LobbyPlayer {
	return c.MustGet(ctxKeyPlayer).(domain.LobbyPlayer)
}

func (a *API) CreateLobby(c *gin.Context) {
	var req CreateLobbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err)))
		return
	}

	l, err := a.lobby.CreateLobby(c.Request.Context(), lobby.CreateLobbyRequest{
		Name:       req.Name,
		Password:   req.Password,
		Category:   req.Category,
		Difficulty: req.Difficulty,
		Creator:    player(c),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, toLobby(*l))
}

func (a *API) ListLobbies(c *gin.Context) {
	ls, err := a.lobby.ListLobbies(c.Request.Context(), lobby.ListLobbiesRequest{})
	if err != nil {
		abort(c, err)
		return
	}

	resp := ListLobbiesResponse{Lobbies: make([]Lobby, 0, len(ls))}
	for _, l := range ls {
		resp.Lobbies = append(resp.Lobbies, toLobby(l))
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) GetLobby(c *gin.Context) {
	l, err := a.lobby.GetLobby(c.Request.Context(), lobby.GetLobbyRequest{LobbyID: c.Param("id")})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toLobby(*l))
}

func (a *API) JoinLobby(c *gin.Context) {
	var req JoinLobbyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err)))
			return
		}
	}

	l, err := a.lobby.JoinLobby(c.Request.Context(), lobby.JoinLobbyRequest{
		LobbyID:  c.Param("id"),
		Password: req.Password,
		Player:   player(c),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toLobby(*l))
}

func (a *API) DeleteLobby(c *gin.Context) {
	err := a.lobby.DeleteLobby(c.Request.Context(), lobby.DeleteLobbyRequest{
		LobbyID: c.Param("id"),
		UserID:  player(c).UserID,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) GetStats(c *gin.Context) {
	st, err := a.stats.GetStats(c.Request.Context(), stats.GetStatsRequest{UserID: c.Param("id")})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, Stats{
		UserID:     st.UserID,
		Username:   st.Username,
		Wins:       st.Wins,
		Losses:     st.Losses,
		Draws:      st.Draws,
		TotalGames: st.TotalGames,
	})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.board.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{})
	if err != nil {
		abort(c, err)
		return
	}

	resp := Leaderboard{Entries: make([]LeaderboardEntry, 0, len(l.Entries))}
	for _, e := range l.Entries {
		resp.Entries = append(resp.Entries, LeaderboardEntry{
			UserID:   e.UserID,
			Username: e.Username,
			Wins:     e.Wins,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), ErrorResponse{Error: e})
}
