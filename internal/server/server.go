package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/duelquiz/internal/api"
	"github.com/victornm/duelquiz/internal/dashboard"
	"github.com/victornm/duelquiz/internal/event"
	"github.com/victornm/duelquiz/internal/game"
	"github.com/victornm/duelquiz/internal/gateway"
	"github.com/victornm/duelquiz/internal/leaderboard"
	"github.com/victornm/duelquiz/internal/lobby"
	"github.com/victornm/duelquiz/internal/loop"
	"github.com/victornm/duelquiz/internal/question"
	"github.com/victornm/duelquiz/internal/room"
	"github.com/victornm/duelquiz/internal/stats"
	"github.com/victornm/duelquiz/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Lobby struct {
			Addr string
			User string
			Pass string
			Name string
		}

		Stats struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Game struct {
		QuestionsFile string
	}

	WebSocket struct {
		ReadBufferSize  int
		WriteBufferSize int
		SendBufferSize  int
		MaxMessageSize  int64
		PingInterval    time.Duration
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		RequestTimeout  time.Duration
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			lobby *pgxpool.Pool
			stats *pgxpool.Pool
		}
	}

	game struct {
		bank   *question.Bank
		loop   *loop.Loop
		rooms  *room.Registry
		engine *game.Engine
	}

	service struct {
		lobby       *lobby.Service
		stats       *stats.Service
		leaderboard *leaderboard.Service
		dashboard   *dashboard.Publisher
	}

	relay *dashboard.Relay
	hub   *gateway.Hub

	http *http.Server
	grpc *grpc.Server

	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initGame(); err != nil {
		return nil, fmt.Errorf("server: init game: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	pg := s.c.Postgres
	s.infra.postgres.lobby, err = connect(pg.Lobby.Addr, pg.Lobby.User, pg.Lobby.Pass, pg.Lobby.Name)
	if err != nil {
		return fmt.Errorf("lobby: %w", err)
	}

	s.infra.postgres.stats, err = connect(pg.Stats.Addr, pg.Stats.User, pg.Stats.Pass, pg.Stats.Name)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	return nil
}

func (s *Server) initGame() error {
	bank, err := question.Load(s.c.Game.QuestionsFile)
	if err != nil {
		return err
	}
	s.game.bank = bank

	s.game.loop = loop.New(loop.Config{})
	s.game.rooms = room.NewRegistry()
	s.game.engine = game.NewEngine(game.Config{
		Sessions:  game.NewRegistry(),
		Rooms:     s.game.rooms,
		Scheduler: s.game.loop,
		EventBus:  s.eb,
		Metrics:   telemetry.NewGameMetrics(prometheus.DefaultRegisterer),
	})

	return nil
}

func (s *Server) initService() {
	s.service.lobby = lobby.NewService(lobby.Config{
		DB:        s.infra.postgres.lobby,
		EventBus:  s.eb,
		Questions: s.game.bank,
	})

	s.service.stats = stats.NewService(stats.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.stats,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.service.dashboard = dashboard.NewPublisher(dashboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.pubsub,
		Prefix:   s.c.Redis.Pubsub.Prefix,
	})

	s.relay = dashboard.NewRelay(dashboard.RelayConfig{
		Redis:  s.infra.redis.pubsub,
		Prefix: s.c.Redis.Pubsub.Prefix,
		Loop:   s.game.loop,
		Rooms:  s.game.rooms,
	})
}

func (s *Server) initAPI() {
	ws := s.c.WebSocket
	s.hub = gateway.NewHub(gateway.Config{
		Loop:            s.game.loop,
		Rooms:           s.game.rooms,
		Engine:          s.game.engine,
		Lobbies:         s.service.lobby,
		Dashboard:       s.service.dashboard,
		WriteTimeout:    ws.WriteTimeout,
		ReadTimeout:     ws.ReadTimeout,
		PingInterval:    ws.PingInterval,
		RequestTimeout:  ws.RequestTimeout,
		MaxMessageSize:  ws.MaxMessageSize,
		ReadBufferSize:  ws.ReadBufferSize,
		WriteBufferSize: ws.WriteBufferSize,
		SendBufferSize:  ws.SendBufferSize,
	})

	e := gin.New()
	e.Use(gin.Recovery(), telemetry.HTTPLogger())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")

	api.New(api.Config{
		Lobby:       s.service.lobby,
		Stats:       s.service.stats,
		Leaderboard: s.service.leaderboard,
		WebSocket:   s.hub.ServeWS,
	}).Register(e)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpc, hs)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		s.game.loop.Run(ctx)
		return nil
	})

	eg.Go(func() error {
		return s.relay.Run(ctx)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown websocket connections failed", "error", err)
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.eb.Stop()

	s.infra.postgres.lobby.Close()
	s.infra.postgres.stats.Close()
	_ = s.infra.redis.leaderboard.Close()
	_ = s.infra.redis.pubsub.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
