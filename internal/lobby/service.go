package lobby

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/errors"
	"github.com/victornm/duelquiz/internal/event"
)

// Sampler picks the match question set of a new lobby.
type Sampler interface {
	Sample(category, difficulty string, n int) ([]domain.Question, error)
}

type Config struct {
	DB        *pgxpool.Pool
	EventBus  *event.Bus
	Questions Sampler
}

type Service struct {
	db *pgxpool.Pool
	eb *event.Bus
	qs Sampler
}

func NewService(c Config) *Service {
	s := &Service{
		db: c.DB,
		eb: c.EventBus,
		qs: c.Questions,
	}

	s.eb.Subscribe(domain.EventNameMatchStarted, func(ctx context.Context, e event.Event) error {
		return s.setStatus(ctx, e.(domain.EventMatchStarted).LobbyID, domain.LobbyStatusPlaying)
	})
	s.eb.Subscribe(domain.EventNameMatchSettled, func(ctx context.Context, e event.Event) error {
		return s.deleteLobby(ctx, e.(domain.EventMatchSettled).LobbyID)
	})
	s.eb.Subscribe(domain.EventNameMatchAbandoned, func(ctx context.Context, e event.Event) error {
		return s.deleteLobby(ctx, e.(domain.EventMatchAbandoned).LobbyID)
	})

	return s
}

// CreateLobbyRequest represents a request to open a new lobby.
type CreateLobbyRequest struct {
	Name       string
	Password   string
	Category   string
	Difficulty string
	// Creator joins the lobby right away.
	Creator domain.LobbyPlayer
}

// CreateLobby samples the match question set and stores the lobby with its creator as first player.
func (s *Service) CreateLobby(ctx context.Context, req CreateLobbyRequest) (*domain.Lobby, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("lobby name is required"))
	}
	if req.Category == "" || req.Difficulty == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("category and difficulty are required"))
	}

	qs, err := s.qs.Sample(req.Category, req.Difficulty, domain.QuestionsPerMatch)
	if err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}

	l := &domain.Lobby{
		Name:       req.Name,
		Category:   strings.ToLower(req.Category),
		Difficulty: strings.ToLower(req.Difficulty),
		Creator:    req.Creator.UserID,
		Players:    []domain.LobbyPlayer{req.Creator},
		Questions:  qs,
		Status:     domain.LobbyStatusWaiting,
	}

	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		l.Password = string(hash)
	}

	if err := s.insertLobby(ctx, l); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "lobby: created", "lobby_id", l.LobbyID, "creator", l.Creator)
	s.eb.Publish(ctx, domain.EventLobbyChanged{LobbyID: l.LobbyID})

	return l, nil
}

func (s *Service) insertLobby(ctx context.Context, l *domain.Lobby) (err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate lobby ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insLobbyStmt = `
INSERT INTO lobbies (lobby_id, name, password, category, difficulty, creator, questions, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING create_time;`

	l.LobbyID = id.String()
	err = tx.QueryRow(ctx, insLobbyStmt, l.LobbyID, l.Name, l.Password, l.Category, l.Difficulty, l.Creator, l.Questions, string(l.Status)).
		Scan(&l.CreateTime)
	if err != nil {
		return fmt.Errorf("insert lobby: %w", err)
	}

	for _, p := range l.Players {
		if err = insertPlayer(ctx, tx, l.LobbyID, p); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertPlayer(ctx context.Context, tx pgx.Tx, lobbyID string, p domain.LobbyPlayer) error {
	const stmt = `INSERT INTO lobby_players (lobby_id, user_id, username) VALUES ($1, $2, $3);`

	if _, err := tx.Exec(ctx, stmt, lobbyID, p.UserID, p.Username); err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

type GetLobbyRequest struct {
	LobbyID string
}

// GetLobby returns the lobby with its roster and question set.
func (s *Service) GetLobby(ctx context.Context, req GetLobbyRequest) (*domain.Lobby, error) {
	return getLobby(ctx, s.db, req.LobbyID, false)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getLobby(ctx context.Context, q querier, lobbyID string, lock bool) (*domain.Lobby, error) {
	if _, err := uuid.Parse(lobbyID); err != nil {
		return nil, notFound(lobbyID)
	}

	stmt := `
SELECT lobby_id::text, name, password, category, difficulty, creator, questions, status, create_time
FROM lobbies
WHERE lobby_id = $1`
	if lock {
		stmt += ` FOR UPDATE`
	}

	var (
		l      domain.Lobby
		status string
	)
	err := q.QueryRow(ctx, stmt, lobbyID).Scan(
		&l.LobbyID, &l.Name, &l.Password, &l.Category, &l.Difficulty, &l.Creator, &l.Questions, &status, &l.CreateTime,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(lobbyID)
	}
	if err != nil {
		return nil, fmt.Errorf("get lobby: %w", err)
	}
	l.Status = domain.LobbyStatus(status)

	players, err := listPlayers(ctx, q, []string{lobbyID})
	if err != nil {
		return nil, err
	}
	l.Players = players[lobbyID]

	return &l, nil
}

func listPlayers(ctx context.Context, q querier, lobbyIDs []string) (map[string][]domain.LobbyPlayer, error) {
	const stmt = `
SELECT lobby_id::text, user_id, username
FROM lobby_players
WHERE lobby_id::text = ANY($1)
ORDER BY join_time, user_id;`

	rows, err := q.Query(ctx, stmt, lobbyIDs)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	players := make(map[string][]domain.LobbyPlayer, len(lobbyIDs))
	var (
		lobbyID string
		p       domain.LobbyPlayer
	)
	_, err = pgx.ForEachRow(rows, []any{&lobbyID, &p.UserID, &p.Username}, func() error {
		players[lobbyID] = append(players[lobbyID], p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	return players, nil
}

type ListLobbiesRequest struct{}

// ListLobbies returns the lobbies still waiting for players, newest first. Questions are not loaded.
func (s *Service) ListLobbies(ctx context.Context, _ ListLobbiesRequest) ([]domain.Lobby, error) {
	const stmt = `
SELECT lobby_id::text, name, password, category, difficulty, creator, create_time
FROM lobbies
WHERE status = $1
ORDER BY create_time DESC;`

	rows, err := s.db.Query(ctx, stmt, string(domain.LobbyStatusWaiting))
	if err != nil {
		return nil, fmt.Errorf("list lobbies: %w", err)
	}

	lobbies, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Lobby, error) {
		l := domain.Lobby{Status: domain.LobbyStatusWaiting}
		err := r.Scan(&l.LobbyID, &l.Name, &l.Password, &l.Category, &l.Difficulty, &l.Creator, &l.CreateTime)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("list lobbies: %w", err)
	}

	ids := make([]string, 0, len(lobbies))
	for _, l := range lobbies {
		ids = append(ids, l.LobbyID)
	}

	players, err := listPlayers(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range lobbies {
		lobbies[i].Players = players[lobbies[i].LobbyID]
	}

	return lobbies, nil
}

type JoinLobbyRequest struct {
	LobbyID  string
	Password string
	Player   domain.LobbyPlayer
}

// JoinLobby adds the player to the lobby roster. Joining a lobby the player is already in is a no-op.
func (s *Service) JoinLobby(ctx context.Context, req JoinLobbyRequest) (_ *domain.Lobby, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	l, err := getLobby(ctx, tx, req.LobbyID, true)
	if err != nil {
		return nil, err
	}

	if l.HasPlayer(req.Player.UserID) {
		return l, tx.Commit(ctx)
	}

	if err = checkJoin(l, req.Password); err != nil {
		return nil, err
	}

	if err = insertPlayer(ctx, tx, l.LobbyID, req.Player); err != nil {
		return nil, err
	}
	l.Players = append(l.Players, req.Player)

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "lobby: player joined", "lobby_id", l.LobbyID, "user_id", req.Player.UserID)
	s.eb.Publish(ctx, domain.EventLobbyChanged{LobbyID: l.LobbyID})

	return l, nil
}

func checkJoin(l *domain.Lobby, password string) error {
	if l.Status != domain.LobbyStatusWaiting {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("lobby is not waiting for players"))
	}

	if len(l.Players) >= domain.MaxPlayers {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("lobby is full"))
	}

	if l.Password != "" && bcrypt.CompareHashAndPassword([]byte(l.Password), []byte(password)) != nil {
		return errors.New(errors.CodePermissionDenied, errors.WithMessagef("wrong lobby password"))
	}

	return nil
}

type LeaveLobbyRequest struct {
	LobbyID string
	UserID  string
}

// LeaveLobby removes the user from the lobby roster and returns the lobby afterwards.
func (s *Service) LeaveLobby(ctx context.Context, req LeaveLobbyRequest) (*domain.Lobby, error) {
	if _, err := uuid.Parse(req.LobbyID); err != nil {
		return nil, notFound(req.LobbyID)
	}

	const stmt = `DELETE FROM lobby_players WHERE lobby_id = $1 AND user_id = $2;`

	tag, err := s.db.Exec(ctx, stmt, req.LobbyID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("delete player: %w", err)
	}

	l, err := s.GetLobby(ctx, GetLobbyRequest{LobbyID: req.LobbyID})
	if err != nil {
		return nil, err
	}

	if tag.RowsAffected() > 0 {
		s.eb.Publish(ctx, domain.EventLobbyChanged{LobbyID: req.LobbyID})
	}

	return l, nil
}

type DeleteLobbyRequest struct {
	LobbyID string
	// UserID must be the lobby creator.
	UserID string
}

func (s *Service) DeleteLobby(ctx context.Context, req DeleteLobbyRequest) error {
	l, err := s.GetLobby(ctx, GetLobbyRequest{LobbyID: req.LobbyID})
	if err != nil {
		return err
	}

	if l.Creator != req.UserID {
		return errors.New(errors.CodePermissionDenied, errors.WithMessagef("only the creator can delete the lobby"))
	}

	return s.deleteLobby(ctx, req.LobbyID)
}

func (s *Service) deleteLobby(ctx context.Context, lobbyID string) error {
	const stmt = `DELETE FROM lobbies WHERE lobby_id = $1;`

	tag, err := s.db.Exec(ctx, stmt, lobbyID)
	if err != nil {
		return fmt.Errorf("delete lobby %s: %w", lobbyID, err)
	}

	if tag.RowsAffected() > 0 {
		slog.InfoContext(ctx, "lobby: deleted", "lobby_id", lobbyID)
		s.eb.Publish(ctx, domain.EventLobbyChanged{LobbyID: lobbyID})
	}

	return nil
}

func (s *Service) setStatus(ctx context.Context, lobbyID string, status domain.LobbyStatus) error {
	const stmt = `UPDATE lobbies SET status = $2 WHERE lobby_id = $1;`

	if _, err := s.db.Exec(ctx, stmt, lobbyID, string(status)); err != nil {
		return fmt.Errorf("set lobby %s status: %w", lobbyID, err)
	}

	s.eb.Publish(ctx, domain.EventLobbyChanged{LobbyID: lobbyID})
	return nil
}

func notFound(lobbyID string) error {
	return errors.New(errors.CodeNotFound, errors.WithMessagef("lobby not found: id=%s", lobbyID))
}
