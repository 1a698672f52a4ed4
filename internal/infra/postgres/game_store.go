package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pair-quiz-service/internal/app"
	"pair-quiz-service/internal/domain"
)

const matchmakingLockKey int64 = 0x70717a6d

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// GameStore persists pair games in Postgres.
// Writes run in a transaction; lookups inside it lock the game rows they return.
type GameStore struct {
	pool *pgxpool.Pool
}

func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{pool: pool}
}

func (s *GameStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx app.GameTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &gameTx{q: tx, assigned: make(map[string]bool)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *GameStore) FindCurrentGameForUser(ctx context.Context, userID string) (*domain.Game, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	return findCurrentGame(ctx, s.pool, userID, false)
}

func (s *GameStore) FindByID(ctx context.Context, gameID string) (*domain.Game, error) {
	if !isUUID(gameID) {
		return nil, domain.ErrGameNotFound
	}
	return loadGame(ctx, s.pool, gameID, false)
}

func (s *GameStore) ListGamesForUser(ctx context.Context, userID string, page domain.PageQuery) ([]*domain.Game, int, error) {
	if !isUUID(userID) {
		return nil, 0, nil
	}
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM quiz_games
		WHERE player_one_user_id = $1 OR player_two_user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count games: %w", err)
	}

	ids, err := collectIDs(ctx, s.pool, `
		SELECT id::text FROM quiz_games
		WHERE player_one_user_id = $1 OR player_two_user_id = $1
		ORDER BY pair_created_date DESC, id
		LIMIT $2 OFFSET $3`, userID, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	games, err := loadGames(ctx, s.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	return games, total, nil
}

func (s *GameStore) ListFinishedGamesForUser(ctx context.Context, userID string) ([]*domain.Game, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	ids, err := collectIDs(ctx, s.pool, `
		SELECT id::text FROM quiz_games
		WHERE status = $2 AND (player_one_user_id = $1 OR player_two_user_id = $1)
		ORDER BY pair_created_date DESC, id`, userID, string(domain.StatusFinished))
	if err != nil {
		return nil, err
	}
	return loadGames(ctx, s.pool, ids)
}

func (s *GameStore) ListOpenGraceWindows(ctx context.Context) ([]app.GraceWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, finishing_expiration_date FROM quiz_games
		WHERE status = $1 AND finishing_expiration_date IS NOT NULL
		ORDER BY finishing_expiration_date`, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list grace windows: %w", err)
	}
	defer rows.Close()

	var windows []app.GraceWindow
	for rows.Next() {
		var w app.GraceWindow
		if err := rows.Scan(&w.GameID, &w.Deadline); err != nil {
			return nil, fmt.Errorf("scan grace window: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

type gameTx struct {
	q querier
	// assigned marks games whose question set is already stored.
	assigned map[string]bool
}

// LockUser takes a transaction scoped advisory lock keyed by the user id.
func (t *gameTx) LockUser(ctx context.Context, userID string) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

// FindWaitingGame serializes matchmaking across instances with a transaction
// scoped advisory lock, so two concurrent openers cannot both miss each other.
func (t *gameTx) FindWaitingGame(ctx context.Context, excludeUserID string) (*domain.Game, error) {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, matchmakingLockKey); err != nil {
		return nil, fmt.Errorf("lock matchmaking: %w", err)
	}
	var id string
	err := t.q.QueryRow(ctx, `
		SELECT id::text FROM quiz_games
		WHERE status = $1 AND player_two_id IS NULL AND player_one_user_id <> $2
		ORDER BY pair_created_date
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, string(domain.StatusPendingSecondPlayer), excludeUserID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find waiting game: %w", err)
	}
	return t.load(ctx, id)
}

func (t *gameTx) FindCurrentGameForUser(ctx context.Context, userID string) (*domain.Game, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	g, err := findCurrentGame(ctx, t.q, userID, true)
	if err != nil || g == nil {
		return g, err
	}
	t.assigned[g.ID] = len(g.Questions) > 0
	return g, nil
}

func (t *gameTx) FindByID(ctx context.Context, gameID string) (*domain.Game, error) {
	if !isUUID(gameID) {
		return nil, domain.ErrGameNotFound
	}
	return t.load(ctx, gameID)
}

func (t *gameTx) HasPlayer(ctx context.Context, userID string) (bool, error) {
	if !isUUID(userID) {
		return false, nil
	}
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quiz_players WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check player: %w", err)
	}
	return exists, nil
}

func (t *gameTx) SaveGame(ctx context.Context, game *domain.Game) error {
	var (
		playerOne, userOne string
		playerTwo, userTwo *string
	)
	if p := game.Player(domain.SlotOne); p != nil {
		playerOne, userOne = p.ID, p.UserID
	}
	if p := game.Player(domain.SlotTwo); p != nil {
		playerTwo, userTwo = &p.ID, &p.UserID
	}

	_, err := t.q.Exec(ctx, `
		INSERT INTO quiz_games (
			id, status, pair_created_date, start_game_date, finish_game_date,
			finishing_expiration_date, player_one_id, player_one_user_id, player_two_id, player_two_user_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			start_game_date = EXCLUDED.start_game_date,
			finish_game_date = EXCLUDED.finish_game_date,
			finishing_expiration_date = EXCLUDED.finishing_expiration_date,
			player_two_id = EXCLUDED.player_two_id,
			player_two_user_id = EXCLUDED.player_two_user_id`,
		game.ID, string(game.Status), game.PairCreatedDate, game.StartGameDate, game.FinishGameDate,
		game.FinishingExpirationDate, playerOne, userOne, playerTwo, userTwo)
	if err != nil {
		return fmt.Errorf("save game: %w", err)
	}

	if len(game.Questions) == 0 || t.assigned[game.ID] {
		return nil
	}
	batch := &pgx.Batch{}
	for i, q := range game.Questions {
		batch.Queue(`
			INSERT INTO quiz_game_questions (game_id, position, question_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (game_id, position) DO NOTHING`, game.ID, i, q.ID)
	}
	br := t.q.SendBatch(ctx, batch)
	defer br.Close()
	for range game.Questions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save game questions: %w", err)
		}
	}
	t.assigned[game.ID] = true
	return nil
}

func (t *gameTx) SavePlayer(ctx context.Context, player *domain.Player) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO quiz_players (id, game_id, user_id, login, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET score = EXCLUDED.score`,
		player.ID, player.GameID, player.UserID, player.Login, player.Score, player.CreatedAt)
	if err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	return nil
}

func (t *gameTx) SaveAnswer(ctx context.Context, answer *domain.Answer) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO quiz_answers (id, player_id, question_id, status, added_at)
		VALUES ($1, $2, $3, $4, $5)`,
		answer.ID, answer.PlayerID, answer.QuestionID, string(answer.Status), answer.AddedAt)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

func (t *gameTx) load(ctx context.Context, gameID string) (*domain.Game, error) {
	g, err := loadGame(ctx, t.q, gameID, true)
	if err != nil {
		return nil, err
	}
	t.assigned[g.ID] = len(g.Questions) > 0
	return g, nil
}

func findCurrentGame(ctx context.Context, q querier, userID string, forUpdate bool) (*domain.Game, error) {
	var id string
	err := q.QueryRow(ctx, `
		SELECT id::text FROM quiz_games
		WHERE status IN ($2, $3) AND (player_one_user_id = $1 OR player_two_user_id = $1)
		ORDER BY pair_created_date DESC
		LIMIT 1`,
		userID, string(domain.StatusPendingSecondPlayer), string(domain.StatusActive)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find current game: %w", err)
	}
	return loadGame(ctx, q, id, forUpdate)
}

// isUUID guards uuid columns from ids that would fail the cast.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func collectIDs(ctx context.Context, q querier, sql string, args ...interface{}) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan game id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadGames(ctx context.Context, q querier, ids []string) ([]*domain.Game, error) {
	games := make([]*domain.Game, 0, len(ids))
	for _, id := range ids {
		g, err := loadGame(ctx, q, id, false)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, nil
}

// loadGame assembles a game with its players, answers and questions.
func loadGame(ctx context.Context, q querier, gameID string, forUpdate bool) (*domain.Game, error) {
	sql := `
		SELECT id::text, status, pair_created_date, start_game_date, finish_game_date,
			finishing_expiration_date, player_one_id::text, player_two_id::text
		FROM quiz_games WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var (
		g          domain.Game
		status     string
		playerOne  string
		playerTwo  *string
		startDate  *time.Time
		finishDate *time.Time
		expDate    *time.Time
	)
	err := q.QueryRow(ctx, sql, gameID).Scan(
		&g.ID, &status, &g.PairCreatedDate, &startDate, &finishDate, &expDate, &playerOne, &playerTwo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load game: %w", err)
	}
	g.Status = domain.GameStatus(status)
	g.StartGameDate, g.FinishGameDate, g.FinishingExpirationDate = startDate, finishDate, expDate

	players, err := loadPlayers(ctx, q, g.ID)
	if err != nil {
		return nil, err
	}
	if p, ok := players[playerOne]; ok {
		g.Players[domain.SlotOne] = p
	}
	if playerTwo != nil {
		if p, ok := players[*playerTwo]; ok {
			g.Players[domain.SlotTwo] = p
		}
	}

	if g.Questions, err = loadQuestions(ctx, q, g.ID); err != nil {
		return nil, err
	}
	return &g, nil
}

func loadPlayers(ctx context.Context, q querier, gameID string) (map[string]*domain.Player, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, game_id::text, user_id::text, login, score, created_at
		FROM quiz_players WHERE game_id = $1`, gameID)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	players := make(map[string]*domain.Player, 2)
	for rows.Next() {
		p := &domain.Player{}
		if err := rows.Scan(&p.ID, &p.GameID, &p.UserID, &p.Login, &p.Score, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT a.id::text, a.player_id::text, a.question_id::text, a.status, a.added_at
		FROM quiz_answers a
		JOIN quiz_players p ON p.id = a.player_id
		WHERE p.game_id = $1
		ORDER BY a.seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a      domain.Answer
			status string
		)
		if err := rows.Scan(&a.ID, &a.PlayerID, &a.QuestionID, &status, &a.AddedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.Status = domain.AnswerStatus(status)
		if p, ok := players[a.PlayerID]; ok {
			p.Answers = append(p.Answers, a)
		}
	}
	return players, rows.Err()
}

func loadQuestions(ctx context.Context, q querier, gameID string) ([]domain.Question, error) {
	rows, err := q.Query(ctx, `
		SELECT q.id::text, q.body, q.correct_answers, q.published, q.created_at, q.updated_at
		FROM quiz_game_questions gq
		JOIN quiz_questions q ON q.id = gq.question_id
		WHERE gq.game_id = $1
		ORDER BY gq.position`, gameID)
	if err != nil {
		return nil, fmt.Errorf("load game questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			question domain.Question
			raw      []byte
		)
		if err := rows.Scan(&question.ID, &question.Body, &raw, &question.Published, &question.CreatedAt, &question.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan game question: %w", err)
		}
		if err := json.Unmarshal(raw, &question.CorrectAnswers); err != nil {
			return nil, fmt.Errorf("unmarshal correct answers: %w", err)
		}
		questions = append(questions, question)
	}
	return questions, rows.Err()
}
