package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pair-quiz-service/internal/app"
	"pair-quiz-service/internal/domain"
)

// GameStore is an in-memory implementation of app.GameStore.
// Transactions are serialized by a single mutex and work on a copy of the
// state that replaces the committed one only when fn succeeds.
type GameStore struct {
	mu sync.Mutex
	st state
}

type gameRow struct {
	ID                      string
	Status                  domain.GameStatus
	PairCreatedDate         time.Time
	StartGameDate           *time.Time
	FinishGameDate          *time.Time
	FinishingExpirationDate *time.Time
	PlayerIDs               [2]string
	Questions               []domain.Question
}

type state struct {
	games   map[string]gameRow
	players map[string]domain.Player
	answers map[string][]domain.Answer
	// current indexes pending and active games by participant user id
	current map[string]string
	// gamesByUser lists every game a user joined, in join order
	gamesByUser map[string][]string
}

func newState() state {
	return state{
		games:       make(map[string]gameRow),
		players:     make(map[string]domain.Player),
		answers:     make(map[string][]domain.Answer),
		current:     make(map[string]string),
		gamesByUser: make(map[string][]string),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.games {
		c.games[k] = v
	}
	for k, v := range s.players {
		c.players[k] = v
	}
	for k, v := range s.answers {
		c.answers[k] = v
	}
	for k, v := range s.current {
		c.current[k] = v
	}
	for k, v := range s.gamesByUser {
		c.gamesByUser[k] = v
	}
	return c
}

func NewGameStore() *GameStore {
	return &GameStore{st: newState()}
}

func (s *GameStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx app.GameTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &gameTx{st: s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *GameStore) FindCurrentGameForUser(_ context.Context, userID string) (*domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.currentGame(userID), nil
}

func (s *GameStore) FindByID(_ context.Context, gameID string) (*domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.st.assemble(gameID)
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	return g, nil
}

func (s *GameStore) ListGamesForUser(_ context.Context, userID string, page domain.PageQuery) ([]*domain.Game, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	games := s.st.userGames(userID, false)
	total := len(games)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.PageSize
	if end > total {
		end = total
	}
	return games[start:end], total, nil
}

func (s *GameStore) ListFinishedGamesForUser(_ context.Context, userID string) ([]*domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.userGames(userID, true), nil
}

func (s *GameStore) ListOpenGraceWindows(_ context.Context) ([]app.GraceWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var windows []app.GraceWindow
	for _, row := range s.st.games {
		if row.Status == domain.StatusActive && row.FinishingExpirationDate != nil {
			windows = append(windows, app.GraceWindow{GameID: row.ID, Deadline: *row.FinishingExpirationDate})
		}
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Deadline.Before(windows[j].Deadline) })
	return windows, nil
}

type gameTx struct {
	st state
}

// LockUser is a no-op: the store mutex already serializes transactions.
func (t *gameTx) LockUser(context.Context, string) error {
	return nil
}

func (t *gameTx) FindWaitingGame(_ context.Context, excludeUserID string) (*domain.Game, error) {
	var oldest *gameRow
	for id := range t.st.games {
		row := t.st.games[id]
		if row.Status != domain.StatusPendingSecondPlayer || row.PlayerIDs[domain.SlotTwo] != "" {
			continue
		}
		if owner, ok := t.st.players[row.PlayerIDs[domain.SlotOne]]; ok && owner.UserID == excludeUserID {
			continue
		}
		if oldest == nil || row.PairCreatedDate.Before(oldest.PairCreatedDate) {
			oldest = &row
		}
	}
	if oldest == nil {
		return nil, nil
	}
	g, _ := t.st.assemble(oldest.ID)
	return g, nil
}

func (t *gameTx) FindCurrentGameForUser(_ context.Context, userID string) (*domain.Game, error) {
	return t.st.currentGame(userID), nil
}

func (t *gameTx) FindByID(_ context.Context, gameID string) (*domain.Game, error) {
	g, ok := t.st.assemble(gameID)
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	return g, nil
}

func (t *gameTx) HasPlayer(_ context.Context, userID string) (bool, error) {
	return len(t.st.gamesByUser[userID]) > 0, nil
}

func (t *gameTx) SaveGame(_ context.Context, game *domain.Game) error {
	row := gameRow{
		ID:                      game.ID,
		Status:                  game.Status,
		PairCreatedDate:         game.PairCreatedDate,
		StartGameDate:           copyTime(game.StartGameDate),
		FinishGameDate:          copyTime(game.FinishGameDate),
		FinishingExpirationDate: copyTime(game.FinishingExpirationDate),
	}
	for _, slot := range []domain.Slot{domain.SlotOne, domain.SlotTwo} {
		if p := game.Player(slot); p != nil {
			row.PlayerIDs[slot] = p.ID
		}
	}
	if prev, ok := t.st.games[game.ID]; ok && len(prev.Questions) > 0 {
		row.Questions = prev.Questions
	} else if len(game.Questions) > 0 {
		row.Questions = append([]domain.Question(nil), game.Questions...)
	}
	t.st.games[game.ID] = row

	for _, p := range game.Players {
		if p == nil {
			continue
		}
		switch {
		case game.Status != domain.StatusFinished:
			t.st.current[p.UserID] = game.ID
		case t.st.current[p.UserID] == game.ID:
			delete(t.st.current, p.UserID)
		}
	}
	return nil
}

func (t *gameTx) SavePlayer(_ context.Context, player *domain.Player) error {
	if _, exists := t.st.players[player.ID]; !exists {
		ids := t.st.gamesByUser[player.UserID]
		t.st.gamesByUser[player.UserID] = append(append([]string(nil), ids...), player.GameID)
	}
	row := *player
	row.Answers = nil
	t.st.players[player.ID] = row
	return nil
}

func (t *gameTx) SaveAnswer(_ context.Context, answer *domain.Answer) error {
	prev := t.st.answers[answer.PlayerID]
	t.st.answers[answer.PlayerID] = append(append([]domain.Answer(nil), prev...), *answer)
	return nil
}

func (s state) currentGame(userID string) *domain.Game {
	id, ok := s.current[userID]
	if !ok {
		return nil
	}
	g, ok := s.assemble(id)
	if !ok {
		return nil
	}
	return g
}

// assemble builds a detached Game from the stored rows.
func (s state) assemble(gameID string) (*domain.Game, bool) {
	row, ok := s.games[gameID]
	if !ok {
		return nil, false
	}
	g := &domain.Game{
		ID:                      row.ID,
		Status:                  row.Status,
		PairCreatedDate:         row.PairCreatedDate,
		StartGameDate:           copyTime(row.StartGameDate),
		FinishGameDate:          copyTime(row.FinishGameDate),
		FinishingExpirationDate: copyTime(row.FinishingExpirationDate),
		Questions:               append([]domain.Question(nil), row.Questions...),
	}
	for slot, pid := range row.PlayerIDs {
		if pid == "" {
			continue
		}
		p, ok := s.players[pid]
		if !ok {
			continue
		}
		p.Answers = append([]domain.Answer(nil), s.answers[pid]...)
		g.Players[slot] = &p
	}
	return g, true
}

func (s state) userGames(userID string, finishedOnly bool) []*domain.Game {
	var games []*domain.Game
	for _, id := range s.gamesByUser[userID] {
		g, ok := s.assemble(id)
		if !ok {
			continue
		}
		if finishedOnly && !g.IsFinished() {
			continue
		}
		games = append(games, g)
	}
	sort.SliceStable(games, func(i, j int) bool {
		return games[i].PairCreatedDate.After(games[j].PairCreatedDate)
	})
	return games
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
