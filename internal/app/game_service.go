package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/logger"
	"pair-quiz-service/internal/metrics"

	"github.com/google/uuid"
)

// GameService contains the pair quiz use cases: matchmaking, answering and
// closing games whose grace window lapsed.
type GameService struct {
	users     UserLookup
	games     GameStore
	questions QuestionBank
	notifier  Notifier
	rules     Rules
	now       func() time.Time
	newID     func() string
	finalizer *Finalizer
}

// Option customizes a GameService.
type Option func(*GameService)

// WithRules overrides DefaultRules.
func WithRules(r Rules) Option {
	return func(s *GameService) { s.rules = r }
}

// WithClock replaces time.Now, mainly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *GameService) { s.now = now }
}

// WithIDGenerator replaces the UUID generator of games, players and answers.
func WithIDGenerator(newID func() string) Option {
	return func(s *GameService) { s.newID = newID }
}

// WithNotifier publishes game views after each committed change.
func WithNotifier(n Notifier) Option {
	return func(s *GameService) { s.notifier = n }
}

func NewGameService(users UserLookup, games GameStore, questions QuestionBank, opts ...Option) *GameService {
	s := &GameService{
		users:     users,
		games:     games,
		questions: questions,
		rules:     DefaultRules(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.finalizer = newFinalizer(s.finalizeGame, s.now)
	return s
}

// Finalizer exposes the grace window scheduler.
func (s *GameService) Finalizer() *Finalizer {
	return s.finalizer
}

// Connect pairs userID with a waiting game or opens a new one.
func (s *GameService) Connect(ctx context.Context, userID string) (domain.GameView, error) {
	user, err := s.users.ByID(ctx, userID)
	if err != nil {
		return domain.GameView{}, err
	}

	var (
		game   *domain.Game
		paired bool
	)
	err = s.games.WithinTx(ctx, func(ctx context.Context, tx GameTx) error {
		if err := tx.LockUser(ctx, user.ID); err != nil {
			return err
		}
		current, err := tx.FindCurrentGameForUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if current != nil {
			return fmt.Errorf("%w: user already plays game %s", domain.ErrForbidden, current.ID)
		}

		waiting, err := tx.FindWaitingGame(ctx, user.ID)
		if err != nil {
			return err
		}
		if waiting == nil {
			game, err = s.openGame(ctx, tx, user)
			return err
		}
		if waiting.Player(domain.SlotOne).UserID == user.ID {
			return fmt.Errorf("%w: cannot pair with own game", domain.ErrForbidden)
		}
		game, err = s.pairGame(ctx, tx, waiting, user)
		paired = err == nil
		return err
	})
	if err != nil {
		return domain.GameView{}, err
	}

	if paired {
		metrics.GamesStarted.Inc()
		logger.Info("game started", "game_id", game.ID, "user_id", user.ID)
	} else {
		metrics.GamesCreated.Inc()
		logger.Info("game opened", "game_id", game.ID, "user_id", user.ID)
	}
	view := domain.NewGameView(game)
	s.publish(ctx, game, view)
	return view, nil
}

func (s *GameService) openGame(ctx context.Context, tx GameTx, user domain.User) (*domain.Game, error) {
	now := s.now()
	game := &domain.Game{
		ID:              s.newID(),
		Status:          domain.StatusPendingSecondPlayer,
		PairCreatedDate: now,
	}
	game.Players[domain.SlotOne] = s.newPlayer(game.ID, user, now)

	if err := tx.SaveGame(ctx, game); err != nil {
		return nil, fmt.Errorf("save game: %w", err)
	}
	if err := tx.SavePlayer(ctx, game.Players[domain.SlotOne]); err != nil {
		return nil, fmt.Errorf("save player: %w", err)
	}
	return game, nil
}

func (s *GameService) pairGame(ctx context.Context, tx GameTx, game *domain.Game, user domain.User) (*domain.Game, error) {
	questions, err := s.questions.RandomPublished(ctx, s.rules.QuestionsPerGame)
	if err != nil {
		return nil, fmt.Errorf("pick questions: %w", err)
	}
	if len(questions) != s.rules.QuestionsPerGame {
		return nil, fmt.Errorf("%w: got %d questions", domain.ErrNotEnoughQuestions, len(questions))
	}

	now := s.now()
	second := s.newPlayer(game.ID, user, now)
	game.Players[domain.SlotTwo] = second
	game.Status = domain.StatusActive
	game.StartGameDate = &now
	game.Questions = questions

	if err := tx.SavePlayer(ctx, second); err != nil {
		return nil, fmt.Errorf("save player: %w", err)
	}
	if err := tx.SaveGame(ctx, game); err != nil {
		return nil, fmt.Errorf("save game: %w", err)
	}
	return game, nil
}

func (s *GameService) newPlayer(gameID string, user domain.User, now time.Time) *domain.Player {
	return &domain.Player{
		ID:        s.newID(),
		GameID:    gameID,
		UserID:    user.ID,
		Login:     user.Login,
		Score:     0,
		CreatedAt: now,
	}
}

// SubmitAnswer scores answer against the next question of userID's active game.
func (s *GameService) SubmitAnswer(ctx context.Context, userID, answer string) (domain.AnswerResult, error) {
	user, err := s.users.ByID(ctx, userID)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	var (
		game *domain.Game
		step answerStep
	)
	err = s.games.WithinTx(ctx, func(ctx context.Context, tx GameTx) error {
		game, err = tx.FindCurrentGameForUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if game == nil {
			known, err := tx.HasPlayer(ctx, user.ID)
			if err != nil {
				return err
			}
			if !known {
				return fmt.Errorf("%w: no player record", domain.ErrUserNotFound)
			}
			return fmt.Errorf("%w: no active pair", domain.ErrForbidden)
		}
		slot, ok := game.SlotOf(user.ID)
		if !ok {
			return fmt.Errorf("%w: not a participant", domain.ErrForbidden)
		}

		step, err = processAnswer(game, slot, answer, s.now(), s.rules, s.newID())
		if err != nil {
			return err
		}
		if err := tx.SaveAnswer(ctx, &step.answer); err != nil {
			return fmt.Errorf("save answer: %w", err)
		}
		if step.playerChanged {
			if err := tx.SavePlayer(ctx, step.player); err != nil {
				return fmt.Errorf("save player: %w", err)
			}
		}
		if step.gameChanged {
			if err := tx.SaveGame(ctx, game); err != nil {
				return fmt.Errorf("save game: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.AnswerResult{}, err
	}

	if game.IsFinished() {
		s.finalizer.Cancel(game.ID)
		metrics.GamesFinished.WithLabelValues(step.finishReason).Inc()
		logger.Info("game finished", "game_id", game.ID, "reason", step.finishReason)
	} else if game.FinishingExpirationDate != nil {
		s.finalizer.Schedule(game.ID, *game.FinishingExpirationDate)
	}
	s.publish(ctx, game, domain.NewGameView(game))

	if step.late {
		return domain.AnswerResult{}, fmt.Errorf("%w: grace window expired", domain.ErrForbidden)
	}
	return domain.AnswerResult{GameID: game.ID, AnswerView: domain.NewAnswerView(step.answer)}, nil
}

// FinalizeGame closes gameID if its grace window lapsed. It reports whether
// the game was finished by this call; finished games are left untouched.
func (s *GameService) FinalizeGame(ctx context.Context, gameID string) (bool, error) {
	var (
		finished bool
		game     *domain.Game
	)
	err := s.games.WithinTx(ctx, func(ctx context.Context, tx GameTx) error {
		g, err := tx.FindByID(ctx, gameID)
		if err != nil {
			return err
		}
		game = g
		if g.IsFinished() || g.FinishingExpirationDate == nil {
			return nil
		}
		deadline := *g.FinishingExpirationDate
		if s.now().Before(deadline) {
			return nil
		}
		g.Finish(deadline)
		if err := tx.SaveGame(ctx, g); err != nil {
			return fmt.Errorf("save game: %w", err)
		}
		finished = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			return false, nil
		}
		return false, err
	}
	if finished {
		metrics.GamesFinished.WithLabelValues(metrics.ReasonGraceExpired).Inc()
		logger.Info("game finished", "game_id", game.ID, "reason", metrics.ReasonGraceExpired)
		s.publish(ctx, game, domain.NewGameView(game))
	}
	return finished, nil
}

func (s *GameService) finalizeGame(ctx context.Context, gameID string) (time.Time, error) {
	finished, err := s.FinalizeGame(ctx, gameID)
	if err != nil || finished {
		return time.Time{}, err
	}
	game, err := s.games.FindByID(ctx, gameID)
	if err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if game.IsFinished() || game.FinishingExpirationDate == nil {
		return time.Time{}, nil
	}
	// timer fired ahead of the persisted deadline
	return *game.FinishingExpirationDate, nil
}

// RecoverGraceWindows re-arms timers for every persisted open grace window.
// Windows that lapsed while the process was down fire immediately.
func (s *GameService) RecoverGraceWindows(ctx context.Context) (int, error) {
	windows, err := s.games.ListOpenGraceWindows(ctx)
	if err != nil {
		return 0, fmt.Errorf("list grace windows: %w", err)
	}
	for _, w := range windows {
		s.finalizer.Schedule(w.GameID, w.Deadline)
	}
	return len(windows), nil
}

// Close stops the finalizer.
func (s *GameService) Close() {
	s.finalizer.Stop()
}

// FindCurrentGame returns the pending or active game of userID.
func (s *GameService) FindCurrentGame(ctx context.Context, userID string) (domain.GameView, error) {
	game, err := s.games.FindCurrentGameForUser(ctx, userID)
	if err != nil {
		return domain.GameView{}, err
	}
	if game == nil {
		return domain.GameView{}, fmt.Errorf("%w: no current game", domain.ErrGameNotFound)
	}
	return domain.NewGameView(game), nil
}

// FindGame returns gameID if userID participates in it.
func (s *GameService) FindGame(ctx context.Context, gameID, userID string) (domain.GameView, error) {
	if _, err := uuid.Parse(gameID); err != nil {
		return domain.GameView{}, fmt.Errorf("%w: invalid game id %q", domain.ErrBadRequest, gameID)
	}
	game, err := s.games.FindByID(ctx, gameID)
	if err != nil {
		return domain.GameView{}, err
	}
	if !game.HasParticipant(userID) {
		return domain.GameView{}, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	return domain.NewGameView(game), nil
}

// MyGames pages through every game userID played, newest first.
func (s *GameService) MyGames(ctx context.Context, userID string, page domain.PageQuery) (domain.GamePage, error) {
	page = page.Normalize()
	games, total, err := s.games.ListGamesForUser(ctx, userID, page)
	if err != nil {
		return domain.GamePage{}, err
	}
	items := make([]domain.GameView, 0, len(games))
	for _, g := range games {
		items = append(items, domain.NewGameView(g))
	}
	return domain.GamePage{
		PagesCount: (total + page.PageSize - 1) / page.PageSize,
		Page:       page.PageNumber,
		PageSize:   page.PageSize,
		TotalCount: total,
		Items:      items,
	}, nil
}

// MyStatistic aggregates the finished games of userID.
func (s *GameService) MyStatistic(ctx context.Context, userID string) (domain.Statistic, error) {
	games, err := s.games.ListFinishedGamesForUser(ctx, userID)
	if err != nil {
		return domain.Statistic{}, err
	}
	return domain.BuildStatistic(userID, games), nil
}

// Subscribe streams views of userID's games as they change.
func (s *GameService) Subscribe(ctx context.Context, userID string) (<-chan domain.GameView, func(), error) {
	if s.notifier == nil {
		return nil, nil, errors.New("live updates are not configured")
	}
	return s.notifier.Subscribe(ctx, userID)
}

func (s *GameService) publish(ctx context.Context, game *domain.Game, view domain.GameView) {
	if s.notifier == nil {
		return
	}
	for _, p := range game.Players {
		if p == nil {
			continue
		}
		if err := s.notifier.Publish(ctx, p.UserID, view); err != nil {
			logger.Warn("publish game update failed", "game_id", game.ID, "user_id", p.UserID, "error", err)
		}
	}
}
