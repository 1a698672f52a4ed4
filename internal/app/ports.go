package app

import (
	"context"
	"time"

	"pair-quiz-service/internal/domain"
)

// UserLookup resolves accounts owned by the user service.
type UserLookup interface {
	// ByID returns domain.ErrUserNotFound when no such user exists.
	ByID(ctx context.Context, userID string) (domain.User, error)
}

// QuestionBank supplies the questions of a newly paired game.
type QuestionBank interface {
	// RandomPublished returns n distinct published questions, or an error
	// wrapping domain.ErrNotEnoughQuestions.
	RandomPublished(ctx context.Context, n int) ([]domain.Question, error)
}

// GameTx is the view of the game store inside one atomic unit of work.
// Games returned by its lookups are locked until the transaction ends.
type GameTx interface {
	// LockUser serializes concurrent transactions acting for the same user.
	LockUser(ctx context.Context, userID string) error
	// FindWaitingGame returns the oldest pending game not opened by excludeUserID, or nil.
	FindWaitingGame(ctx context.Context, excludeUserID string) (*domain.Game, error)
	// FindCurrentGameForUser returns the pending or active game of userID, or nil.
	FindCurrentGameForUser(ctx context.Context, userID string) (*domain.Game, error)
	// FindByID returns domain.ErrGameNotFound when the game does not exist.
	FindByID(ctx context.Context, gameID string) (*domain.Game, error)
	// HasPlayer reports whether userID ever joined a game.
	HasPlayer(ctx context.Context, userID string) (bool, error)
	// SaveGame upserts the game row. Questions are attached on first save only.
	SaveGame(ctx context.Context, game *domain.Game) error
	// SavePlayer upserts the player row without its answers.
	SavePlayer(ctx context.Context, player *domain.Player) error
	// SaveAnswer appends an answer.
	SaveAnswer(ctx context.Context, answer *domain.Answer) error
}

// GraceWindow is a persisted finishing deadline of an active game.
type GraceWindow struct {
	GameID   string
	Deadline time.Time
}

// GameStore persists games, players and answers.
type GameStore interface {
	// WithinTx runs fn atomically. Any error returned by fn rolls back every write.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx GameTx) error) error
	FindCurrentGameForUser(ctx context.Context, userID string) (*domain.Game, error)
	FindByID(ctx context.Context, gameID string) (*domain.Game, error)
	// ListGamesForUser returns one page of the user's games, newest first, and the total count.
	ListGamesForUser(ctx context.Context, userID string, page domain.PageQuery) ([]*domain.Game, int, error)
	ListFinishedGamesForUser(ctx context.Context, userID string) ([]*domain.Game, error)
	// ListOpenGraceWindows returns every active game with a finishing deadline.
	ListOpenGraceWindows(ctx context.Context) ([]GraceWindow, error)
}

// Notifier fans game views out to the participants' live connections.
type Notifier interface {
	Publish(ctx context.Context, userID string, view domain.GameView) error
	// Subscribe returns a stream of views for userID. The caller must invoke the
	// returned cancel function to release it.
	Subscribe(ctx context.Context, userID string) (<-chan domain.GameView, func(), error)
}
