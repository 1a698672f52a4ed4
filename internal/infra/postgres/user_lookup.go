package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"pair-quiz-service/internal/domain"
)

type userModel struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk,type:uuid"`
	Login     string    `bun:"login,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// UserLookup reads accounts from the users table.
type UserLookup struct {
	db *bun.DB
}

func NewUserLookup(db *bun.DB) *UserLookup {
	return &UserLookup{db: db}
}

func (l *UserLookup) ByID(ctx context.Context, userID string) (domain.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	var row userModel
	err := l.db.NewSelect().Model(&row).Where("u.id = ?", userID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return domain.User{ID: row.ID, Login: row.Login}, nil
}

// Create inserts an account, ignoring a login that already exists.
func (l *UserLookup) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	row := userModel{ID: user.ID, Login: user.Login, CreatedAt: time.Now().UTC()}
	_, err := l.db.NewInsert().Model(&row).On("CONFLICT (login) DO NOTHING").Exec(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
