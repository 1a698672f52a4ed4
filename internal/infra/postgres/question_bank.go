package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"pair-quiz-service/internal/domain"
)

type questionModel struct {
	bun.BaseModel `bun:"table:quiz_questions,alias:q"`

	ID             string     `bun:"id,pk,type:uuid"`
	Body           string     `bun:"body,notnull"`
	CorrectAnswers []string   `bun:"correct_answers,type:jsonb,notnull"`
	Published      bool       `bun:"published,notnull"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      *time.Time `bun:"updated_at"`
}

func (m questionModel) toDomain() domain.Question {
	return domain.Question{
		ID:             m.ID,
		Body:           m.Body,
		CorrectAnswers: m.CorrectAnswers,
		Published:      m.Published,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// QuestionBank reads and maintains quiz questions through bun.
type QuestionBank struct {
	db *bun.DB
}

func NewQuestionBank(db *bun.DB) *QuestionBank {
	return &QuestionBank{db: db}
}

// LoadPublished returns every published question. It feeds the cached pools.
func (b *QuestionBank) LoadPublished(ctx context.Context) ([]domain.Question, error) {
	var rows []questionModel
	err := b.db.NewSelect().
		Model(&rows).
		Where("q.published = TRUE").
		Order("q.created_at").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load published questions: %w", err)
	}
	return toDomainQuestions(rows), nil
}

// RandomPublished lets Postgres draw the sample when no cache sits in front.
func (b *QuestionBank) RandomPublished(ctx context.Context, n int) ([]domain.Question, error) {
	var rows []questionModel
	err := b.db.NewSelect().
		Model(&rows).
		Where("q.published = TRUE").
		OrderExpr("random()").
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("random published questions: %w", err)
	}
	if len(rows) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", domain.ErrNotEnoughQuestions, n, len(rows))
	}
	return toDomainQuestions(rows), nil
}

// Create stores q, assigning an id and creation time when missing.
func (b *QuestionBank) Create(ctx context.Context, q domain.Question) (domain.Question, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	if q.CorrectAnswers == nil {
		q.CorrectAnswers = []string{}
	}
	row := questionModel{
		ID:             q.ID,
		Body:           q.Body,
		CorrectAnswers: q.CorrectAnswers,
		Published:      q.Published,
		CreatedAt:      q.CreatedAt,
		UpdatedAt:      q.UpdatedAt,
	}
	if _, err := b.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.Question{}, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// SetPublished toggles the publication flag of a question.
func (b *QuestionBank) SetPublished(ctx context.Context, id string, published bool) error {
	res, err := b.db.NewUpdate().
		Model((*questionModel)(nil)).
		Set("published = ?", published).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("publish question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: question %s", domain.ErrBadRequest, id)
	}
	return nil
}

func toDomainQuestions(rows []questionModel) []domain.Question {
	questions := make([]domain.Question, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, row.toDomain())
	}
	return questions
}
