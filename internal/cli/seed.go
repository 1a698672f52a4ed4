package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/infra/postgres"
	"pair-quiz-service/internal/logger"
)

// NewSeedCmd loads the demo users and published questions into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo users and questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg); err != nil {
				return err
			}

			db := postgres.OpenBun(cfg.Postgres.URL)
			defer db.Close()

			users := postgres.NewUserLookup(db)
			for _, u := range demoUsers() {
				if _, err := users.Create(cmd.Context(), u); err != nil {
					return err
				}
			}

			bank := postgres.NewQuestionBank(db)
			existing, err := bank.LoadPublished(cmd.Context())
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				logger.Info("questions already seeded", "published", len(existing))
				return nil
			}
			for _, q := range sampleQuestions() {
				if _, err := bank.Create(cmd.Context(), q); err != nil {
					return fmt.Errorf("seed %q: %w", q.Body, err)
				}
			}
			logger.Info("seed complete", "users", len(demoUsers()), "questions", len(sampleQuestions()))
			return nil
		},
	}
}

func demoUsers() []domain.User {
	return []domain.User{
		{ID: "6f1c2d3e-0a4b-4c5d-8e9f-0a1b2c3d4e01", Login: "alice"},
		{ID: "6f1c2d3e-0a4b-4c5d-8e9f-0a1b2c3d4e02", Login: "bob"},
		{ID: "6f1c2d3e-0a4b-4c5d-8e9f-0a1b2c3d4e03", Login: "carol"},
	}
}

func sampleQuestions() []domain.Question {
	raw := []struct {
		body    string
		answers []string
	}{
		{"What is 2 + 2?", []string{"4", "four"}},
		{"Capital of France?", []string{"Paris"}},
		{"How many days are in a leap year?", []string{"366"}},
		{"Chemical symbol for gold?", []string{"Au"}},
		{"Largest planet of the solar system?", []string{"Jupiter"}},
		{"Who wrote 'Hamlet'?", []string{"Shakespeare", "William Shakespeare"}},
		{"Boiling point of water at sea level in Celsius?", []string{"100"}},
		{"How many sides does a hexagon have?", []string{"6", "six"}},
		{"Square root of 81?", []string{"9", "nine"}},
		{"Which ocean is the largest?", []string{"Pacific", "Pacific Ocean"}},
	}
	questions := make([]domain.Question, 0, len(raw))
	for _, q := range raw {
		questions = append(questions, domain.Question{ID: uuid.NewString(), Body: q.body, CorrectAnswers: q.answers, Published: true})
	}
	return questions
}
