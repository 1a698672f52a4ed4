package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pair-quiz-service/internal/app"
	"pair-quiz-service/internal/config"
	"pair-quiz-service/internal/infra/memory"
	"pair-quiz-service/internal/infra/postgres"
	redisinfra "pair-quiz-service/internal/infra/redis"
	"pair-quiz-service/internal/logger"
	transport "pair-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the pair quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends are the store implementations selected by config.
type backends struct {
	users     app.UserLookup
	games     app.GameStore
	questions app.QuestionBank
	notifier  app.Notifier
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured")
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	deps, err := buildBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	service := app.NewGameService(deps.users, deps.games, deps.questions,
		app.WithRules(rulesFromConfig(cfg)),
		app.WithNotifier(deps.notifier),
	)
	defer service.Close()

	recovered, err := service.RecoverGraceWindows(ctx)
	if err != nil {
		return fmt.Errorf("recover grace windows: %w", err)
	}
	if recovered > 0 {
		logger.Info("rescheduled open grace windows", "games", recovered)
	}

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(service, transport.NewAuthenticator(cfg.Auth.JWTSecret)),
		ReadHeaderTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting pair quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func rulesFromConfig(cfg config.Config) app.Rules {
	rules := app.DefaultRules()
	if cfg.Game.QuestionsPerGame > 0 {
		rules.QuestionsPerGame = cfg.Game.QuestionsPerGame
	}
	rules.GraceWindow = config.TTLDuration(cfg.Game.GraceWindow, rules.GraceWindow)
	return rules
}

// buildBackends picks Postgres when a URL is configured and memory otherwise,
// and puts Redis in front of the question set and live updates when available.
func buildBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	deps := &backends{}
	questionTTL := config.TTLDuration(cfg.Questions.CacheTTL, config.TTLDuration(cfg.Redis.TTL, time.Minute))

	var loader memory.QuestionLoader
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return nil, err
		}
		pool, err := postgres.OpenPool(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, pool.Close)
		db := postgres.OpenBun(cfg.Postgres.URL)
		deps.closers = append(deps.closers, func() { _ = db.Close() })

		deps.users = postgres.NewUserLookup(db)
		deps.games = postgres.NewGameStore(pool)
		loader = postgres.NewQuestionBank(db)
	} else {
		logger.Warn("postgres not configured, using in-memory stores")
		deps.users = memory.NewUserDirectory(demoUsers()...)
		deps.games = memory.NewGameStore()
		loader = memory.NewStaticQuestionLoader(sampleQuestions())
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			deps.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.closers = append(deps.closers, func() { _ = client.Close() })
		deps.questions = redisinfra.NewQuestionPool(client, loader, questionTTL)
		deps.notifier = redisinfra.NewNotifier(client)
		return deps, nil
	}

	deps.questions = memory.NewQuestionPool(loader, questionTTL)
	deps.notifier = memory.NewNotifier()
	return deps, nil
}
