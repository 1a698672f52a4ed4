package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/infra/memory"
)

func TestQuestionPoolCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestions(6))}
	pool := NewQuestionPool(newClient(mr), loader, time.Minute)

	picked, err := pool.RandomPublished(context.Background(), 5)
	if err != nil {
		t.Fatalf("random published: %v", err)
	}
	if len(picked) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(picked))
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists(publishedQuestionsKey) {
		t.Fatalf("expected %s to be cached", publishedQuestionsKey)
	}
	if ttl := mr.TTL(publishedQuestionsKey); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	// second draw must come from the cache
	picked, err = pool.RandomPublished(context.Background(), 5)
	if err != nil {
		t.Fatalf("random published 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	for _, q := range picked {
		if len(q.CorrectAnswers) == 0 {
			t.Fatalf("cached question %s lost its answers", q.ID)
		}
	}
}

func TestQuestionPoolSharedAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	first := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestions(5))}
	second := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestions(5))}

	_, _ = NewQuestionPool(newClient(mr), first, time.Minute).RandomPublished(context.Background(), 5)
	_, err = NewQuestionPool(newClient(mr), second, time.Minute).RandomPublished(context.Background(), 5)
	if err != nil {
		t.Fatalf("random published: %v", err)
	}
	if second.calls != 0 {
		t.Fatalf("expected second instance to reuse cache, loader calls=%d", second.calls)
	}
}

func TestQuestionPoolReloadsAfterInvalidate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestions(5))}
	pool := NewQuestionPool(newClient(mr), loader, time.Minute)

	_, _ = pool.RandomPublished(context.Background(), 5)
	if err := pool.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = pool.RandomPublished(context.Background(), 5)
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls)
	}
}

func TestQuestionPoolNotEnoughQuestions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	questions := sampleQuestions(5)
	questions[2].Published = false
	pool := NewQuestionPool(newClient(mr), memory.NewStaticQuestionLoader(questions), time.Minute)

	_, err = pool.RandomPublished(context.Background(), 5)
	if !errors.Is(err, domain.ErrNotEnoughQuestions) {
		t.Fatalf("expected ErrNotEnoughQuestions, got %v", err)
	}
}

type countingLoader struct {
	memory.QuestionLoader
	calls int
}

func (l *countingLoader) LoadPublished(ctx context.Context) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadPublished(ctx)
}

func sampleQuestions(n int) []domain.Question {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	questions := make([]domain.Question, 0, n)
	for i := 1; i <= n; i++ {
		questions = append(questions, domain.Question{
			ID:             fmt.Sprintf("q%d", i),
			Body:           fmt.Sprintf("What is %d * 2?", i),
			CorrectAnswers: []string{fmt.Sprint(i * 2)},
			Published:      true,
			CreatedAt:      created,
		})
	}
	return questions
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
