package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/logger"
)

// QuestionLoader fetches the published questions from the primary store.
type QuestionLoader interface {
	LoadPublished(ctx context.Context) ([]domain.Question, error)
}

// QuestionPool caches the published question set in Redis so every instance
// draws from the same snapshot, and falls back to the loader on a miss.
// Questions are stored as: HSET pairquiz:questions:published {questionID} {json}
type QuestionPool struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

const publishedQuestionsKey = "pairquiz:questions:published"

func NewQuestionPool(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionPool {
	return &QuestionPool{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RandomPublished implements app.QuestionBank.
func (p *QuestionPool) RandomPublished(ctx context.Context, n int) ([]domain.Question, error) {
	pool, err := p.published(ctx)
	if err != nil {
		return nil, err
	}
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
	return domain.PickQuestions(p.rnd, pool, n)
}

// Invalidate drops the cached set so the next draw reloads it.
func (p *QuestionPool) Invalidate(ctx context.Context) error {
	return p.client.Del(ctx, publishedQuestionsKey).Err()
}

func (p *QuestionPool) published(ctx context.Context) ([]domain.Question, error) {
	if pool, ok := p.cached(ctx); ok {
		return pool, nil
	}

	result, err, _ := p.sf.Do(publishedQuestionsKey, func() (interface{}, error) {
		// another goroutine may have filled the cache meanwhile
		if pool, ok := p.cached(ctx); ok {
			return pool, nil
		}

		pool, err := p.loader.LoadPublished(ctx)
		if err != nil {
			return nil, err
		}
		if len(pool) == 0 {
			return pool, nil
		}

		pipe := p.client.TxPipeline()
		pipe.Del(ctx, publishedQuestionsKey)
		for _, q := range pool {
			raw, err := json.Marshal(q)
			if err != nil {
				return nil, err
			}
			pipe.HSet(ctx, publishedQuestionsKey, q.ID, raw)
		}
		if ttl := p.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, publishedQuestionsKey, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("cache published questions failed", "error", err)
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (p *QuestionPool) cached(ctx context.Context) ([]domain.Question, bool) {
	entries, err := p.client.HGetAll(ctx, publishedQuestionsKey).Result()
	if err != nil || len(entries) == 0 {
		return nil, false
	}
	pool := make([]domain.Question, 0, len(entries))
	for id, raw := range entries {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			logger.Warn("drop malformed cached question", "question_id", id, "error", err)
			continue
		}
		pool = append(pool, q)
	}
	// hash iteration order is random; sort so draws depend only on rnd
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	return pool, true
}

func (p *QuestionPool) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	jitterMax := int64(p.ttl) / 10
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
	return p.ttl + time.Duration(p.rnd.Int63n(jitterMax+1))
}
