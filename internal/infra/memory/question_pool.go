package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"pair-quiz-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches the published questions from a backing store.
type QuestionLoader interface {
	LoadPublished(ctx context.Context) ([]domain.Question, error)
}

// QuestionPool caches the published question set with TTL and draws
// random questions from it.
type QuestionPool struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu     sync.RWMutex
	cached []domain.Question
	expiry time.Time
}

const publishedKey = "published"

func NewQuestionPool(loader QuestionLoader, ttl time.Duration) *QuestionPool {
	return &QuestionPool{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
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

func (p *QuestionPool) published(ctx context.Context) ([]domain.Question, error) {
	if pool, ok := p.fresh(); ok {
		return pool, nil
	}

	result, err, _ := p.sf.Do(publishedKey, func() (interface{}, error) {
		if pool, ok := p.fresh(); ok {
			return pool, nil
		}

		pool, err := p.loader.LoadPublished(ctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cached = pool
		p.expiry = p.clock().Add(p.ttlWithJitter())
		p.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (p *QuestionPool) fresh() ([]domain.Question, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached != nil && p.expiry.After(p.clock()) {
		return p.cached, true
	}
	return nil, false
}

func (p *QuestionPool) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(p.ttl) / 10
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
	return p.ttl + time.Duration(p.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves a fixed question set (tests, demos).
type StaticQuestionLoader struct {
	questions []domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) LoadPublished(_ context.Context) ([]domain.Question, error) {
	published := make([]domain.Question, 0, len(l.questions))
	for _, q := range l.questions {
		if q.Published {
			published = append(published, q)
		}
	}
	return published, nil
}
