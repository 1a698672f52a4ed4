package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/logger"
)

// Notifier routes game views through Redis pub/sub so a player connected to
// any instance receives updates produced by another one.
type Notifier struct {
	client *redis.Client
	buffer int
}

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client, buffer: 8}
}

func (n *Notifier) Publish(ctx context.Context, userID string, view domain.GameView) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal game view: %w", err)
	}
	if err := n.client.Publish(ctx, channelFor(userID), raw).Err(); err != nil {
		return fmt.Errorf("publish game view: %w", err)
	}
	return nil
}

func (n *Notifier) Subscribe(ctx context.Context, userID string) (<-chan domain.GameView, func(), error) {
	ps := n.client.Subscribe(ctx, channelFor(userID))
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", userID, err)
	}

	out := make(chan domain.GameView, n.buffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var view domain.GameView
				if err := json.Unmarshal([]byte(msg.Payload), &view); err != nil {
					logger.Warn("drop malformed game update", "user_id", userID, "error", err)
					continue
				}
				select {
				case out <- view:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}

func channelFor(userID string) string {
	return "pairquiz:user:" + userID
}
