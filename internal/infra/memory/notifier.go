package memory

import (
	"context"
	"sync"

	"pair-quiz-service/internal/domain"
)

// Notifier fans game views out to in-process subscribers, keyed by user id.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.GameView]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[string]map[chan domain.GameView]struct{})}
}

func (n *Notifier) Publish(_ context.Context, userID string, view domain.GameView) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subscribers[userID] {
		select {
		case ch <- view:
		default:
			// drop the stale update so a slow client never blocks publishers
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
	return nil
}

func (n *Notifier) Subscribe(_ context.Context, userID string) (<-chan domain.GameView, func(), error) {
	ch := make(chan domain.GameView, 8)

	n.mu.Lock()
	subs, ok := n.subscribers[userID]
	if !ok {
		subs = make(map[chan domain.GameView]struct{})
		n.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subscribers[userID]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(n.subscribers, userID)
		}
	}
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions of userID.
func (n *Notifier) Subscribers(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers[userID])
}
