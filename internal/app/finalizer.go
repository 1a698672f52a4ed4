package app

import (
	"context"
	"sync"
	"time"

	"pair-quiz-service/internal/logger"
)

// finalizeFunc closes a game whose grace window lapsed. It returns the
// deadline still pending when the game is not yet due, or the zero time.
type finalizeFunc func(ctx context.Context, gameID string) (time.Time, error)

// Finalizer keeps one cancellable timer per game with an open grace window.
// Timers only carry the game id; the game is re-read from the store on fire.
type Finalizer struct {
	finalize finalizeFunc
	now      func() time.Time
	timeout  time.Duration

	mu      sync.Mutex
	timers  map[string]*scheduledFinish
	stopped bool
	wg      sync.WaitGroup
}

type scheduledFinish struct {
	timer    *time.Timer
	deadline time.Time
}

func newFinalizer(finalize finalizeFunc, now func() time.Time) *Finalizer {
	return &Finalizer{
		finalize: finalize,
		now:      now,
		timeout:  5 * time.Second,
		timers:   make(map[string]*scheduledFinish),
	}
}

// Schedule arms the timer of gameID for deadline, replacing any earlier one.
func (f *Finalizer) Schedule(gameID string, deadline time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	if prev, ok := f.timers[gameID]; ok {
		if prev.deadline.Equal(deadline) {
			return
		}
		prev.timer.Stop()
	}

	delay := deadline.Sub(f.now())
	if delay < 0 {
		delay = 0
	}
	entry := &scheduledFinish{deadline: deadline}
	entry.timer = time.AfterFunc(delay, func() { f.fire(gameID, entry) })
	f.timers[gameID] = entry
}

// Cancel disarms the timer of gameID, if any.
func (f *Finalizer) Cancel(gameID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.timers[gameID]; ok {
		entry.timer.Stop()
		delete(f.timers, gameID)
	}
}

// Pending returns the number of armed timers.
func (f *Finalizer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Stop disarms all timers and waits for running finalizations.
func (f *Finalizer) Stop() {
	f.mu.Lock()
	f.stopped = true
	for id, entry := range f.timers {
		entry.timer.Stop()
		delete(f.timers, id)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Finalizer) fire(gameID string, entry *scheduledFinish) {
	f.mu.Lock()
	if f.stopped || f.timers[gameID] != entry {
		// replaced or cancelled after the timer fired
		f.mu.Unlock()
		return
	}
	delete(f.timers, gameID)
	f.wg.Add(1)
	f.mu.Unlock()
	defer f.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	pending, err := f.finalize(ctx, gameID)
	if err != nil {
		logger.Error("finalize game failed", "game_id", gameID, "error", err)
		return
	}
	if !pending.IsZero() {
		f.Schedule(gameID, pending)
	}
}
