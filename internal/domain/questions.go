package domain

import (
	"fmt"
	"math/rand"
)

// PickQuestions draws n distinct questions from pool. The pool is not modified.
func PickQuestions(rnd *rand.Rand, pool []Question, n int) ([]Question, error) {
	if len(pool) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughQuestions, n, len(pool))
	}
	picked := make([]Question, 0, n)
	for _, idx := range rnd.Perm(len(pool))[:n] {
		picked = append(picked, pool[idx])
	}
	return picked, nil
}
