package app

import (
	"fmt"
	"time"

	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/metrics"
)

// Rules holds the tunable parameters of a pair game.
type Rules struct {
	QuestionsPerGame int
	GraceWindow      time.Duration
}

// DefaultRules are five questions and a ten second grace window.
func DefaultRules() Rules {
	return Rules{QuestionsPerGame: 5, GraceWindow: 10 * time.Second}
}

// answerStep describes the writes produced by one processed answer.
type answerStep struct {
	answer        domain.Answer
	player        *domain.Player
	playerChanged bool
	gameChanged   bool
	finishReason  string
	// late is set when the answer completed a player's set after the grace
	// deadline. The game is finished and the caller is refused.
	late bool
}

// processAnswer records text as the next answer of the player in slot and
// advances the game. g is mutated in place; the caller persists the step.
func processAnswer(g *domain.Game, slot domain.Slot, text string, now time.Time, rules Rules, answerID string) (answerStep, error) {
	if g.Status != domain.StatusActive {
		return answerStep{}, fmt.Errorf("%w: game %s is not active", domain.ErrForbidden, g.ID)
	}
	player := g.Player(slot)
	if player == nil {
		return answerStep{}, fmt.Errorf("%w: slot %s is empty", domain.ErrForbidden, slot)
	}
	answered := player.AnswerCount()
	if answered >= rules.QuestionsPerGame || answered >= len(g.Questions) {
		return answerStep{}, fmt.Errorf("%w: all questions already answered", domain.ErrForbidden)
	}

	question := g.Questions[answered]
	status := domain.AnswerIncorrect
	scoreBefore := player.Score
	if question.Accepts(text) {
		status = domain.AnswerCorrect
		player.Score++
	}

	answer := domain.Answer{
		ID:         answerID,
		PlayerID:   player.ID,
		QuestionID: question.ID,
		Status:     status,
		AddedAt:    now,
	}
	player.Answers = append(player.Answers, answer)
	metrics.Answers.WithLabelValues(string(status)).Inc()

	step := answerStep{answer: answer, player: player}

	if player.AnswerCount() == rules.QuestionsPerGame {
		rival := g.Player(slot.Other())
		switch {
		case g.GraceOverdue(now):
			g.Finish(now)
			step.late = true
			step.finishReason = metrics.ReasonLateAnswer
		case rival.AnswerCount() == rules.QuestionsPerGame:
			g.Finish(now)
			step.finishReason = metrics.ReasonCompleted
		default:
			// First to finish: the speed bonus only counts with at least one correct answer.
			if player.Score != 0 {
				player.Score++
			}
			deadline := now.Add(rules.GraceWindow)
			g.FinishingExpirationDate = &deadline
			g.Status = domain.StatusActive
			g.FinishGameDate = nil
		}
		step.gameChanged = true
	}

	if !g.IsFinished() && g.GraceOverdue(now) {
		g.Finish(now)
		step.gameChanged = true
		step.finishReason = metrics.ReasonGraceExpired
	}

	step.playerChanged = player.Score != scoreBefore
	return step, nil
}
