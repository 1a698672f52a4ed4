package domain

import (
	"strings"
	"time"
)

// GameStatus is the lifecycle position of a pair game.
type GameStatus string

const (
	StatusPendingSecondPlayer GameStatus = "PendingSecondPlayer"
	StatusActive              GameStatus = "Active"
	StatusFinished            GameStatus = "Finished"
)

// AnswerStatus records whether a submitted answer matched the question.
type AnswerStatus string

const (
	AnswerCorrect   AnswerStatus = "Correct"
	AnswerIncorrect AnswerStatus = "Incorrect"
)

// Slot addresses a participant position inside a Game.
type Slot int

const (
	SlotOne Slot = iota
	SlotTwo
)

// Other returns the opposing slot.
func (s Slot) Other() Slot {
	if s == SlotOne {
		return SlotTwo
	}
	return SlotOne
}

func (s Slot) String() string {
	if s == SlotOne {
		return "one"
	}
	return "two"
}

// User is the read-only projection of an account owned by the user service.
type User struct {
	ID    string
	Login string
}

// Question is a quiz question with its accepted answers.
type Question struct {
	ID             string     `json:"id"`
	Body           string     `json:"body"`
	CorrectAnswers []string   `json:"correctAnswers"`
	Published      bool       `json:"published"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// NormalizeAnswer is applied to both stored and submitted answers before comparison.
func NormalizeAnswer(raw string) string {
	return strings.TrimSpace(raw)
}

// Accepts reports whether answer belongs to the correct answer set.
func (q Question) Accepts(answer string) bool {
	given := NormalizeAnswer(answer)
	for _, candidate := range q.CorrectAnswers {
		if NormalizeAnswer(candidate) == given {
			return true
		}
	}
	return false
}

// Answer is an append-only record of one player's reply to one question.
type Answer struct {
	ID         string
	PlayerID   string
	QuestionID string
	Status     AnswerStatus
	AddedAt    time.Time
}

// Player is a user's participation in a single game.
type Player struct {
	ID        string
	GameID    string
	UserID    string
	Login     string
	Score     int
	Answers   []Answer
	CreatedAt time.Time
}

// AnswerCount is the number of questions the player has answered so far.
func (p *Player) AnswerCount() int {
	if p == nil {
		return 0
	}
	return len(p.Answers)
}

// Game is a two-player quiz match.
type Game struct {
	ID                      string
	Status                  GameStatus
	PairCreatedDate         time.Time
	StartGameDate           *time.Time
	FinishGameDate          *time.Time
	FinishingExpirationDate *time.Time
	Players                 [2]*Player
	Questions               []Question
}

// Player returns the participant in slot s, or nil when the slot is empty.
func (g *Game) Player(s Slot) *Player {
	return g.Players[s]
}

// SlotOf finds the slot occupied by userID.
func (g *Game) SlotOf(userID string) (Slot, bool) {
	for _, s := range []Slot{SlotOne, SlotTwo} {
		if p := g.Players[s]; p != nil && p.UserID == userID {
			return s, true
		}
	}
	return SlotOne, false
}

// HasParticipant reports whether userID plays in the game.
func (g *Game) HasParticipant(userID string) bool {
	_, ok := g.SlotOf(userID)
	return ok
}

// IsFinished reports whether the game reached its terminal state.
func (g *Game) IsFinished() bool {
	return g.Status == StatusFinished
}

// Finish moves the game to its terminal state at the given instant.
func (g *Game) Finish(at time.Time) {
	g.Status = StatusFinished
	finishedAt := at
	g.FinishGameDate = &finishedAt
}

// GraceOverdue reports whether an open grace window has lapsed at now.
func (g *Game) GraceOverdue(now time.Time) bool {
	return g.FinishingExpirationDate != nil && now.After(*g.FinishingExpirationDate)
}
