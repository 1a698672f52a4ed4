package domain

import (
	"math"
	"time"
)

// AnswerView is the public shape of a recorded answer.
type AnswerView struct {
	QuestionID   string       `json:"questionId"`
	AnswerStatus AnswerStatus `json:"answerStatus"`
	AddedAt      time.Time    `json:"addedAt"`
}

// AnswerResult is returned to a player after a submitted answer is recorded.
type AnswerResult struct {
	GameID string `json:"gameId"`
	AnswerView
}

// PlayerView identifies a participant.
type PlayerView struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// PlayerProgressView is one side of the scoreboard.
type PlayerProgressView struct {
	Answers []AnswerView `json:"answers"`
	Player  PlayerView   `json:"player"`
	Score   int          `json:"score"`
}

// QuestionView hides the accepted answers.
type QuestionView struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// GameView is what participants see of a game.
type GameView struct {
	ID                   string              `json:"id"`
	FirstPlayerProgress  PlayerProgressView  `json:"firstPlayerProgress"`
	SecondPlayerProgress *PlayerProgressView `json:"secondPlayerProgress"`
	Questions            []QuestionView      `json:"questions"`
	Status               GameStatus          `json:"status"`
	PairCreatedDate      time.Time           `json:"pairCreatedDate"`
	StartGameDate        *time.Time          `json:"startGameDate"`
	FinishGameDate       *time.Time          `json:"finishGameDate"`
}

// NewGameView projects g. Questions stay null until the game has a second player.
func NewGameView(g *Game) GameView {
	view := GameView{
		ID:              g.ID,
		Status:          g.Status,
		PairCreatedDate: g.PairCreatedDate,
		StartGameDate:   g.StartGameDate,
		FinishGameDate:  g.FinishGameDate,
	}
	if p := g.Player(SlotOne); p != nil {
		view.FirstPlayerProgress = newProgressView(p)
	}
	if p := g.Player(SlotTwo); p != nil {
		progress := newProgressView(p)
		view.SecondPlayerProgress = &progress
	}
	if g.Status != StatusPendingSecondPlayer {
		view.Questions = make([]QuestionView, 0, len(g.Questions))
		for _, q := range g.Questions {
			view.Questions = append(view.Questions, QuestionView{ID: q.ID, Body: q.Body})
		}
	}
	return view
}

func newProgressView(p *Player) PlayerProgressView {
	answers := make([]AnswerView, 0, len(p.Answers))
	for _, a := range p.Answers {
		answers = append(answers, NewAnswerView(a))
	}
	return PlayerProgressView{
		Answers: answers,
		Player:  PlayerView{ID: p.UserID, Login: p.Login},
		Score:   p.Score,
	}
}

// NewAnswerView projects a single answer.
func NewAnswerView(a Answer) AnswerView {
	return AnswerView{QuestionID: a.QuestionID, AnswerStatus: a.Status, AddedAt: a.AddedAt}
}

// PageQuery selects a slice of a user's games.
type PageQuery struct {
	PageNumber int
	PageSize   int
}

// Normalize clamps paging parameters to sane defaults.
func (q PageQuery) Normalize() PageQuery {
	if q.PageNumber < 1 {
		q.PageNumber = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 10
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
	return q
}

// Offset is the number of rows to skip.
func (q PageQuery) Offset() int {
	return (q.PageNumber - 1) * q.PageSize
}

// GamePage is a paginated list of game views.
type GamePage struct {
	PagesCount int        `json:"pagesCount"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	TotalCount int        `json:"totalCount"`
	Items      []GameView `json:"items"`
}

// Statistic summarizes a user's finished games.
type Statistic struct {
	SumScore    int     `json:"sumScore"`
	AvgScores   float64 `json:"avgScores"`
	GamesCount  int     `json:"gamesCount"`
	WinsCount   int     `json:"winsCount"`
	LossesCount int     `json:"lossesCount"`
	DrawsCount  int     `json:"drawsCount"`
}

// BuildStatistic aggregates finished games from userID's point of view.
// Games that are not finished or do not involve userID are skipped.
func BuildStatistic(userID string, games []*Game) Statistic {
	var st Statistic
	for _, g := range games {
		if !g.IsFinished() {
			continue
		}
		slot, ok := g.SlotOf(userID)
		if !ok {
			continue
		}
		me, rival := g.Player(slot), g.Player(slot.Other())
		st.GamesCount++
		st.SumScore += me.Score
		rivalScore := 0
		if rival != nil {
			rivalScore = rival.Score
		}
		switch {
		case me.Score > rivalScore:
			st.WinsCount++
		case me.Score < rivalScore:
			st.LossesCount++
		default:
			st.DrawsCount++
		}
	}
	if st.GamesCount > 0 {
		avg := float64(st.SumScore) / float64(st.GamesCount)
		st.AvgScores = math.Round(avg*100) / 100
	}
	return st
}
