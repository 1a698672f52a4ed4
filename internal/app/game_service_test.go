package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pair-quiz-service/internal/app"
	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectOpensThenPairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened, err := f.svc.Connect(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSecondPlayer, opened.Status)
	assert.Nil(t, opened.Questions)
	assert.Nil(t, opened.SecondPlayerProgress)
	assert.Equal(t, "alice", opened.FirstPlayerProgress.Player.ID)

	paired, err := f.svc.Connect(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, opened.ID, paired.ID)
	assert.Equal(t, domain.StatusActive, paired.Status)
	require.NotNil(t, paired.StartGameDate)
	require.NotNil(t, paired.SecondPlayerProgress)
	assert.Equal(t, "bob", paired.SecondPlayerProgress.Player.ID)
	require.Len(t, paired.Questions, 5)

	again, err := f.svc.FindGame(ctx, paired.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, paired.Questions, again.Questions)
}

func TestConnectRejectsUserAlreadyInGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Connect(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Connect(ctx, "bob")
	require.NoError(t, err)
	_, err = f.svc.Connect(ctx, "bob")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestConnectUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Connect(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestConnectFailsWithoutEnoughQuestions(t *testing.T) {
	f := newFixtureWithQuestions(t, 3)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Connect(ctx, "bob")
	assert.ErrorIs(t, err, domain.ErrNotEnoughQuestions)

	current, err := f.svc.FindCurrentGame(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSecondPlayer, current.Status, "failed pairing must roll back")
}

func TestConcurrentConnectsNeverShareGames(t *testing.T) {
	users := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		users = append(users, fmt.Sprintf("user-%d", i))
	}
	f := newFixture(t, users...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, _ = f.svc.Connect(ctx, u)
		}(u)
	}
	wg.Wait()

	players := map[string]int{}
	for _, u := range users {
		view, err := f.svc.FindCurrentGame(ctx, u)
		require.NoError(t, err)
		players[view.ID]++
		assert.Equal(t, domain.StatusActive, view.Status)
	}
	assert.Len(t, players, 10)
	for id, n := range players {
		assert.Equal(t, 2, n, "game %s", id)
	}
}

func TestSubmitAnswerScoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pair(t, "alice", "bob")

	q := f.nextQuestion(t, "alice")
	res, err := f.svc.SubmitAnswer(ctx, "alice", "  "+f.correct[q]+"\t")
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerCorrect, res.AnswerStatus)
	assert.Equal(t, q, res.QuestionID)

	res, err = f.svc.SubmitAnswer(ctx, "alice", "definitely wrong")
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerIncorrect, res.AnswerStatus)

	view, err := f.svc.FindCurrentGame(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, view.FirstPlayerProgress.Score)
	assert.Len(t, view.FirstPlayerProgress.Answers, 2)
	assert.Equal(t, 0, view.SecondPlayerProgress.Score)
}

func TestSubmitAnswerBothPlayersFinishInTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID := f.pair(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		f.answer(t, "alice", true)
	}
	view, err := f.svc.FindGame(ctx, gameID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, view.Status)
	assert.Equal(t, 6, view.FirstPlayerProgress.Score, "five correct plus the speed bonus")
	assert.Nil(t, view.FinishGameDate)
	assert.Equal(t, 1, f.svc.Finalizer().Pending())

	_, err = f.svc.SubmitAnswer(ctx, "alice", "extra")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.clock.Advance(3 * time.Second)
	for i := 0; i < 4; i++ {
		f.answer(t, "bob", true)
	}
	f.answer(t, "bob", false)

	view, err = f.svc.FindGame(ctx, gameID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, view.Status)
	assert.Equal(t, 4, view.SecondPlayerProgress.Score, "no bonus for the second finisher")
	assert.Equal(t, 6, view.FirstPlayerProgress.Score)
	require.NotNil(t, view.FinishGameDate)
	assert.True(t, view.FinishGameDate.Equal(f.clock.Now()))
	assert.Equal(t, 0, f.svc.Finalizer().Pending())

	_, err = f.svc.FindCurrentGame(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
}

func TestFirstFinisherWithoutCorrectAnswersGetsNoBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID := f.pair(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		f.answer(t, "bob", false)
	}
	view, err := f.svc.FindGame(ctx, gameID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, view.SecondPlayerProgress.Score)
	assert.Equal(t, domain.StatusActive, view.Status)
}

func TestLateFifthAnswerFinishesGameAndIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID := f.pair(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		f.answer(t, "alice", true)
	}
	for i := 0; i < 4; i++ {
		f.answer(t, "bob", true)
	}
	f.clock.Advance(11 * time.Second)

	_, err := f.svc.SubmitAnswer(ctx, "bob", f.correct[f.nextQuestion(t, "bob")])
	assert.ErrorIs(t, err, domain.ErrForbidden)

	view, err := f.svc.FindGame(ctx, gameID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, view.Status)
	require.NotNil(t, view.FinishGameDate)
	assert.True(t, view.FinishGameDate.Equal(f.clock.Now()))
}

func TestAnswerAfterDeadlineFinishesGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID := f.pair(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		f.answer(t, "alice", true)
	}
	f.clock.Advance(15 * time.Second)

	res, err := f.svc.SubmitAnswer(ctx, "bob", "whatever")
	require.NoError(t, err)
	assert.Equal(t, gameID, res.GameID)

	view, err := f.svc.FindGame(ctx, gameID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, view.Status)
	assert.Len(t, view.SecondPlayerProgress.Answers, 1)

	_, err = f.svc.SubmitAnswer(ctx, "bob", "again")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSubmitAnswerWithoutActivePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitAnswer(ctx, "alice", "x")
	assert.ErrorIs(t, err, domain.ErrUserNotFound, "no player record yet")

	_, err = f.svc.Connect(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.SubmitAnswer(ctx, "alice", "x")
	assert.ErrorIs(t, err, domain.ErrForbidden, "pending game")

	_, err = f.svc.SubmitAnswer(ctx, "nobody", "x")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestFinalizeGameClosesAtDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID := f.pair(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		f.answer(t, "alice", i < 2)
	}
	deadline := f.clock.Now().Add(10 * time.Second)

	finished, err := f.svc.FinalizeGame(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, finished, "window still open")

	f.clock.Advance(10 * time.Second)
	finished, err = f.svc.FinalizeGame(ctx, gameID)
	require.NoError(t, err)
	assert.True(t, finished)

	view, err := f.svc.FindGame(ctx, gameID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, view.Status)
	require.NotNil(t, view.FinishGameDate)
	assert.True(t, view.FinishGameDate.Equal(deadline), "finish date is the recorded deadline")
	assert.Equal(t, 3, view.FirstPlayerProgress.Score)
	assert.Empty(t, view.SecondPlayerProgress.Answers)

	f.clock.Advance(time.Minute)
	finished, err = f.svc.FinalizeGame(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, finished)
	again, _ := f.svc.FindGame(ctx, gameID, "alice")
	assert.True(t, again.FinishGameDate.Equal(deadline))

	finished, err = f.svc.FinalizeGame(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.False(t, finished)
}

func TestFinalizerTimerClosesAbandonedGame(t *testing.T) {
	users := memory.NewUserDirectory(domain.User{ID: "alice", Login: "alice"}, domain.User{ID: "bob", Login: "bob"})
	questions, correct := fixtureQuestions(5)
	store := memory.NewGameStore()
	svc := app.NewGameService(users, store,
		memory.NewQuestionPool(memory.NewStaticQuestionLoader(questions), time.Minute),
		app.WithRules(app.Rules{QuestionsPerGame: 5, GraceWindow: 50 * time.Millisecond}),
	)
	t.Cleanup(svc.Close)
	f := &fixture{svc: svc, correct: correct}
	ctx := context.Background()

	gameID := f.pair(t, "alice", "bob")
	for i := 0; i < 5; i++ {
		f.answer(t, "alice", true)
	}

	require.Eventually(t, func() bool {
		g, err := store.FindByID(ctx, gameID)
		return err == nil && g.IsFinished()
	}, 2*time.Second, 10*time.Millisecond)

	g, err := store.FindByID(ctx, gameID)
	require.NoError(t, err)
	require.NotNil(t, g.FinishingExpirationDate)
	assert.True(t, g.FinishGameDate.Equal(*g.FinishingExpirationDate))
	assert.Equal(t, 0, svc.Finalizer().Pending())
}

func TestRecoverGraceWindowsRearmsTimers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pair(t, "alice", "bob")
	for i := 0; i < 5; i++ {
		f.answer(t, "alice", true)
	}

	restarted := app.NewGameService(f.users, f.store, f.questions, app.WithClock(f.clock.Now))
	t.Cleanup(restarted.Close)

	n, err := restarted.RecoverGraceWindows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, restarted.Finalizer().Pending())
}

func TestFindGameValidation(t *testing.T) {
	f := newFixture(t, "carol")
	ctx := context.Background()
	gameID := f.pair(t, "alice", "bob")

	_, err := f.svc.FindGame(ctx, "not-a-uuid", "alice")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, domain.CodeBadRequest, domain.CodeOf(err))

	_, err = f.svc.FindGame(ctx, gameID, "carol")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.FindGame(ctx, "7f1a0c7e-2f53-4a52-9bb1-c1a4d3e1a111", "alice")
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
}

func TestMyStatisticAndGames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pair(t, "alice", "bob")
	for i := 0; i < 5; i++ {
		f.answer(t, "alice", true)
	}
	for i := 0; i < 5; i++ {
		f.answer(t, "bob", i == 0)
	}
	f.clock.Advance(time.Minute)
	f.pair(t, "bob", "alice")

	st, err := f.svc.MyStatistic(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Statistic{SumScore: 6, AvgScores: 6, GamesCount: 1, WinsCount: 1}, st)

	st, err = f.svc.MyStatistic(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, st.LossesCount)

	page, err := f.svc.MyGames(ctx, "alice", domain.PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 1, page.PagesCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, domain.StatusActive, page.Items[0].Status, "newest first")
}

func TestParticipantsReceiveUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, "alice")
	require.NoError(t, err)
	updates, cancel, err := f.svc.Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer cancel()

	_, err = f.svc.Connect(ctx, "bob")
	require.NoError(t, err)

	select {
	case view := <-updates:
		assert.Equal(t, domain.StatusActive, view.Status)
	case <-time.After(time.Second):
		t.Fatal("expected update after pairing")
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc       *app.GameService
	users     *memory.UserDirectory
	store     *memory.GameStore
	questions *memory.QuestionPool
	clock     *fakeClock
	correct   map[string]string
}

func newFixture(t *testing.T, extraUsers ...string) *fixture {
	return newFixtureWithQuestions(t, 8, extraUsers...)
}

func newFixtureWithQuestions(t *testing.T, n int, extraUsers ...string) *fixture {
	t.Helper()
	users := memory.NewUserDirectory()
	for _, id := range append([]string{"alice", "bob"}, extraUsers...) {
		users.Add(domain.User{ID: id, Login: id})
	}
	questions, correct := fixtureQuestions(n)
	f := &fixture{
		users:     users,
		store:     memory.NewGameStore(),
		questions: memory.NewQuestionPool(memory.NewStaticQuestionLoader(questions), time.Minute),
		clock:     &fakeClock{now: time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)},
		correct:   correct,
	}
	f.svc = app.NewGameService(f.users, f.store, f.questions,
		app.WithClock(f.clock.Now),
		app.WithNotifier(memory.NewNotifier()),
	)
	t.Cleanup(f.svc.Close)
	return f
}

func fixtureQuestions(n int) ([]domain.Question, map[string]string) {
	questions := make([]domain.Question, 0, n)
	correct := make(map[string]string, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("q%d", i)
		answer := fmt.Sprint(i * 7)
		questions = append(questions, domain.Question{
			ID:             id,
			Body:           fmt.Sprintf("What is %d * 7?", i),
			CorrectAnswers: []string{answer, "answer-" + answer},
			Published:      true,
		})
		correct[id] = answer
	}
	return questions, correct
}

func (f *fixture) pair(t *testing.T, first, second string) string {
	t.Helper()
	_, err := f.svc.Connect(context.Background(), first)
	require.NoError(t, err)
	view, err := f.svc.Connect(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, view.Status)
	return view.ID
}

func (f *fixture) nextQuestion(t *testing.T, userID string) string {
	t.Helper()
	view, err := f.svc.FindCurrentGame(context.Background(), userID)
	require.NoError(t, err)
	progress := view.FirstPlayerProgress
	if progress.Player.ID != userID {
		progress = *view.SecondPlayerProgress
	}
	require.Less(t, len(progress.Answers), len(view.Questions))
	return view.Questions[len(progress.Answers)].ID
}

func (f *fixture) answer(t *testing.T, userID string, correct bool) {
	t.Helper()
	text := "wrong"
	if correct {
		text = f.correct[f.nextQuestion(t, userID)]
	}
	res, err := f.svc.SubmitAnswer(context.Background(), userID, text)
	require.NoError(t, err)
	want := domain.AnswerIncorrect
	if correct {
		want = domain.AnswerCorrect
	}
	require.Equal(t, want, res.AnswerStatus)
}
