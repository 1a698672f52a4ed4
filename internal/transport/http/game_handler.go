package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pair-quiz-service/internal/domain"
)

// GameUseCases is the part of app.GameService the transport exposes.
type GameUseCases interface {
	Connect(ctx context.Context, userID string) (domain.GameView, error)
	SubmitAnswer(ctx context.Context, userID, answer string) (domain.AnswerResult, error)
	FindCurrentGame(ctx context.Context, userID string) (domain.GameView, error)
	FindGame(ctx context.Context, gameID, userID string) (domain.GameView, error)
	MyGames(ctx context.Context, userID string, page domain.PageQuery) (domain.GamePage, error)
	MyStatistic(ctx context.Context, userID string) (domain.Statistic, error)
	Subscribe(ctx context.Context, userID string) (<-chan domain.GameView, func(), error)
}

type GameHandler struct {
	games GameUseCases
}

func NewGameHandler(games GameUseCases) *GameHandler {
	return &GameHandler{games: games}
}

type answerRequest struct {
	Answer *string `json:"answer"`
}

func (h *GameHandler) Connect(c *gin.Context) {
	view, err := h.games.Connect(c.Request.Context(), UserID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) Current(c *gin.Context) {
	view, err := h.games.FindCurrentGame(c.Request.Context(), UserID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) ByID(c *gin.Context) {
	view, err := h.games.FindGame(c.Request.Context(), c.Param("id"), UserID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) Answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Answer == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "answer is required", "code": domain.CodeBadRequest})
		return
	}
	result, err := h.games.SubmitAnswer(c.Request.Context(), UserID(c), *req.Answer)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *GameHandler) MyGames(c *gin.Context) {
	page, ok := pageQuery(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid paging parameters", "code": domain.CodeBadRequest})
		return
	}
	result, err := h.games.MyGames(c.Request.Context(), UserID(c), page)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *GameHandler) MyStatistic(c *gin.Context) {
	stat, err := h.games.MyStatistic(c.Request.Context(), UserID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stat)
}

func pageQuery(c *gin.Context) (domain.PageQuery, bool) {
	var page domain.PageQuery
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"pageNumber", &page.PageNumber},
		{"pageSize", &page.PageSize},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return domain.PageQuery{}, false
		}
		*p.dst = n
	}
	return page, true
}
