package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pair-quiz-service/internal/logger"
	"pair-quiz-service/internal/metrics"
)

// NewRouter wires the pair game HTTP and websocket surface.
func NewRouter(games GameUseCases, auth *Authenticator) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewGameHandler(games)
	ws := NewWSHandler(games)
	r.GET("/ws", auth.Middleware(), ws.ServeWS)

	quiz := r.Group("/pair-game-quiz", auth.Middleware())
	{
		quiz.POST("/pairs/connection", h.Connect)
		quiz.GET("/pairs/my-current", h.Current)
		quiz.POST("/pairs/my-current/answers", h.Answer)
		quiz.GET("/pairs/my", h.MyGames)
		quiz.GET("/pairs/:id", h.ByID)
		quiz.GET("/users/my-statistic", h.MyStatistic)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())
		logger.Debug("http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"user_id", UserID(c),
		)
	}
}
