package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/logger"
)

func statusFor(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeSuccess:
		return http.StatusOK
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as a JSON body with the matching status code.
// Internal failures are logged and hidden from the client.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": domain.CodeOf(err)})
}
