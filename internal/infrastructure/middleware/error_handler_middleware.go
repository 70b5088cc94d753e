package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	apperrors "voicelink/pkg/errors"
)

// errorResponse is the Lavalink-style error body.
type errorResponse struct {
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

// ErrorHandler converts errors attached to the gin context into JSON
// responses with appropriate status codes.
func ErrorHandler(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, label := statusFor(err)

		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", status,
				"error", err,
			)
		}

		c.JSON(status, errorResponse{
			Timestamp: time.Now().UnixMilli(),
			Status:    status,
			Error:     label,
			Message:   err.Error(),
			Path:      c.Request.URL.Path,
		})
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr.HTTPStatus, string(appErr.Code)
	}

	switch {
	case apperrors.IsValidation(err):
		return http.StatusBadRequest, "Bad Request"
	case apperrors.IsCircuitOpen(err):
		return http.StatusServiceUnavailable, "Service Unavailable"
	case apperrors.IsPoolExhausted(err):
		return http.StatusServiceUnavailable, "Service Unavailable"
	case err == domain.ErrGuildNotFound,
		err == domain.ErrSessionNotFound,
		err == domain.ErrAlertNotFound,
		err == domain.ErrNoActiveStream:
		return http.StatusNotFound, "Not Found"
	case err == domain.ErrUnknownPreset:
		return http.StatusBadRequest, "Bad Request"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}
