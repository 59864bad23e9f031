package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/internal/handler"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
)

// ErrorHandler renders the last error recorded on the context. Handlers
// record errors with handler.Fail and never write error bodies themselves.
func ErrorHandler(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		lastErr := c.Errors.Last().Err
		status := http.StatusInternalServerError
		resp := handler.NewErrorResponse("internal server error")
		resp.Code = apperrors.ErrInternal.String()

		if appErr, ok := apperrors.As(lastErr); ok {
			status = appErr.StatusCode()
			resp.Code = appErr.Code.String()
			if status < http.StatusInternalServerError {
				resp.Message = appErr.Message
				resp.Details = appErr.Details
			}
		}

		event := logger.Debug()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Err(lastErr).
			Str("request_id", c.GetString(ContextRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Msg("request error")

		// The websocket upgrade or a streaming handler may already own the
		// connection.
		if c.Writer.Written() {
			return
		}
		c.JSON(status, resp)
	}
}
