package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ovillere/dinerate/internal/apperrors"
)

// ContextKeyRequestID is the gin context key for the request ID
const ContextKeyRequestID = "request_id"

// RequestID attaches a request ID to every request, reusing the
// client's X-Request-ID when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// Recovery converts panics into a standard 500 response
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString(ContextKeyRequestID)).
					Msg("Panic recovered")
				RespondWithError(c, apperrors.ErrInternalServerError)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// RespondWithError writes a standardized error response
func RespondWithError(c *gin.Context, apiErr *apperrors.APIError) {
	status := apiErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, apperrors.ErrorResponse{
		Error:     *apiErr,
		RequestID: c.GetString(ContextKeyRequestID),
	})
}
