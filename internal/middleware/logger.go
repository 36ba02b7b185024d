package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"marketplace/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-ID"

// RequestID echoes the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

// RequestLogger writes one line per request and turns panics into a 500.
// Server errors and panics are logged at error level, the rest at info.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				log.ErrorContext(c.Request.Context(), "panic recovered",
					append(requestAttrs(c, start),
						"error", fmt.Sprintf("%v", recovered),
						"stack", string(debug.Stack()),
					)...,
				)
				response.CustomError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
				c.Abort()
				return
			}

			attrs := requestAttrs(c, start)
			if len(c.Errors) > 0 {
				attrs = append(attrs, "errors", c.Errors.String())
			}
			if c.Writer.Status() >= http.StatusInternalServerError {
				log.ErrorContext(c.Request.Context(), "request failed", attrs...)
				return
			}
			log.InfoContext(c.Request.Context(), "request", attrs...)
		}()

		c.Next()
	}
}

func requestAttrs(c *gin.Context, start time.Time) []any {
	return []any{
		"status", c.Writer.Status(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"client_ip", c.ClientIP(),
		"user_id", c.GetInt64(KeyUserID),
		"request_id", c.GetString("request_id"),
		"latency", time.Since(start),
	}
}
