package response

import (
	"errors"
	"log/slog"
	"net/http"

	"marketplace/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func Message(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"message": message,
	})
}

func CustomError(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success":    false,
		"statusCode": statusCode,
		"code":       code,
		"message":    message,
	})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details []string) {
	c.JSON(statusCode, gin.H{
		"success":    false,
		"statusCode": statusCode,
		"code":       code,
		"message":    message,
		"errors":     details,
	})
}

// StatusFor maps an error kind to its fixed HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes the envelope for err. Anything that is not a *domain.Error
// is logged and reported as a generic 500.
func FromError(c *gin.Context, err error) {
	var appErr *domain.Error
	if !errors.As(err, &appErr) || appErr.Kind == domain.KindInternal {
		_ = c.Error(err)
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		CustomError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}
	if len(appErr.Details) > 0 {
		ErrorWithDetails(c, StatusFor(appErr.Kind), appErr.Code, appErr.Message, appErr.Details)
		return
	}
	CustomError(c, StatusFor(appErr.Kind), appErr.Code, appErr.Message)
}

// BindError renders a request binding failure, listing field errors when the
// validator produced them.
func BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldMessage(fe))
		}
		ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "One or more validation errors occurred.", details)
		return
	}
	CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "len":
		return fe.Field() + " must be exactly " + fe.Param() + " characters"
	case "numeric":
		return fe.Field() + " must contain only digits"
	case "otpcode":
		return fe.Field() + " must be a 6-digit code"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
