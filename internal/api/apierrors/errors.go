// Package apierrors renders workflow errors as HTTP responses.
package apierrors

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/db/repositories"
)

// Write maps err onto a status code and a JSON {"error": ...} body. op names
// the failed operation in logs and in the generic 500 message.
func Write(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, access.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": message(err, "invalid request")})
	case errors.Is(err, access.ErrConflict), errors.Is(err, access.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": message(err, "conflict")})
	case errors.Is(err, access.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": message(err, "forbidden")})
	case errors.Is(err, access.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": message(err, "not found")})
	case errors.Is(err, repositories.ErrRetriable):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "concurrent update, retry the request"})
	default:
		slog.Error(op+" failed", "error", err, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op})
	}
}

func message(err error, fallback string) string {
	if m := access.Message(err); m != "" {
		return m
	}
	return fallback
}
