// Package api exposes the sync service over HTTP.
package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// statusForKind maps domain error kinds to HTTP status codes.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case domain.KindIntegrationUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindExecutionFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Kind              domain.ErrorKind `json:"kind"`
	Message           string           `json:"message"`
	RetryAfterSeconds int              `json:"retry_after_seconds,omitempty"`
}

// respondError writes err as the standard error envelope. Errors without a
// domain kind are reported as internal without leaking their text.
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	body := errorBody{Kind: kind, Message: err.Error()}

	if kind == "" {
		body.Kind = "internal_error"
		body.Message = "internal server error"
		h.requestLog(c).Error("Request failed",
			infralogger.String("path", c.FullPath()),
			infralogger.Error(err),
		)
	}

	if retryAfter := domain.RetryAfterOf(err); retryAfter > 0 {
		secs := int(math.Ceil(retryAfter.Seconds()))
		body.RetryAfterSeconds = secs
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// respondBadRequest reports a malformed request.
func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": errorBody{Kind: domain.KindValidation, Message: message},
	})
}
