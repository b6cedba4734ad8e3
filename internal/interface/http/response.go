package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/pkg/circuitbreaker"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	TotalCount int       `json:"total_count,omitempty"`
	Page       int       `json:"page,omitempty"`
	PageSize   int       `json:"page_size,omitempty"`
}

func writeJSON(c *gin.Context, status int, data any) {
	writeJSONWithMeta(c, status, data, nil)
}

func writeJSONWithMeta(c *gin.Context, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: c.GetString(requestIDKey),
	})
}

func writeJSONError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		RequestID: c.GetString(requestIDKey),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// StatusFor maps an error to its HTTP status by kind.
func StatusFor(err error) int {
	switch shared.KindOf(err) {
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation, shared.KindAlreadyReverted:
		return http.StatusBadRequest
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindExternalAPIUnavailable:
		return http.StatusServiceUnavailable
	case shared.KindExternalAPITimeout:
		return http.StatusGatewayTimeout
	case shared.KindPartialSync:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status of its kind. Internal errors are
// logged and reported without detail.
func writeError(c *gin.Context, err error) {
	status := StatusFor(err)

	var open *circuitbreaker.OpenError
	if errors.As(err, &open) {
		secs := int(math.Ceil(open.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}

	log := logger.FromContext(c.Request.Context())
	if status == http.StatusInternalServerError {
		log.Error("request failed", logger.Operation(c.FullPath()), zap.Error(err))
		writeJSONError(c, status, string(shared.KindInternal), "an unexpected error occurred")
		return
	}
	log.Info("request rejected", logger.Operation(c.FullPath()), zap.Error(err))
	writeJSONError(c, status, string(shared.KindOf(err)), err.Error())
}
