package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	reasonInvalidRequest = "invalid_request"
	reasonInvalidKind    = "invalid_kind"
	reasonInternal       = "internal_error"
)

type errorResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code,omitempty"`
	Details []fieldError `json:"details,omitempty"`
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": reason, "code": operation.reason}.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusForError(err)
	reason := apperr.ReasonOf(err)
	if reason == "" || status == http.StatusInternalServerError {
		reason = reasonInternal
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", apperr.CodeOf(err)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: reason, Code: apperr.CodeOf(err)})
}

// respondInvalid reports a request that failed binding or validation.
func (h *httpHandler) respondInvalid(c *gin.Context, err error) {
	response := errorResponse{Error: reasonInvalidRequest}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldErr := range validationErrors {
			response.Details = append(response.Details, fieldError{Field: fieldErr.Field(), Rule: fieldErr.Tag()})
		}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, response)
}
