package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/logger"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	errCodeBadRequest       ErrorCode = "bad_request"
	errCodeNotFound         ErrorCode = "not_found"
	errCodeValidationFailed ErrorCode = "validation_failed"
	errCodeConflict         ErrorCode = "conflict"
	errCodeStaleMutation    ErrorCode = "stale_mutation"
	errCodeDeletionBlocked  ErrorCode = "deletion_blocked"

	// Server errors (5xx)
	errCodeInternalError ErrorCode = "internal_error"
)

// errorResponse represents a standardized error response
type errorResponse struct {
	Error errorDetail `json:"error"`
}

// errorDetail contains error information
type errorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, statusCode int, code ErrorCode, message string, details ...string) {
	response := errorResponse{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	}

	if len(details) > 0 {
		response.Error.Details = details[0]
	}

	c.JSON(statusCode, response)
}

// respondBadRequest sends a 400 Bad Request response
func respondBadRequest(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusBadRequest, errCodeBadRequest, message, details...)
}

// respondNotFound sends a 404 Not Found response
func respondNotFound(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusNotFound, errCodeNotFound, message, details...)
}

// respondValidationError sends a 400 Bad Request with validation error
func respondValidationError(c *gin.Context, details string) {
	respondWithError(c, http.StatusBadRequest, errCodeValidationFailed, "Validation failed", details)
}

// respondInternalError sends a 500 Internal Server Error response and logs the error
func respondInternalError(c *gin.Context, err error, message string, fields ...zap.Field) {
	logger.Error(err, fields...)
	respondWithError(c, http.StatusInternalServerError, errCodeInternalError, message)
}

// respondStoreError maps store and domain errors onto HTTP responses. Sentinel
// errors become 4xx responses with stable codes; anything unrecognized is a 500.
func respondStoreError(c *gin.Context, err error, message string) {
	var blocked *domain.DeletionBlockedError
	var stale *domain.StaleMutationError

	switch {
	case errors.Is(err, domain.ErrTrackerNotFound),
		errors.Is(err, domain.ErrCommentNotFound),
		errors.Is(err, domain.ErrItemNotFound):
		respondWithError(c, http.StatusNotFound, errCodeNotFound, err.Error())

	case errors.Is(err, domain.ErrInvalidTransition):
		respondWithError(c, http.StatusConflict, errCodeConflict, "Invalid status transition", err.Error())

	case errors.Is(err, domain.ErrInvalidAssignment),
		errors.Is(err, domain.ErrReplyNotResolvable):
		respondWithError(c, http.StatusBadRequest, errCodeValidationFailed, err.Error())

	case errors.As(err, &blocked):
		respondWithError(c, http.StatusConflict, errCodeDeletionBlocked, "Tracker deletion blocked", err.Error())

	case errors.As(err, &stale):
		respondWithError(c, http.StatusConflict, errCodeStaleMutation, "Entity was modified by another client", err.Error())

	default:
		respondInternalError(c, err, message)
	}
}
