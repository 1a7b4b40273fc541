package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trainlog/internal/migration"
	internalRedis "trainlog/internal/redis"
	"trainlog/internal/repository"
	"trainlog/internal/service"
	"trainlog/internal/txn"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

var errInvalidID = errors.New("invalid id")

// respondError sends an error response with the appropriate HTTP status code
// and attaches err to the context for instrumentation.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// paramID parses the :id route parameter.
func paramID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	var exhausted *txn.RetryExhaustedError

	switch {
	// Validation errors - Bad Request
	case errors.Is(err, errInvalidID),
		errors.Is(err, service.ErrInvalidTrip),
		errors.Is(err, service.ErrInvalidVisibility),
		errors.Is(err, service.ErrInvalidTripType),
		errors.Is(err, service.ErrEmptyPath),
		errors.Is(err, service.ErrNoTrips):
		return http.StatusBadRequest

	// Someone else's trip is indistinguishable from a missing one.
	case errors.Is(err, service.ErrTripNotFound),
		errors.Is(err, service.ErrNotOwner),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrTicketNotOwned),
		errors.Is(err, service.ErrUnknownUser):
		return http.StatusUnauthorized

	// Conflict errors
	case errors.Is(err, migration.ErrAlreadyRunning),
		errors.Is(err, migration.ErrMarkerHeld),
		errors.Is(err, internalRedis.ErrLockHeld):
		return http.StatusConflict

	// Service unavailable
	case errors.Is(err, service.ErrMigrationInProgress),
		errors.Is(err, txn.ErrStoreBusy),
		errors.As(err, &exhausted):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
