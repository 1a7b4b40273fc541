package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trainlog/internal/drift"
	"trainlog/internal/middleware"
	"trainlog/internal/migration"
)

// DriftChecker compares one trip across the stores.
type DriftChecker interface {
	CompareTrip(ctx context.Context, id int64) error
}

// MigrationRunner runs the bulk migration.
type MigrationRunner interface {
	Run(ctx context.Context) (*migration.Result, error)
}

// AdminHandler handles the owner-only consistency endpoints.
type AdminHandler struct {
	drift    DriftChecker
	migrator MigrationRunner
	owner    string
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(checker DriftChecker, migrator MigrationRunner, owner string) *AdminHandler {
	return &AdminHandler{drift: checker, migrator: migrator, owner: owner}
}

// DriftResponse is the HTTP response for a drift check.
type DriftResponse struct {
	TripID     int64  `json:"trip_id"`
	Consistent bool   `json:"consistent"`
	Field      string `json:"field,omitempty"`
	Primary    any    `json:"primary,omitempty"`
	Secondary  any    `json:"secondary,omitempty"`
}

// RequireOwner rejects every user but the instance owner.
func (h *AdminHandler) RequireOwner(c *gin.Context) {
	if middleware.Username(c) != h.owner {
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "owner only"})
		return
	}
	c.Next()
}

// CompareTrip handles GET /v1/admin/drift/:id
func (h *AdminHandler) CompareTrip(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	err = h.drift.CompareTrip(c.Request.Context(), id)
	var report *drift.Report
	switch {
	case err == nil:
		respondJSON(c, http.StatusOK, DriftResponse{TripID: id, Consistent: true})
	case errors.As(err, &report):
		respondJSON(c, http.StatusOK, DriftResponse{
			TripID:    id,
			Field:     report.Field,
			Primary:   report.Primary,
			Secondary: report.Secondary,
		})
	default:
		respondError(c, err)
	}
}

// Migrate handles POST /v1/admin/migrate. It blocks until the run is over.
func (h *AdminHandler) Migrate(c *gin.Context) {
	result, err := h.migrator.Run(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, result)
}
