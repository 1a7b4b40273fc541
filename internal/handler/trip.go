package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trainlog/internal/domain"
	"trainlog/internal/middleware"
	"trainlog/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService *service.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// UpdateTypeRequest is the HTTP request body for changing a trip's mode.
type UpdateTypeRequest struct {
	Type domain.TripType `json:"type"`
}

// VisibilityRequest is the HTTP request body for changing visibility.
type VisibilityRequest struct {
	Visibility domain.Visibility `json:"visibility"`
	TripIDs    []int64           `json:"trip_ids"`
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req domain.Trip
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.tripService.CreateTrip(c.Request.Context(), middleware.Username(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, trip)
}

// UpdateTrip handles PUT /v1/trips/:id?update_created=true
func (h *TripHandler) UpdateTrip(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req domain.Trip
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	opts := service.UpdateOptions{UpdateCreated: c.Query("update_created") == "true"}
	trip, err := h.tripService.UpdateTrip(c.Request.Context(), middleware.Username(c), id, &req, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, trip)
}

// DeleteTrip handles DELETE /v1/trips/:id
func (h *TripHandler) DeleteTrip(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.tripService.DeleteTrip(c.Request.Context(), middleware.Username(c), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// DuplicateTrip handles POST /v1/trips/:id/duplicate
func (h *TripHandler) DuplicateTrip(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	trip, err := h.tripService.DuplicateTrip(c.Request.Context(), middleware.Username(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, trip)
}

// UpdateType handles PATCH /v1/trips/:id/type
func (h *TripHandler) UpdateType(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req UpdateTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.tripService.UpdateType(c.Request.Context(), middleware.Username(c), id, req.Type); err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"trip_id": id, "type": req.Type})
}

// ChangeVisibility handles POST /v1/trips/visibility
func (h *TripHandler) ChangeVisibility(c *gin.Context) {
	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.tripService.ChangeVisibility(c.Request.Context(), middleware.Username(c), req.Visibility, req.TripIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, req)
}
