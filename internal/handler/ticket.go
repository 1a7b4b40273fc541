package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trainlog/internal/middleware"
	"trainlog/internal/service"
)

// TicketHandler handles HTTP requests for tickets.
type TicketHandler struct {
	tripService *service.TripService
}

// NewTicketHandler creates a new TicketHandler.
func NewTicketHandler(tripService *service.TripService) *TicketHandler {
	return &TicketHandler{tripService: tripService}
}

// AttachTicketRequest is the HTTP request body for linking trips to a ticket.
type AttachTicketRequest struct {
	TripIDs []int64 `json:"trip_ids"`
}

// AttachTicket handles POST /v1/tickets/:id/attach
func (h *TicketHandler) AttachTicket(c *gin.Context) {
	ticketID, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req AttachTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.tripService.AttachTicket(c.Request.Context(), middleware.Username(c), ticketID, req.TripIDs); err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"ticket_id": ticketID, "trip_ids": req.TripIDs})
}

// DeleteTicket handles DELETE /v1/tickets/:id
func (h *TicketHandler) DeleteTicket(c *gin.Context) {
	ticketID, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.tripService.DeleteTicket(c.Request.Context(), middleware.Username(c), ticketID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
