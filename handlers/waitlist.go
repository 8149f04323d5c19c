package handlers

import (
	"errors"
	"net/http"
	"time"

	waitlistRepo "appointqix/database/repository/waitlist"
	"appointqix/models"
	"appointqix/services/scheduling"
	"appointqix/utils"

	"github.com/gin-gonic/gin"
)

// WaitlistHandler exposes the waitlist endpoints.
type WaitlistHandler struct {
	Manager scheduling.WaitlistManager
	Entries waitlistRepo.WaitlistRepository
}

// NewWaitlistHandler constructs a WaitlistHandler.
func NewWaitlistHandler(manager scheduling.WaitlistManager, entries waitlistRepo.WaitlistRepository) *WaitlistHandler {
	return &WaitlistHandler{Manager: manager, Entries: entries}
}

type joinInput struct {
	AppointmentTypeID string    `json:"appointment_type_id" binding:"required"`
	StaffID           string    `json:"staff_id" binding:"required"`
	CustomerID        string    `json:"customer_id" binding:"required"`
	RangeStart        time.Time `json:"range_start" binding:"required"`
	RangeEnd          time.Time `json:"range_end" binding:"required"`
}

// Join queues a customer for a slot that may free up. staff_id may be a
// concrete id or "any".
func (h *WaitlistHandler) Join(c *gin.Context) {
	var input joinInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}

	entry, err := h.Manager.Join(c.Request.Context(), scheduling.JoinRequest{
		AppointmentTypeID: input.AppointmentTypeID,
		StaffID:           input.StaffID,
		CustomerID:        input.CustomerID,
		DesiredRange:      models.TimeRange{Start: input.RangeStart, End: input.RangeEnd},
	})
	if err != nil {
		respondSchedulingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// Accept converts an active offer into a booking.
func (h *WaitlistHandler) Accept(c *gin.Context) {
	appt, err := h.Manager.Accept(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondSchedulingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, appt)
}

// GetEntry returns a waitlist entry, including any active offer.
func (h *WaitlistHandler) GetEntry(c *gin.Context) {
	entry, err := h.Entries.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, waitlistRepo.ErrNotFound) {
			utils.JSONError(c, http.StatusNotFound, "validationError", "waitlist entry not found")
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
