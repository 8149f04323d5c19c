package handlers

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	appointmentRepo "appointqix/database/repository/appointment"
	"appointqix/models"
	"appointqix/services/scheduling"
	"appointqix/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BookingHandler exposes the availability and appointment lifecycle
// endpoints.
type BookingHandler struct {
	Availability scheduling.AvailabilityEngine
	Coordinator  scheduling.ReservationCoordinator
	Appointments appointmentRepo.AppointmentRepository
	Logger       *zap.Logger
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(availability scheduling.AvailabilityEngine, coordinator scheduling.ReservationCoordinator, appts appointmentRepo.AppointmentRepository, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{
		Availability: availability,
		Coordinator:  coordinator,
		Appointments: appts,
		Logger:       logger,
	}
}

// GetAvailability returns free slots for a staff member and appointment type.
// Query: staff_id, type_id, from, to (RFC 3339), tz (optional IANA zone).
func (h *BookingHandler) GetAvailability(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", "from must be RFC 3339")
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", "to must be RFC 3339")
		return
	}

	slots, err := h.Availability.GetAvailableSlots(c.Request.Context(), scheduling.AvailabilityRequest{
		StaffID:           c.Query("staff_id"),
		AppointmentTypeID: c.Query("type_id"),
		Range:             models.TimeRange{Start: from.UTC(), End: to.UTC()},
		TimeZone:          c.Query("tz"),
	})
	if err != nil {
		respondSchedulingError(c, err)
		return
	}
	if slots == nil {
		slots = []models.Slot{}
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

type reserveInput struct {
	StaffID           string    `json:"staff_id" binding:"required"`
	AppointmentTypeID string    `json:"appointment_type_id" binding:"required"`
	ResourceID        string    `json:"resource_id"`
	StartTime         time.Time `json:"start_time" binding:"required"`
	CustomerID        string    `json:"customer_id" binding:"required"`
}

// reserveAttempts bounds the conflict retries the HTTP wrapper performs on
// behalf of the client; the coordinator itself never retries.
const reserveAttempts = 3

// Reserve books a slot. Conflicts are retried a few times with jittered
// backoff; a 409 past that means the slot is really gone and the client
// should re-query availability.
func (h *BookingHandler) Reserve(c *gin.Context) {
	var input reserveInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}

	appt, err := h.reserveWithRetry(c.Request.Context(), scheduling.ReserveRequest{
		StaffID:           input.StaffID,
		AppointmentTypeID: input.AppointmentTypeID,
		ResourceID:        input.ResourceID,
		StartTime:         input.StartTime,
		CustomerID:        input.CustomerID,
	})
	if err != nil {
		respondSchedulingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, appt)
}

func (h *BookingHandler) reserveWithRetry(ctx context.Context, req scheduling.ReserveRequest) (*models.Appointment, error) {
	var conflict *scheduling.ConflictError
	for attempt := 1; ; attempt++ {
		appt, err := h.Coordinator.Reserve(ctx, req)
		if err == nil || !errors.As(err, &conflict) || attempt == reserveAttempts {
			return appt, err
		}
		backoff := time.Duration(attempt)*25*time.Millisecond +
			time.Duration(rand.Int63n(int64(25*time.Millisecond)))
		h.Logger.Debug("reservation conflict, retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(backoff):
		}
	}
}

type cancelInput struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// Cancel cancels an appointment, returning the terminal document including
// any fee charged.
func (h *BookingHandler) Cancel(c *gin.Context) {
	var input cancelInput
	if err := c.ShouldBindJSON(&input); err != nil && c.Request.ContentLength > 0 {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}
	if input.Actor == "" {
		input.Actor = "customer"
	}

	appt, err := h.Coordinator.Cancel(c.Request.Context(), c.Param("id"), input.Actor, input.Reason)
	if err != nil {
		respondSchedulingError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

// MarkNoShow records that the customer did not attend.
func (h *BookingHandler) MarkNoShow(c *gin.Context) {
	appt, err := h.Coordinator.MarkNoShow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondSchedulingError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

// Complete closes out a finished appointment.
func (h *BookingHandler) Complete(c *gin.Context) {
	appt, err := h.Coordinator.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondSchedulingError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

type rescheduleInput struct {
	NewStart time.Time `json:"new_start" binding:"required"`
}

// Reschedule moves an appointment to a new start time.
func (h *BookingHandler) Reschedule(c *gin.Context) {
	var input rescheduleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}

	appt, err := h.Coordinator.Reschedule(c.Request.Context(), c.Param("id"), input.NewStart)
	if err != nil {
		respondSchedulingError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

// GetAppointment returns one appointment by id.
func (h *BookingHandler) GetAppointment(c *gin.Context) {
	appt, err := h.Appointments.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.JSONError(c, http.StatusNotFound, "validationError", "appointment not found")
		return
	}
	c.JSON(http.StatusOK, appt)
}

// ListCustomerAppointments returns a customer's appointments, soonest first.
func (h *BookingHandler) ListCustomerAppointments(c *gin.Context) {
	appts, err := h.Appointments.ListByCustomer(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		h.Logger.Error("listing customer appointments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}
	if appts == nil {
		appts = []models.Appointment{}
	}
	c.JSON(http.StatusOK, gin.H{"appointments": appts})
}

// GetStaffSchedule returns a staff member's confirmed appointments for one
// UTC day. Query: day (YYYY-MM-DD).
func (h *BookingHandler) GetStaffSchedule(c *gin.Context) {
	day, err := time.Parse("2006-01-02", c.Query("day"))
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", "day must be YYYY-MM-DD")
		return
	}
	rng := models.TimeRange{Start: day, End: day.AddDate(0, 0, 1)}

	appts, err := h.Appointments.ListConfirmedByStaffDay(c.Request.Context(), c.Param("id"), rng)
	if err != nil {
		h.Logger.Error("listing staff schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}
	if appts == nil {
		appts = []models.Appointment{}
	}
	c.JSON(http.StatusOK, gin.H{"appointments": appts})
}
