package handlers

import (
	"errors"
	"net/http"

	appointmentRepo "appointqix/database/repository/appointment"
	catalogRepo "appointqix/database/repository/catalog"
	resourceRepo "appointqix/database/repository/resource"
	staffRepo "appointqix/database/repository/staff"
	"appointqix/models"
	"appointqix/services/scheduling"
	"appointqix/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler ingests configuration snapshots from the admin layer: staff
// profiles, resources, appointment types and booking policies. The scheduling
// core treats these as read-only inputs.
type AdminHandler struct {
	Staff        staffRepo.StaffRepository
	Resources    resourceRepo.ResourceRepository
	Catalog      catalogRepo.CatalogRepository
	Appointments appointmentRepo.AppointmentRepository
	Cache        *scheduling.AvailabilityCache
	Logger       *zap.Logger
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(staff staffRepo.StaffRepository, resources resourceRepo.ResourceRepository, catalog catalogRepo.CatalogRepository, appts appointmentRepo.AppointmentRepository, cache *scheduling.AvailabilityCache, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		Staff:        staff,
		Resources:    resources,
		Catalog:      catalog,
		Appointments: appts,
		Cache:        cache,
		Logger:       logger,
	}
}

// UpsertStaff replaces a staff profile snapshot and invalidates the staff
// member's cached availability.
func (h *AdminHandler) UpsertStaff(c *gin.Context) {
	var staff models.StaffProfile
	if err := c.ShouldBindJSON(&staff); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}
	staff.ID = c.Param("id")
	if err := staff.Validate(); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}
	if err := h.Staff.Upsert(c.Request.Context(), &staff); err != nil {
		h.Logger.Error("upserting staff profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}
	h.Cache.BumpStaffVersion(c.Request.Context(), staff.ID)
	c.JSON(http.StatusOK, staff)
}

// UpsertResource replaces a resource snapshot.
func (h *AdminHandler) UpsertResource(c *gin.Context) {
	var res models.Resource
	if err := c.ShouldBindJSON(&res); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}
	res.ID = c.Param("id")
	if err := res.Validate(); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}
	if err := h.Resources.Upsert(c.Request.Context(), &res); err != nil {
		h.Logger.Error("upserting resource", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateAppointmentType publishes a new appointment type. Definitions are
// immutable: changing a duration, buffer or price means publishing a new id,
// so existing bookings keep the terms they were made under.
func (h *AdminHandler) CreateAppointmentType(c *gin.Context) {
	var typ models.AppointmentType
	if err := c.ShouldBindJSON(&typ); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}
	if err := typ.Validate(); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}

	if _, err := h.Catalog.GetType(c.Request.Context(), typ.ID); err == nil {
		count, countErr := h.Appointments.CountConfirmedByType(c.Request.Context(), typ.ID)
		if countErr != nil {
			count = 0
		}
		c.JSON(http.StatusConflict, gin.H{
			"error":                 "conflictError",
			"message":               "appointment type already exists; publish a new id for changed definitions",
			"confirmedAppointments": count,
		})
		return
	} else if !errors.Is(err, catalogRepo.ErrNotFound) {
		h.Logger.Error("checking appointment type", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}

	if err := h.Catalog.InsertType(c.Request.Context(), &typ); err != nil {
		h.Logger.Error("inserting appointment type", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, typ)
}

// GetAppointmentType returns one appointment type definition.
func (h *AdminHandler) GetAppointmentType(c *gin.Context) {
	typ, err := h.Catalog.GetType(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, catalogRepo.ErrNotFound) {
			utils.JSONError(c, http.StatusNotFound, "validationError", "appointment type not found")
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, typ)
}

// UpsertPolicy replaces a booking policy. An empty appointment_type_id makes
// it the business-wide default.
func (h *AdminHandler) UpsertPolicy(c *gin.Context) {
	var policy models.BookingPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}
	policy.ID = c.Param("id")
	if err := policy.Validate(); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validationError", err.Error())
		return
	}
	if err := h.Catalog.UpsertPolicy(c.Request.Context(), &policy); err != nil {
		h.Logger.Error("upserting booking policy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, policy)
}
