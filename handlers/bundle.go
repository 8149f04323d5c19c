package handlers

import (
	"github.com/gin-gonic/gin"
)

// HandlerBundle groups all endpoint handlers into one struct for route
// registration.
type HandlerBundle struct {
	// Availability and booking endpoints.
	GetAvailability          gin.HandlerFunc
	Reserve                  gin.HandlerFunc
	CancelAppointment        gin.HandlerFunc
	MarkNoShow               gin.HandlerFunc
	CompleteAppointment      gin.HandlerFunc
	RescheduleAppointment    gin.HandlerFunc
	GetAppointment           gin.HandlerFunc
	ListCustomerAppointments gin.HandlerFunc
	GetStaffSchedule         gin.HandlerFunc

	// Waitlist endpoints.
	JoinWaitlist     gin.HandlerFunc
	AcceptOffer      gin.HandlerFunc
	GetWaitlistEntry gin.HandlerFunc

	// Admin snapshot-ingestion endpoints.
	UpsertStaff           gin.HandlerFunc
	UpsertResource        gin.HandlerFunc
	CreateAppointmentType gin.HandlerFunc
	GetAppointmentType    gin.HandlerFunc
	UpsertPolicy          gin.HandlerFunc
}
