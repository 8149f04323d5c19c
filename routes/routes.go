package routes

import (
	"net/http"
	"time"

	"appointqix/handlers"
	"appointqix/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterBookingRoutes sets up availability queries and the appointment
// lifecycle endpoints.
func RegisterBookingRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api")
	{
		api.GET("/availability", hb.GetAvailability)

		api.POST("/appointments", hb.Reserve)
		api.GET("/appointments/:id", hb.GetAppointment)
		api.POST("/appointments/:id/cancel", hb.CancelAppointment)
		api.POST("/appointments/:id/no-show", hb.MarkNoShow)
		api.POST("/appointments/:id/complete", hb.CompleteAppointment)
		api.POST("/appointments/:id/reschedule", hb.RescheduleAppointment)

		api.GET("/customers/:id/appointments", hb.ListCustomerAppointments)
		api.GET("/staff/:id/schedule", hb.GetStaffSchedule)
	}
}

// RegisterWaitlistRoutes sets up the waitlist endpoints.
func RegisterWaitlistRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/waitlist")
	{
		api.POST("", hb.JoinWaitlist)
		api.GET("/:id", hb.GetWaitlistEntry)
		api.POST("/:id/accept", hb.AcceptOffer)
	}
}

// RegisterAdminRoutes sets up the snapshot-ingestion endpoints used by the
// admin layer.
func RegisterAdminRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/admin")
	{
		api.PUT("/staff/:id", hb.UpsertStaff)
		api.PUT("/resources/:id", hb.UpsertResource)
		api.POST("/appointment-types", hb.CreateAppointmentType)
		api.GET("/appointment-types/:id", hb.GetAppointmentType)
		api.PUT("/policies/:id", hb.UpsertPolicy)
	}
}

// RegisterHealthRoute registers a health-check endpoint backed by the
// periodic dependency monitor.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		status := utils.GetHealthStatus()
		code := http.StatusOK
		state := "ok"
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(code, gin.H{"status": state, "dependencies": status})
	})
}

// RegisterRoutes centralizes registration of all endpoints and the global
// middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterBookingRoutes(r, hb)
	RegisterWaitlistRoutes(r, hb)
	RegisterAdminRoutes(r, hb)
	RegisterHealthRoute(r)
}
