package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appointqix/config"
	"appointqix/cron"
	"appointqix/database"
	appointmentRepo "appointqix/database/repository/appointment"
	catalogRepo "appointqix/database/repository/catalog"
	resourceRepo "appointqix/database/repository/resource"
	staffRepo "appointqix/database/repository/staff"
	waitlistRepo "appointqix/database/repository/waitlist"
	"appointqix/handlers"
	"appointqix/middleware"
	"appointqix/routes"
	"appointqix/services/events"
	"appointqix/services/scheduling"
	"appointqix/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitRedis()

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())

	// repositories.
	apptRepo := appointmentRepo.NewMongoAppointmentRepo()
	staffRepository := staffRepo.NewMongoStaffRepo()
	resourceRepository := resourceRepo.NewMongoResourceRepo()
	catalogRepository := catalogRepo.NewMongoCatalogRepo()
	waitlistRepository := waitlistRepo.NewMongoWaitlistRepo()

	for name, ensure := range map[string]func() error{
		"appointments": apptRepo.EnsureIndexes,
		"staff":        staffRepository.EnsureIndexes,
		"resources":    resourceRepository.EnsureIndexes,
		"catalog":      catalogRepository.EnsureIndexes,
		"waitlist":     waitlistRepository.EnsureIndexes,
	} {
		if err := ensure(); err != nil {
			logger.Sugar().Fatalf("main: failed to ensure %s indexes: %v", name, err)
		}
	}

	// services.
	availabilityCache := &scheduling.AvailabilityCache{
		Client: utils.GetCacheClient(),
		TTL:    time.Duration(config.AppConfig.AvailabilityCacheTTLSec) * time.Second,
	}
	publisher := events.NewRedisPublisher(utils.GetEventClient(), logger)
	grid := scheduling.TimeGrid{
		Granularity: time.Duration(config.AppConfig.SlotGranularityMin) * time.Minute,
	}
	clock := scheduling.SystemClock()
	horizon := time.Duration(config.AppConfig.BookingHorizonDays) * 24 * time.Hour

	availabilityEngine := &scheduling.DefaultAvailabilityEngine{
		Appointments: apptRepo,
		Staff:        staffRepository,
		Resources:    resourceRepository,
		Catalog:      catalogRepository,
		Grid:         grid,
		Cache:        availabilityCache,
		Clock:        clock,
		Horizon:      horizon,
	}

	coordinator := scheduling.NewReservationCoordinator(
		apptRepo,
		staffRepository,
		resourceRepository,
		catalogRepository,
		publisher,
		availabilityCache,
		grid,
		clock,
	)
	coordinator.Horizon = horizon

	waitlistManager := &scheduling.DefaultWaitlistManager{
		Entries:     waitlistRepository,
		Catalog:     catalogRepository,
		Resources:   resourceRepository,
		Reserver:    coordinator,
		Events:      publisher,
		Clock:       clock,
		OfferWindow: time.Duration(config.AppConfig.OfferWindowMin) * time.Minute,
	}
	coordinator.SetWaitlist(waitlistManager)

	// handlers.
	bookingHandler := handlers.NewBookingHandler(availabilityEngine, coordinator, apptRepo, logger)
	waitlistHandler := handlers.NewWaitlistHandler(waitlistManager, waitlistRepository)
	adminHandler := handlers.NewAdminHandler(staffRepository, resourceRepository, catalogRepository, apptRepo, availabilityCache, logger)

	handlerBundle := &handlers.HandlerBundle{
		GetAvailability:          bookingHandler.GetAvailability,
		Reserve:                  bookingHandler.Reserve,
		CancelAppointment:        bookingHandler.Cancel,
		MarkNoShow:               bookingHandler.MarkNoShow,
		CompleteAppointment:      bookingHandler.Complete,
		RescheduleAppointment:    bookingHandler.Reschedule,
		GetAppointment:           bookingHandler.GetAppointment,
		ListCustomerAppointments: bookingHandler.ListCustomerAppointments,
		GetStaffSchedule:         bookingHandler.GetStaffSchedule,

		JoinWaitlist:     waitlistHandler.Join,
		AcceptOffer:      waitlistHandler.Accept,
		GetWaitlistEntry: waitlistHandler.GetEntry,

		UpsertStaff:           adminHandler.UpsertStaff,
		UpsertResource:        adminHandler.UpsertResource,
		CreateAppointmentType: adminHandler.CreateAppointmentType,
		GetAppointmentType:    adminHandler.GetAppointmentType,
		UpsertPolicy:          adminHandler.UpsertPolicy,
	}

	routes.RegisterRoutes(router, handlerBundle)

	// Background waitlist maintenance and dependency health checks.
	cron.InitWaitlistWorker(waitlistManager)
	utils.StartHealthMonitor(map[string]*redis.Client{
		"cache":  utils.GetCacheClient(),
		"events": utils.GetEventClient(),
	}, database.MongoClient, time.Duration(config.AppConfig.HealthCheckEverySec)*time.Second)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
