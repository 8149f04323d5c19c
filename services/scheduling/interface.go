package scheduling

import (
	"context"
	"time"

	"appointqix/models"
)

// AvailabilityEngine answers free-slot queries.
type AvailabilityEngine interface {
	GetAvailableSlots(ctx context.Context, req AvailabilityRequest) ([]models.Slot, error)
}

// ReservationCoordinator owns the appointment lifecycle. Every method either
// commits its full effect or leaves state untouched.
type ReservationCoordinator interface {
	Reserve(ctx context.Context, req ReserveRequest) (*models.Appointment, error)
	Cancel(ctx context.Context, appointmentID, actor, reason string) (*models.Appointment, error)
	MarkNoShow(ctx context.Context, appointmentID string) (*models.Appointment, error)
	Complete(ctx context.Context, appointmentID string) (*models.Appointment, error)
	Reschedule(ctx context.Context, appointmentID string, newStart time.Time) (*models.Appointment, error)
}

// WaitlistManager queues customers for slots and runs the offer lifecycle.
// ExpireOffers and PruneStale are driven by the background worker.
type WaitlistManager interface {
	Join(ctx context.Context, req JoinRequest) (*models.WaitlistEntry, error)
	OnSlotFreed(ctx context.Context, staffID string, freed models.TimeRange) error
	Accept(ctx context.Context, entryID string) (*models.Appointment, error)
	ExpireOffers(ctx context.Context) (int, error)
	PruneStale(ctx context.Context) (int, error)
}

var (
	_ AvailabilityEngine     = (*DefaultAvailabilityEngine)(nil)
	_ ReservationCoordinator = (*DefaultReservationCoordinator)(nil)
	_ WaitlistManager        = (*DefaultWaitlistManager)(nil)
)
