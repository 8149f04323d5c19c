package appointmentRepo

import (
	"context"
	"errors"
	"time"

	"appointqix/models"
)

// Sentinel errors surfaced to the scheduling layer, which maps them onto its
// error taxonomy.
var (
	// ErrDuplicateSlot means a racing writer already committed the slot key.
	ErrDuplicateSlot = errors.New("slot key already committed")
	// ErrNotFound means no appointment matched the id.
	ErrNotFound = errors.New("appointment not found")
	// ErrStale means the compare-and-swap precondition (status, version) no longer holds.
	ErrStale = errors.New("appointment state changed concurrently")
)

// TransitionFields carries the optional fields written alongside a status
// transition.
type TransitionFields struct {
	CancelReason    string
	CancelledBy     string
	FeeChargedCents int64
	CancelledAt     *time.Time
}

// AppointmentRepository is the persistence boundary for appointments. Insert
// and TransitionStatus provide the atomic compare-and-swap semantics the
// reservation coordinator relies on.
type AppointmentRepository interface {
	// Insert commits a new appointment. Returns ErrDuplicateSlot when the
	// unique (staff_id, slot_key) index rejects a racing Confirmed write.
	Insert(ctx context.Context, appt *models.Appointment) error
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	// FindConfirmedOverlapping returns Confirmed appointments for the staff
	// whose buffered exclusion zones intersect rng.
	FindConfirmedOverlapping(ctx context.Context, staffID string, rng models.TimeRange) ([]models.Appointment, error)
	// FindConfirmedForResource returns Confirmed appointments holding the
	// resource whose raw intervals intersect rng.
	FindConfirmedForResource(ctx context.Context, resourceID string, rng models.TimeRange) ([]models.Appointment, error)
	// TransitionStatus atomically moves id from one status to another,
	// guarded by the optimistic version counter. Returns ErrStale when the
	// precondition fails, ErrNotFound when the id is unknown.
	TransitionStatus(ctx context.Context, id, from, to string, expectedVersion int, fields TransitionFields) (*models.Appointment, error)
	ListByCustomer(ctx context.Context, customerID string, limit int64) ([]models.Appointment, error)
	ListConfirmedByStaffDay(ctx context.Context, staffID string, day models.TimeRange) ([]models.Appointment, error)
	// CountConfirmedByType reports how many confirmed appointments reference
	// the appointment type; a non-zero count freezes the type definition.
	CountConfirmedByType(ctx context.Context, typeID string) (int64, error)
	EnsureIndexes() error
}
