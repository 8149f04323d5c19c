package models

import (
	"fmt"
	"time"
)

// Appointment lifecycle states. An appointment is inserted directly as
// Confirmed (the pending stage is merged into the atomic commit); Rejected
// requests are never persisted beyond the audit event.
const (
	StatusConfirmed = "Confirmed"
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"
	StatusNoShow    = "NoShow"
)

// Appointment represents a confirmed booking of staff time, optionally
// holding one unit of a shared resource. All instants are UTC.
type Appointment struct {
	ID                string     `bson:"id" json:"id"`
	AppointmentTypeID string     `bson:"appointment_type_id" json:"appointment_type_id"`
	StaffID           string     `bson:"staff_id" json:"staff_id"`
	ResourceID        string     `bson:"resource_id,omitempty" json:"resource_id,omitempty"`
	CustomerID        string     `bson:"customer_id" json:"customer_id"`
	StartTime         time.Time  `bson:"start_time" json:"start_time"`
	EndTime           time.Time  `bson:"end_time" json:"end_time"` // derived: start + duration
	BufferedStart     time.Time  `bson:"buffered_start" json:"-"`  // start - buffer_before, denormalized for overlap queries
	BufferedEnd       time.Time  `bson:"buffered_end" json:"-"`    // end + buffer_after
	SlotKey           string     `bson:"slot_key" json:"-"`        // canonical key backing the unique index
	Status            string     `bson:"status" json:"status"`
	CancelReason      string     `bson:"cancel_reason,omitempty" json:"cancel_reason,omitempty"`
	CancelledBy       string     `bson:"cancelled_by,omitempty" json:"cancelled_by,omitempty"`
	FeeChargedCents   int64      `bson:"fee_charged_cents,omitempty" json:"fee_charged_cents,omitempty"`
	RescheduleCount   int        `bson:"reschedule_count" json:"reschedule_count"`
	RescheduledFrom   string     `bson:"rescheduled_from,omitempty" json:"rescheduled_from,omitempty"`
	CreatedAt         time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at" json:"updated_at"`
	Version           int        `bson:"version" json:"version"` // optimistic-lock counter
	CancelledAt       *time.Time `bson:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
}

// Interval returns the raw [start, end) range of the appointment.
func (a *Appointment) Interval() TimeRange {
	return TimeRange{Start: a.StartTime, End: a.EndTime}
}

// BufferedInterval returns the buffered exclusion zone of the appointment.
func (a *Appointment) BufferedInterval() TimeRange {
	return TimeRange{Start: a.BufferedStart, End: a.BufferedEnd}
}

// SlotKeyFor canonicalizes a (staff, start instant) pair. The appointments
// collection carries a unique partial index on (staff_id, slot_key) over
// Confirmed documents, so a racing writer loses with a duplicate-key error.
func SlotKeyFor(staffID string, start time.Time) string {
	return fmt.Sprintf("%s|%d", staffID, start.UTC().Unix())
}

// AppointmentType describes a bookable service. Immutable once referenced by
// a confirmed appointment; a changed definition gets a new id.
type AppointmentType struct {
	ID                   string    `bson:"id" json:"id"`
	Name                 string    `bson:"name" json:"name"`
	DurationMin          int       `bson:"duration_min" json:"duration_min"`
	PriceCents           int64     `bson:"price_cents" json:"price_cents"`
	BufferBeforeMin      int       `bson:"buffer_before_min" json:"buffer_before_min"`
	BufferAfterMin       int       `bson:"buffer_after_min" json:"buffer_after_min"`
	RequiresResourceKind string    `bson:"requires_resource_kind,omitempty" json:"requires_resource_kind,omitempty"`
	CreatedAt            time.Time `bson:"created_at" json:"created_at"`
}

// Duration returns the service duration.
func (t *AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMin) * time.Minute
}

// BufferBefore returns the leading idle buffer.
func (t *AppointmentType) BufferBefore() time.Duration {
	return time.Duration(t.BufferBeforeMin) * time.Minute
}

// BufferAfter returns the trailing idle buffer.
func (t *AppointmentType) BufferAfter() time.Duration {
	return time.Duration(t.BufferAfterMin) * time.Minute
}

// Validate checks the appointment type definition.
func (t *AppointmentType) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.DurationMin <= 0 {
		return fmt.Errorf("duration_min must be positive")
	}
	if t.PriceCents < 0 {
		return fmt.Errorf("price_cents must not be negative")
	}
	if t.BufferBeforeMin < 0 || t.BufferAfterMin < 0 {
		return fmt.Errorf("buffers must not be negative")
	}
	return nil
}
