package models

import "time"

// Domain event types consumed asynchronously by collaborators (notification
// dispatch, calendar sync). Delivery is entirely the collaborator's concern.
const (
	EventAppointmentConfirmed   = "AppointmentConfirmed"
	EventAppointmentCancelled   = "AppointmentCancelled"
	EventAppointmentNoShow      = "AppointmentNoShow"
	EventAppointmentRescheduled = "AppointmentRescheduled"
	EventAppointmentCompleted   = "AppointmentCompleted"
	EventWaitlistOffered        = "WaitlistOffered"
	EventWaitlistExpired        = "WaitlistExpired"
	EventWaitlistConverted      = "WaitlistConverted"
)

// DomainEvent is the envelope published on the event channel.
type DomainEvent struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	AppointmentID   string    `json:"appointment_id,omitempty"`
	WaitlistEntryID string    `json:"waitlist_entry_id,omitempty"`
	StaffID         string    `json:"staff_id,omitempty"`
	CustomerID      string    `json:"customer_id,omitempty"`
	StartTime       time.Time `json:"start_time,omitzero"`
	EndTime         time.Time `json:"end_time,omitzero"`
	FeeChargedCents int64     `json:"fee_charged_cents,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
