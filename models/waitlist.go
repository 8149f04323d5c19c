package models

import (
	"fmt"
	"time"
)

// Waitlist entry states.
const (
	WaitlistWaiting   = "Waiting"
	WaitlistOffered   = "Offered"
	WaitlistExpired   = "Expired"
	WaitlistConverted = "Converted"
)

// StaffAny marks a waitlist entry willing to take any staff member.
const StaffAny = "any"

// WaitlistEntry queues a customer for a slot that may free up. Entries are
// FIFO by CreatedAt within their (appointment_type, staff) queue. An Offered
// entry carries the concrete slot it was offered and the offer deadline.
type WaitlistEntry struct {
	ID                string     `bson:"id" json:"id"`
	AppointmentTypeID string     `bson:"appointment_type_id" json:"appointment_type_id"`
	StaffID           string     `bson:"staff_id" json:"staff_id"` // concrete id or StaffAny
	CustomerID        string     `bson:"customer_id" json:"customer_id"`
	DesiredRange      TimeRange  `bson:"desired_range" json:"desired_range"`
	Status            string     `bson:"status" json:"status"`
	CreatedAt         time.Time  `bson:"created_at" json:"created_at"`
	OfferExpiresAt    *time.Time `bson:"offer_expires_at,omitempty" json:"offer_expires_at,omitempty"`
	OfferedStart      *time.Time `bson:"offered_start,omitempty" json:"offered_start,omitempty"`
	OfferedStaffID    string     `bson:"offered_staff_id,omitempty" json:"offered_staff_id,omitempty"`
	MissedOffers      int        `bson:"missed_offers" json:"missed_offers"`
	Version           int        `bson:"version" json:"version"`
}

// Validate checks a join request's entry fields.
func (e *WaitlistEntry) Validate() error {
	if e.AppointmentTypeID == "" {
		return fmt.Errorf("appointment_type_id is required")
	}
	if e.CustomerID == "" {
		return fmt.Errorf("customer_id is required")
	}
	if e.StaffID == "" {
		return fmt.Errorf("staff_id is required (use %q for any staff)", StaffAny)
	}
	if !e.DesiredRange.End.After(e.DesiredRange.Start) {
		return fmt.Errorf("desired range end must be after start")
	}
	return nil
}
