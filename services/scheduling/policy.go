package scheduling

import (
	"time"

	"appointqix/models"
)

// PolicyEngine evaluates cancellation, no-show and reschedule rules. Every
// method is a pure function of (appointment, policy, now): same inputs, same
// verdict. No I/O, no clock access.
type PolicyEngine struct{}

// CancellationAssessment is the verdict for a cancellation request.
type CancellationAssessment struct {
	Allowed  bool
	FeeCents int64
	Reason   string
}

// EvaluateCancellation applies the cancellation window. Cancelling before
// the window opens is free; inside the window the configured fee applies
// (the dedicated cancellation fee when set, otherwise the no-show fee).
// Cancelling an appointment that has already started is disallowed.
func (PolicyEngine) EvaluateCancellation(appt *models.Appointment, typ *models.AppointmentType, policy *models.BookingPolicy, now time.Time) CancellationAssessment {
	if !now.Before(appt.StartTime) {
		return CancellationAssessment{
			Allowed: false,
			Reason:  "appointment has already started",
		}
	}

	if policy == nil {
		return CancellationAssessment{Allowed: true}
	}

	// Inside the window when now + cancellation_window > start.
	if now.Add(policy.CancellationWindow()).After(appt.StartTime) {
		fee := policy.CancellationFee
		if fee.Mode == "" {
			fee = policy.NoShowFee
		}
		return CancellationAssessment{
			Allowed:  true,
			FeeCents: fee.Apply(typ.PriceCents),
			Reason:   "cancelled inside the cancellation window",
		}
	}
	return CancellationAssessment{Allowed: true}
}

// EvaluateNoShow always applies the no-show fee.
func (PolicyEngine) EvaluateNoShow(typ *models.AppointmentType, policy *models.BookingPolicy) int64 {
	if policy == nil {
		return 0
	}
	return policy.NoShowFee.Apply(typ.PriceCents)
}

// EvaluateReschedule checks the appointment's reschedule count against the
// policy limit. Returns the remaining budget and whether one more reschedule
// is permitted.
func (PolicyEngine) EvaluateReschedule(appt *models.Appointment, policy *models.BookingPolicy) (allowed bool, remaining int) {
	if policy == nil {
		return true, 0
	}
	remaining = policy.RescheduleLimit - appt.RescheduleCount
	return remaining > 0, remaining
}
