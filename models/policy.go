package models

import (
	"fmt"
	"math"
	"time"
)

// Fee modes.
const (
	FeeModeFixed   = "fixed"
	FeeModePercent = "percent"
)

// FeeSpec configures a fee as either a fixed amount or a percentage of the
// appointment type's price.
type FeeSpec struct {
	Mode        string  `bson:"mode" json:"mode"`
	AmountCents int64   `bson:"amount_cents,omitempty" json:"amount_cents,omitempty"`
	Percent     float64 `bson:"percent,omitempty" json:"percent,omitempty"` // 0..100
}

// Apply computes the fee against a price in minor units.
func (f FeeSpec) Apply(priceCents int64) int64 {
	switch f.Mode {
	case FeeModePercent:
		return int64(math.Round(float64(priceCents) * f.Percent / 100))
	case FeeModeFixed:
		return f.AmountCents
	default:
		return 0
	}
}

// Validate checks the fee configuration.
func (f FeeSpec) Validate() error {
	switch f.Mode {
	case FeeModeFixed:
		if f.AmountCents < 0 {
			return fmt.Errorf("fee amount must not be negative")
		}
	case FeeModePercent:
		if f.Percent < 0 || f.Percent > 100 {
			return fmt.Errorf("fee percent must be within [0, 100]")
		}
	case "":
		// No fee configured.
	default:
		return fmt.Errorf("unknown fee mode %q", f.Mode)
	}
	return nil
}

// BookingPolicy governs cancellation, no-show and reschedule rules, per
// appointment type or business-wide (empty AppointmentTypeID).
type BookingPolicy struct {
	ID                    string    `bson:"id" json:"id"`
	AppointmentTypeID     string    `bson:"appointment_type_id,omitempty" json:"appointment_type_id,omitempty"`
	CancellationWindowMin int       `bson:"cancellation_window_min" json:"cancellation_window_min"`
	CancellationFee       FeeSpec   `bson:"cancellation_fee" json:"cancellation_fee"`
	NoShowFee             FeeSpec   `bson:"no_show_fee" json:"no_show_fee"`
	RescheduleLimit       int       `bson:"reschedule_limit" json:"reschedule_limit"`
	UpdatedAt             time.Time `bson:"updated_at" json:"updated_at"`
}

// CancellationWindow returns the duration before start inside which a
// cancellation incurs the fee.
func (p *BookingPolicy) CancellationWindow() time.Duration {
	return time.Duration(p.CancellationWindowMin) * time.Minute
}

// Validate checks the policy configuration.
func (p *BookingPolicy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.CancellationWindowMin < 0 {
		return fmt.Errorf("cancellation window must not be negative")
	}
	if p.RescheduleLimit < 0 {
		return fmt.Errorf("reschedule limit must not be negative")
	}
	if err := p.CancellationFee.Validate(); err != nil {
		return fmt.Errorf("cancellation fee: %w", err)
	}
	if err := p.NoShowFee.Validate(); err != nil {
		return fmt.Errorf("no-show fee: %w", err)
	}
	return nil
}
