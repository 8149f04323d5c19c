package models

import (
	"fmt"
	"time"
)

// WorkingWindow is a recurring weekly window in the staff member's local
// time zone, expressed as minutes from local midnight.
type WorkingWindow struct {
	Weekday  time.Weekday `bson:"weekday" json:"weekday"`
	StartMin int          `bson:"start_min" json:"start_min"`
	EndMin   int          `bson:"end_min" json:"end_min"`
}

// StaffProfile is a read-only snapshot of a bookable staff member, owned by
// the admin layer. Working windows and breaks recur weekly in the staff's
// local zone; blackouts are absolute UTC ranges.
type StaffProfile struct {
	ID           string          `bson:"id" json:"id"`
	TimeZone     string          `bson:"time_zone" json:"time_zone"` // IANA name, e.g. "Europe/Berlin"
	WorkingHours []WorkingWindow `bson:"working_hours" json:"working_hours"`
	Breaks       []WorkingWindow `bson:"breaks,omitempty" json:"breaks,omitempty"`
	Blackouts    []TimeRange     `bson:"blackouts,omitempty" json:"blackouts,omitempty"`
	UpdatedAt    time.Time       `bson:"updated_at" json:"updated_at"`
}

// Location resolves the staff member's IANA zone.
func (s *StaffProfile) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", s.TimeZone, err)
	}
	return loc, nil
}

// Validate checks the staff profile snapshot.
func (s *StaffProfile) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	if len(s.WorkingHours) == 0 {
		return fmt.Errorf("at least one working-hour window is required")
	}
	for _, w := range append(append([]WorkingWindow{}, s.WorkingHours...), s.Breaks...) {
		if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
			return fmt.Errorf("invalid weekday %d", w.Weekday)
		}
		if w.StartMin < 0 || w.EndMin > 24*60 || w.StartMin >= w.EndMin {
			return fmt.Errorf("invalid window [%d, %d)", w.StartMin, w.EndMin)
		}
	}
	for _, b := range s.Blackouts {
		if !b.End.After(b.Start) {
			return fmt.Errorf("blackout end must be after start")
		}
	}
	return nil
}
