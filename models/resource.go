package models

import (
	"fmt"
	"time"
)

// Resource is a shared, capacity-limited bookable asset (room, chair,
// equipment). Same ownership pattern as StaffProfile: mutated by the admin
// layer, read-only to the core.
type Resource struct {
	ID        string      `bson:"id" json:"id"`
	Kind      string      `bson:"kind" json:"kind"`
	Capacity  int         `bson:"capacity" json:"capacity"` // >= 1 concurrent uses
	Blackouts []TimeRange `bson:"blackouts,omitempty" json:"blackouts,omitempty"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}

// Validate checks the resource snapshot.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if r.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1")
	}
	for _, b := range r.Blackouts {
		if !b.End.After(b.Start) {
			return fmt.Errorf("blackout end must be after start")
		}
	}
	return nil
}
