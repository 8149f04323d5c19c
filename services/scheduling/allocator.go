package scheduling

import (
	"context"
	"sort"

	appointmentRepo "appointqix/database/repository/appointment"
	"appointqix/models"
)

// ResourceAllocator enforces the capacity invariant for shared resources:
// at no instant may the count of concurrent Confirmed appointments on a
// resource exceed its capacity. Resource occupancy is counted over raw
// appointment intervals; buffers occupy staff time only.
type ResourceAllocator struct {
	Appointments appointmentRepo.AppointmentRepository
}

// CheckCapacity verifies that adding probe to the resource's current
// Confirmed load keeps peak concurrency within capacity, and that probe
// avoids the resource's blackouts. excludeID skips an appointment being
// rescheduled. Must be called under the resource's day lock.
func (ra *ResourceAllocator) CheckCapacity(ctx context.Context, res *models.Resource, probe models.TimeRange, excludeID string) error {
	for _, b := range res.Blackouts {
		if probe.Overlaps(b) {
			return NewValidationError("resource %s is blacked out during the requested interval", res.ID)
		}
	}

	existing, err := ra.Appointments.FindConfirmedForResource(ctx, res.ID, probe)
	if err != nil {
		return NewInfrastructureError("checking resource usage", err)
	}
	intervals := make([]models.TimeRange, 0, len(existing))
	for _, a := range existing {
		if a.ID == excludeID {
			continue
		}
		intervals = append(intervals, a.Interval())
	}

	if !FitsCapacity(intervals, probe, res.Capacity) {
		return NewCapacityError("resource %s is at capacity (%d) during the requested interval", res.ID, res.Capacity)
	}
	return nil
}

// FitsCapacity reports whether one more booking over probe keeps concurrent
// usage within capacity at every instant of probe. Pure sweep over interval
// endpoints clipped to probe.
func FitsCapacity(existing []models.TimeRange, probe models.TimeRange, capacity int) bool {
	if capacity < 1 {
		return false
	}
	return maxConcurrent(existing, probe)+1 <= capacity
}

// maxConcurrent returns the peak number of existing intervals covering any
// instant within probe.
func maxConcurrent(existing []models.TimeRange, probe models.TimeRange) int {
	type event struct {
		at    int64
		delta int
	}
	var events []event
	for _, iv := range existing {
		if !iv.Overlaps(probe) {
			continue
		}
		start, end := iv.Start, iv.End
		if start.Before(probe.Start) {
			start = probe.Start
		}
		if end.After(probe.End) {
			end = probe.End
		}
		events = append(events, event{start.UnixNano(), +1}, event{end.UnixNano(), -1})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		// Ends before starts at the same instant: half-open intervals.
		return events[i].delta < events[j].delta
	})

	peak, current := 0, 0
	for _, e := range events {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}

// freeForCapacity reports whether a candidate interval fits capacity against
// a prefetched interval set; availability queries use it to avoid per-slot
// repository round trips.
func freeForCapacity(existing []models.TimeRange, blackouts []models.TimeRange, probe models.TimeRange, capacity int) bool {
	for _, b := range blackouts {
		if probe.Overlaps(b) {
			return false
		}
	}
	return FitsCapacity(existing, probe, capacity)
}
