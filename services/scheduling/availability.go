package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appointmentRepo "appointqix/database/repository/appointment"
	catalogRepo "appointqix/database/repository/catalog"
	resourceRepo "appointqix/database/repository/resource"
	staffRepo "appointqix/database/repository/staff"
	"appointqix/models"
	"appointqix/utils"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AvailabilityRequest describes a free-slot query. Range is UTC; TimeZone is
// the caller's IANA zone for boundary conversion of the results (empty means
// UTC).
type AvailabilityRequest struct {
	StaffID           string
	AppointmentTypeID string
	Range             models.TimeRange
	TimeZone          string
}

// DefaultAvailabilityEngine computes free slots. Read-only and lock-free:
// results are snapshots that Reserve re-validates under its serialization
// boundary.
type DefaultAvailabilityEngine struct {
	Appointments appointmentRepo.AppointmentRepository
	Staff        staffRepo.StaffRepository
	Resources    resourceRepo.ResourceRepository
	Catalog      catalogRepo.CatalogRepository
	Grid         TimeGrid
	Cache        *AvailabilityCache // optional
	Clock        Clock
	Horizon      time.Duration // how far ahead slots may be queried; 0 means unbounded
}

// GetAvailableSlots generates grid candidates, subtracts the staff member's
// Confirmed appointments expanded to their buffered exclusion zones, and,
// when the appointment type requires a resource kind, keeps only candidates
// some resource of that kind can absorb within its capacity.
func (e *DefaultAvailabilityEngine) GetAvailableSlots(ctx context.Context, req AvailabilityRequest) ([]models.Slot, error) {
	loc := time.UTC
	if req.TimeZone != "" {
		var err error
		if loc, err = time.LoadLocation(req.TimeZone); err != nil {
			return nil, NewValidationError("invalid time zone %q", req.TimeZone)
		}
	}
	if !req.Range.End.After(req.Range.Start) {
		return nil, NewValidationError("date range end must be after start")
	}
	if e.Horizon > 0 {
		limit := e.now().Add(e.Horizon)
		if !req.Range.Start.Before(limit) {
			return nil, NewValidationError("date range starts beyond the booking horizon (%s)", limit.Format(time.RFC3339))
		}
		// Ends past the horizon are clamped rather than rejected.
		if req.Range.End.After(limit) {
			req.Range.End = limit
		}
	}

	if slots, ok := e.Cache.Get(ctx, req); ok {
		return slotsIn(slots, loc), nil
	}

	staff, err := e.Staff.GetByID(ctx, req.StaffID)
	if err != nil {
		if errors.Is(err, staffRepo.ErrNotFound) {
			return nil, NewValidationError("unknown staff member %s", req.StaffID)
		}
		return nil, NewInfrastructureError("loading staff profile", err)
	}
	typ, err := e.Catalog.GetType(ctx, req.AppointmentTypeID)
	if err != nil {
		if errors.Is(err, catalogRepo.ErrNotFound) {
			return nil, NewValidationError("unknown appointment type %s", req.AppointmentTypeID)
		}
		return nil, NewInfrastructureError("loading appointment type", err)
	}

	candidates, err := e.Grid.Candidates(staff, req.Range, typ.Duration())
	if err != nil {
		return nil, NewValidationError("generating candidates: %v", err)
	}

	// Fetch every Confirmed appointment whose buffered zone could touch a
	// candidate's buffered zone in one range scan.
	probe := models.TimeRange{
		Start: req.Range.Start.Add(-typ.BufferBefore()),
		End:   req.Range.End.Add(typ.BufferAfter()),
	}
	busyAppts, err := e.Appointments.FindConfirmedOverlapping(ctx, req.StaffID, probe)
	if err != nil {
		return nil, NewInfrastructureError("loading staff appointments", err)
	}
	busy := make([]models.TimeRange, 0, len(busyAppts))
	for _, a := range busyAppts {
		busy = append(busy, a.BufferedInterval())
	}

	resources, usage, err := e.resourceUsage(ctx, typ, req.Range)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var slots []models.Slot
	for _, start := range candidates {
		if start.Before(now) {
			continue
		}
		end := start.Add(typ.Duration())
		buffered := models.TimeRange{
			Start: start.Add(-typ.BufferBefore()),
			End:   end.Add(typ.BufferAfter()),
		}
		if overlapsAny(buffered, busy) {
			continue
		}
		if typ.RequiresResourceKind != "" && !anyResourceFree(resources, usage, models.TimeRange{Start: start, End: end}) {
			continue
		}
		slots = append(slots, models.Slot{StartTime: start, EndTime: end})
	}

	e.Cache.Set(ctx, req, slots)
	return slotsIn(slots, loc), nil
}

// resourceUsage prefetches the Confirmed load for every resource of the
// required kind so per-candidate checks stay in memory.
func (e *DefaultAvailabilityEngine) resourceUsage(ctx context.Context, typ *models.AppointmentType, rng models.TimeRange) ([]models.Resource, map[string][]models.TimeRange, error) {
	if typ.RequiresResourceKind == "" {
		return nil, nil, nil
	}
	resources, err := e.Resources.ListByKind(ctx, typ.RequiresResourceKind)
	if err != nil {
		return nil, nil, NewInfrastructureError("loading resources", err)
	}
	if len(resources) == 0 {
		return nil, nil, NewValidationError("no resources of kind %q are configured", typ.RequiresResourceKind)
	}

	usage := make(map[string][]models.TimeRange, len(resources))
	for _, res := range resources {
		appts, err := e.Appointments.FindConfirmedForResource(ctx, res.ID, rng)
		if err != nil {
			return nil, nil, NewInfrastructureError("loading resource usage", err)
		}
		intervals := make([]models.TimeRange, 0, len(appts))
		for _, a := range appts {
			intervals = append(intervals, a.Interval())
		}
		usage[res.ID] = intervals
	}
	return resources, usage, nil
}

func (e *DefaultAvailabilityEngine) now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock.Now()
}

func overlapsAny(probe models.TimeRange, busy []models.TimeRange) bool {
	for _, b := range busy {
		if probe.Overlaps(b) {
			return true
		}
	}
	return false
}

// anyResourceFree reports whether at least one resource of the kind can
// absorb the candidate within capacity at every instant.
func anyResourceFree(resources []models.Resource, usage map[string][]models.TimeRange, probe models.TimeRange) bool {
	for _, res := range resources {
		if freeForCapacity(usage[res.ID], res.Blackouts, probe, res.Capacity) {
			return true
		}
	}
	return false
}

// slotsIn converts slot boundaries into the caller's zone. Internal storage
// and all invariant checks stay UTC; this is the only conversion point.
func slotsIn(slots []models.Slot, loc *time.Location) []models.Slot {
	if loc == time.UTC || len(slots) == 0 {
		return slots
	}
	out := make([]models.Slot, len(slots))
	for i, s := range slots {
		out[i] = models.Slot{StartTime: s.StartTime.In(loc), EndTime: s.EndTime.In(loc)}
	}
	return out
}

// AvailabilityCache caches availability snapshots in redis. Every committed
// write bumps the staff member's version counter; the version is part of the
// cache key, so stale snapshots are simply never read again and age out with
// the TTL.
type AvailabilityCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func (c *AvailabilityCache) versionKey(staffID string) string {
	return fmt.Sprintf("avail:ver:%s", staffID)
}

func (c *AvailabilityCache) snapshotKey(req AvailabilityRequest, version string) string {
	return fmt.Sprintf("avail:%s:%s:%d:%d:%s", req.StaffID, req.AppointmentTypeID,
		req.Range.Start.Unix(), req.Range.End.Unix(), version)
}

// Get returns a cached snapshot, treating every cache failure as a miss.
func (c *AvailabilityCache) Get(ctx context.Context, req AvailabilityRequest) ([]models.Slot, bool) {
	if c == nil || c.Client == nil {
		return nil, false
	}
	ver, err := c.Client.Get(ctx, c.versionKey(req.StaffID)).Result()
	if err != nil {
		return nil, false
	}
	raw, err := c.Client.Get(ctx, c.snapshotKey(req, ver)).Result()
	if err != nil {
		return nil, false
	}
	var slots []models.Slot
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		return nil, false
	}
	return slots, true
}

// Set stores a snapshot under the staff member's current version.
func (c *AvailabilityCache) Set(ctx context.Context, req AvailabilityRequest, slots []models.Slot) {
	if c == nil || c.Client == nil {
		return
	}
	verKey := c.versionKey(req.StaffID)
	ver, err := c.Client.Get(ctx, verKey).Result()
	if err == redis.Nil {
		ver = "0"
		if err := c.Client.SetNX(ctx, verKey, ver, 0).Err(); err != nil {
			return
		}
	} else if err != nil {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := c.Client.Set(ctx, c.snapshotKey(req, ver), raw, c.TTL).Err(); err != nil {
		utils.GetLogger().Debug("availability cache set failed", zap.Error(err))
	}
}

// BumpStaffVersion invalidates all cached snapshots for the staff member.
func (c *AvailabilityCache) BumpStaffVersion(ctx context.Context, staffID string) {
	if c == nil || c.Client == nil {
		return
	}
	if err := c.Client.Incr(ctx, c.versionKey(staffID)).Err(); err != nil {
		utils.GetLogger().Debug("availability cache bump failed", zap.Error(err))
	}
}
