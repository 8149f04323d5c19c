package scheduling

import (
	"context"
	"errors"
	"time"

	appointmentRepo "appointqix/database/repository/appointment"
	catalogRepo "appointqix/database/repository/catalog"
	resourceRepo "appointqix/database/repository/resource"
	staffRepo "appointqix/database/repository/staff"
	"appointqix/models"
	"appointqix/services/events"
	"appointqix/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReserveRequest is a booking intent. StartTime may be in any zone; it is
// normalized to UTC before validation.
type ReserveRequest struct {
	StaffID           string
	ResourceID        string // required iff the appointment type needs a resource kind
	AppointmentTypeID string
	StartTime         time.Time
	CustomerID        string
}

// SlotFreedNotifier receives freed intervals for waitlist promotion.
type SlotFreedNotifier interface {
	OnSlotFreed(ctx context.Context, staffID string, freed models.TimeRange) error
}

// DefaultReservationCoordinator serializes slot commits per (staff, day) and
// (resource, day), re-validates every intent against live state, and commits
// atomically through the repository's compare-and-swap boundary. It never
// retries internally: a lost race surfaces as ConflictError and the caller
// re-queries availability.
type DefaultReservationCoordinator struct {
	Appointments appointmentRepo.AppointmentRepository
	Staff        staffRepo.StaffRepository
	Resources    resourceRepo.ResourceRepository
	Catalog      catalogRepo.CatalogRepository
	Allocator    *ResourceAllocator
	Policy       PolicyEngine
	Grid         TimeGrid
	Events       events.Publisher
	Cache        *AvailabilityCache
	Clock        Clock
	Horizon      time.Duration // bookable window from now; 0 means unbounded

	locks    *dayLockRegistry
	waitlist SlotFreedNotifier
}

// NewReservationCoordinator wires a coordinator with its lock registry.
func NewReservationCoordinator(
	appts appointmentRepo.AppointmentRepository,
	staff staffRepo.StaffRepository,
	resources resourceRepo.ResourceRepository,
	catalog catalogRepo.CatalogRepository,
	publisher events.Publisher,
	cache *AvailabilityCache,
	grid TimeGrid,
	clock Clock,
) *DefaultReservationCoordinator {
	if clock == nil {
		clock = SystemClock()
	}
	return &DefaultReservationCoordinator{
		Appointments: appts,
		Staff:        staff,
		Resources:    resources,
		Catalog:      catalog,
		Allocator:    &ResourceAllocator{Appointments: appts},
		Grid:         grid,
		Events:       publisher,
		Cache:        cache,
		Clock:        clock,
		locks:        newDayLockRegistry(),
	}
}

// SetWaitlist attaches the waitlist manager after construction; the waitlist
// reserves through the coordinator, so the two reference each other.
func (c *DefaultReservationCoordinator) SetWaitlist(w SlotFreedNotifier) {
	c.waitlist = w
}

// Reserve validates a booking intent and commits it atomically. Returns the
// Confirmed appointment, or ValidationError (bad request), ConflictError
// (slot lost to a race), CapacityError (resource full).
func (c *DefaultReservationCoordinator) Reserve(ctx context.Context, req ReserveRequest) (*models.Appointment, error) {
	if req.CustomerID == "" {
		return nil, NewValidationError("customer_id is required")
	}
	typ, staff, err := c.loadTypeAndStaff(ctx, req.AppointmentTypeID, req.StaffID)
	if err != nil {
		return nil, err
	}

	start := req.StartTime.UTC()
	end := start.Add(typ.Duration())
	interval := models.TimeRange{Start: start, End: end}
	buffered := models.TimeRange{
		Start: start.Add(-typ.BufferBefore()),
		End:   end.Add(typ.BufferAfter()),
	}

	if start.Before(c.Clock.Now()) {
		return nil, NewValidationError("start time %s is in the past", start.Format(time.RFC3339))
	}
	if c.beyondHorizon(start) {
		return nil, NewValidationError("start time %s is beyond the booking horizon", start.Format(time.RFC3339))
	}
	fits, err := c.Grid.FitsWorkingHours(staff, interval)
	if err != nil {
		return nil, NewValidationError("%v", err)
	}
	if !fits {
		return nil, NewValidationError("start time %s is outside working hours or blacked out for staff %s",
			start.Format(time.RFC3339), staff.ID)
	}

	res, err := c.resolveResource(ctx, typ, req.ResourceID)
	if err != nil {
		return nil, err
	}

	// Serialization boundary: every day the buffered interval touches, plus
	// the resource's days. Keys are sorted inside acquire, giving the fixed
	// global order that prevents deadlock across concurrent pairs.
	keys := staffDayKeys(staff.ID, buffered)
	if res != nil {
		keys = append(keys, resourceDayKeys(res.ID, interval)...)
	}

	appt, err := func() (*models.Appointment, error) {
		release := c.locks.acquire(keys...)
		defer release()

		overlapping, err := c.Appointments.FindConfirmedOverlapping(ctx, staff.ID, buffered)
		if err != nil {
			return nil, NewInfrastructureError("checking staff conflicts", err)
		}
		if len(overlapping) > 0 {
			return nil, NewConflictError("slot %s is no longer available for staff %s",
				start.Format(time.RFC3339), staff.ID)
		}
		if res != nil {
			if err := c.Allocator.CheckCapacity(ctx, res, interval, ""); err != nil {
				return nil, err
			}
		}

		now := c.Clock.Now()
		appt := &models.Appointment{
			ID:                uuid.New().String(),
			AppointmentTypeID: typ.ID,
			StaffID:           staff.ID,
			CustomerID:        req.CustomerID,
			StartTime:         start,
			EndTime:           end,
			BufferedStart:     buffered.Start,
			BufferedEnd:       buffered.End,
			SlotKey:           models.SlotKeyFor(staff.ID, start),
			Status:            models.StatusConfirmed,
			CreatedAt:         now,
			UpdatedAt:         now,
			Version:           0,
		}
		if res != nil {
			appt.ResourceID = res.ID
		}

		if err := c.Appointments.Insert(ctx, appt); err != nil {
			if errors.Is(err, appointmentRepo.ErrDuplicateSlot) {
				// A racing writer on another instance won the unique index.
				return nil, NewConflictError("slot %s was just taken", start.Format(time.RFC3339))
			}
			return nil, NewInfrastructureError("committing appointment", err)
		}
		return appt, nil
	}()
	if err != nil {
		return nil, err
	}

	c.Cache.BumpStaffVersion(ctx, staff.ID)
	c.publish(ctx, models.EventAppointmentConfirmed, appt)
	return appt, nil
}

// Cancel moves a Confirmed appointment to Cancelled, charging the policy fee
// when inside the cancellation window, and hands the freed interval to the
// waitlist. Cancelling an already-Cancelled appointment is a no-op returning
// the same terminal state.
func (c *DefaultReservationCoordinator) Cancel(ctx context.Context, appointmentID, actor, reason string) (*models.Appointment, error) {
	appt, err := c.getAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case models.StatusCancelled:
		return appt, nil // idempotent
	case models.StatusCompleted, models.StatusNoShow:
		return nil, NewPolicyError("appointment %s is %s and cannot be cancelled", appt.ID, appt.Status)
	}

	typ, policy, err := c.loadTypeAndPolicy(ctx, appt.AppointmentTypeID)
	if err != nil {
		return nil, err
	}

	now := c.Clock.Now()
	verdict := c.Policy.EvaluateCancellation(appt, typ, policy, now)
	if !verdict.Allowed {
		return nil, NewPolicyError("cancellation not allowed: %s", verdict.Reason)
	}

	cancelled, err := c.transition(ctx, appt, models.StatusCancelled, appointmentRepo.TransitionFields{
		CancelReason:    reason,
		CancelledBy:     actor,
		FeeChargedCents: verdict.FeeCents,
		CancelledAt:     &now,
	})
	if err != nil {
		return nil, err
	}

	c.Cache.BumpStaffVersion(ctx, cancelled.StaffID)
	c.publish(ctx, models.EventAppointmentCancelled, cancelled)
	c.notifySlotFreed(ctx, cancelled)
	return cancelled, nil
}

// MarkNoShow records a missed appointment. Only valid after end_time for a
// Confirmed appointment; always applies the no-show fee.
func (c *DefaultReservationCoordinator) MarkNoShow(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	appt, err := c.getAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status == models.StatusNoShow {
		return appt, nil // idempotent
	}
	if appt.Status != models.StatusConfirmed {
		return nil, NewPolicyError("appointment %s is %s and cannot be marked no-show", appt.ID, appt.Status)
	}
	now := c.Clock.Now()
	if !now.After(appt.EndTime) {
		return nil, NewPolicyError("appointment %s has not ended yet", appt.ID)
	}

	typ, policy, err := c.loadTypeAndPolicy(ctx, appt.AppointmentTypeID)
	if err != nil {
		return nil, err
	}
	fee := c.Policy.EvaluateNoShow(typ, policy)

	marked, err := c.transition(ctx, appt, models.StatusNoShow, appointmentRepo.TransitionFields{
		FeeChargedCents: fee,
	})
	if err != nil {
		return nil, err
	}

	c.Cache.BumpStaffVersion(ctx, marked.StaffID)
	c.publish(ctx, models.EventAppointmentNoShow, marked)
	c.notifySlotFreed(ctx, marked)
	return marked, nil
}

// Complete closes out a finished appointment (Confirmed → Completed).
func (c *DefaultReservationCoordinator) Complete(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	appt, err := c.getAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status == models.StatusCompleted {
		return appt, nil // idempotent
	}
	if appt.Status != models.StatusConfirmed {
		return nil, NewPolicyError("appointment %s is %s and cannot be completed", appt.ID, appt.Status)
	}
	if c.Clock.Now().Before(appt.EndTime) {
		return nil, NewPolicyError("appointment %s has not ended yet", appt.ID)
	}

	completed, err := c.transition(ctx, appt, models.StatusCompleted, appointmentRepo.TransitionFields{})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, models.EventAppointmentCompleted, completed)
	return completed, nil
}

// Reschedule moves a Confirmed appointment to a new start as one logical
// unit: the original is restored if committing the new slot fails. Counts
// against the policy's reschedule limit.
func (c *DefaultReservationCoordinator) Reschedule(ctx context.Context, appointmentID string, newStart time.Time) (*models.Appointment, error) {
	appt, err := c.getAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != models.StatusConfirmed {
		return nil, NewPolicyError("appointment %s is %s and cannot be rescheduled", appt.ID, appt.Status)
	}

	typ, policy, err := c.loadTypeAndPolicy(ctx, appt.AppointmentTypeID)
	if err != nil {
		return nil, err
	}
	if allowed, _ := c.Policy.EvaluateReschedule(appt, policy); !allowed {
		return nil, NewPolicyError("reschedule limit (%d) reached for appointment %s", policy.RescheduleLimit, appt.ID)
	}

	staff, err := c.Staff.GetByID(ctx, appt.StaffID)
	if err != nil {
		return nil, NewInfrastructureError("loading staff profile", err)
	}

	start := newStart.UTC()
	end := start.Add(typ.Duration())
	interval := models.TimeRange{Start: start, End: end}
	buffered := models.TimeRange{
		Start: start.Add(-typ.BufferBefore()),
		End:   end.Add(typ.BufferAfter()),
	}

	if start.Before(c.Clock.Now()) {
		return nil, NewValidationError("new start time %s is in the past", start.Format(time.RFC3339))
	}
	if c.beyondHorizon(start) {
		return nil, NewValidationError("new start time %s is beyond the booking horizon", start.Format(time.RFC3339))
	}
	fits, err := c.Grid.FitsWorkingHours(staff, interval)
	if err != nil {
		return nil, NewValidationError("%v", err)
	}
	if !fits {
		return nil, NewValidationError("new start time %s is outside working hours or blacked out", start.Format(time.RFC3339))
	}

	var res *models.Resource
	if appt.ResourceID != "" {
		if res, err = c.Resources.GetByID(ctx, appt.ResourceID); err != nil {
			return nil, NewInfrastructureError("loading resource", err)
		}
	}

	// One acquisition covers the old and new days so no other writer can
	// slip between the cancel and the re-reserve.
	keys := staffDayKeys(appt.StaffID, buffered)
	keys = append(keys, staffDayKeys(appt.StaffID, appt.BufferedInterval())...)
	if res != nil {
		keys = append(keys, resourceDayKeys(res.ID, interval)...)
		keys = append(keys, resourceDayKeys(res.ID, appt.Interval())...)
	}

	moved, err := func() (*models.Appointment, error) {
		release := c.locks.acquire(keys...)
		defer release()

		// Validate the target slot first, ignoring the appointment being moved.
		overlapping, err := c.Appointments.FindConfirmedOverlapping(ctx, appt.StaffID, buffered)
		if err != nil {
			return nil, NewInfrastructureError("checking staff conflicts", err)
		}
		for _, other := range overlapping {
			if other.ID != appt.ID {
				return nil, NewConflictError("slot %s is no longer available for staff %s",
					start.Format(time.RFC3339), appt.StaffID)
			}
		}
		if res != nil {
			if err := c.Allocator.CheckCapacity(ctx, res, interval, appt.ID); err != nil {
				return nil, err
			}
		}

		now := c.Clock.Now()
		cancelled, err := c.transition(ctx, appt, models.StatusCancelled, appointmentRepo.TransitionFields{
			CancelReason: "rescheduled",
			CancelledBy:  "system",
			CancelledAt:  &now,
		})
		if err != nil {
			return nil, err
		}

		moved := &models.Appointment{
			ID:                uuid.New().String(),
			AppointmentTypeID: appt.AppointmentTypeID,
			StaffID:           appt.StaffID,
			ResourceID:        appt.ResourceID,
			CustomerID:        appt.CustomerID,
			StartTime:         start,
			EndTime:           end,
			BufferedStart:     buffered.Start,
			BufferedEnd:       buffered.End,
			SlotKey:           models.SlotKeyFor(appt.StaffID, start),
			Status:            models.StatusConfirmed,
			RescheduleCount:   appt.RescheduleCount + 1,
			RescheduledFrom:   appt.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
			Version:           0,
		}

		if err := c.Appointments.Insert(ctx, moved); err != nil {
			// Abort: restore the original so the customer never loses both slots.
			if _, restoreErr := c.Appointments.TransitionStatus(ctx, cancelled.ID,
				models.StatusCancelled, models.StatusConfirmed, cancelled.Version,
				appointmentRepo.TransitionFields{}); restoreErr != nil {
				utils.GetLogger().Error("failed to restore appointment after aborted reschedule",
					zap.String("appointmentId", cancelled.ID), zap.Error(restoreErr))
			}
			if errors.Is(err, appointmentRepo.ErrDuplicateSlot) {
				return nil, NewConflictError("slot %s was just taken", start.Format(time.RFC3339))
			}
			return nil, NewInfrastructureError("committing rescheduled appointment", err)
		}
		return moved, nil
	}()
	if err != nil {
		return nil, err
	}

	c.Cache.BumpStaffVersion(ctx, appt.StaffID)
	c.publish(ctx, models.EventAppointmentRescheduled, moved)
	// The old interval is free now; let the waitlist at it.
	c.notifySlotFreedInterval(ctx, appt.StaffID, appt.Interval())
	return moved, nil
}

// beyondHorizon reports whether a start falls outside the bookable window.
// Starts strictly before now+Horizon are bookable.
func (c *DefaultReservationCoordinator) beyondHorizon(start time.Time) bool {
	return c.Horizon > 0 && !start.Before(c.Clock.Now().Add(c.Horizon))
}

func (c *DefaultReservationCoordinator) loadTypeAndStaff(ctx context.Context, typeID, staffID string) (*models.AppointmentType, *models.StaffProfile, error) {
	typ, err := c.Catalog.GetType(ctx, typeID)
	if err != nil {
		if errors.Is(err, catalogRepo.ErrNotFound) {
			return nil, nil, NewValidationError("unknown appointment type %s", typeID)
		}
		return nil, nil, NewInfrastructureError("loading appointment type", err)
	}
	staff, err := c.Staff.GetByID(ctx, staffID)
	if err != nil {
		if errors.Is(err, staffRepo.ErrNotFound) {
			return nil, nil, NewValidationError("unknown staff member %s", staffID)
		}
		return nil, nil, NewInfrastructureError("loading staff profile", err)
	}
	return typ, staff, nil
}

func (c *DefaultReservationCoordinator) loadTypeAndPolicy(ctx context.Context, typeID string) (*models.AppointmentType, *models.BookingPolicy, error) {
	typ, err := c.Catalog.GetType(ctx, typeID)
	if err != nil {
		return nil, nil, NewInfrastructureError("loading appointment type", err)
	}
	policy, err := c.Catalog.PolicyForType(ctx, typeID)
	if err != nil {
		if errors.Is(err, catalogRepo.ErrNotFound) {
			return typ, nil, nil // no policy configured: everything allowed, no fees
		}
		return nil, nil, NewInfrastructureError("loading booking policy", err)
	}
	return typ, policy, nil
}

func (c *DefaultReservationCoordinator) resolveResource(ctx context.Context, typ *models.AppointmentType, resourceID string) (*models.Resource, error) {
	if typ.RequiresResourceKind == "" {
		if resourceID != "" {
			return nil, NewValidationError("appointment type %s does not take a resource", typ.ID)
		}
		return nil, nil
	}
	if resourceID == "" {
		return nil, NewValidationError("appointment type %s requires a resource of kind %q", typ.ID, typ.RequiresResourceKind)
	}
	res, err := c.Resources.GetByID(ctx, resourceID)
	if err != nil {
		if errors.Is(err, resourceRepo.ErrNotFound) {
			return nil, NewValidationError("unknown resource %s", resourceID)
		}
		return nil, NewInfrastructureError("loading resource", err)
	}
	if res.Kind != typ.RequiresResourceKind {
		return nil, NewValidationError("resource %s is a %q, need %q", res.ID, res.Kind, typ.RequiresResourceKind)
	}
	return res, nil
}

func (c *DefaultReservationCoordinator) getAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := c.Appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, appointmentRepo.ErrNotFound) {
			return nil, NewValidationError("unknown appointment %s", id)
		}
		return nil, NewInfrastructureError("loading appointment", err)
	}
	return appt, nil
}

// transition runs the CAS status move, translating a lost race into
// ConflictError (or the idempotent result when the race moved it to the
// same terminal state).
func (c *DefaultReservationCoordinator) transition(ctx context.Context, appt *models.Appointment, to string, fields appointmentRepo.TransitionFields) (*models.Appointment, error) {
	updated, err := c.Appointments.TransitionStatus(ctx, appt.ID, appt.Status, to, appt.Version, fields)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, appointmentRepo.ErrStale) {
		fresh, getErr := c.Appointments.GetByID(ctx, appt.ID)
		if getErr == nil && fresh.Status == to {
			return fresh, nil
		}
		return nil, NewConflictError("appointment %s changed concurrently", appt.ID)
	}
	if errors.Is(err, appointmentRepo.ErrNotFound) {
		return nil, NewValidationError("unknown appointment %s", appt.ID)
	}
	return nil, NewInfrastructureError("updating appointment status", err)
}

func (c *DefaultReservationCoordinator) publish(ctx context.Context, eventType string, appt *models.Appointment) {
	if c.Events == nil {
		return
	}
	c.Events.Publish(ctx, models.DomainEvent{
		ID:              uuid.New().String(),
		Type:            eventType,
		AppointmentID:   appt.ID,
		StaffID:         appt.StaffID,
		CustomerID:      appt.CustomerID,
		StartTime:       appt.StartTime,
		EndTime:         appt.EndTime,
		FeeChargedCents: appt.FeeChargedCents,
		OccurredAt:      c.Clock.Now(),
	})
}

func (c *DefaultReservationCoordinator) notifySlotFreed(ctx context.Context, appt *models.Appointment) {
	c.notifySlotFreedInterval(ctx, appt.StaffID, appt.Interval())
}

func (c *DefaultReservationCoordinator) notifySlotFreedInterval(ctx context.Context, staffID string, freed models.TimeRange) {
	if c.waitlist == nil {
		return
	}
	if err := c.waitlist.OnSlotFreed(ctx, staffID, freed); err != nil {
		utils.GetLogger().Warn("waitlist promotion failed",
			zap.String("staffId", staffID), zap.Error(err))
	}
}
