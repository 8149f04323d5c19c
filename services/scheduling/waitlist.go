package scheduling

import (
	"context"
	"errors"
	"time"

	catalogRepo "appointqix/database/repository/catalog"
	resourceRepo "appointqix/database/repository/resource"
	waitlistRepo "appointqix/database/repository/waitlist"
	"appointqix/models"
	"appointqix/services/events"
	"appointqix/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JoinRequest asks to queue for a slot that may free up. StaffID may be a
// concrete id or models.StaffAny.
type JoinRequest struct {
	AppointmentTypeID string
	StaffID           string
	CustomerID        string
	DesiredRange      models.TimeRange
}

// Reserver is the slice of the coordinator the waitlist needs to convert an
// accepted offer into a booking.
type Reserver interface {
	Reserve(ctx context.Context, req ReserveRequest) (*models.Appointment, error)
}

// DefaultWaitlistManager keeps FIFO queues per (appointment type, staff) and
// promotes entries when slots free up. Offers are time-boxed; expiry is
// driven by an external scheduler tick, never an in-process timer, so sweeps
// survive restarts.
type DefaultWaitlistManager struct {
	Entries     waitlistRepo.WaitlistRepository
	Catalog     catalogRepo.CatalogRepository
	Resources   resourceRepo.ResourceRepository
	Reserver    Reserver
	Events      events.Publisher
	Clock       Clock
	OfferWindow time.Duration
}

// Join appends an entry to its queue. FIFO position is the creation instant.
func (m *DefaultWaitlistManager) Join(ctx context.Context, req JoinRequest) (*models.WaitlistEntry, error) {
	entry := &models.WaitlistEntry{
		ID:                uuid.New().String(),
		AppointmentTypeID: req.AppointmentTypeID,
		StaffID:           req.StaffID,
		CustomerID:        req.CustomerID,
		DesiredRange: models.TimeRange{
			Start: req.DesiredRange.Start.UTC(),
			End:   req.DesiredRange.End.UTC(),
		},
		Status:    models.WaitlistWaiting,
		CreatedAt: m.Clock.Now(),
	}
	if err := entry.Validate(); err != nil {
		return nil, NewValidationError("%v", err)
	}
	if _, err := m.Catalog.GetType(ctx, req.AppointmentTypeID); err != nil {
		if errors.Is(err, catalogRepo.ErrNotFound) {
			return nil, NewValidationError("unknown appointment type %s", req.AppointmentTypeID)
		}
		return nil, NewInfrastructureError("loading appointment type", err)
	}
	if err := m.Entries.Insert(ctx, entry); err != nil {
		return nil, NewInfrastructureError("inserting waitlist entry", err)
	}
	return entry, nil
}

// OnSlotFreed offers the freed interval to the first eligible Waiting entry
// in join order. When no entry matches, the slot simply returns to general
// availability. Idempotent: the Waiting→Offered CAS loses at most once per
// entry, and losing just moves the scan along.
func (m *DefaultWaitlistManager) OnSlotFreed(ctx context.Context, staffID string, freed models.TimeRange) error {
	return m.offerFreed(ctx, staffID, freed, "")
}

// offerFreed is OnSlotFreed with an exclusion: an entry whose own offer just
// lapsed must not be handed the same slot back, or the sweep would cycle on
// one unresponsive customer forever.
func (m *DefaultWaitlistManager) offerFreed(ctx context.Context, staffID string, freed models.TimeRange, excludeID string) error {
	candidates, err := m.Entries.FindWaitingByStaff(ctx, staffID, freed)
	if err != nil {
		return NewInfrastructureError("scanning waitlist", err)
	}

	now := m.Clock.Now()
	for _, entry := range candidates {
		if entry.ID == excludeID {
			continue
		}
		typ, err := m.Catalog.GetType(ctx, entry.AppointmentTypeID)
		if err != nil {
			continue
		}
		offerStart, ok := fitOffer(entry, typ.Duration(), freed, now)
		if !ok {
			continue
		}

		offered, err := m.Entries.TransitionStatus(ctx, entry.ID,
			models.WaitlistWaiting, models.WaitlistOffered, entry.Version,
			&waitlistRepo.OfferFields{
				ExpiresAt:      now.Add(m.OfferWindow),
				OfferedStart:   offerStart,
				OfferedStaffID: staffID,
			})
		if err != nil {
			if errors.Is(err, waitlistRepo.ErrStale) {
				continue // another sweep got this entry first
			}
			return NewInfrastructureError("offering waitlist entry", err)
		}

		m.publish(ctx, models.EventWaitlistOffered, offered)
		return nil
	}
	return nil
}

// Accept converts an active offer into a booking through the coordinator.
// The entry is claimed (Offered → Converted) before the booking is attempted,
// so two concurrent Accept calls resolve on the claim CAS: the loser never
// reaches the coordinator. On a lost slot race or a lapsed offer the entry
// returns to Waiting and the interval is re-offered down the queue.
func (m *DefaultWaitlistManager) Accept(ctx context.Context, entryID string) (*models.Appointment, error) {
	entry, err := m.Entries.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, waitlistRepo.ErrNotFound) {
			return nil, NewValidationError("unknown waitlist entry %s", entryID)
		}
		return nil, NewInfrastructureError("loading waitlist entry", err)
	}
	if entry.Status != models.WaitlistOffered || entry.OfferedStart == nil {
		return nil, NewPolicyError("waitlist entry %s has no active offer", entryID)
	}

	typ, err := m.Catalog.GetType(ctx, entry.AppointmentTypeID)
	if err != nil {
		return nil, NewInfrastructureError("loading appointment type", err)
	}

	now := m.Clock.Now()
	if entry.OfferExpiresAt != nil && now.After(*entry.OfferExpiresAt) {
		m.releaseOffer(ctx, entry, typ.Duration())
		return nil, NewPolicyError("offer for waitlist entry %s has expired", entryID)
	}

	claimed, err := m.Entries.TransitionStatus(ctx, entry.ID,
		models.WaitlistOffered, models.WaitlistConverted, entry.Version, nil)
	if err != nil {
		if errors.Is(err, waitlistRepo.ErrStale) {
			return nil, NewConflictError("waitlist entry %s is being processed concurrently", entryID)
		}
		return nil, NewInfrastructureError("claiming waitlist offer", err)
	}

	appt, err := m.reserveOffered(ctx, entry, typ)
	if err != nil {
		var conflict *ConflictError
		var capacity *CapacityError
		if errors.As(err, &conflict) || errors.As(err, &capacity) {
			// Someone took the slot first; the entry keeps its queue position
			// and the interval moves down the queue.
			m.requeue(ctx, claimed, models.WaitlistConverted, typ.Duration())
			return nil, NewConflictError("offered slot for entry %s was taken; you keep your queue position", entryID)
		}
		// Unclassified failure: reinstate the offer so the customer can retry
		// until it lapses.
		restore := &waitlistRepo.OfferFields{
			OfferedStart:   *entry.OfferedStart,
			OfferedStaffID: entry.OfferedStaffID,
		}
		if entry.OfferExpiresAt != nil {
			restore.ExpiresAt = *entry.OfferExpiresAt
		}
		if _, restoreErr := m.Entries.TransitionStatus(ctx, claimed.ID,
			models.WaitlistConverted, models.WaitlistOffered, claimed.Version, restore); restoreErr != nil {
			utils.GetLogger().Error("failed to reinstate waitlist offer after aborted accept",
				zap.String("entryId", claimed.ID), zap.Error(restoreErr))
		}
		return nil, err
	}

	m.publish(ctx, models.EventWaitlistConverted, claimed)
	return appt, nil
}

// ExpireOffers is the periodic sweep behind offer deadlines: every lapsed
// Offered entry reverts to Waiting (keeping its queue position) and the
// interval is re-offered to the next candidate. Idempotent and restartable.
func (m *DefaultWaitlistManager) ExpireOffers(ctx context.Context) (int, error) {
	lapsed, err := m.Entries.FindExpiredOffers(ctx, m.Clock.Now())
	if err != nil {
		return 0, NewInfrastructureError("scanning expired offers", err)
	}

	expired := 0
	for _, entry := range lapsed {
		typ, err := m.Catalog.GetType(ctx, entry.AppointmentTypeID)
		if err != nil {
			continue
		}
		freed := m.offeredInterval(&entry, typ.Duration())

		reverted, err := m.Entries.TransitionStatus(ctx, entry.ID,
			models.WaitlistOffered, models.WaitlistWaiting, entry.Version, nil)
		if err != nil {
			continue // raced with Accept or a concurrent sweep
		}
		expired++
		m.publish(ctx, models.EventWaitlistExpired, reverted)

		if !freed.IsZero() {
			if err := m.offerFreed(ctx, entry.OfferedStaffID, freed, entry.ID); err != nil {
				utils.GetLogger().Warn("re-offer after expiry failed",
					zap.String("entryId", entry.ID), zap.Error(err))
			}
		}
	}
	return expired, nil
}

// PruneStale expires Waiting entries whose desired range lies wholly in the
// past; they can never be offered again.
func (m *DefaultWaitlistManager) PruneStale(ctx context.Context) (int, error) {
	stale, err := m.Entries.FindLapsedWaiting(ctx, m.Clock.Now())
	if err != nil {
		return 0, NewInfrastructureError("scanning stale waitlist entries", err)
	}
	pruned := 0
	for _, entry := range stale {
		expired, err := m.Entries.TransitionStatus(ctx, entry.ID,
			models.WaitlistWaiting, models.WaitlistExpired, entry.Version, nil)
		if err != nil {
			continue
		}
		pruned++
		m.publish(ctx, models.EventWaitlistExpired, expired)
	}
	return pruned, nil
}

// reserveOffered books the offered slot. When the appointment type needs a
// resource kind, the first resource with spare capacity wins.
func (m *DefaultWaitlistManager) reserveOffered(ctx context.Context, entry *models.WaitlistEntry, typ *models.AppointmentType) (*models.Appointment, error) {
	base := ReserveRequest{
		StaffID:           entry.OfferedStaffID,
		AppointmentTypeID: entry.AppointmentTypeID,
		StartTime:         *entry.OfferedStart,
		CustomerID:        entry.CustomerID,
	}
	if typ.RequiresResourceKind == "" {
		return m.Reserver.Reserve(ctx, base)
	}

	resources, err := m.Resources.ListByKind(ctx, typ.RequiresResourceKind)
	if err != nil {
		return nil, NewInfrastructureError("loading resources", err)
	}
	var lastErr error = NewCapacityError("no resource of kind %q available", typ.RequiresResourceKind)
	for _, res := range resources {
		req := base
		req.ResourceID = res.ID
		appt, err := m.Reserver.Reserve(ctx, req)
		if err == nil {
			return appt, nil
		}
		var capacityErr *CapacityError
		var validationErr *ValidationError
		if errors.As(err, &capacityErr) || errors.As(err, &validationErr) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// releaseOffer reverts an Offered entry to Waiting and re-offers its interval
// down the queue.
func (m *DefaultWaitlistManager) releaseOffer(ctx context.Context, entry *models.WaitlistEntry, duration time.Duration) {
	m.requeue(ctx, entry, models.WaitlistOffered, duration)
}

// requeue moves an entry back to Waiting (keeping its queue position) and
// hands its offered interval to the next candidate.
func (m *DefaultWaitlistManager) requeue(ctx context.Context, entry *models.WaitlistEntry, from string, duration time.Duration) {
	freed := m.offeredInterval(entry, duration)
	reverted, err := m.Entries.TransitionStatus(ctx, entry.ID,
		from, models.WaitlistWaiting, entry.Version, nil)
	if err != nil {
		return
	}
	m.publish(ctx, models.EventWaitlistExpired, reverted)
	if !freed.IsZero() {
		if err := m.offerFreed(ctx, entry.OfferedStaffID, freed, entry.ID); err != nil {
			utils.GetLogger().Warn("re-offer after release failed",
				zap.String("entryId", entry.ID), zap.Error(err))
		}
	}
}

func (m *DefaultWaitlistManager) offeredInterval(entry *models.WaitlistEntry, duration time.Duration) models.TimeRange {
	if entry.OfferedStart == nil {
		return models.TimeRange{}
	}
	return models.TimeRange{Start: *entry.OfferedStart, End: entry.OfferedStart.Add(duration)}
}

func (m *DefaultWaitlistManager) publish(ctx context.Context, eventType string, entry *models.WaitlistEntry) {
	if m.Events == nil {
		return
	}
	ev := models.DomainEvent{
		ID:              uuid.New().String(),
		Type:            eventType,
		WaitlistEntryID: entry.ID,
		CustomerID:      entry.CustomerID,
		OccurredAt:      m.Clock.Now(),
	}
	if entry.OfferedStaffID != "" {
		ev.StaffID = entry.OfferedStaffID
	}
	if entry.OfferedStart != nil {
		ev.StartTime = *entry.OfferedStart
	}
	m.Events.Publish(ctx, ev)
}

// fitOffer finds the earliest start inside both the freed interval and the
// entry's desired range where the full duration fits and the start is not in
// the past.
func fitOffer(entry models.WaitlistEntry, duration time.Duration, freed models.TimeRange, now time.Time) (time.Time, bool) {
	start := freed.Start
	if entry.DesiredRange.Start.After(start) {
		start = entry.DesiredRange.Start
	}
	if now.After(start) {
		start = now
	}
	end := freed.End
	if entry.DesiredRange.End.Before(end) {
		end = entry.DesiredRange.End
	}
	if start.Add(duration).After(end) {
		return time.Time{}, false
	}
	return start, true
}
