package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	appointmentRepo "appointqix/database/repository/appointment"
	catalogRepo "appointqix/database/repository/catalog"
	resourceRepo "appointqix/database/repository/resource"
	staffRepo "appointqix/database/repository/staff"
	waitlistRepo "appointqix/database/repository/waitlist"
	"appointqix/models"
)

// In-memory repository fakes mirroring the Mongo implementations' contracts:
// slot-key uniqueness over Confirmed docs, compare-and-swap transitions, FIFO
// waitlist scans.

type fakeApptRepo struct {
	mu   sync.Mutex
	byID map[string]*models.Appointment
}

func newFakeApptRepo() *fakeApptRepo {
	return &fakeApptRepo{byID: map[string]*models.Appointment{}}
}

func (r *fakeApptRepo) Insert(ctx context.Context, appt *models.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Status == models.StatusConfirmed && existing.SlotKey == appt.SlotKey {
			return appointmentRepo.ErrDuplicateSlot
		}
	}
	cp := *appt
	r.byID[appt.ID] = &cp
	return nil
}

func (r *fakeApptRepo) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.byID[id]
	if !ok {
		return nil, appointmentRepo.ErrNotFound
	}
	cp := *appt
	return &cp, nil
}

func (r *fakeApptRepo) FindConfirmedOverlapping(ctx context.Context, staffID string, rng models.TimeRange) ([]models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Appointment
	for _, a := range r.byID {
		if a.Status == models.StatusConfirmed && a.StaffID == staffID && a.BufferedInterval().Overlaps(rng) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeApptRepo) FindConfirmedForResource(ctx context.Context, resourceID string, rng models.TimeRange) ([]models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Appointment
	for _, a := range r.byID {
		if a.Status == models.StatusConfirmed && a.ResourceID == resourceID && a.Interval().Overlaps(rng) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeApptRepo) TransitionStatus(ctx context.Context, id, from, to string, expectedVersion int, fields appointmentRepo.TransitionFields) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.byID[id]
	if !ok {
		return nil, appointmentRepo.ErrNotFound
	}
	if appt.Status != from || appt.Version != expectedVersion {
		return nil, appointmentRepo.ErrStale
	}
	appt.Status = to
	appt.Version++
	appt.UpdatedAt = time.Now().UTC()
	if to == models.StatusConfirmed {
		appt.CancelReason = ""
		appt.CancelledBy = ""
		appt.CancelledAt = nil
	} else {
		if fields.CancelReason != "" {
			appt.CancelReason = fields.CancelReason
		}
		if fields.CancelledBy != "" {
			appt.CancelledBy = fields.CancelledBy
		}
		if fields.CancelledAt != nil {
			appt.CancelledAt = fields.CancelledAt
		}
		appt.FeeChargedCents = fields.FeeChargedCents
	}
	cp := *appt
	return &cp, nil
}

func (r *fakeApptRepo) ListByCustomer(ctx context.Context, customerID string, limit int64) ([]models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Appointment
	for _, a := range r.byID {
		if a.CustomerID == customerID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeApptRepo) ListConfirmedByStaffDay(ctx context.Context, staffID string, day models.TimeRange) ([]models.Appointment, error) {
	return r.FindConfirmedOverlapping(ctx, staffID, day)
}

func (r *fakeApptRepo) CountConfirmedByType(ctx context.Context, typeID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.byID {
		if a.Status == models.StatusConfirmed && a.AppointmentTypeID == typeID {
			n++
		}
	}
	return n, nil
}

func (r *fakeApptRepo) EnsureIndexes() error { return nil }

func (r *fakeApptRepo) countByStatus(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.byID {
		if a.Status == status {
			n++
		}
	}
	return n
}

type fakeStaffRepo struct {
	mu   sync.Mutex
	byID map[string]*models.StaffProfile
}

func newFakeStaffRepo(profiles ...*models.StaffProfile) *fakeStaffRepo {
	r := &fakeStaffRepo{byID: map[string]*models.StaffProfile{}}
	for _, p := range profiles {
		r.byID[p.ID] = p
	}
	return r
}

func (r *fakeStaffRepo) Upsert(ctx context.Context, staff *models.StaffProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[staff.ID] = staff
	return nil
}

func (r *fakeStaffRepo) GetByID(ctx context.Context, id string) (*models.StaffProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	staff, ok := r.byID[id]
	if !ok {
		return nil, staffRepo.ErrNotFound
	}
	return staff, nil
}

func (r *fakeStaffRepo) EnsureIndexes() error { return nil }

type fakeResourceRepo struct {
	mu   sync.Mutex
	byID map[string]*models.Resource
}

func newFakeResourceRepo(resources ...*models.Resource) *fakeResourceRepo {
	r := &fakeResourceRepo{byID: map[string]*models.Resource{}}
	for _, res := range resources {
		r.byID[res.ID] = res
	}
	return r
}

func (r *fakeResourceRepo) Upsert(ctx context.Context, res *models.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[res.ID] = res
	return nil
}

func (r *fakeResourceRepo) GetByID(ctx context.Context, id string) (*models.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return nil, resourceRepo.ErrNotFound
	}
	return res, nil
}

func (r *fakeResourceRepo) ListByKind(ctx context.Context, kind string) ([]models.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Resource
	for _, res := range r.byID {
		if res.Kind == kind {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeResourceRepo) EnsureIndexes() error { return nil }

type fakeCatalogRepo struct {
	mu       sync.Mutex
	types    map[string]*models.AppointmentType
	policies map[string]*models.BookingPolicy // keyed by appointment_type_id, "" = business-wide
}

func newFakeCatalogRepo(types ...*models.AppointmentType) *fakeCatalogRepo {
	r := &fakeCatalogRepo{
		types:    map[string]*models.AppointmentType{},
		policies: map[string]*models.BookingPolicy{},
	}
	for _, t := range types {
		r.types[t.ID] = t
	}
	return r
}

func (r *fakeCatalogRepo) InsertType(ctx context.Context, t *models.AppointmentType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.ID] = t
	return nil
}

func (r *fakeCatalogRepo) GetType(ctx context.Context, id string) (*models.AppointmentType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.types[id]
	if !ok {
		return nil, catalogRepo.ErrNotFound
	}
	return t, nil
}

func (r *fakeCatalogRepo) UpsertPolicy(ctx context.Context, p *models.BookingPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.AppointmentTypeID] = p
	return nil
}

func (r *fakeCatalogRepo) PolicyForType(ctx context.Context, typeID string) (*models.BookingPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[typeID]; ok {
		return p, nil
	}
	if p, ok := r.policies[""]; ok {
		return p, nil
	}
	return nil, catalogRepo.ErrNotFound
}

func (r *fakeCatalogRepo) EnsureIndexes() error { return nil }

type fakeWaitlistRepo struct {
	mu   sync.Mutex
	byID map[string]*models.WaitlistEntry
}

func newFakeWaitlistRepo() *fakeWaitlistRepo {
	return &fakeWaitlistRepo{byID: map[string]*models.WaitlistEntry{}}
}

func (r *fakeWaitlistRepo) Insert(ctx context.Context, entry *models.WaitlistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.byID[entry.ID] = &cp
	return nil
}

func (r *fakeWaitlistRepo) GetByID(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, waitlistRepo.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeWaitlistRepo) FindWaitingByStaff(ctx context.Context, staffID string, rng models.TimeRange) ([]models.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WaitlistEntry
	for _, e := range r.byID {
		if e.Status != models.WaitlistWaiting {
			continue
		}
		if e.StaffID != staffID && e.StaffID != models.StaffAny {
			continue
		}
		if !e.DesiredRange.Overlaps(rng) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeWaitlistRepo) TransitionStatus(ctx context.Context, id, from, to string, expectedVersion int, offer *waitlistRepo.OfferFields) (*models.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, waitlistRepo.ErrNotFound
	}
	if e.Status != from || e.Version != expectedVersion {
		return nil, waitlistRepo.ErrStale
	}
	e.Status = to
	e.Version++
	if to == models.WaitlistOffered {
		expires := offer.ExpiresAt
		start := offer.OfferedStart
		e.OfferExpiresAt = &expires
		e.OfferedStart = &start
		e.OfferedStaffID = offer.OfferedStaffID
	} else if to == models.WaitlistWaiting {
		e.OfferExpiresAt = nil
		e.OfferedStart = nil
		e.OfferedStaffID = ""
		e.MissedOffers++
	}
	cp := *e
	return &cp, nil
}

func (r *fakeWaitlistRepo) FindExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WaitlistEntry
	for _, e := range r.byID {
		if e.Status == models.WaitlistOffered && e.OfferExpiresAt != nil && !e.OfferExpiresAt.After(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeWaitlistRepo) FindLapsedWaiting(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WaitlistEntry
	for _, e := range r.byID {
		if e.Status == models.WaitlistWaiting && !e.DesiredRange.End.After(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeWaitlistRepo) EnsureIndexes() error { return nil }

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (p *capturePublisher) Publish(ctx context.Context, ev models.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) byType(eventType string) []models.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.DomainEvent
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
