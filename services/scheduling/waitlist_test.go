package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"appointqix/models"
)

type fakeReserver struct {
	mu       sync.Mutex
	fn       func(req ReserveRequest) (*models.Appointment, error)
	requests []ReserveRequest
}

func (r *fakeReserver) Reserve(ctx context.Context, req ReserveRequest) (*models.Appointment, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &models.Appointment{
		ID: "booked", StaffID: req.StaffID, CustomerID: req.CustomerID,
		StartTime: req.StartTime, EndTime: req.StartTime.Add(30 * time.Minute),
		Status: models.StatusConfirmed,
	}, nil
}

type waitlistFixture struct {
	manager  *DefaultWaitlistManager
	entries  *fakeWaitlistRepo
	reserver *fakeReserver
	events   *capturePublisher
	clock    *fixedClock
}

func newWaitlistFixture(t *testing.T) *waitlistFixture {
	t.Helper()
	entries := newFakeWaitlistRepo()
	reserver := &fakeReserver{}
	events := &capturePublisher{}
	clock := newFixedClock(monday)
	manager := &DefaultWaitlistManager{
		Entries: entries,
		Catalog: newFakeCatalogRepo(&models.AppointmentType{
			ID: "cut", Name: "Haircut", DurationMin: 30, PriceCents: 10000,
		}),
		Resources:   newFakeResourceRepo(),
		Reserver:    reserver,
		Events:      events,
		Clock:       clock,
		OfferWindow: 30 * time.Minute,
	}
	return &waitlistFixture{manager: manager, entries: entries, reserver: reserver, events: events, clock: clock}
}

func (f *waitlistFixture) join(t *testing.T, customer string, desired models.TimeRange) *models.WaitlistEntry {
	t.Helper()
	entry, err := f.manager.Join(context.Background(), JoinRequest{
		AppointmentTypeID: "cut",
		StaffID:           "s1",
		CustomerID:        customer,
		DesiredRange:      desired,
	})
	if err != nil {
		t.Fatalf("Join(%s): %v", customer, err)
	}
	// Distinct creation instants keep FIFO order deterministic.
	f.clock.Advance(time.Second)
	return entry
}

func TestJoinQueuesWaiting(t *testing.T) {
	f := newWaitlistFixture(t)
	entry := f.join(t, "cust1", rangeAt(10, 0, 120))

	stored, err := f.entries.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != models.WaitlistWaiting {
		t.Errorf("status = %s, want Waiting", stored.Status)
	}
}

func TestJoinValidation(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()

	_, err := f.manager.Join(ctx, JoinRequest{
		AppointmentTypeID: "cut", StaffID: "s1", DesiredRange: rangeAt(10, 0, 60),
	})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("missing customer: want ValidationError, got %v", err)
	}

	_, err = f.manager.Join(ctx, JoinRequest{
		AppointmentTypeID: "ghost", StaffID: "s1", CustomerID: "c", DesiredRange: rangeAt(10, 0, 60),
	})
	if !errors.As(err, &valErr) {
		t.Errorf("unknown type: want ValidationError, got %v", err)
	}
}

func TestOnSlotFreedOffersOldestEligibleEntry(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	first := f.join(t, "cust1", rangeAt(10, 0, 120))
	second := f.join(t, "cust2", rangeAt(10, 0, 120))

	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 0, 30)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}

	offered, _ := f.entries.GetByID(ctx, first.ID)
	if offered.Status != models.WaitlistOffered {
		t.Fatalf("oldest entry status = %s, want Offered", offered.Status)
	}
	if offered.OfferedStart == nil || !offered.OfferedStart.Equal(monday.Add(10*time.Hour)) {
		t.Errorf("offered start = %v, want 10:00", offered.OfferedStart)
	}
	if offered.OfferExpiresAt == nil || !offered.OfferExpiresAt.Equal(f.clock.Now().Add(30*time.Minute)) {
		t.Errorf("offer deadline = %v, want now+30m", offered.OfferExpiresAt)
	}
	untouched, _ := f.entries.GetByID(ctx, second.ID)
	if untouched.Status != models.WaitlistWaiting {
		t.Errorf("younger entry status = %s, want Waiting (one offer per slot)", untouched.Status)
	}
	if got := f.events.byType(models.EventWaitlistOffered); len(got) != 1 {
		t.Errorf("offered events = %d, want 1", len(got))
	}
}

func TestOnSlotFreedSkipsEntriesThatCannotFit(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	// Wants 11:00–11:20 only: a 30-minute service never fits.
	tooNarrow := f.join(t, "cust1", rangeAt(11, 0, 20))
	fits := f.join(t, "cust2", rangeAt(10, 0, 120))

	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 30, 60)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}
	skipped, _ := f.entries.GetByID(ctx, tooNarrow.ID)
	if skipped.Status != models.WaitlistWaiting {
		t.Errorf("unfittable entry status = %s, want Waiting", skipped.Status)
	}
	offered, _ := f.entries.GetByID(ctx, fits.ID)
	if offered.Status != models.WaitlistOffered {
		t.Errorf("fitting entry status = %s, want Offered", offered.Status)
	}
}

func TestAcceptConvertsOffer(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	entry := f.join(t, "cust1", rangeAt(10, 0, 120))
	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 0, 30)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}

	appt, err := f.manager.Accept(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if appt.CustomerID != "cust1" {
		t.Errorf("booked for %s, want cust1", appt.CustomerID)
	}
	converted, _ := f.entries.GetByID(ctx, entry.ID)
	if converted.Status != models.WaitlistConverted {
		t.Errorf("entry status = %s, want Converted", converted.Status)
	}
	if len(f.reserver.requests) != 1 || !f.reserver.requests[0].StartTime.Equal(monday.Add(10*time.Hour)) {
		t.Errorf("reserve requests = %+v, want one at 10:00", f.reserver.requests)
	}
	if got := f.events.byType(models.EventWaitlistConverted); len(got) != 1 {
		t.Errorf("converted events = %d, want 1", len(got))
	}
}

func TestAcceptLapsedOfferRevertsAndReoffers(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	first := f.join(t, "cust1", rangeAt(10, 0, 120))
	second := f.join(t, "cust2", rangeAt(10, 0, 120))
	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 0, 30)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	_, err := f.manager.Accept(ctx, first.ID)
	var polErr *PolicyError
	if !errors.As(err, &polErr) {
		t.Fatalf("accepting a lapsed offer: want PolicyError, got %v", err)
	}
	reverted, _ := f.entries.GetByID(ctx, first.ID)
	if reverted.Status != models.WaitlistWaiting || reverted.MissedOffers != 1 {
		t.Errorf("lapsed entry = %+v, want Waiting with one missed offer", reverted)
	}
	// The slot moves down the queue, skipping the entry that let it lapse.
	next, _ := f.entries.GetByID(ctx, second.ID)
	if next.Status != models.WaitlistOffered {
		t.Errorf("next entry status = %s, want Offered", next.Status)
	}
}

func TestAcceptLostRaceKeepsQueuePosition(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	f.reserver.fn = func(ReserveRequest) (*models.Appointment, error) {
		return nil, NewConflictError("slot was just taken")
	}
	entry := f.join(t, "cust1", rangeAt(10, 0, 120))
	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 0, 30)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}

	_, err := f.manager.Accept(ctx, entry.ID)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want ConflictError, got %v", err)
	}
	back, _ := f.entries.GetByID(ctx, entry.ID)
	if back.Status != models.WaitlistWaiting {
		t.Errorf("entry status = %s, want Waiting after a lost race", back.Status)
	}
	if back.MissedOffers != 1 {
		t.Errorf("missed offers = %d, want 1", back.MissedOffers)
	}
	if back.OfferedStart != nil || back.OfferExpiresAt != nil {
		t.Error("offer fields should be cleared after a lost race")
	}
}

func TestAcceptWithoutOffer(t *testing.T) {
	f := newWaitlistFixture(t)
	entry := f.join(t, "cust1", rangeAt(10, 0, 120))

	_, err := f.manager.Accept(context.Background(), entry.ID)
	var polErr *PolicyError
	if !errors.As(err, &polErr) {
		t.Fatalf("accepting without an offer: want PolicyError, got %v", err)
	}
}

func TestExpireOffersSweep(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	first := f.join(t, "cust1", rangeAt(10, 0, 120))
	second := f.join(t, "cust2", rangeAt(10, 0, 120))
	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 0, 30)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}

	// Before the deadline the sweep is a no-op.
	if n, err := f.manager.ExpireOffers(ctx); err != nil || n != 0 {
		t.Fatalf("early sweep expired %d (%v), want 0", n, err)
	}

	f.clock.Advance(31 * time.Minute)
	n, err := f.manager.ExpireOffers(ctx)
	if err != nil {
		t.Fatalf("ExpireOffers: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d offers, want 1", n)
	}
	reverted, _ := f.entries.GetByID(ctx, first.ID)
	if reverted.Status != models.WaitlistWaiting || reverted.MissedOffers != 1 {
		t.Errorf("lapsed entry = %+v, want Waiting with one missed offer", reverted)
	}
	reoffered, _ := f.entries.GetByID(ctx, second.ID)
	if reoffered.Status != models.WaitlistOffered {
		t.Errorf("next entry status = %s, want Offered", reoffered.Status)
	}
	if got := f.events.byType(models.EventWaitlistExpired); len(got) != 1 {
		t.Errorf("expired events = %d, want 1", len(got))
	}

	// Re-running the sweep immediately finds nothing new.
	if n, err := f.manager.ExpireOffers(ctx); err != nil || n != 0 {
		t.Errorf("repeat sweep expired %d (%v), want 0", n, err)
	}
}

func TestPruneStaleExpiresPastEntries(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	past := f.join(t, "cust1", rangeAt(10, 0, 60))
	future := f.join(t, "cust2", models.TimeRange{
		Start: monday.AddDate(0, 0, 7).Add(10 * time.Hour),
		End:   monday.AddDate(0, 0, 7).Add(12 * time.Hour),
	})

	f.clock.Advance(12 * time.Hour) // past 11:00, the first entry's range is gone
	n, err := f.manager.PruneStale(ctx)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d entries, want 1", n)
	}
	gone, _ := f.entries.GetByID(ctx, past.ID)
	if gone.Status != models.WaitlistExpired {
		t.Errorf("past entry status = %s, want Expired", gone.Status)
	}
	kept, _ := f.entries.GetByID(ctx, future.ID)
	if kept.Status != models.WaitlistWaiting {
		t.Errorf("future entry status = %s, want Waiting", kept.Status)
	}
}

func TestAcceptTriesEachResourceOfKind(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	f.manager.Catalog = newFakeCatalogRepo(&models.AppointmentType{
		ID: "cut", Name: "Haircut", DurationMin: 30, RequiresResourceKind: "chair",
	})
	f.manager.Resources = newFakeResourceRepo(
		&models.Resource{ID: "chair1", Kind: "chair", Capacity: 1},
		&models.Resource{ID: "chair2", Kind: "chair", Capacity: 1},
	)
	f.reserver.fn = func(req ReserveRequest) (*models.Appointment, error) {
		if req.ResourceID == "chair1" {
			return nil, NewCapacityError("chair1 is full")
		}
		return &models.Appointment{ID: "booked", ResourceID: req.ResourceID, CustomerID: req.CustomerID}, nil
	}

	entry := f.join(t, "cust1", rangeAt(10, 0, 120))
	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 0, 30)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}
	appt, err := f.manager.Accept(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if appt.ResourceID != "chair2" {
		t.Errorf("booked resource = %s, want chair2 after chair1 was full", appt.ResourceID)
	}
}

func TestAcceptClaimsEntryBeforeBooking(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	entry := f.join(t, "cust1", rangeAt(10, 0, 120))
	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 0, 30)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}

	// A second accept arriving while the booking is in flight must lose on
	// the claim and must not push the entry back to Waiting afterwards.
	var nestedErr error
	f.reserver.fn = func(req ReserveRequest) (*models.Appointment, error) {
		_, nestedErr = f.manager.Accept(ctx, entry.ID)
		return &models.Appointment{
			ID: "booked", StaffID: req.StaffID, CustomerID: req.CustomerID,
			StartTime: req.StartTime, EndTime: req.StartTime.Add(30 * time.Minute),
			Status: models.StatusConfirmed,
		}, nil
	}

	if _, err := f.manager.Accept(ctx, entry.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	var polErr *PolicyError
	if !errors.As(nestedErr, &polErr) {
		t.Fatalf("interleaved accept: want PolicyError, got %v", nestedErr)
	}
	if got := len(f.reserver.requests); got != 1 {
		t.Errorf("reservations attempted = %d, want 1", got)
	}
	back, _ := f.entries.GetByID(ctx, entry.ID)
	if back.Status != models.WaitlistConverted {
		t.Errorf("entry status = %s, want Converted", back.Status)
	}
	if got := len(f.events.byType(models.EventWaitlistConverted)); got != 1 {
		t.Errorf("WaitlistConverted events = %d, want 1", got)
	}
}

func TestConcurrentAcceptsConvertExactlyOnce(t *testing.T) {
	f := newWaitlistFixture(t)
	ctx := context.Background()
	entry := f.join(t, "cust1", rangeAt(10, 0, 120))
	if err := f.manager.OnSlotFreed(ctx, "s1", rangeAt(10, 0, 30)); err != nil {
		t.Fatalf("OnSlotFreed: %v", err)
	}

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Accept(ctx, entry.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("successful accepts = %d, want exactly 1", winners)
	}
	if got := len(f.reserver.requests); got != 1 {
		t.Errorf("reservations attempted = %d, want 1", got)
	}
	back, _ := f.entries.GetByID(ctx, entry.ID)
	if back.Status != models.WaitlistConverted {
		t.Errorf("entry status = %s, want Converted", back.Status)
	}
}
