package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"appointqix/models"
)

func newAvailabilityEngine(appts *fakeApptRepo, staff *fakeStaffRepo, resources *fakeResourceRepo, catalog *fakeCatalogRepo, clock Clock) *DefaultAvailabilityEngine {
	return &DefaultAvailabilityEngine{
		Appointments: appts,
		Staff:        staff,
		Resources:    resources,
		Catalog:      catalog,
		Grid:         TimeGrid{Granularity: 10 * time.Minute},
		Clock:        clock,
	}
}

func seedConfirmed(t *testing.T, repo *fakeApptRepo, staffID, resourceID string, rng models.TimeRange, bufferAfter time.Duration) {
	t.Helper()
	appt := &models.Appointment{
		ID: "seed-" + staffID + rng.Start.Format("150405"), AppointmentTypeID: "consult",
		StaffID: staffID, ResourceID: resourceID, CustomerID: "someone",
		StartTime: rng.Start, EndTime: rng.End,
		BufferedStart: rng.Start, BufferedEnd: rng.End.Add(bufferAfter),
		SlotKey: models.SlotKeyFor(staffID, rng.Start),
		Status:  models.StatusConfirmed,
	}
	if err := repo.Insert(context.Background(), appt); err != nil {
		t.Fatalf("seeding appointment: %v", err)
	}
}

func TestGetAvailableSlotsBufferExclusion(t *testing.T) {
	ctx := context.Background()
	typ := &models.AppointmentType{
		ID: "cut", Name: "Haircut", DurationMin: 30, BufferAfterMin: 10,
	}
	appts := newFakeApptRepo()
	// Existing 09:00–09:30 booking; its trailing buffer holds staff time to 09:40.
	seedConfirmed(t, appts, "s1", "", rangeAt(9, 0, 30), 10*time.Minute)

	engine := newAvailabilityEngine(appts, newFakeStaffRepo(utcStaff("s1")), newFakeResourceRepo(),
		newFakeCatalogRepo(typ), newFixedClock(monday))

	slots, err := engine.GetAvailableSlots(ctx, AvailabilityRequest{
		StaffID:           "s1",
		AppointmentTypeID: "cut",
		Range:             models.TimeRange{Start: monday, End: monday.AddDate(0, 0, 1)},
	})
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected slots after the buffered zone")
	}
	// The buffered zones of the existing booking and of any candidate before
	// 09:40 collide; the first bookable start is exactly 09:40.
	if want := monday.Add(9*time.Hour + 40*time.Minute); !slots[0].StartTime.Equal(want) {
		t.Errorf("first slot = %v, want %v", slots[0].StartTime, want)
	}
	for _, s := range slots {
		if s.StartTime.Before(monday.Add(9*time.Hour + 40*time.Minute)) {
			t.Errorf("slot %v lies inside the exclusion zone", s.StartTime)
		}
	}
}

func TestGetAvailableSlotsResourceCapacity(t *testing.T) {
	ctx := context.Background()
	typ := &models.AppointmentType{
		ID: "mri", Name: "MRI Scan", DurationMin: 30, RequiresResourceKind: "scanner",
	}
	appts := newFakeApptRepo()
	// Another staff member holds the only scanner 10:00–10:30.
	seedConfirmed(t, appts, "s2", "scanner1", rangeAt(10, 0, 30), 0)

	engine := newAvailabilityEngine(appts, newFakeStaffRepo(utcStaff("s1")),
		newFakeResourceRepo(&models.Resource{ID: "scanner1", Kind: "scanner", Capacity: 1}),
		newFakeCatalogRepo(typ), newFixedClock(monday))

	slots, err := engine.GetAvailableSlots(ctx, AvailabilityRequest{
		StaffID:           "s1",
		AppointmentTypeID: "mri",
		Range:             models.TimeRange{Start: monday, End: monday.AddDate(0, 0, 1)},
	})
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	starts := map[time.Time]bool{}
	for _, s := range slots {
		starts[s.StartTime.UTC()] = true
	}
	for _, excluded := range []time.Duration{10 * time.Hour, 10*time.Hour + 10*time.Minute, 10*time.Hour + 20*time.Minute} {
		if starts[monday.Add(excluded)] {
			t.Errorf("slot %v overlaps the scanner's existing booking", monday.Add(excluded))
		}
	}
	if !starts[monday.Add(10*time.Hour+30*time.Minute)] {
		t.Error("scanner frees up at 10:30; that slot must be offered")
	}
}

func TestGetAvailableSlotsSecondResourceAbsorbs(t *testing.T) {
	ctx := context.Background()
	typ := &models.AppointmentType{
		ID: "mri", Name: "MRI Scan", DurationMin: 30, RequiresResourceKind: "scanner",
	}
	appts := newFakeApptRepo()
	seedConfirmed(t, appts, "s2", "scanner1", rangeAt(10, 0, 30), 0)

	engine := newAvailabilityEngine(appts, newFakeStaffRepo(utcStaff("s1")),
		newFakeResourceRepo(
			&models.Resource{ID: "scanner1", Kind: "scanner", Capacity: 1},
			&models.Resource{ID: "scanner2", Kind: "scanner", Capacity: 1},
		),
		newFakeCatalogRepo(typ), newFixedClock(monday))

	slots, err := engine.GetAvailableSlots(ctx, AvailabilityRequest{
		StaffID:           "s1",
		AppointmentTypeID: "mri",
		Range:             models.TimeRange{Start: monday, End: monday.AddDate(0, 0, 1)},
	})
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	found := false
	for _, s := range slots {
		if s.StartTime.Equal(monday.Add(10 * time.Hour)) {
			found = true
		}
	}
	if !found {
		t.Error("a second free scanner must keep 10:00 available")
	}
}

func TestGetAvailableSlotsSkipsPast(t *testing.T) {
	ctx := context.Background()
	typ := &models.AppointmentType{ID: "cut", Name: "Haircut", DurationMin: 30}
	clock := newFixedClock(monday.Add(12 * time.Hour))

	engine := newAvailabilityEngine(newFakeApptRepo(), newFakeStaffRepo(utcStaff("s1")),
		newFakeResourceRepo(), newFakeCatalogRepo(typ), clock)

	slots, err := engine.GetAvailableSlots(ctx, AvailabilityRequest{
		StaffID:           "s1",
		AppointmentTypeID: "cut",
		Range:             models.TimeRange{Start: monday, End: monday.AddDate(0, 0, 1)},
	})
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	for _, s := range slots {
		if s.StartTime.Before(clock.Now()) {
			t.Errorf("slot %v is in the past", s.StartTime)
		}
	}
	if len(slots) == 0 {
		t.Error("the afternoon should still be bookable")
	}
}

func TestGetAvailableSlotsTimeZoneBoundaryConversion(t *testing.T) {
	ctx := context.Background()
	typ := &models.AppointmentType{ID: "cut", Name: "Haircut", DurationMin: 30}

	engine := newAvailabilityEngine(newFakeApptRepo(), newFakeStaffRepo(utcStaff("s1")),
		newFakeResourceRepo(), newFakeCatalogRepo(typ), newFixedClock(monday))

	slots, err := engine.GetAvailableSlots(ctx, AvailabilityRequest{
		StaffID:           "s1",
		AppointmentTypeID: "cut",
		Range:             models.TimeRange{Start: monday, End: monday.AddDate(0, 0, 1)},
		TimeZone:          "America/New_York",
	})
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	loc, _ := time.LoadLocation("America/New_York")
	for _, s := range slots {
		if s.StartTime.Location().String() != loc.String() {
			t.Fatalf("slot zone = %v, want %v", s.StartTime.Location(), loc)
		}
	}
	// Conversion changes the rendering, never the instant.
	if want := monday.Add(9 * time.Hour); !slots[0].StartTime.Equal(want) {
		t.Errorf("first slot instant = %v, want %v", slots[0].StartTime, want)
	}
}

func TestGetAvailableSlotsValidation(t *testing.T) {
	ctx := context.Background()
	typ := &models.AppointmentType{ID: "cut", Name: "Haircut", DurationMin: 30}
	engine := newAvailabilityEngine(newFakeApptRepo(), newFakeStaffRepo(utcStaff("s1")),
		newFakeResourceRepo(), newFakeCatalogRepo(typ), newFixedClock(monday))

	cases := []struct {
		name string
		req  AvailabilityRequest
	}{
		{"unknown staff", AvailabilityRequest{StaffID: "ghost", AppointmentTypeID: "cut",
			Range: models.TimeRange{Start: monday, End: monday.AddDate(0, 0, 1)}}},
		{"unknown type", AvailabilityRequest{StaffID: "s1", AppointmentTypeID: "ghost",
			Range: models.TimeRange{Start: monday, End: monday.AddDate(0, 0, 1)}}},
		{"inverted range", AvailabilityRequest{StaffID: "s1", AppointmentTypeID: "cut",
			Range: models.TimeRange{Start: monday.AddDate(0, 0, 1), End: monday}}},
		{"bad zone", AvailabilityRequest{StaffID: "s1", AppointmentTypeID: "cut",
			Range:    models.TimeRange{Start: monday, End: monday.AddDate(0, 0, 1)},
			TimeZone: "Mars/Olympus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.GetAvailableSlots(ctx, tc.req)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestGetAvailableSlotsClampedToBookingHorizon(t *testing.T) {
	appts := newFakeApptRepo()
	staff := newFakeStaffRepo(utcStaff("s1"))
	catalog := newFakeCatalogRepo(&models.AppointmentType{
		ID: "consult", Name: "Consultation", DurationMin: 30,
	})
	engine := newAvailabilityEngine(appts, staff, newFakeResourceRepo(), catalog, newFixedClock(monday))
	engine.Horizon = 7 * 24 * time.Hour
	limit := monday.Add(engine.Horizon)

	slots, err := engine.GetAvailableSlots(context.Background(), AvailabilityRequest{
		StaffID:           "s1",
		AppointmentTypeID: "consult",
		Range:             models.TimeRange{Start: monday, End: monday.AddDate(1, 0, 0)},
	})
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected slots inside the booking horizon")
	}
	for _, s := range slots {
		if !s.StartTime.Before(limit) {
			t.Fatalf("slot at %s starts at or past the horizon %s", s.StartTime, limit)
		}
	}

	_, err = engine.GetAvailableSlots(context.Background(), AvailabilityRequest{
		StaffID:           "s1",
		AppointmentTypeID: "consult",
		Range:             models.TimeRange{Start: limit, End: limit.AddDate(0, 0, 7)},
	})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("range starting at the horizon: want ValidationError, got %v", err)
	}
}
