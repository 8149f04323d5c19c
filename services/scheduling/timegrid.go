package scheduling

import (
	"time"

	"appointqix/models"
)

// TimeGrid generates discrete slot candidates from a staff member's weekly
// working windows. Pure and deterministic: no I/O, no clock.
type TimeGrid struct {
	Granularity time.Duration
}

// Candidates returns candidate start instants (UTC, ascending) for a booking
// of the given duration within rng. Candidates are aligned to granularity
// boundaries from the start of each working window, in the staff member's
// local zone, and a candidate is dropped when [t, t+duration) leaves the
// window or intersects a recurring break or an absolute blackout.
func (g TimeGrid) Candidates(staff *models.StaffProfile, rng models.TimeRange, duration time.Duration) ([]time.Time, error) {
	if duration <= 0 || g.Granularity <= 0 || !rng.End.After(rng.Start) {
		return nil, nil
	}
	loc, err := staff.Location()
	if err != nil {
		return nil, err
	}

	var out []time.Time
	// Walk local calendar days covering rng. The first local day may start
	// before rng.Start; per-candidate bounds checks handle the edges.
	first := rng.Start.In(loc)
	firstMidnight := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)

	for day := firstMidnight; day.Before(rng.End.In(loc)); day = day.AddDate(0, 0, 1) {
		for _, w := range staff.WorkingHours {
			if w.Weekday != day.Weekday() {
				continue
			}
			windowStart := day.Add(time.Duration(w.StartMin) * time.Minute)
			windowEnd := day.Add(time.Duration(w.EndMin) * time.Minute)

			for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(g.Granularity) {
				start := t.UTC()
				end := start.Add(duration)
				if start.Before(rng.Start) || end.After(rng.End) {
					continue
				}
				if g.blocked(staff, day, models.TimeRange{Start: start, End: end}) {
					continue
				}
				out = append(out, start)
			}
		}
	}
	return out, nil
}

// FitsWorkingHours reports whether interval lies wholly inside one of the
// staff member's working windows for its local day and intersects no break
// or blackout. Used by Reserve to validate arbitrary (non-grid) starts.
func (g TimeGrid) FitsWorkingHours(staff *models.StaffProfile, interval models.TimeRange) (bool, error) {
	loc, err := staff.Location()
	if err != nil {
		return false, err
	}
	local := interval.Start.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	inWindow := false
	for _, w := range staff.WorkingHours {
		if w.Weekday != day.Weekday() {
			continue
		}
		windowStart := day.Add(time.Duration(w.StartMin) * time.Minute)
		windowEnd := day.Add(time.Duration(w.EndMin) * time.Minute)
		if !interval.Start.Before(windowStart.UTC()) && !interval.End.After(windowEnd.UTC()) {
			inWindow = true
			break
		}
	}
	if !inWindow {
		return false, nil
	}
	return !g.blocked(staff, day, interval), nil
}

// blocked reports whether the UTC interval intersects a recurring break on
// the given local day or any absolute blackout.
func (g TimeGrid) blocked(staff *models.StaffProfile, localDay time.Time, interval models.TimeRange) bool {
	for _, br := range staff.Breaks {
		if br.Weekday != localDay.Weekday() {
			continue
		}
		breakRange := models.TimeRange{
			Start: localDay.Add(time.Duration(br.StartMin) * time.Minute).UTC(),
			End:   localDay.Add(time.Duration(br.EndMin) * time.Minute).UTC(),
		}
		if interval.Overlaps(breakRange) {
			return true
		}
	}
	for _, b := range staff.Blackouts {
		if interval.Overlaps(b) {
			return true
		}
	}
	return false
}
