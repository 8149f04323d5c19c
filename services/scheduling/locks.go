package scheduling

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"appointqix/models"
)

// dayLockRegistry serializes slot commits per (staff, calendar day) and
// (resource, calendar day). Scope is as narrow as possible: availability
// reads and policy evaluation never touch it. Multi-key acquisitions sort
// keys first, a fixed global order that prevents deadlock between requests
// needing overlapping key sets (staff keys sort after resource keys, so the
// staff-and-resource pair is always taken in the same order everywhere).
type dayLockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDayLockRegistry() *dayLockRegistry {
	return &dayLockRegistry{locks: make(map[string]*sync.Mutex)}
}

func (r *dayLockRegistry) get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// acquire locks every key (deduplicated, sorted) and returns the release
// function. Callers must not hold the locks across network calls other than
// the guarded commit itself.
func (r *dayLockRegistry) acquire(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, k := range uniq {
		m := r.get(k)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// staffDayKeys returns the serialization keys for every UTC calendar day a
// buffered interval touches.
func staffDayKeys(staffID string, rng models.TimeRange) []string {
	return dayKeys("staff", staffID, rng)
}

// resourceDayKeys returns the serialization keys for a resource over rng.
func resourceDayKeys(resourceID string, rng models.TimeRange) []string {
	return dayKeys("resource", resourceID, rng)
}

func dayKeys(prefix, id string, rng models.TimeRange) []string {
	var keys []string
	day := rng.Start.UTC().Truncate(24 * time.Hour)
	for day.Before(rng.End) {
		keys = append(keys, fmt.Sprintf("%s|%s|%s", prefix, id, day.Format("2006-01-02")))
		day = day.AddDate(0, 0, 1)
	}
	return keys
}
