package scheduling

import "time"

// Clock supplies the current wall-clock time. Injected so policy evaluation
// and offer expiry are testable with a frozen time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock { return systemClock{} }
