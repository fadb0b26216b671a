package engine

import "time"

// Clock supplies wall time for modification stamps, sync times and audit
// entries. Tests inject a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real clock in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
