package pgnstore

import "time"

// Clock abstracts wall-clock access so tests can control expiry without
// sleeping. Production code always uses SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
