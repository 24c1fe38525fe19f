package fulfillment

import "time"

// Clock abstracts time for backoff scheduling so the retry sweep can be
// tested against a fake clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
