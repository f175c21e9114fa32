package scheduler

import "time"

// Clock abstracts wall time so retry backoff is testable without real waits.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the stoppable handle returned by AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// NewRealClock returns the wall clock.
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
