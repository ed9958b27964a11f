package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Production code uses System(); tests use
// NewFake to control timestamps deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func System() Clock { return systemClock{} }

// Fake is a deterministic clock. Every Now() call returns the current value
// and then advances it by the configured step, so successive calls produce
// distinct, predictable timestamps.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewFake(start time.Time, step time.Duration) *Fake {
	return &Fake{now: start, step: step}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = f.now.Add(f.step)
	return t
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
