package timesource

import (
	"sync"
	"time"
)

// TimeStamp is a point in time with microsecond resolution.
// The zero value means "not set".
type TimeStamp int64

// FromTime converts t to a TimeStamp, truncating to microseconds.
func FromTime(t time.Time) TimeStamp {
	return TimeStamp(t.UnixMicro())
}

// Micros returns the number of microseconds since the Unix epoch.
func (ts TimeStamp) Micros() int64 {
	return int64(ts)
}

// IsZero reports whether the timestamp has been set.
func (ts TimeStamp) IsZero() bool {
	return ts == 0
}

// Time converts back to a time.Time in UTC.
func (ts TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

// Sub returns ts - other.
func (ts TimeStamp) Sub(other TimeStamp) time.Duration {
	return time.Duration(ts-other) * time.Microsecond
}

func (ts TimeStamp) String() string {
	if ts.IsZero() {
		return "unset"
	}
	return ts.Time().Format(time.RFC3339Nano)
}

// Clock is the time source injected into components that stamp data.
type Clock interface {
	Now() TimeStamp
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() TimeStamp {
	return FromTime(time.Now())
}

// Default returns the clock used when a component is given none.
func Default() Clock {
	return RealClock{}
}

// FakeClock is a manually driven clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now TimeStamp
}

// NewFakeClock returns a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: FromTime(start)}
}

func (c *FakeClock) Now() TimeStamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += TimeStamp(d / time.Microsecond)
}

// Set pins the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = FromTime(t)
}
