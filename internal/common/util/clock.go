package util

import "time"

type Clock interface {
	Now() time.Time
}

// UTCClock is the production clock. All persisted timestamps are UTC.
type UTCClock struct{}

func (c *UTCClock) Now() time.Time { return time.Now().UTC() }

// DummyClock returns a fixed instant, settable from tests.
type DummyClock struct {
	T time.Time
}

func (c *DummyClock) Now() time.Time { return c.T }

func (c *DummyClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
