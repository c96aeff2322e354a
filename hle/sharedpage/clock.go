package sharedpage

import (
	"context"
	"time"

	"ctrhle/hal"
)

const (
	// TicksPerSecond is the emulated CPU clock rate published in the
	// date/time slots.
	TicksPerSecond = 268111856

	// epochDelta is the number of seconds from 1900-01-01 to 1970-01-01.
	epochDelta = 2208988800

	// DefaultUpdateInterval is how often the clock republishes the date.
	DefaultUpdateInterval = time.Hour
)

// MillisSince1900 converts t to the page's date/time representation.
func MillisSince1900(t time.Time) uint64 {
	return uint64(t.UnixMilli() + epochDelta*1000)
}

// Clock publishes date/time slots from the host tick stream.
type Clock struct {
	page     *Page
	logger   hal.Logger
	now      func() time.Time
	interval uint64 // host ticks

	lastUpdate uint64
	updated    bool
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) ClockOption {
	return func(c *Clock) { c.now = now }
}

// WithInterval sets the republish interval.
func WithInterval(d time.Duration) ClockOption {
	return func(c *Clock) {
		n := uint64(d / hal.TickDuration)
		if n == 0 {
			n = 1
		}
		c.interval = n
	}
}

// NewClock returns a clock writing to page.
func NewClock(page *Page, logger hal.Logger, opts ...ClockOption) *Clock {
	c := &Clock{
		page:     page,
		logger:   logger,
		now:      time.Now,
		interval: uint64(DefaultUpdateInterval / hal.TickDuration),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmulatedTicks converts a host tick count to emulated CPU ticks.
func EmulatedTicks(hostTicks uint64) uint64 {
	ns := hostTicks * uint64(hal.TickDuration)
	sec, rem := ns/uint64(time.Second), ns%uint64(time.Second)
	return sec*TicksPerSecond + rem*TicksPerSecond/uint64(time.Second)
}

// Update publishes the current date for host tick.
func (c *Clock) Update(tick uint64) {
	c.page.UpdateDateTime(DateTime{
		Millis:                  MillisSince1900(c.now()),
		UpdateTick:              EmulatedTicks(tick),
		TickToSecondCoefficient: TicksPerSecond,
	})
	c.lastUpdate = tick
	c.updated = true
}

// Observe handles one host tick, republishing when the interval has elapsed.
func (c *Clock) Observe(tick uint64) bool {
	if c.updated && tick-c.lastUpdate < c.interval {
		return false
	}
	c.Update(tick)
	return true
}

// Run publishes once, then follows ticks until ctx is done or the channel
// closes.
func (c *Clock) Run(ctx context.Context, ticks <-chan uint64) error {
	c.Update(0)
	hal.Logf(c.logger, hal.LevelDebug, "SharedPage", "clock started, interval %d ticks", c.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			if c.Observe(t) {
				hal.Logf(c.logger, hal.LevelTrace, "SharedPage", "date/time updated at tick %d", t)
			}
		}
	}
}
