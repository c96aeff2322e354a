package hal

import (
	"context"
	"time"
)

// TickDuration is the host tick period.
const TickDuration = time.Millisecond

type hostTime struct {
	ch  chan uint64
	seq uint64

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

func (t *hostTime) step(now time.Time) {
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.stepN(1)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / TickDuration)
	if ticks == 0 {
		return
	}
	t.acc = t.acc % TickDuration
	t.stepN(ticks)
}

func (t *hostTime) stepN(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}

// RunClock drives the tick stream of a host HAL from the wall clock, sampling
// every period, until ctx is canceled.
func RunClock(ctx context.Context, h HAL, period time.Duration) error {
	hh, ok := h.(*hostHAL)
	if !ok {
		return ErrNotImplemented
	}
	if period <= 0 {
		period = TickDuration
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			hh.t.step(now)
		}
	}
}
