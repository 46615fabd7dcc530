package fetcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Throttle smooths task start times across a window without capping
// total concurrency: the n-th concurrently held ticket waits n seconds
// (mod window) before its task may start. Releasing a ticket frees its
// slot index for later acquirers, so the stagger never exceeds the
// window no matter how large a burst gets.
type Throttle struct {
	window  int64
	counter atomic.Int64
}

func NewThrottle(windowSeconds int) *Throttle {
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	return &Throttle{window: int64(windowSeconds)}
}

// Acquire reserves the next slot. The ticket must be released when the
// task completes or is abandoned.
func (t *Throttle) Acquire() *Ticket {
	n := t.counter.Add(1) - 1
	return &Ticket{n: n % t.window, throttle: t}
}

// Held reports how many tickets are currently outstanding.
func (t *Throttle) Held() int64 { return t.counter.Load() }

type Ticket struct {
	n        int64
	throttle *Throttle
	release  sync.Once
}

// Delay is the smoothing wait assigned to this ticket.
func (tk *Ticket) Delay() time.Duration {
	return time.Duration(tk.n) * time.Second
}

// Wait sleeps out the ticket's delay, aborting early if ctx is done.
func (tk *Ticket) Wait(ctx context.Context) error {
	d := tk.Delay()
	if d == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Release returns the ticket's slot. Safe to call more than once.
func (tk *Ticket) Release() {
	tk.release.Do(func() {
		tk.throttle.counter.Add(-1)
	})
}
