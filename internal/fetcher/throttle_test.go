package fetcher

import (
	"context"
	"testing"
	"time"
)

func TestThrottleSlotSequence(t *testing.T) {
	t.Parallel()
	th := NewThrottle(3)
	want := []time.Duration{0, time.Second, 2 * time.Second, 0, time.Second}
	for i, w := range want {
		tk := th.Acquire()
		if got := tk.Delay(); got != w {
			t.Fatalf("acquisition %d: delay = %v, want %v", i, got, w)
		}
	}
}

func TestThrottleReleaseFreesSlot(t *testing.T) {
	t.Parallel()
	th := NewThrottle(4)
	a := th.Acquire()
	b := th.Acquire()
	c := th.Acquire()
	if a.Delay() != 0 || b.Delay() != time.Second || c.Delay() != 2*time.Second {
		t.Fatalf("unexpected initial delays: %v %v %v", a.Delay(), b.Delay(), c.Delay())
	}
	b.Release()
	if got := th.Acquire().Delay(); got != 2*time.Second {
		t.Fatalf("delay after release = %v, want 2s", got)
	}
}

func TestThrottleReleaseIdempotent(t *testing.T) {
	t.Parallel()
	th := NewThrottle(4)
	tk := th.Acquire()
	tk.Release()
	tk.Release()
	if got := th.Held(); got != 0 {
		t.Fatalf("held = %d after double release, want 0", got)
	}
}

func TestTicketWaitImmediateSlot(t *testing.T) {
	t.Parallel()
	th := NewThrottle(2)
	tk := th.Acquire()
	start := time.Now()
	if err := tk.Wait(context.Background()); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("slot 0 waited %v", elapsed)
	}
}

func TestTicketWaitCancellable(t *testing.T) {
	t.Parallel()
	th := NewThrottle(10)
	th.Acquire() // occupy slot 0
	tk := th.Acquire()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := tk.Wait(ctx); err == nil {
		t.Fatal("Wait returned nil on cancelled context")
	}
}
