package wallclock

import (
	"sync"
	"time"
)

// Fake is a manually advanced WallClock. Timers and tickers fire only from
// Advance, and like their package time counterparts they drop ticks that
// the receiver has not consumed yet.
type Fake struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	clock  *Fake
	at     time.Time
	period time.Duration
	c      chan time.Time
	active bool
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	return f.NewTimer(d).C()
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	return f.add(d, 0)
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("wallclock: non-positive interval for NewTicker")
	}
	return fakeTicker{f.add(d, d)}
}

func (f *Fake) add(d, period time.Duration) *fakeWaiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		clock:  f,
		at:     f.now.Add(d),
		period: period,
		c:      make(chan time.Time, 1),
		active: true,
	}
	f.waiters = append(f.waiters, w)
	f.fireLocked()
	f.cond.Broadcast()

	return w
}

// Advance moves the clock forward and fires every timer and ticker whose
// deadline has been reached.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	f.fireLocked()
}

// BlockUntil waits until at least n timers or tickers are active.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.activeLocked() < n {
		f.cond.Wait()
	}
}

func (f *Fake) activeLocked() int {
	n := 0
	for _, w := range f.waiters {
		if w.active {
			n++
		}
	}
	return n
}

func (f *Fake) fireLocked() {
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.active {
			continue
		}
		for w.active && !w.at.After(f.now) {
			select {
			case w.c <- w.at:
			default:
			}
			if w.period == 0 {
				w.active = false
				break
			}
			w.at = w.at.Add(w.period)
		}
		if w.active {
			kept = append(kept, w)
		}
	}
	f.waiters = kept
}

func (w *fakeWaiter) C() <-chan time.Time {
	return w.c
}

func (w *fakeWaiter) Reset(d time.Duration) bool {
	f := w.clock
	f.mu.Lock()
	defer f.mu.Unlock()

	was := w.active
	w.at = f.now.Add(d)
	if !w.active {
		w.active = true
		f.waiters = append(f.waiters, w)
	}
	f.fireLocked()
	f.cond.Broadcast()

	return was
}

func (w *fakeWaiter) Stop() bool {
	f := w.clock
	f.mu.Lock()
	defer f.mu.Unlock()

	was := w.active
	w.active = false
	kept := f.waiters[:0]
	for _, other := range f.waiters {
		if other != w {
			kept = append(kept, other)
		}
	}
	f.waiters = kept
	f.cond.Broadcast()

	return was
}

type fakeTicker struct {
	*fakeWaiter
}

func (t fakeTicker) Stop() {
	t.fakeWaiter.Stop()
}
