package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is the handle returned by AfterFunc. Stop reports whether the call
// prevented the function from running.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so idle, debounce and deadline behaviour can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	After(d time.Duration) <-chan time.Time
}

type RealClock struct{}

func (c RealClock) Now() time.Time {
	return time.Now()
}

func (c RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (c RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock only moves when Advance is called. Timers whose deadline is
// reached fire synchronously inside Advance, in deadline order.
type MockClock struct {
	mu          sync.Mutex
	cond        *sync.Cond
	currentTime time.Time
	timers      []*mockTimer
}

type mockTimer struct {
	clk     *MockClock
	when    time.Time
	fn      func()
	ch      chan time.Time
	stopped bool
}

// NewMockClock returns a MockClock positioned at start.
func NewMockClock(start time.Time) *MockClock {
	c := &MockClock{currentTime: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.schedule(d, f, nil)
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.schedule(d, nil, ch)
	return ch
}

func (c *MockClock) schedule(d time.Duration, f func(), ch chan time.Time) *mockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lazyInit()
	t := &mockTimer{clk: c, when: c.currentTime.Add(d), fn: f, ch: ch}
	c.timers = append(c.timers, t)
	c.cond.Broadcast()
	return t
}

// Advance moves the clock forward by d and fires every timer that became due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.lazyInit()
	c.currentTime = c.currentTime.Add(d)
	now := c.currentTime
	var due, keep []*mockTimer
	for _, t := range c.timers {
		if t.stopped {
			continue
		}
		if !t.when.After(now) {
			due = append(due, t)
		} else {
			keep = append(keep, t)
		}
	}
	c.timers = keep
	for _, t := range due {
		t.stopped = true
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		if t.fn != nil {
			t.fn()
			continue
		}
		t.ch <- now
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// BlockUntil waits until at least n timers are pending. Tests use it to make
// sure a goroutine has armed its deadline before advancing the clock.
func (c *MockClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lazyInit()
	for {
		pending := 0
		for _, t := range c.timers {
			if !t.stopped {
				pending++
			}
		}
		if pending >= n {
			return
		}
		c.cond.Wait()
	}
}

func (c *MockClock) lazyInit() {
	if c.cond == nil {
		c.cond = sync.NewCond(&c.mu)
	}
}

func (t *mockTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.clk.cond.Broadcast()
	return true
}
