package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) {
		t.Errorf("Clock time %v is before measurement time %v", now, before)
	}
	if now.After(after) {
		t.Errorf("Clock time %v is after measurement time %v", now, after)
	}
}

func TestRealClock_AfterFunc(t *testing.T) {
	clock := RealClock{}
	fired := make(chan struct{})
	clock.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	initialTime := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(initialTime)

	testCases := []struct {
		name     string
		duration time.Duration
		expected time.Time
	}{
		{"advance by 1 hour", time.Hour, initialTime.Add(time.Hour)},
		{"advance by 30 minutes more", 30 * time.Minute, initialTime.Add(90 * time.Minute)},
		{"advance by zero", 0, initialTime.Add(90 * time.Minute)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock.Advance(tc.duration)
			if now := clock.Now(); !now.Equal(tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, now)
			}
		})
	}
}

func TestMockClock_AfterFuncFiresWhenDue(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	var fired int
	clock.AfterFunc(30*time.Second, func() { fired++ })

	clock.Advance(29 * time.Second)
	if fired != 0 {
		t.Fatalf("timer fired early")
	}
	clock.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired=%d want=1", fired)
	}
	clock.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("timer fired twice")
	}
}

func TestMockClock_StopPreventsFire(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	var fired bool
	tm := clock.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Fatalf("Stop on pending timer should report true")
	}
	if tm.Stop() {
		t.Fatalf("second Stop should report false")
	}
	clock.Advance(time.Minute)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if clock.Pending() != 0 {
		t.Fatalf("pending=%d want=0", clock.Pending())
	}
}

func TestMockClock_AfterDeliversOnChannel(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ch := clock.After(10 * time.Second)

	done := make(chan struct{})
	go func() {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
		close(done)
	}()

	select {
	case got := <-ch:
		if !got.Equal(time.Unix(10, 0)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("After channel never fired")
	}
	<-done
}

func TestMockClock_FiresInDeadlineOrder(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clock.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestClock_Interface_Compliance(t *testing.T) {
	var _ Clock = RealClock{}
	var _ Clock = &MockClock{}
}
