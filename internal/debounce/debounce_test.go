package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedule_CollapsesBurst(t *testing.T) {
	d := New()
	var calls, last int32

	for i := int32(1); i <= 5; i++ {
		v := i
		d.Schedule(func() {
			atomic.AddInt32(&calls, 1)
			atomic.StoreInt32(&last, v)
		}, 30*time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&last); got != 5 {
		t.Errorf("last = %d, want 5 (latest scheduled function)", got)
	}
	if d.Pending() {
		t.Error("Pending() = true after firing")
	}
}

func TestCancel(t *testing.T) {
	d := New()
	var calls int32

	d.Schedule(func() { atomic.AddInt32(&calls, 1) }, 20*time.Millisecond)
	if !d.Cancel() {
		t.Error("Cancel() = false, want true with a pending call")
	}
	if d.Cancel() {
		t.Error("second Cancel() = true, want false")
	}

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestFlush(t *testing.T) {
	d := New()
	var calls int32

	d.Schedule(func() { atomic.AddInt32(&calls, 1) }, time.Hour)
	if !d.Flush() {
		t.Fatal("Flush() = false, want true")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if d.Flush() {
		t.Error("Flush() with nothing pending = true")
	}
}
