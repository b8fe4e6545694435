package throttle

import (
	"sync"
	"testing"
	"time"
)

func TestThrottler_CoalescesToLatest(t *testing.T) {
	var mu sync.Mutex
	var emitted []int

	th := New(30*time.Millisecond, func(v int) {
		mu.Lock()
		emitted = append(emitted, v)
		mu.Unlock()
	})
	defer th.Stop()

	// 50 updates inside one window produce exactly one emission carrying the
	// last value.
	for i := 1; i <= 50; i++ {
		th.Set(i)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 {
		t.Fatalf("emissions = %d, want 1", len(emitted))
	}
	if emitted[0] != 50 {
		t.Errorf("emitted %d, want the latest value 50", emitted[0])
	}
}

func TestThrottler_PendingAlwaysFlushed(t *testing.T) {
	done := make(chan int, 1)
	th := New(10*time.Millisecond, func(v int) { done <- v })
	defer th.Stop()

	th.Set(7)

	select {
	case v := <-done:
		if v != 7 {
			t.Errorf("flushed %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("pending value was never flushed")
	}
}

func TestThrottler_SeparateWindows(t *testing.T) {
	var mu sync.Mutex
	var emitted []int

	th := New(10*time.Millisecond, func(v int) {
		mu.Lock()
		emitted = append(emitted, v)
		mu.Unlock()
	})
	defer th.Stop()

	th.Set(1)
	time.Sleep(40 * time.Millisecond)
	th.Set(2)
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 2 || emitted[0] != 1 || emitted[1] != 2 {
		t.Fatalf("emitted = %v, want [1 2]", emitted)
	}
}

func TestThrottler_FlushImmediate(t *testing.T) {
	done := make(chan int, 1)
	th := New(time.Hour, func(v int) { done <- v })
	defer th.Stop()

	th.Set(3)
	th.Flush()

	select {
	case v := <-done:
		if v != 3 {
			t.Errorf("flushed %d, want 3", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Flush did not emit")
	}
}

func TestThrottler_StopDropsPending(t *testing.T) {
	emitted := make(chan int, 1)
	th := New(10*time.Millisecond, func(v int) { emitted <- v })

	th.Set(1)
	th.Stop()
	th.Set(2)

	select {
	case v := <-emitted:
		t.Fatalf("emitted %d after Stop", v)
	case <-time.After(50 * time.Millisecond):
	}
}
