package rooms

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerFiresWithLatestPayload(t *testing.T) {
	d := NewProactiveDebouncer(20 * time.Millisecond)

	var mu sync.Mutex
	var fired []string
	done := make(chan struct{})
	callback := func(msg RoomMessage, reply ReplySender) {
		mu.Lock()
		fired = append(fired, msg.Content)
		mu.Unlock()
		close(done)
	}

	d.ScheduleCheck(steeringMsg("alice", "first"), "libera##go", nil, callback)
	d.ScheduleCheck(steeringMsg("alice", "second"), "libera##go", nil, callback)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced check never fired")
	}

	// Give a superseded timer a chance to misfire.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "second" {
		t.Errorf("fired = %v, want just the latest payload", fired)
	}
}

func TestDebouncerCancelChannel(t *testing.T) {
	d := NewProactiveDebouncer(10 * time.Millisecond)

	var mu sync.Mutex
	count := 0
	d.ScheduleCheck(steeringMsg("alice", "hi"), "libera##go", nil, func(msg RoomMessage, reply ReplySender) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	d.CancelChannel("libera##go")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("cancelled timer fired %d times", count)
	}
}

// A timer that expires right before CancelChannel must not deliver its
// payload to a scheduling armed after the cancel.
func TestDebouncerCancelBeatsExpiredTimer(t *testing.T) {
	d := NewProactiveDebouncer(50 * time.Microsecond)

	var mu sync.Mutex
	staleFires := 0
	callback := func(msg RoomMessage, reply ReplySender) {
		if msg.Content == "old" {
			mu.Lock()
			staleFires++
			mu.Unlock()
		}
	}

	for i := 0; i < 5000; i++ {
		d.ScheduleCheck(steeringMsg("alice", "old"), "libera##go", nil, callback)
		// Race the timer goroutine against the cancel.
		time.Sleep(50 * time.Microsecond)
		d.CancelChannel("libera##go")
		d.ScheduleCheck(steeringMsg("alice", "new"), "libera##go", nil, callback)
		d.CancelChannel("libera##go")
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if staleFires != 0 {
		t.Errorf("cancelled timer delivered its payload %d times", staleFires)
	}
}

func TestDebouncerChannelsAreIndependent(t *testing.T) {
	d := NewProactiveDebouncer(10 * time.Millisecond)

	fired := make(chan string, 2)
	callback := func(msg RoomMessage, reply ReplySender) {
		fired <- msg.Content
	}
	d.ScheduleCheck(steeringMsg("alice", "go talk"), "libera##go", nil, callback)
	d.ScheduleCheck(steeringMsg("bob", "rust talk"), "libera##rust", nil, callback)
	d.CancelChannel("libera##rust")

	select {
	case content := <-fired:
		if content != "go talk" {
			t.Errorf("fired = %q", content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("surviving channel never fired")
	}
	select {
	case content := <-fired:
		t.Errorf("cancelled channel fired with %q", content)
	case <-time.After(50 * time.Millisecond):
	}
}
