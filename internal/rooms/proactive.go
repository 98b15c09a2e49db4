package rooms

import (
	"sync"
	"time"
)

// CheckFunc handles a debounced proactive check with the payload of the most
// recent scheduling.
type CheckFunc func(msg RoomMessage, reply ReplySender)

type pendingCheck struct {
	timer *time.Timer
}

// ProactiveDebouncer coalesces passive channel traffic into at most one
// proactive check per quiet period. Re-scheduling before expiry replaces the
// payload and restarts the timer; cancelled or superseded timers never fire
// their callback.
type ProactiveDebouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCheck
}

// NewProactiveDebouncer creates a debouncer with the given quiet period.
func NewProactiveDebouncer(delay time.Duration) *ProactiveDebouncer {
	return &ProactiveDebouncer{
		delay:   delay,
		pending: make(map[string]*pendingCheck),
	}
}

// ScheduleCheck arms (or re-arms) the channel's timer to invoke callback with
// msg and reply after the quiet period.
func (d *ProactiveDebouncer) ScheduleCheck(msg RoomMessage, channelKey string, reply ReplySender, callback CheckFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[channelKey]; ok {
		prev.timer.Stop()
	}
	check := &pendingCheck{}
	check.timer = time.AfterFunc(d.delay, func() {
		d.fire(channelKey, check, msg, reply, callback)
	})
	d.pending[channelKey] = check
}

// fire runs on timer expiry. The identity check discards timers that were
// superseded or cancelled after the callback was already scheduled: only the
// entry currently in the map may deliver. Identity survives cancel/reschedule
// cycles, unlike a per-entry counter.
func (d *ProactiveDebouncer) fire(channelKey string, check *pendingCheck, msg RoomMessage, reply ReplySender, callback CheckFunc) {
	d.mu.Lock()
	if d.pending[channelKey] != check {
		d.mu.Unlock()
		return
	}
	delete(d.pending, channelKey)
	d.mu.Unlock()

	callback(msg, reply)
}

// CancelChannel cancels any pending check for the channel.
func (d *ProactiveDebouncer) CancelChannel(channelKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if check, ok := d.pending[channelKey]; ok {
		check.timer.Stop()
		delete(d.pending, channelKey)
	}
}
