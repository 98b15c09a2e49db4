package rooms

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/parley/internal/history"
)

// SteeringKey scopes a steering session. Steering is shared by all
// participants of a thread; in flat channels it stays scoped to one sender.
type SteeringKey struct {
	Arc      string
	Scope    string // "*" for threads, lowercase nick otherwise
	ThreadID string
}

// KeyForMessage derives the steering key of a message.
func KeyForMessage(msg RoomMessage) SteeringKey {
	if msg.ThreadID != "" {
		return SteeringKey{Arc: msg.Arc, Scope: "*", ThreadID: msg.ThreadID}
	}
	return SteeringKey{Arc: msg.Arc, Scope: strings.ToLower(msg.Nick)}
}

// ItemKind distinguishes queued commands from passive messages.
type ItemKind int

const (
	KindCommand ItemKind = iota
	KindPassive
)

// QueuedItem is an inbound message waiting on an active session runner. Its
// completion latch resolves exactly once, when the item has been processed,
// dropped by compaction, or drained as steering context.
type QueuedItem struct {
	Kind             ItemKind
	Msg              RoomMessage
	TriggerMessageID int64
	Reply            ReplySender

	once sync.Once
	done chan struct{}
	err  error
}

func newQueuedItem(kind ItemKind, msg RoomMessage, triggerMessageID int64, reply ReplySender) *QueuedItem {
	return &QueuedItem{
		Kind:             kind,
		Msg:              msg,
		TriggerMessageID: triggerMessageID,
		Reply:            reply,
		done:             make(chan struct{}),
	}
}

func (it *QueuedItem) resolve(err error) {
	it.once.Do(func() {
		it.err = err
		close(it.done)
	})
}

// Wait blocks until the item's completion resolves or ctx is done.
func (it *QueuedItem) Wait(ctx context.Context) error {
	select {
	case <-it.done:
		return it.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type steeringSession struct {
	queue []*QueuedItem
}

// SteeringQueue manages per-key steering sessions. A single mutex guards the
// session map and every session's queue; critical sections never perform I/O.
type SteeringQueue struct {
	mu       sync.Mutex
	sessions map[SteeringKey]*steeringSession
}

// NewSteeringQueue creates an empty queue manager.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{sessions: make(map[SteeringKey]*steeringSession)}
}

// EnqueueCommandOrStartRunner queues a command. If no session exists for the
// message's key, a session is created and isRunner is true: the caller owns
// the session and must drive the runner loop. Otherwise the item is appended
// to the existing session's queue.
func (q *SteeringQueue) EnqueueCommandOrStartRunner(msg RoomMessage, triggerMessageID int64, reply ReplySender) (isRunner bool, key SteeringKey, item *QueuedItem) {
	item = newQueuedItem(KindCommand, msg, triggerMessageID, reply)
	key = KeyForMessage(msg)

	q.mu.Lock()
	defer q.mu.Unlock()
	session, ok := q.sessions[key]
	if !ok {
		q.sessions[key] = &steeringSession{}
		return true, key, item
	}
	session.queue = append(session.queue, item)
	return false, key, item
}

// EnqueuePassiveIfSessionExists queues a passive message behind an existing
// session, or returns nil when there is none; the caller must then handle the
// message inline.
func (q *SteeringQueue) EnqueuePassiveIfSessionExists(msg RoomMessage, reply ReplySender) *QueuedItem {
	key := KeyForMessage(msg)

	q.mu.Lock()
	defer q.mu.Unlock()
	session, ok := q.sessions[key]
	if !ok {
		return nil
	}
	item := newQueuedItem(KindPassive, msg, 0, reply)
	session.queue = append(session.queue, item)
	return item
}

// DrainSteeringContextMessages removes all currently queued items and returns
// them formatted as steering context, FIFO. Drained items are completed
// before the entries are returned.
func (q *SteeringQueue) DrainSteeringContextMessages(key SteeringKey) []history.ContextEntry {
	q.mu.Lock()
	session, ok := q.sessions[key]
	if !ok || len(session.queue) == 0 {
		q.mu.Unlock()
		return nil
	}
	drained := session.queue
	session.queue = nil
	q.mu.Unlock()

	entries := make([]history.ContextEntry, 0, len(drained))
	for _, item := range drained {
		item.resolve(nil)
		entries = append(entries, steeringContextEntry(item.Msg))
	}
	return entries
}

func steeringContextEntry(msg RoomMessage) history.ContextEntry {
	return history.ContextEntry{
		Role:    "user",
		Content: fmt.Sprintf("<%s> %s", msg.Nick, msg.Content),
	}
}

// TakeNextWorkCompacted takes the session's next work item while compacting
// queue noise:
//   - if a command is queued, all passives before the first command are dropped;
//   - otherwise only the last passive is kept.
//
// When the queue is empty the session is removed and (nil, nil) is returned;
// the calling runner must then exit. Dropped items are returned unresolved;
// the caller completes them.
func (q *SteeringQueue) TakeNextWorkCompacted(key SteeringKey) (dropped []*QueuedItem, next *QueuedItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	session, ok := q.sessions[key]
	if !ok {
		return nil, nil
	}
	if len(session.queue) == 0 {
		delete(q.sessions, key)
		return nil, nil
	}

	queue := session.queue
	for i, item := range queue {
		if item.Kind == KindCommand {
			session.queue = queue[i+1:]
			return queue[:i], item
		}
	}

	// All passives: keep only the newest.
	session.queue = nil
	return queue[:len(queue)-1], queue[len(queue)-1]
}

// AbortSession removes the session and fails every remaining queued item.
func (q *SteeringQueue) AbortSession(key SteeringKey, cause error) []*QueuedItem {
	q.mu.Lock()
	session, ok := q.sessions[key]
	if ok {
		delete(q.sessions, key)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}

	for _, item := range session.queue {
		item.resolve(cause)
	}
	return session.queue
}

// FinishItem resolves an item's completion successfully. Idempotent.
func (q *SteeringQueue) FinishItem(item *QueuedItem) { item.resolve(nil) }

// FailItem resolves an item's completion with an error. Idempotent.
func (q *SteeringQueue) FailItem(item *QueuedItem, cause error) { item.resolve(cause) }
