package rooms

import (
	"context"
	"errors"
	"testing"
	"time"
)

func steeringMsg(nick, content string) RoomMessage {
	return RoomMessage{
		ServerTag:   "libera",
		ChannelName: "#go",
		Nick:        nick,
		MyNick:      "parley",
		Content:     content,
		Arc:         "libera#go",
	}
}

func TestKeyForMessage(t *testing.T) {
	flat := KeyForMessage(steeringMsg("Alice", "hi"))
	if flat != (SteeringKey{Arc: "libera#go", Scope: "alice"}) {
		t.Errorf("flat key = %+v", flat)
	}

	threaded := steeringMsg("Alice", "hi")
	threaded.ThreadID = "t9"
	key := KeyForMessage(threaded)
	if key != (SteeringKey{Arc: "libera#go", Scope: "*", ThreadID: "t9"}) {
		t.Errorf("thread key = %+v", key)
	}
}

func TestEnqueueCommandOrStartRunner(t *testing.T) {
	q := NewSteeringQueue()

	isRunner, key, first := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s one"), 1, nil)
	if !isRunner {
		t.Fatal("first enqueue should own the session")
	}
	isRunner, _, second := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s two"), 2, nil)
	if isRunner {
		t.Fatal("second enqueue should join the existing session")
	}

	// Different sender gets an independent session.
	isRunner, otherKey, _ := q.EnqueueCommandOrStartRunner(steeringMsg("bob", "!s b"), 3, nil)
	if !isRunner || otherKey == key {
		t.Errorf("bob: isRunner=%v key=%+v", isRunner, otherKey)
	}

	dropped, next := q.TakeNextWorkCompacted(key)
	if len(dropped) != 0 || next != second {
		t.Errorf("take = %v, %v", dropped, next)
	}
	q.FinishItem(first)
	q.FinishItem(second)
}

func TestDrainSteeringContextMessages(t *testing.T) {
	q := NewSteeringQueue()
	threadMsg := func(nick, content string) RoomMessage {
		m := steeringMsg(nick, content)
		m.ThreadID = "t1"
		return m
	}
	_, key, _ := q.EnqueueCommandOrStartRunner(threadMsg("alice", "!s run"), 1, nil)

	p1 := q.EnqueuePassiveIfSessionExists(threadMsg("bob", "one"), nil)
	p2 := q.EnqueuePassiveIfSessionExists(threadMsg("carol", "two"), nil)
	if p1 == nil || p2 == nil {
		t.Fatal("passives should queue behind the session")
	}

	// Threaded key shares the session, so both senders' messages drain FIFO.
	entries := q.DrainSteeringContextMessages(key)
	if len(entries) != 2 {
		t.Fatalf("drained %d entries", len(entries))
	}
	if entries[0].Content != "<bob> one" || entries[1].Content != "<carol> two" {
		t.Errorf("entries = %v", entries)
	}
	for _, e := range entries {
		if e.Role != "user" {
			t.Errorf("role = %q", e.Role)
		}
	}

	// Drained items complete.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p1.Wait(ctx); err != nil {
		t.Errorf("p1 wait: %v", err)
	}
	if err := p2.Wait(ctx); err != nil {
		t.Errorf("p2 wait: %v", err)
	}

	// A second drain finds nothing.
	if entries := q.DrainSteeringContextMessages(key); entries != nil {
		t.Errorf("second drain = %v", entries)
	}
}

func TestEnqueuePassiveWithoutSession(t *testing.T) {
	q := NewSteeringQueue()
	if item := q.EnqueuePassiveIfSessionExists(steeringMsg("alice", "hi"), nil); item != nil {
		t.Errorf("item = %v, want nil", item)
	}
}

func TestCompactionDropsLeadingPassives(t *testing.T) {
	q := NewSteeringQueue()
	_, key, _ := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s run"), 1, nil)

	p1 := q.EnqueuePassiveIfSessionExists(steeringMsg("alice", "p1"), nil)
	p2 := q.EnqueuePassiveIfSessionExists(steeringMsg("alice", "p2"), nil)
	_, _, cmdB := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s B"), 2, nil)
	p3 := q.EnqueuePassiveIfSessionExists(steeringMsg("alice", "p3"), nil)

	dropped, next := q.TakeNextWorkCompacted(key)
	if next != cmdB {
		t.Fatalf("next = %v, want command B", next)
	}
	if len(dropped) != 2 || dropped[0] != p1 || dropped[1] != p2 {
		t.Errorf("dropped = %v", dropped)
	}

	// p3 stays queued for the next round.
	dropped, next = q.TakeNextWorkCompacted(key)
	if len(dropped) != 0 || next != p3 {
		t.Errorf("second take = %v, %v", dropped, next)
	}

	// Queue now empty: the session closes.
	dropped, next = q.TakeNextWorkCompacted(key)
	if dropped != nil || next != nil {
		t.Errorf("final take = %v, %v", dropped, next)
	}
	if item := q.EnqueuePassiveIfSessionExists(steeringMsg("alice", "late"), nil); item != nil {
		t.Error("session should be gone after the final take")
	}
}

func TestCompactionKeepsLastPassiveOnly(t *testing.T) {
	q := NewSteeringQueue()
	_, key, _ := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s run"), 1, nil)

	p1 := q.EnqueuePassiveIfSessionExists(steeringMsg("alice", "p1"), nil)
	p2 := q.EnqueuePassiveIfSessionExists(steeringMsg("alice", "p2"), nil)
	p3 := q.EnqueuePassiveIfSessionExists(steeringMsg("alice", "p3"), nil)

	dropped, next := q.TakeNextWorkCompacted(key)
	if next != p3 {
		t.Fatalf("next = %v, want last passive", next)
	}
	if len(dropped) != 2 || dropped[0] != p1 || dropped[1] != p2 {
		t.Errorf("dropped = %v", dropped)
	}
}

func TestAbortSessionFailsQueuedItems(t *testing.T) {
	q := NewSteeringQueue()
	_, key, runnerItem := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s run"), 1, nil)
	_, _, queued := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s more"), 2, nil)

	cause := errors.New("boom")
	q.AbortSession(key, cause)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := queued.Wait(ctx); !errors.Is(err, cause) {
		t.Errorf("queued wait = %v, want boom", err)
	}

	// The session is gone; the runner's own item is failed by the runner.
	q.FailItem(runnerItem, cause)
	if err := runnerItem.Wait(ctx); !errors.Is(err, cause) {
		t.Errorf("runner item wait = %v", err)
	}
}

// Completion resolves exactly once; later finish/fail calls do not change the
// outcome.
func TestCompletionResolvesOnce(t *testing.T) {
	q := NewSteeringQueue()
	_, _, item := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s run"), 1, nil)

	q.FinishItem(item)
	q.FailItem(item, errors.New("too late"))
	q.FinishItem(item)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := item.Wait(ctx); err != nil {
		t.Errorf("wait = %v, want nil (first resolution wins)", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	q := NewSteeringQueue()
	_, _, item := q.EnqueueCommandOrStartRunner(steeringMsg("alice", "!s run"), 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := item.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("wait = %v", err)
	}
}
