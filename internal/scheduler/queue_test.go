package scheduler

import (
	"testing"
	"time"
)

func TestQueuePriorityThenFIFO(t *testing.T) {
	q := newJobQueue()
	now := time.Now()

	q.push("a", 1, now)
	q.push("b", 5, now)
	q.push("c", 1, now)
	q.push("d", 5, now)

	want := []string{"b", "d", "a", "c"}
	for _, w := range want {
		id, ok := q.pop()
		if !ok || id != w {
			t.Fatalf("pop = %q (%v), want %q", id, ok, w)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueueRemoveTombstone(t *testing.T) {
	q := newJobQueue()
	now := time.Now()

	q.push("a", 0, now)
	q.push("b", 0, now)
	q.push("c", 0, now)

	if !q.remove("b") {
		t.Fatal("remove returned false for queued job")
	}
	if q.remove("b") {
		t.Error("second remove should return false")
	}
	if q.contains("b") {
		t.Error("removed job still reported as queued")
	}
	if q.len() != 2 {
		t.Errorf("len = %d, want 2", q.len())
	}

	if id, _ := q.pop(); id != "a" {
		t.Errorf("pop = %q, want a", id)
	}
	if id, _ := q.pop(); id != "c" {
		t.Errorf("pop = %q, want c (tombstone must be skipped)", id)
	}
}

func TestQueueRetryGoesToTierTail(t *testing.T) {
	q := newJobQueue()
	now := time.Now()

	q.push("first", 1, now)
	q.push("second", 1, now.Add(time.Second))

	id, _ := q.pop()
	if id != "first" {
		t.Fatalf("pop = %q, want first", id)
	}
	// Re-enqueue keeps the original createdAt but gets a fresh seq, so it
	// lands behind its tier peers.
	q.push("first", 1, now)

	if id, _ := q.pop(); id != "second" {
		t.Errorf("pop = %q, want second", id)
	}
	if id, _ := q.pop(); id != "first" {
		t.Errorf("pop = %q, want first at tail", id)
	}
}

func TestQueueOrderedSnapshot(t *testing.T) {
	q := newJobQueue()
	now := time.Now()

	q.push("a", 1, now)
	q.push("b", 9, now)
	q.push("c", 4, now)
	q.remove("c")

	items := q.ordered()
	if len(items) != 2 {
		t.Fatalf("ordered len = %d, want 2", len(items))
	}
	if items[0].jobID != "b" || items[1].jobID != "a" {
		t.Errorf("ordered = [%s %s], want [b a]", items[0].jobID, items[1].jobID)
	}
	// Snapshot must not consume the queue.
	if q.len() != 2 {
		t.Errorf("len after snapshot = %d, want 2", q.len())
	}
}
