package client

import (
	"context"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(8)
	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := q.Push(Change{Path: p, Kind: ChangeWrite}); err != nil {
			t.Fatalf("Push(%s): %v", p, err)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"a.txt", "b.txt", "c.txt"} {
		ch, ok := q.Pop(ctx)
		if !ok {
			t.Fatal("Pop returned not ok")
		}
		if ch.Path != want {
			t.Errorf("Pop order = %s, want %s", ch.Path, want)
		}
		q.Done(ch.Path)
	}
}

func TestQueueCoalescesQueuedPath(t *testing.T) {
	q := NewQueue(8)
	if err := q.Push(Change{Path: "a.txt", Kind: ChangeWrite}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(Change{Path: "a.txt", Kind: ChangeRemove}); err != nil {
		t.Fatal(err)
	}

	if got := q.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}

	ch, _ := q.Pop(context.Background())
	if ch.Kind != ChangeRemove {
		t.Errorf("coalesced kind = %s, want REMOVE (last event wins)", ch.Kind)
	}
}

func TestQueueHoldsInflightPath(t *testing.T) {
	q := NewQueue(8)
	if err := q.Push(Change{Path: "a.txt", Kind: ChangeWrite}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	ch, _ := q.Pop(ctx)
	if ch.Path != "a.txt" {
		t.Fatalf("unexpected pop: %s", ch.Path)
	}

	// A change while in flight must not dispatch until Done.
	if err := q.Push(Change{Path: "a.txt", Kind: ChangeWrite}); err != nil {
		t.Fatal(err)
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("in-flight path requeued early, Len = %d", got)
	}

	q.Done("a.txt")
	if got := q.Len(); got != 1 {
		t.Fatalf("followup not requeued after Done, Len = %d", got)
	}

	ch, _ = q.Pop(ctx)
	if ch.Path != "a.txt" {
		t.Errorf("followup path = %s, want a.txt", ch.Path)
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(2)
	if err := q.Push(Change{Path: "a", Kind: ChangeWrite}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(Change{Path: "b", Kind: ChangeWrite}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(Change{Path: "c", Kind: ChangeWrite}); err != ErrQueueFull {
		t.Errorf("Push over capacity = %v, want ErrQueueFull", err)
	}
	// Replacing a queued path is not a new slot and must still work.
	if err := q.Push(Change{Path: "a", Kind: ChangeRemove}); err != nil {
		t.Errorf("coalescing push on full queue failed: %v", err)
	}
}

func TestQueuePopUnblocksOnCancel(t *testing.T) {
	q := NewQueue(2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Error("Pop returned ok after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not unblock after cancellation")
	}
}
