package workqueue

import (
	"testing"
	"time"
)

func TestPushPopFIFO(t *testing.T) {
	q := New[int](4)
	for i := 0; i < 4; i++ {
		if !q.Push(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	for i := 0; i < 4; i++ {
		got, ok := q.Pop()
		if !ok || got != i {
			t.Fatalf("pop %d: got (%d,%v)", i, got, ok)
		}
	}
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := New[int](1)
	q.Push(1)

	done := make(chan struct{})
	go func() {
		q.Push(2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("push should have blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Pop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after a pop freed capacity")
	}
}

func TestCloseDrainsThenReturnsFalse(t *testing.T) {
	q := New[int](4)
	q.Push(1)
	q.Close()

	got, ok := q.Pop()
	if !ok || got != 1 {
		t.Fatalf("expected to drain the queued item, got (%d,%v)", got, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected ok=false popping a closed, empty queue")
	}
}

func TestTryPopNonBlocking(t *testing.T) {
	q := New[int](4)
	if _, ok := q.TryPop(); ok {
		t.Fatal("expected empty TryPop to fail")
	}
	q.Push(7)
	got, ok := q.TryPop()
	if !ok || got != 7 {
		t.Fatalf("got (%d,%v), want (7,true)", got, ok)
	}
}
