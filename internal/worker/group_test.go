package worker

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MohamedGNabail/mlsgpu/internal/workqueue"
)

func TestGroupProcessesAllPushedItems(t *testing.T) {
	itemPool := workqueue.New[int](4)
	for i := 0; i < 4; i++ {
		itemPool.Push(i)
	}
	workQueue := workqueue.New[int](4)

	var processed int64
	g := NewGroup(itemPool, workQueue, 2, func(worker, item int) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})
	g.Start()

	for i := 0; i < 4; i++ {
		item, ok := g.Get()
		if !ok {
			t.Fatal("Get failed")
		}
		g.Push(item)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&processed) < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&processed); got != 4 {
		t.Fatalf("processed = %d, want 4", got)
	}

	if err := g.Stop(); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}
}

func TestGroupStopReturnsFirstOperatorError(t *testing.T) {
	itemPool := workqueue.New[int](2)
	itemPool.Push(1)
	itemPool.Push(2)
	workQueue := workqueue.New[int](2)

	wantErr := errors.New("boom")
	g := NewGroup(itemPool, workQueue, 1, func(worker, item int) error {
		return wantErr
	})
	g.Start()
	item, ok := g.Get()
	if !ok {
		t.Fatal("Get failed")
	}
	g.Push(item)

	if err := g.Stop(); err != wantErr {
		t.Fatalf("Stop() = %v, want %v", err, wantErr)
	}
}

func TestFreedItemReturnsToPoolForReuse(t *testing.T) {
	itemPool := workqueue.New[int](1)
	itemPool.Push(42)
	workQueue := workqueue.New[int](1)

	done := make(chan struct{})
	g := NewGroup(itemPool, workQueue, 1, func(worker, item int) error {
		close(done)
		return nil
	})
	g.Start()

	item, _ := g.Get()
	g.Push(item)
	<-done

	// The item should be back in the pool after the operator ran.
	deadline := time.Now().Add(time.Second)
	for itemPool.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if itemPool.Len() != 1 {
		t.Fatalf("itemPool.Len() = %d, want 1 after freeItem", itemPool.Len())
	}
	g.Stop()
}
