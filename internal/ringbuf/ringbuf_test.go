package ringbuf

import (
	"sync"
	"testing"
	"time"
)

func TestAllocFitsWithinCapacity(t *testing.T) {
	b := New(16)
	a, err := b.Alloc(10)
	if err != nil {
		t.Fatal(err)
	}
	if a.Offset != 0 || a.Size != 10 {
		t.Fatalf("unexpected allocation: %+v", a)
	}
	if b.Used() != 10 {
		t.Fatalf("Used() = %d, want 10", b.Used())
	}
}

func TestAllocOversizeReturnsRangeError(t *testing.T) {
	b := New(8)
	if _, err := b.Alloc(9); err == nil {
		t.Fatal("expected an error allocating more than capacity")
	}
}

func TestFreeOutOfOrderDoesNotReclaimUntilFrontFrees(t *testing.T) {
	b := New(30)
	a1, _ := b.Alloc(10)
	a2, _ := b.Alloc(10)
	a3, _ := b.Alloc(10)

	b.Free(a2) // middle: must not reclaim yet
	if b.Used() != 30 {
		t.Fatalf("Used() after middle free = %d, want 30 (no reclaim yet)", b.Used())
	}

	b.Free(a1) // now the front is contiguous-freed through a2
	if b.Used() != 10 {
		t.Fatalf("Used() after front+middle free = %d, want 10", b.Used())
	}

	b.Free(a3)
	if b.Used() != 0 {
		t.Fatalf("Used() after all frees = %d, want 0", b.Used())
	}
}

func TestAllocBlocksUntilSpaceFreed(t *testing.T) {
	b := New(10)
	a1, _ := b.Alloc(10)

	done := make(chan *Allocation, 1)
	go func() {
		a, err := b.Alloc(5)
		if err != nil {
			t.Error(err)
			done <- nil
			return
		}
		done <- a
	}()

	select {
	case <-done:
		t.Fatal("Alloc should have blocked with no free space")
	case <-time.After(50 * time.Millisecond):
	}

	b.Free(a1)

	select {
	case a := <-done:
		if a == nil {
			t.Fatal("blocked Alloc failed")
		}
	case <-time.After(time.Second):
		t.Fatal("Alloc did not unblock after Free")
	}
}

func TestCloseWakesBlockedAllocWithError(t *testing.T) {
	b := New(4)
	a1, _ := b.Alloc(4)
	_ = a1

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	go func() {
		defer wg.Done()
		_, gotErr = b.Alloc(1)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()
	wg.Wait()
	if gotErr == nil {
		t.Fatal("expected an error from Alloc after Close")
	}
}

func TestWrapAroundReusesFrontAfterTailIsFreed(t *testing.T) {
	b := New(10)
	a1, _ := b.Alloc(7) // occupies [0,7)
	b.Free(a1)          // freed but cursor still at 7
	a2, err := b.Alloc(7)
	if err != nil {
		t.Fatal(err)
	}
	if a2.Offset != 0 {
		t.Fatalf("expected wrap-around reuse at offset 0, got %d", a2.Offset)
	}
}
