// Package worker implements the generic WorkerGroup framework: a pool of N
// symmetric goroutines draining a work queue, backed by an item pool that
// bounds how many work items may be outstanding at once.
package worker

import (
	"sync"

	"github.com/MohamedGNabail/mlsgpu/internal/workqueue"
)

// Operator processes one work item on behalf of a numbered worker. A
// non-nil return terminates the whole group: per the error-handling design,
// workers catch nothing and the first unhandled error ends the pool.
type Operator[T any] func(worker int, item T) error

// Group is a pool with two queues: an item pool of reusable work items and
// an inbound work queue. Ordering is FIFO per group; there is no
// cross-group ordering guarantee.
type Group[T any] struct {
	itemPool  *workqueue.Queue[T]
	workQueue *workqueue.Queue[T]
	operator  Operator[T]

	numWorkers int
	wg         sync.WaitGroup

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// NewGroup builds a Group over the given item pool and work queue. Callers
// populate itemPool with the group's pre-allocated work items before
// calling Start.
func NewGroup[T any](itemPool, workQueue *workqueue.Queue[T], numWorkers int, operator Operator[T]) *Group[T] {
	return &Group[T]{
		itemPool:   itemPool,
		workQueue:  workQueue,
		operator:   operator,
		numWorkers: numWorkers,
	}
}

// Get blocks on the item pool until a reusable item is available.
func (g *Group[T]) Get() (item T, ok bool) {
	return g.itemPool.Pop()
}

// Push enqueues item onto the work queue, waking one worker.
func (g *Group[T]) Push(item T) bool {
	return g.workQueue.Push(item)
}

// freeItem returns item to the pool and signals waiters blocked in Get.
func (g *Group[T]) freeItem(item T) {
	g.itemPool.Push(item)
}

// Start spawns numWorkers goroutines, each looping: pop from the work
// queue, invoke the operator, free the item back to the pool.
func (g *Group[T]) Start() {
	for w := 0; w < g.numWorkers; w++ {
		g.wg.Add(1)
		go g.loop(w)
	}
}

func (g *Group[T]) loop(worker int) {
	defer g.wg.Done()
	for {
		item, ok := g.workQueue.Pop()
		if !ok {
			return
		}
		err := g.operator(worker, item)
		g.freeItem(item)
		if err != nil {
			g.recordErr(err)
			g.shutdown()
			return
		}
	}
}

func (g *Group[T]) recordErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err == nil {
		g.err = err
	}
}

// shutdown closes the work queue so every other worker observes a closed,
// drained queue and returns on its next Pop; idempotent.
func (g *Group[T]) shutdown() {
	g.closeOnce.Do(g.workQueue.Close)
}

// Stop sends the termination sentinel (closes the work queue) and joins
// every worker, returning the first error any operator returned, if any.
func (g *Group[T]) Stop() error {
	g.shutdown()
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
