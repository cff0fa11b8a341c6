package pipeline

import (
	"context"
	"sync"

	"github.com/MohamedGNabail/mlsgpu/internal/worker"
	"github.com/MohamedGNabail/mlsgpu/internal/workqueue"
)

// mlsWorkGroupSize is the MLS compute kernel's fixed work-group side
// length; ExtractSurface's expanded grid size is always a multiple of it.
const mlsWorkGroupSize = 8

// DeviceWorkerGroup is one pool per physical GPU (spec §4.9). Each worker
// drives one device through BuildSplatTree/ExtractSurface per SubItem in a
// flushed batch, then returns the SubItem's splats to the shared
// unallocated_ budget and wakes CopyGroup.flush via popCond.
type DeviceWorkerGroup struct {
	device  Device
	mesher  *MesherGroup
	group   *worker.Group[*SubItemBatch]
	itemPool *workqueue.Queue[*SubItemBatch]

	mu          sync.Mutex
	unallocated int
	popCond     *sync.Cond // set by CopyGroup at construction; shared across devices
}

// NewDeviceWorkerGroup builds a device pool with numWorkers symmetric
// goroutines and itemPoolSize pre-allocated batches, each able to carry up
// to maxItemSplats splats in flight.
func NewDeviceWorkerGroup(device Device, mesher *MesherGroup, numWorkers, itemPoolSize, maxItemSplats int) *DeviceWorkerGroup {
	itemPool := workqueue.New[*SubItemBatch](itemPoolSize)
	for i := 0; i < itemPoolSize; i++ {
		itemPool.Push(&SubItemBatch{})
	}
	workQueue := workqueue.New[*SubItemBatch](itemPoolSize)

	d := &DeviceWorkerGroup{
		device:      device,
		mesher:      mesher,
		itemPool:    itemPool,
		unallocated: numWorkers * maxItemSplats,
	}
	d.group = worker.NewGroup(itemPool, workQueue, numWorkers, d.processBatch)
	return d
}

func (d *DeviceWorkerGroup) Name() string { return d.device.Name() }

// Start spawns the device's worker goroutines.
func (d *DeviceWorkerGroup) Start() { d.group.Start() }

// Stop sends the termination sentinel and joins every worker.
func (d *DeviceWorkerGroup) Stop() error { return d.group.Stop() }

// CanGet reports, without blocking, whether the item pool currently has a
// free batch — used by CopyGroup.flush to poll across devices under
// popMutex without risking a blocking Get.
func (d *DeviceWorkerGroup) CanGet() bool { return d.itemPool.Len() > 0 }

// Get acquires a batch from the pool. CopyGroup only calls this after
// CanGet reported true under the same popMutex, so it does not block in
// practice.
func (d *DeviceWorkerGroup) Get() (*SubItemBatch, bool) { return d.group.Get() }

// Push enqueues a filled batch for processing.
func (d *DeviceWorkerGroup) Push(batch *SubItemBatch) { d.group.Push(batch) }

// Unallocated returns the device's current spare splat budget.
func (d *DeviceWorkerGroup) Unallocated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unallocated
}

// reserve charges n splats against the device's budget; called by
// CopyGroup.flush when it commits a batch to this device.
func (d *DeviceWorkerGroup) reserve(n int) {
	d.mu.Lock()
	d.unallocated -= n
	d.mu.Unlock()
}

// release credits n splats back, waking any flush blocked in popCond.Wait.
func (d *DeviceWorkerGroup) release(n int) {
	d.mu.Lock()
	d.unallocated += n
	d.mu.Unlock()
	if d.popCond != nil {
		d.popCond.Broadcast()
	}
}

func (d *DeviceWorkerGroup) processBatch(workerIdx int, batch *SubItemBatch) error {
	if batch.CopyEvent != nil {
		<-batch.CopyEvent
	}
	ctx := context.Background()
	ready := make(chan struct{})
	close(ready)
	for _, item := range batch.Items {
		if err := d.device.BuildSplatTree(ctx, item.Splats, ready); err != nil {
			return err
		}
		expanded := expandedSize(item.Grid, mlsWorkGroupSize)
		block, err := d.device.ExtractSurface(ctx, item.Grid, expanded)
		if err != nil {
			return err
		}
		block.ChunkID = item.ChunkID
		d.device.Reset()
		d.mesher.Submit(MeshJob{ChunkID: item.ChunkID, Worker: workerIdx, Block: block})
		d.release(item.NumSplats)
	}
	return nil
}
