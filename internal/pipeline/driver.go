package pipeline

import (
	"github.com/MohamedGNabail/mlsgpu/internal/bucket"
	"github.com/MohamedGNabail/mlsgpu/internal/errs"
	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
	"github.com/MohamedGNabail/mlsgpu/internal/worker"
	"github.com/MohamedGNabail/mlsgpu/internal/workqueue"
)

// loadJob is one bucket handed off from the bucketing recursion to the
// Reader stage: the splat ranges and sub-grid it covers, not yet read off
// disk.
type loadJob struct {
	loader     bucket.Source
	ranges     []splat.Range
	splatCount int
	grid       geom.Grid
	chunkID    splat.ChunkID
}

// Driver wires the Reader, BucketLoader, CopyGroup, one DeviceWorkerGroup
// per device, and a single MesherGroup into a running pipeline (spec §2's
// five-stage diagram), and is the single place that joins every stage and
// rethrows the first fatal error observed (spec §7, §4.7's "driver" role).
type Driver struct {
	reader       *worker.Group[*loadJob]
	bucketLoader *worker.Group[*CopyWork]
	copy         *CopyGroup
	devices      []*DeviceWorkerGroup
	mesher       *MesherGroup
	chunks       *splat.Generator
	chunkSize    [3]int64
}

// NewDriver builds the Reader/BucketLoader/Copy/Device/Mesher stages.
// maxDeviceItemSplats bounds a single pinned-buffer flush; numWorkersPerDevice
// and itemPoolSize size each device's worker pool and recycled-batch pool.
// numReaderWorkers sizes the Reader stage's pool of concurrent disk readers,
// so a bucket's splats can be read off disk while the bucketing recursion
// that feeds this driver keeps walking the octree and earlier buckets are
// still being copied/deviced/meshed (spec §5's Reader -> BucketLoader ->
// Copy ordering guarantee). chunkSize quantizes a bucket's grid origin into
// the output tile coordinate its ChunkID is minted from.
func NewDriver(devices []Device, sink MeshSink, chunkSize [3]int64, maxDeviceItemSplats, numWorkersPerDevice, itemPoolSize, numReaderWorkers int) *Driver {
	mesher := NewMesherGroup(sink, itemPoolSize*2)

	dwgs := make([]*DeviceWorkerGroup, len(devices))
	for i, dev := range devices {
		dwgs[i] = NewDeviceWorkerGroup(dev, mesher, numWorkersPerDevice, itemPoolSize, maxDeviceItemSplats)
	}

	d := &Driver{
		copy:      NewCopyGroup(maxDeviceItemSplats, dwgs),
		devices:   dwgs,
		mesher:    mesher,
		chunks:    splat.NewGenerator(),
		chunkSize: chunkSize,
	}

	if numReaderWorkers < 1 {
		numReaderWorkers = 1
	}
	readerDepth := numReaderWorkers * 2
	readerPool := workqueue.New[*loadJob](readerDepth)
	for i := 0; i < readerDepth; i++ {
		readerPool.Push(&loadJob{})
	}
	d.reader = worker.NewGroup(readerPool, workqueue.New[*loadJob](readerDepth), numReaderWorkers, d.readOperator)

	// BucketLoader is always a single worker: it is the only caller of
	// CopyGroup.Process, which mutates cg.ring/cg.pending with no locking
	// of its own because it assumes a single producer (spec §4.7's driver
	// role). Concurrency belongs to Reader, which does the actual disk I/O;
	// BucketLoader only routes already-loaded buckets into the pinned
	// buffer, so serializing it costs nothing worth parallelizing.
	loaderPool := workqueue.New[*CopyWork](itemPoolSize)
	for i := 0; i < itemPoolSize; i++ {
		loaderPool.Push(&CopyWork{})
	}
	d.bucketLoader = worker.NewGroup(loaderPool, workqueue.New[*CopyWork](itemPoolSize), 1, d.loadOperator)

	return d
}

// readOperator is the Reader stage's per-job work: read every range's
// splats off loader -- the disk I/O this stage exists to overlap with
// copy/device/mesh work -- then hand the loaded bucket to BucketLoader.
func (d *Driver) readOperator(_ int, job *loadJob) error {
	splats := make([]splat.Splat, 0, job.splatCount)
	for _, r := range job.ranges {
		splats = append(splats, job.loader.Splats(r)...)
	}

	work, ok := d.bucketLoader.Get()
	if !ok {
		return errs.NewStateError("pipeline: bucketLoader stage closed while reader held work")
	}
	work.ChunkID = job.chunkID
	work.Grid = job.grid
	work.Splats = splats
	if !d.bucketLoader.Push(work) {
		return errs.NewStateError("pipeline: bucketLoader queue closed")
	}
	return nil
}

// loadOperator is the BucketLoader stage's per-job work: route one loaded
// bucket into CopyGroup's pinned staging buffer (spec §4.8).
func (d *Driver) loadOperator(_ int, work *CopyWork) error {
	return d.copy.Process(*work)
}

// Start spawns every stage's workers.
func (d *Driver) Start() {
	d.reader.Start()
	d.bucketLoader.Start()
	d.mesher.Start()
	for _, dev := range d.devices {
		dev.Start()
	}
}

// BucketProcessor adapts this Driver into a bucket.Processor: it hands each
// emitted bucket to the Reader stage's bounded item pool and queue, then
// returns immediately -- the bucketing recursion that calls it is never
// blocked on disk I/O itself, only on the Reader stage's queue filling up,
// which is the back-pressure spec §2's "bounded queues between stages" asks
// for.
func (d *Driver) BucketProcessor(loader bucket.Source) bucket.Processor {
	return func(ranges []splat.Range, splatCount int, bucketGrid geom.Grid) error {
		var tile [3]int64
		for i := 0; i < 3; i++ {
			tile[i] = floorDivInt64(bucketGrid.Lo[i], d.chunkSize[i])
		}
		chunkID := d.chunks.ChunkFor(tile)

		job, ok := d.reader.Get()
		if !ok {
			return errs.NewStateError("pipeline: reader stage closed")
		}
		job.loader = loader
		job.ranges = append(job.ranges[:0], ranges...)
		job.splatCount = splatCount
		job.grid = bucketGrid
		job.chunkID = chunkID
		if !d.reader.Push(job) {
			return errs.NewStateError("pipeline: reader queue closed")
		}
		return nil
	}
}

// Stop drains the Reader stage (finishing every disk read already queued),
// then the BucketLoader stage (routing whatever Reader produced into
// CopyGroup), then flushes any partial pinned buffer, then joins devices
// and the mesher -- the same Reader -> BucketLoader -> Copy -> Device ->
// Mesher order the spec's pipeline diagram names -- returning the first
// fatal error any stage observed.
func (d *Driver) Stop() error {
	var firstErr error
	if err := d.reader.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.bucketLoader.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.copy.Finish(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, dev := range d.devices {
		if err := dev.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.mesher.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// floorDivInt64 is integer division rounding toward negative infinity,
// needed because bucket grid origins may be negative.
func floorDivInt64(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
