package pipeline

import (
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
	"github.com/MohamedGNabail/mlsgpu/internal/worker"
	"github.com/MohamedGNabail/mlsgpu/internal/workqueue"
)

// MeshJob routes one device's mesh block to the single mesh-assembly
// worker, keyed by chunkId.
type MeshJob struct {
	ChunkID splat.ChunkID
	Worker  int
	Block   MeshBlock
}

// MesherGroup is the single-writer mesh assembler (spec §4.10): the sink is
// not thread-safe, so exactly one worker drains its queue, however many
// devices are feeding it concurrently.
type MesherGroup struct {
	sink  MeshSink
	group *worker.Group[MeshJob]
}

// NewMesherGroup builds a MesherGroup whose work queue holds up to
// queueCapacity jobs. Jobs are plain values with nothing to recycle, so the
// item pool holds one placeholder slot per queue entry: Submit takes a slot
// before pushing, and the worker's freeItem puts the processed job back as
// the next slot, so the pool never overflows.
func NewMesherGroup(sink MeshSink, queueCapacity int) *MesherGroup {
	m := &MesherGroup{sink: sink}
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	itemPool := workqueue.New[MeshJob](queueCapacity)
	for i := 0; i < queueCapacity; i++ {
		itemPool.Push(MeshJob{})
	}
	workQueue := workqueue.New[MeshJob](queueCapacity)
	m.group = worker.NewGroup(itemPool, workQueue, 1, m.process)
	return m
}

func (m *MesherGroup) process(workerIdx int, job MeshJob) error {
	acc, err := m.sink.Output(job.ChunkID, job.Worker)
	if err != nil {
		return err
	}
	return acc.Add(job.Block)
}

// Start spawns the single mesh-assembly worker.
func (m *MesherGroup) Start() { m.group.Start() }

// Submit routes a mesh block for assembly, blocking only if the queue is
// momentarily full.
func (m *MesherGroup) Submit(job MeshJob) {
	m.group.Get()
	m.group.Push(job)
}

// Stop sends the termination sentinel and joins the worker, returning its
// error if any mesh assembly failed.
func (m *MesherGroup) Stop() error { return m.group.Stop() }
