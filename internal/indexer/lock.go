package indexer

import (
	"sync"
	"sync/atomic"

	"github.com/dshills/cindex-mcp/internal/jobs"
)

// IndexLock marks a project tree job as in flight without blocking.
// It is held from enqueue until the job finishes or is cancelled.
type IndexLock struct {
	state  atomic.Int32 // 0 = free, 1 = held
	holder atomic.Pointer[jobs.Job]
}

// TryAcquire attempts to take the marker for job.
// Returns true if the marker was free, false otherwise.
func (l *IndexLock) TryAcquire(job *jobs.Job) bool {
	if !l.state.CompareAndSwap(0, 1) {
		return false
	}
	l.holder.Store(job)
	return true
}

// Release frees the marker if job holds it
func (l *IndexLock) Release(job *jobs.Job) bool {
	if !l.holder.CompareAndSwap(job, nil) {
		return false
	}
	l.state.Store(0)
	return true
}

// Holder returns the job holding the marker, nil if free
func (l *IndexLock) Holder() *jobs.Job {
	return l.holder.Load()
}

// inFlight keeps one IndexLock per project
type inFlight struct {
	locks sync.Map // project path -> *IndexLock
}

func (f *inFlight) lock(project string) *IndexLock {
	l, _ := f.locks.LoadOrStore(project, &IndexLock{})
	return l.(*IndexLock)
}

// holder returns the tree job in flight for project, if any
func (f *inFlight) holder(project string) *jobs.Job {
	l, ok := f.locks.Load(project)
	if !ok {
		return nil
	}
	return l.(*IndexLock).Holder()
}

func (f *inFlight) release(job *jobs.Job) {
	if l, ok := f.locks.Load(job.Project); ok {
		l.(*IndexLock).Release(job)
	}
}
