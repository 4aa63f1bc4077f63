// Package objectstore holds the controller's in-memory tables of
// jobs, queues, and named resources, with the dirty/flushing/deleted
// bookkeeping and revision counters spec.md §3-§4.1 require.
// Grounded on the teacher's internal/jobmanager.JobManager: the same
// hybrid "one unified map plus a mutex" design, generalized from a
// single four-state job table to three entity kinds and the richer
// bitflag state machine of spec.md §3.
package objectstore

import (
	"sync"

	"github.com/ChuLiYu/jers/pkg/model"
)

// GlobalStats mirrors the aggregate counters the scheduler consults
// for the SystemFull admission check (spec.md §4.4 step 3).
type GlobalStats struct {
	Running   int
	Pending   int
	Deferred  int
	Holding   int
	Completed int
	Exited    int
	Unknown   int
}

// ObjectStore is the single owner of every Job, Queue, and Resource.
// All access goes through its methods; callers never retain a *Job
// etc. across a call that might mutate the store without holding its
// own reference discipline (see Clone-based copy-out in CopyDirty).
type ObjectStore struct {
	mu sync.RWMutex

	jobs      map[model.JobID]*model.Job
	queues    map[string]*model.Queue
	resources map[string]*model.Resource

	stats GlobalStats

	// nextCursor is the rotating allocation cursor for next_jobid
	// (spec.md §4.6): it always points at the last id returned, not
	// the next candidate, so allocation starts the walk at cursor+1.
	nextCursor model.JobID
	maxJobID   model.JobID
}

// New creates an empty store. maxJobID bounds the jobid space per the
// max_jobid configuration key (spec.md §6).
func New(maxJobID model.JobID) *ObjectStore {
	return &ObjectStore{
		jobs:      make(map[model.JobID]*model.Job),
		queues:    make(map[string]*model.Queue),
		resources: make(map[string]*model.Resource),
		maxJobID:  maxJobID,
	}
}

// Stats returns a copy of the current global counters.
func (s *ObjectStore) Stats() GlobalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *ObjectStore) statsDelta(st model.JobState, delta int) {
	switch st {
	case model.JobRunning:
		s.stats.Running += delta
	case model.JobPending:
		s.stats.Pending += delta
	case model.JobDeferred:
		s.stats.Deferred += delta
	case model.JobHolding:
		s.stats.Holding += delta
	case model.JobCompleted:
		s.stats.Completed += delta
	case model.JobExited:
		s.stats.Exited += delta
	case model.JobUnknown:
		s.stats.Unknown += delta
	}
}

func (s *ObjectStore) queueStatsDelta(q *model.Queue, st model.JobState, delta int) {
	if q == nil {
		return
	}
	switch st {
	case model.JobRunning:
		q.Stats.Running += delta
	case model.JobPending:
		q.Stats.Pending += delta
	case model.JobDeferred:
		q.Stats.Deferred += delta
	case model.JobHolding:
		q.Stats.Holding += delta
	case model.JobCompleted:
		q.Stats.Completed += delta
	case model.JobExited:
		q.Stats.Exited += delta
	}
}

// CopyDirty implements the snapshotter's copy-out step: under the
// store lock, it clones every dirty job/queue/resource, clears dirty,
// sets Flushing, and hands back plain value copies the background
// writer goroutine can use without further synchronization.
func (s *ObjectStore) CopyDirty() (jobs []*model.Job, queues []*model.Queue, resources []*model.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Dirty() {
			j.ClearDirty()
			j.InternalState |= model.JobFlushing
			jobs = append(jobs, j.Clone())
		}
	}
	for _, q := range s.queues {
		if q.Dirty() {
			q.ClearDirty()
			q.MarkFlushing()
			queues = append(queues, q.Clone())
		}
	}
	for _, r := range s.resources {
		if r.Dirty() {
			r.ClearDirty()
			r.MarkFlushing()
			resources = append(resources, r.Clone())
		}
	}
	return jobs, queues, resources
}

// ClearFlushing is called once a snapshot completes successfully, to
// drop the Flushing bit on every object that was part of that save
// (mutations since copy-out already re-set dirty, which this must
// not clear). Objects that become Deletable (deleted, not dirty, not
// flushing) stay in their tables; SweepReclaimable removes them so
// their name/id can be reused, mirroring the original's cleanupJobs/
// cleanupQueues/cleanupResources.
func (s *ObjectStore) ClearFlushing(jobs []*model.Job, queues []*model.Queue, resources []*model.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, copy := range jobs {
		if live, ok := s.jobs[copy.JobID]; ok {
			live.InternalState &^= model.JobFlushing
		}
	}
	for _, copy := range queues {
		if live, ok := s.queues[copy.Name]; ok {
			live.ClearFlushing()
		}
	}
	for _, copy := range resources {
		if live, ok := s.resources[copy.Name]; ok {
			live.ClearFlushing()
		}
	}
}
