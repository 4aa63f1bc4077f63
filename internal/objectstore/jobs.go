package objectstore

import (
	"time"

	"github.com/ChuLiYu/jers/pkg/model"
)

// AllocateJobID implements next_jobid() from spec.md §4.6: a dense
// rotating cursor over [1, maxJobID]. If the space is exhausted it
// triggers a bounded deletion sweep (reclaiming any job that is
// Deleted, not dirty, and not Flushing) and retries once.
func (s *ObjectStore) AllocateJobID() (model.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.findFreeID(); ok {
		return id, nil
	}

	s.sweepReclaimableLocked(len(s.jobs))

	if id, ok := s.findFreeID(); ok {
		return id, nil
	}
	return 0, ErrJobIDSpaceFull
}

func (s *ObjectStore) findFreeID() (model.JobID, bool) {
	start := s.nextCursor
	for i := model.JobID(1); i <= s.maxJobID; i++ {
		candidate := start + i
		if candidate > s.maxJobID {
			candidate -= s.maxJobID
		}
		if candidate == 0 {
			candidate = s.maxJobID
		}
		if _, exists := s.jobs[candidate]; !exists {
			s.nextCursor = candidate
			return candidate, true
		}
	}
	return 0, false
}

// sweepReclaimableLocked drops up to maxSweep deleted-and-flushed jobs
// from the table so their ids become free again. Caller holds s.mu.
func (s *ObjectStore) sweepReclaimableLocked(maxSweep int) int {
	reclaimed := 0
	for id, j := range s.jobs {
		if reclaimed >= maxSweep {
			break
		}
		if j.Deletable() {
			delete(s.jobs, id)
			reclaimed++
		}
	}
	return reclaimed
}

// SweepReclaimable is the periodic cleanup-sweep timed event (spec.md
// §4.7, default 1000ms). It spends its maxSweep budget on jobs first,
// then queues, then resources with whatever budget remains, mirroring
// the original's cleanupEvent -> cleanupJobs/cleanupQueues/
// cleanupResources cascade, and returns the total number reclaimed.
func (s *ObjectStore) SweepReclaimable(maxSweep int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := s.sweepReclaimableLocked(maxSweep)
	if cleaned >= maxSweep {
		return cleaned
	}
	cleaned += s.sweepReclaimableQueuesLocked(maxSweep - cleaned)
	if cleaned >= maxSweep {
		return cleaned
	}
	cleaned += s.sweepReclaimableResourcesLocked(maxSweep - cleaned)
	return cleaned
}

// AddJob inserts j, which must already carry a JobID allocated by
// AllocateJobID, sets its initial state per spec.md §4.1 (Deferred if
// defer_time is in the future, else Holding if hold is true, else
// Pending), stamps SubmitTime, and marks it
// dirty. The queue referenced by j.Queue must already exist.
func (s *ObjectStore) AddJob(j *model.Job, hold bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.JobID]; exists {
		return ErrJobExists
	}
	q, ok := s.queues[j.Queue]
	if !ok {
		return ErrQueueNotFound
	}
	for _, req := range j.ReqResources {
		if _, ok := s.resources[req.Resource]; !ok {
			return ErrResourceNotFound
		}
	}

	switch {
	case !j.DeferTime.IsZero() && j.DeferTime.After(now):
		j.State = model.JobDeferred
	case hold:
		j.State = model.JobHolding
	default:
		j.State = model.JobPending
	}
	j.SubmitTime = now
	j.MarkDirty()

	s.jobs[j.JobID] = j
	s.statsDelta(j.State, 1)
	s.queueStatsDelta(q, j.State, 1)
	return nil
}

// ChangeJobState implements changeJobState from spec.md §4.6:
// decrements the per-queue and global counters for j's current state,
// assigns newState, increments the new counters, and optionally marks
// the job dirty.
func (s *ObjectStore) ChangeJobState(jobID model.JobID, newState model.JobState, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	q := s.queues[j.Queue]

	s.statsDelta(j.State, -1)
	s.queueStatsDelta(q, j.State, -1)

	j.State = newState

	s.statsDelta(j.State, 1)
	s.queueStatsDelta(q, j.State, 1)

	if dirty {
		j.MarkDirty()
	}
	return nil
}

// ModJob applies mutate to the job under the store lock, bumps its
// revision, and marks it dirty. mutate must not retain j beyond the
// call.
func (s *ObjectStore) ModJob(jobID model.JobID, mutate func(j *model.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if err := mutate(j); err != nil {
		return err
	}
	j.Revision++
	j.MarkDirty()
	return nil
}

// DelJob flips Deleted and marks the job dirty; the id is only freed
// once SweepReclaimable (or the allocator's own sweep) observes
// !dirty && !Flushing.
func (s *ObjectStore) DelJob(jobID model.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if q := s.queues[j.Queue]; q != nil {
		s.queueStatsDelta(q, j.State, -1)
	}
	s.statsDelta(j.State, -1)

	j.InternalState |= model.JobDeleted
	j.Revision++
	j.MarkDirty()
	return nil
}

// GetJob returns a snapshot copy of every non-deleted job matching
// filter, in unspecified order. Callers needing field-masked wire
// projection do that at the codec layer (internal/wire), not here.
func (s *ObjectStore) GetJob(filter model.JobFilter) []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Job
	for _, j := range s.jobs {
		if j.InternalState.Has(model.JobDeleted) {
			continue
		}
		if filter.Match(j) {
			out = append(out, j.Clone())
		}
	}
	return out
}

// jobByIDLocked returns a live pointer to a non-deleted job for
// in-package callers that already hold s.mu (WithJob); it is not a
// public API for clients.
func (s *ObjectStore) jobByIDLocked(id model.JobID) (*model.Job, bool) {
	j, ok := s.jobs[id]
	if !ok || j.InternalState.Has(model.JobDeleted) {
		return nil, false
	}
	return j, true
}

// WithJob runs fn with exclusive access to the live job for id; used
// by the event loop (agent frames, recon, disconnect) and by recovery
// so multi-field mutations (e.g. exit code, fail reason, queue active
// count) are atomic with respect to other store access. fn must not
// call back into the store: s.mu is held while it runs.
func (s *ObjectStore) WithJob(id model.JobID, fn func(j *model.Job, q *model.Queue) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobByIDLocked(id)
	if !ok {
		return ErrJobNotFound
	}
	return fn(j, s.queues[j.Queue])
}

// ForEachJob invokes fn for every non-deleted job under a read lock,
// stopping early if fn returns false. Used by the scheduler's
// candidate pool walk.
func (s *ObjectStore) ForEachJob(fn func(j *model.Job) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.InternalState.Has(model.JobDeleted) {
			continue
		}
		if !fn(j) {
			return
		}
	}
}
