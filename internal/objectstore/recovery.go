package objectstore

import "github.com/ChuLiYu/jers/pkg/model"

// LoadSnapshot populates an empty store directly from snapshot-loaded
// copies. Unlike AddJob, it trusts each object's already-persisted
// State rather than re-deriving it from DeferTime/hold, since a
// restored job's state is whatever it legitimately reached before the
// last shutdown. Callers (internal/recovery) must call this before
// any other mutation reaches the store, and must call it exactly
// once.
func (s *ObjectStore) LoadSnapshot(jobs []*model.Job, queues []*model.Queue, resources []*model.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range queues {
		s.queues[q.Name] = q
	}
	for _, r := range resources {
		s.resources[r.Name] = r
	}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
		s.statsDelta(j.State, 1)
		s.queueStatsDelta(s.queues[j.Queue], j.State, 1)
		if j.JobID > s.nextCursor {
			s.nextCursor = j.JobID
		}
	}
}
