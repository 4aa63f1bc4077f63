package objectstore

import "github.com/ChuLiYu/jers/pkg/model"

// WithAllLocked grants the scheduler tick exclusive access to the raw
// tables for the duration of fn. This is a deliberately coarse
// escape hatch: spec.md §4.4's scheduler algorithm walks and mutates
// jobs, queues, and resources together as a single atomic step once
// per tick, and the controller is single-threaded by contract (see
// internal/eventloop), so there is no reader this would starve.
func (s *ObjectStore) WithAllLocked(fn func(jobs map[model.JobID]*model.Job, queues map[string]*model.Queue, resources map[string]*model.Resource, stats *GlobalStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.jobs, s.queues, s.resources, &s.stats)
}
