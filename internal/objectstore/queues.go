package objectstore

import "github.com/ChuLiYu/jers/pkg/model"

// AddQueue inserts a new queue. If def is true and another queue
// already has Def set, that queue's Def flag is cleared first, since
// spec.md §3 requires at most one default queue server-wide.
func (s *ObjectStore) AddQueue(q *model.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.queues[q.Name]; exists {
		return ErrQueueExists
	}
	if q.Def {
		for _, other := range s.queues {
			other.Def = false
		}
	}
	q.MarkDirty()
	s.queues[q.Name] = q
	return nil
}

func (s *ObjectStore) ModQueue(name string, mutate func(q *model.Queue) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[name]
	if !ok || q.IsDeleted() {
		return ErrQueueNotFound
	}
	if err := mutate(q); err != nil {
		return err
	}
	q.Revision++
	q.MarkDirty()
	return nil
}

// DelQueue fails if any non-deleted job still references the queue,
// per spec.md §3's ownership rule.
func (s *ObjectStore) DelQueue(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[name]
	if !ok || q.IsDeleted() {
		return ErrQueueNotFound
	}
	for _, j := range s.jobs {
		if j.Queue == name && !j.InternalState.Has(model.JobDeleted) {
			return ErrQueueNotEmpty
		}
	}
	q.MarkDeleted()
	q.Revision++
	q.MarkDirty()
	return nil
}

func (s *ObjectStore) GetQueue(name string) (*model.Queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[name]
	if !ok || q.IsDeleted() {
		return nil, false
	}
	return q.Clone(), true
}

func (s *ObjectStore) ListQueues() []*model.Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Queue
	for _, q := range s.queues {
		if !q.IsDeleted() {
			out = append(out, q.Clone())
		}
	}
	return out
}

// sweepReclaimableQueuesLocked drops up to maxSweep deleted-and-
// flushed queues from the table so their names become free again.
// Caller holds s.mu.
func (s *ObjectStore) sweepReclaimableQueuesLocked(maxSweep int) int {
	reclaimed := 0
	for name, q := range s.queues {
		if reclaimed >= maxSweep {
			break
		}
		if q.Deletable() {
			delete(s.queues, name)
			reclaimed++
		}
	}
	return reclaimed
}

// DefaultQueue returns the unique queue with Def set, if any
// (spec.md GLOSSARY: "Default queue").
func (s *ObjectStore) DefaultQueue() (*model.Queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.queues {
		if q.Def && !q.IsDeleted() {
			return q.Clone(), true
		}
	}
	return nil, false
}
