package objectstore

import "github.com/ChuLiYu/jers/pkg/model"

func (s *ObjectStore) AddResource(r *model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resources[r.Name]; exists {
		return ErrResourceExists
	}
	r.MarkDirty()
	s.resources[r.Name] = r
	return nil
}

func (s *ObjectStore) ModResource(name string, mutate func(r *model.Resource) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[name]
	if !ok || r.IsDeleted() {
		return ErrResourceNotFound
	}
	if err := mutate(r); err != nil {
		return err
	}
	r.Revision++
	r.MarkDirty()
	return nil
}

// DelResource fails if any non-deleted job still requires it.
func (s *ObjectStore) DelResource(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[name]
	if !ok || r.IsDeleted() {
		return ErrResourceNotFound
	}
	for _, j := range s.jobs {
		if j.InternalState.Has(model.JobDeleted) {
			continue
		}
		for _, req := range j.ReqResources {
			if req.Resource == name {
				return ErrResourceInUse
			}
		}
	}
	r.MarkDeleted()
	r.Revision++
	r.MarkDirty()
	return nil
}

// sweepReclaimableResourcesLocked drops up to maxSweep deleted-and-
// flushed resources from the table so their names become free again.
// Caller holds s.mu.
func (s *ObjectStore) sweepReclaimableResourcesLocked(maxSweep int) int {
	reclaimed := 0
	for name, r := range s.resources {
		if reclaimed >= maxSweep {
			break
		}
		if r.Deletable() {
			delete(s.resources, name)
			reclaimed++
		}
	}
	return reclaimed
}

func (s *ObjectStore) GetResource(name string) (*model.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[name]
	if !ok || r.IsDeleted() {
		return nil, false
	}
	return r.Clone(), true
}

func (s *ObjectStore) ListResources() []*model.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Resource
	for _, r := range s.resources {
		if !r.IsDeleted() {
			out = append(out, r.Clone())
		}
	}
	return out
}
