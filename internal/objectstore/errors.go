package objectstore

import "errors"

// Sentinel errors surfaced to CommandDispatch, which maps them onto
// the wire error kinds of spec.md §7. Grounded on the teacher's
// internal/jobmanager error style (ErrDuplicateJob, ErrJobNotFound).
var (
	ErrJobNotFound      = errors.New("objectstore: job not found")
	ErrJobExists        = errors.New("objectstore: job already exists")
	ErrQueueNotFound    = errors.New("objectstore: queue not found")
	ErrQueueExists      = errors.New("objectstore: queue already exists")
	ErrQueueNotEmpty    = errors.New("objectstore: queue has non-deleted jobs")
	ErrResourceNotFound = errors.New("objectstore: resource not found")
	ErrResourceExists   = errors.New("objectstore: resource already exists")
	ErrResourceInUse    = errors.New("objectstore: resource has non-deleted job references")
	ErrJobIDSpaceFull   = errors.New("objectstore: no free jobid")
	ErrInvalidArgument  = errors.New("objectstore: invalid argument")
)
