package model

// QueueState is a bitflag: Open gates client submission, Started
// gates the scheduler dispatching jobs from this queue.
type QueueState uint8

const (
	QueueOpen QueueState = 1 << iota
	QueueStarted
)

func (s QueueState) Has(bit QueueState) bool { return s&bit != 0 }

// QueueStats holds the per-state job counters a queue must keep in
// sync with ObjectStore mutations (spec.md §3: "Stats counters sum to
// the number of non-deleted jobs on the queue").
type QueueStats struct {
	Running   int
	Pending   int
	Deferred  int
	Holding   int
	Completed int
	Exited    int
}

// Queue groups jobs under a shared priority, concurrency limit, and
// bound execution host/agent.
type Queue struct {
	Name        string
	Description string
	Host        string // exact hostname, or "localhost" for the controller's own host
	Agent       string // bound agent hostname; empty when unbound

	JobLimit int
	Priority int // 0-255

	State QueueState
	Def   bool // at most one queue server-wide has Def set

	// ACL is a permission bitmap keyed by gid; a gid present with a
	// nonzero value may submit to this queue.
	ACL map[int]uint8

	Stats       QueueStats
	ActiveCount int // non-deleted jobs that are Running or internal_state&Started

	// PendingStart is scheduler scratch space, reset to ActiveCount at
	// the top of every tick (spec.md §4.4 step 1).
	PendingStart int

	Revision uint64

	deleted  bool
	dirty    bool
	flushing bool
}

func (q *Queue) Dirty() bool     { return q.dirty }
func (q *Queue) MarkDirty()      { q.dirty = true }
func (q *Queue) ClearDirty()     { q.dirty = false }
func (q *Queue) MarkDeleted()    { q.deleted = true }
func (q *Queue) IsDeleted() bool { return q.deleted }

// MarkFlushing is called by the snapshotter's copy-out step on every
// dirty queue it clones, mirroring Job.InternalState's Flushing bit.
func (q *Queue) MarkFlushing() { q.flushing = true }

// ClearFlushing is called once the snapshot save carrying this queue
// completes.
func (q *Queue) ClearFlushing() { q.flushing = false }

// Deletable reports whether a deleted queue's name may be reclaimed:
// it must carry no unflushed mutation and not be mid-flush.
func (q *Queue) Deletable() bool { return q.deleted && !q.dirty && !q.flushing }

// Clone returns a value copy with its map copied, for the
// snapshotter's copy-out step.
func (q *Queue) Clone() *Queue {
	clone := *q
	if q.ACL != nil {
		clone.ACL = make(map[int]uint8, len(q.ACL))
		for k, v := range q.ACL {
			clone.ACL[k] = v
		}
	}
	return &clone
}
