// Package scheduler implements the controller's per-tick candidate
// selection, priority ordering, resource admission, and dispatch
// (spec.md §4.4). Grounded on the teacher's
// internal/controller.Controller.dispatchLoop batch-pop pattern,
// generalized from a single FIFO queue and fixed batch size to the
// full candidate-sort-then-admit algorithm and the configurable
// sched_max budget.
package scheduler

import (
	"sort"
	"time"

	"github.com/ChuLiYu/jers/internal/dispatch"
	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/pkg/model"
)

// AgentDispatcher is the seam to internal/agentregistry: the
// scheduler never talks to a socket directly, only to this interface,
// so it can be tested without a live agent connection.
type AgentDispatcher interface {
	StartJob(agentHost string, job *model.Job) error
}

type Scheduler struct {
	Store      *objectstore.ObjectStore
	Dispatch   *dispatch.Dispatch
	Agents     AgentDispatcher
	MaxRunJobs int
	SchedMax   int
	Now        func() time.Time
}

type candidate struct {
	job   *model.Job
	queue *model.Queue
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// dispatchTarget pairs an admitted job with the agent host that must
// receive its START_JOB, captured while the store lock is still held
// so the post-lock dispatch loop never has to call back into
// ObjectStore (avoiding a recursive RLock on the same goroutine).
type dispatchTarget struct {
	job       *model.Job
	agentHost string
}

// Tick runs one full scheduling pass per spec.md §4.4's five steps.
// It returns the number of jobs dispatched this tick.
func (s *Scheduler) Tick() (dispatched int) {
	now := s.now()

	var toRelease []model.JobID // Deferred jobs whose defer_time has arrived
	var toDispatch []dispatchTarget

	s.Store.WithAllLocked(func(jobs map[model.JobID]*model.Job, queues map[string]*model.Queue, resources map[string]*model.Resource, stats *objectstore.GlobalStats) {
		// Step 1: reset per-tick scratch counter.
		for _, q := range queues {
			q.PendingStart = q.ActiveCount
		}

		var candidates []candidate

		// Step 2-3: walk jobs in ascending jobid order, release
		// deferred ones due, build the candidate pool with
		// admission-gated pend reasons.
		ids := make([]model.JobID, 0, len(jobs))
		for id := range jobs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		for _, id := range ids {
			j := jobs[id]
			if j.InternalState.Has(model.JobDeleted) {
				continue
			}
			if j.State == model.JobDeferred && !j.DeferTime.After(now) {
				transitionLocked(stats, queues[j.Queue], j, model.JobPending)
				toRelease = append(toRelease, j.JobID)
			}
			if j.State != model.JobPending {
				continue
			}
			if j.InternalState.Has(model.JobStarted) {
				continue
			}

			q := queues[j.Queue]
			switch {
			case stats.Running >= s.MaxRunJobs:
				j.PendReason = model.PendSystemFull
			case q == nil || !q.State.Has(model.QueueStarted):
				j.PendReason = model.PendQueueStopped
			case q.PendingStart >= q.JobLimit:
				j.PendReason = model.PendQueueFull
			default:
				q.PendingStart++
				j.PendReason = model.PendNone
				candidates = append(candidates, candidate{job: j, queue: q})
			}
		}

		// Step 4: sort by (-queue.priority, -job.priority, jobid).
		sort.Slice(candidates, func(a, b int) bool {
			ca, cb := candidates[a], candidates[b]
			if ca.queue.Priority != cb.queue.Priority {
				return ca.queue.Priority > cb.queue.Priority
			}
			if ca.job.Priority != cb.job.Priority {
				return ca.job.Priority > cb.job.Priority
			}
			return ca.job.JobID < cb.job.JobID
		})

		// Step 5: admit up to n candidates, gated by resource availability.
		n := len(candidates)
		if s.SchedMax < n {
			n = s.SchedMax
		}
		if room := s.MaxRunJobs - stats.Running; room < n {
			n = room
		}

		admitted := 0
		for _, c := range candidates {
			if admitted >= n {
				break
			}
			if !admitResourcesLocked(resources, c.job) {
				c.job.PendReason = model.PendWaitingRes
				continue
			}
			c.job.InternalState |= model.JobStarted
			c.job.PendReason = model.PendWaitingStart
			c.job.MarkDirty()
			c.queue.ActiveCount++
			admitted++
			if c.queue.Agent != "" {
				toDispatch = append(toDispatch, dispatchTarget{job: c.job.Clone(), agentHost: c.queue.Agent})
			}
		}
		dispatched = admitted
	})

	// Dispatch outside the lock: sending on an agent session must not
	// block the store, and must not re-enter it either.
	for _, t := range toDispatch {
		_ = s.Agents.StartJob(t.agentHost, t.job)
	}

	for _, id := range toRelease {
		_ = s.Dispatch.ChangeJobState(0, id, model.JobPending, true, false)
	}

	return dispatched
}

// transitionLocked performs the Deferred->Pending counter bookkeeping
// inline, since it runs under WithAllLocked and cannot re-enter
// ObjectStore's own locked methods.
func transitionLocked(stats *objectstore.GlobalStats, q *model.Queue, j *model.Job, newState model.JobState) {
	adjustStats(stats, j.State, -1)
	adjustQueueStats(q, j.State, -1)
	j.State = newState
	adjustStats(stats, newState, 1)
	adjustQueueStats(q, newState, 1)
}

func adjustStats(stats *objectstore.GlobalStats, st model.JobState, delta int) {
	switch st {
	case model.JobRunning:
		stats.Running += delta
	case model.JobPending:
		stats.Pending += delta
	case model.JobDeferred:
		stats.Deferred += delta
	case model.JobHolding:
		stats.Holding += delta
	case model.JobCompleted:
		stats.Completed += delta
	case model.JobExited:
		stats.Exited += delta
	case model.JobUnknown:
		stats.Unknown += delta
	}
}

func adjustQueueStats(q *model.Queue, st model.JobState, delta int) {
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

// admitResourcesLocked implements spec.md §4.4 step 5's inner loop,
// using the corrected (non-buggy) iteration spec.md §9 calls
// authoritative: every requirement is checked before any is reserved,
// so a job short on its second resource does not leave its first
// resource over-committed.
func admitResourcesLocked(resources map[string]*model.Resource, job *model.Job) bool {
	for _, req := range job.ReqResources {
		r, ok := resources[req.Resource]
		if !ok || req.Count > r.Available() {
			return false
		}
	}
	for _, req := range job.ReqResources {
		r := resources[req.Resource]
		r.InUse += req.Count
		r.MarkDirty()
	}
	return true
}
