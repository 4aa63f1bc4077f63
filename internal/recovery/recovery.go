// Package recovery rebuilds controller state on startup: load the
// latest per-object snapshot, replay the journal suffix after the
// last commit marker through the same Dispatch handlers live traffic
// uses, and reconcile whatever was left Running.
//
// Grounded on the teacher's Controller.Start, which calls
// loadSnapshot() then replayWAL() in sequence before accepting
// traffic (internal/controller/controller.go). Diverges from the
// teacher on one point, per SPEC_FULL.md's explicit redesign: the
// teacher's replayWAL blanket-requeues every in-flight job back to
// pending, assuming its worker pool lost all state on restart. This
// controller's agents keep running independently of the controller
// process, so a job the snapshot+journal left Running may still
// genuinely be running — recovery marks it PendAgentDisconnected
// instead of requeuing it, and leaves the real answer to whichever
// comes first: that agent's RECON frame (internal/agentregistry) or
// the scheduler reclaiming it once the agent's bind times out.
package recovery

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/jers/internal/dispatch"
	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/internal/snapshot"
	"github.com/ChuLiYu/jers/pkg/model"
)

// Result summarizes one recovery run, for startup logging and
// internal/metrics.SetRecoveryTime.
type Result struct {
	Jobs            int
	Queues          int
	Resources       int
	ReplayedRecords int
	Duration        time.Duration
}

// Run loads stateDir's snapshot into store, replays the journal
// suffix through disp, and flags every job left Running as
// PendAgentDisconnected. store must be empty; disp must already wrap
// store and the same journal instance snapshot's Position values were
// recorded against.
func Run(stateDir string, store *objectstore.ObjectStore, disp *dispatch.Dispatch) (Result, error) {
	start := time.Now()

	jobs, queues, resources, err := snapshot.LoadAll(stateDir)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: load snapshot: %w", err)
	}
	store.LoadSnapshot(jobs, queues, resources)

	replayed := 0
	err = disp.Journal.Replay(func(rec journal.Record, replay bool) error {
		replayed++
		return disp.ReplayRecord(rec)
	})
	if err != nil {
		return Result{}, fmt.Errorf("recovery: replay journal: %w", err)
	}

	markOrphaned(store)

	return Result{
		Jobs:            len(jobs),
		Queues:          len(queues),
		Resources:       len(resources),
		ReplayedRecords: replayed,
		Duration:        time.Since(start),
	}, nil
}

// markOrphaned flags every job recovered into JobRunning as
// PendAgentDisconnected: this controller cannot know whether that job
// is still alive until its agent reconnects and sends a RECON record
// naming it, or the bind times out and the scheduler reclaims it.
func markOrphaned(store *objectstore.ObjectStore) {
	for _, j := range store.GetJob(model.JobFilter{StateMask: model.JobRunning}) {
		_ = store.WithJob(j.JobID, func(j *model.Job, q *model.Queue) error {
			j.PendReason = model.PendAgentDisconnected
			return nil
		})
	}
}
