package objectstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jers/pkg/model"
)

func newTestStore(t *testing.T) *ObjectStore {
	t.Helper()
	s := New(100)
	require.NoError(t, s.AddQueue(&model.Queue{Name: "batch", State: model.QueueOpen | model.QueueStarted}))
	return s
}

func TestAddJobDefaultsToPending(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AllocateJobID()
	require.NoError(t, err)

	j := &model.Job{JobID: id, Queue: "batch"}
	require.NoError(t, s.AddJob(j, false, time.Now()))

	got := s.GetJob(model.JobFilter{})
	require.Len(t, got, 1)
	assert.Equal(t, model.JobPending, got[0].State)
	assert.Equal(t, 1, s.Stats().Pending)
}

func TestAddJobHoldAndDefer(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	heldID, _ := s.AllocateJobID()
	require.NoError(t, s.AddJob(&model.Job{JobID: heldID, Queue: "batch"}, true, now))
	held, ok := lookupJob(s, heldID)
	require.True(t, ok)
	assert.Equal(t, model.JobHolding, held.State)

	deferredID, _ := s.AllocateJobID()
	deferredJob := &model.Job{JobID: deferredID, Queue: "batch", DeferTime: now.Add(time.Hour)}
	require.NoError(t, s.AddJob(deferredJob, false, now))
	deferred, ok := lookupJob(s, deferredID)
	require.True(t, ok)
	assert.Equal(t, model.JobDeferred, deferred.State)
}

func TestAddJobRejectsUnknownQueueAndResource(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateJobID()

	err := s.AddJob(&model.Job{JobID: id, Queue: "nosuch"}, false, time.Now())
	assert.ErrorIs(t, err, ErrQueueNotFound)

	require.NoError(t, s.AddResource(&model.Resource{Name: "gpu", Count: 2}))
	id2, _ := s.AllocateJobID()
	err = s.AddJob(&model.Job{
		JobID:        id2,
		Queue:        "batch",
		ReqResources: []model.ResourceRequirement{{Resource: "nogpu", Count: 1}},
	}, false, time.Now())
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestChangeJobStateUpdatesCounters(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateJobID()
	require.NoError(t, s.AddJob(&model.Job{JobID: id, Queue: "batch"}, false, time.Now()))

	require.NoError(t, s.ChangeJobState(id, model.JobRunning, true))
	assert.Equal(t, 0, s.Stats().Pending)
	assert.Equal(t, 1, s.Stats().Running)

	q, ok := s.GetQueue("batch")
	require.True(t, ok)
	assert.Equal(t, 1, q.Stats.Running)
}

func TestDelJobThenSweepReclaimsID(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateJobID()
	require.NoError(t, s.AddJob(&model.Job{JobID: id, Queue: "batch"}, false, time.Now()))
	require.NoError(t, s.DelJob(id))

	// Still dirty (delete not yet flushed): not reclaimable.
	assert.Equal(t, 0, s.SweepReclaimable(10))

	flushed, _, _ := s.CopyDirty() // clears dirty the way the snapshotter would
	s.ClearFlushing(flushed, nil, nil)

	jobs, _, _ := s.CopyDirty()
	for _, j := range jobs {
		assert.Fail(t, "expected no further dirty jobs", j.JobID)
	}

	reclaimed := s.SweepReclaimable(10)
	assert.Equal(t, 1, reclaimed)

	again, err := s.AllocateJobID()
	require.NoError(t, err)
	assert.Equal(t, id+1, again, "the rotating cursor moves past the last id it returned")
	assert.NoError(t, s.AddJob(&model.Job{JobID: id, Queue: "batch"}, false, time.Now()), "reclaimed id should be reusable")
}

func TestAllocateJobIDWrapsAndExhausts(t *testing.T) {
	s := New(3)
	require.NoError(t, s.AddQueue(&model.Queue{Name: "q"}))

	seen := map[model.JobID]bool{}
	for i := 0; i < 3; i++ {
		id, err := s.AllocateJobID()
		require.NoError(t, err)
		require.False(t, seen[id], "ids must not repeat while all are live")
		seen[id] = true
		require.NoError(t, s.AddJob(&model.Job{JobID: id, Queue: "q"}, false, time.Now()))
	}

	_, err := s.AllocateJobID()
	assert.ErrorIs(t, err, ErrJobIDSpaceFull)
}

func TestAddQueueClearsPriorDefault(t *testing.T) {
	s := New(10)
	require.NoError(t, s.AddQueue(&model.Queue{Name: "a", Def: true}))
	require.NoError(t, s.AddQueue(&model.Queue{Name: "b", Def: true}))

	def, ok := s.DefaultQueue()
	require.True(t, ok)
	assert.Equal(t, "b", def.Name)

	a, _ := s.GetQueue("a")
	assert.False(t, a.Def)
}

func TestDelQueueRejectsWhileJobsPresent(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateJobID()
	require.NoError(t, s.AddJob(&model.Job{JobID: id, Queue: "batch"}, false, time.Now()))

	assert.ErrorIs(t, s.DelQueue("batch"), ErrQueueNotEmpty)

	require.NoError(t, s.DelJob(id))
	assert.NoError(t, s.DelQueue("batch"))
}

func TestDelResourceRejectsWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddResource(&model.Resource{Name: "gpu", Count: 4}))

	id, _ := s.AllocateJobID()
	require.NoError(t, s.AddJob(&model.Job{
		JobID:        id,
		Queue:        "batch",
		ReqResources: []model.ResourceRequirement{{Resource: "gpu", Count: 1}},
	}, false, time.Now()))

	assert.ErrorIs(t, s.DelResource("gpu"), ErrResourceInUse)

	require.NoError(t, s.DelJob(id))
	assert.NoError(t, s.DelResource("gpu"))
}

func TestWithJobIsExclusive(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateJobID()
	require.NoError(t, s.AddJob(&model.Job{JobID: id, Queue: "batch"}, false, time.Now()))

	err := s.WithJob(id, func(j *model.Job, q *model.Queue) error {
		j.PID = 4242
		require.Equal(t, "batch", q.Name)
		return nil
	})
	require.NoError(t, err)

	got := s.GetJob(model.JobFilter{})
	require.Len(t, got, 1)
	assert.Equal(t, 4242, got[0].PID)
}

func TestCopyDirtyAndClearFlushing(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateJobID()
	require.NoError(t, s.AddJob(&model.Job{JobID: id, Queue: "batch"}, false, time.Now()))

	jobs, _, _ := s.CopyDirty()
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].JobID)

	// A second copy-out sees nothing new until a mutation marks dirty again.
	jobs2, _, _ := s.CopyDirty()
	assert.Len(t, jobs2, 0)

	s.ClearFlushing(jobs, nil, nil)
	remaining := s.GetJob(model.JobFilter{})
	require.Len(t, remaining, 1)
}

func TestDelQueueThenSweepReclaimsName(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DelQueue("batch"))

	// Still dirty (delete not yet flushed): not reclaimable, and the
	// name must still be rejected for re-add.
	assert.Equal(t, 0, s.SweepReclaimable(10))
	assert.ErrorIs(t, s.AddQueue(&model.Queue{Name: "batch"}), ErrQueueExists)

	_, queues, _ := s.CopyDirty()
	require.Len(t, queues, 1)
	s.ClearFlushing(nil, queues, nil)

	reclaimed := s.SweepReclaimable(10)
	assert.Equal(t, 1, reclaimed)

	assert.NoError(t, s.AddQueue(&model.Queue{Name: "batch"}), "name should be reusable once the tombstone is swept")
}

func TestDelResourceThenSweepReclaimsName(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddResource(&model.Resource{Name: "gpu", Count: 1}))
	require.NoError(t, s.DelResource("gpu"))

	assert.Equal(t, 0, s.SweepReclaimable(10))

	_, _, resources := s.CopyDirty()
	require.Len(t, resources, 1)
	s.ClearFlushing(nil, nil, resources)

	reclaimed := s.SweepReclaimable(10)
	assert.Equal(t, 1, reclaimed)

	assert.NoError(t, s.AddResource(&model.Resource{Name: "gpu", Count: 2}))
}

func lookupJob(s *ObjectStore, id model.JobID) (*model.Job, bool) {
	for _, j := range s.GetJob(model.JobFilter{}) {
		if j.JobID == id {
			return j, true
		}
	}
	return nil, false
}
