package eventloop

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jers/internal/agentregistry"
	"github.com/ChuLiYu/jers/internal/config"
	"github.com/ChuLiYu/jers/internal/dispatch"
	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/internal/notify"
	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/internal/scheduler"
	"github.com/ChuLiYu/jers/internal/snapshot"
	"github.com/ChuLiYu/jers/internal/wire"
	"github.com/ChuLiYu/jers/pkg/model"
)

type fakeAgents struct{}

func (fakeAgents) StartJob(string, *model.Job) error { return nil }

type fakeRecorder struct{ jobs []*model.Job }

func (r *fakeRecorder) RecordJobFinished(j *model.Job) { r.jobs = append(r.jobs, j) }

func newTestLoop(t *testing.T) (*Loop, *dispatch.Dispatch, *objectstore.ObjectStore) {
	t.Helper()
	dir := t.TempDir()
	jrnl, err := journal.Open(filepath.Join(dir, "journal"), 4, 5*time.Millisecond, journal.SyncImmediate)
	require.NoError(t, err)
	t.Cleanup(func() { jrnl.Close() })

	store := objectstore.New(1000)
	d := dispatch.New(store, jrnl, nil)
	require.NoError(t, d.AddQueue(0, dispatch.QueueSpec{Name: "batch"}, false))

	snap := snapshot.NewManager(filepath.Join(dir, "state"), jrnl)
	sched := &scheduler.Scheduler{Store: store, Dispatch: d, Agents: fakeAgents{}, MaxRunJobs: 10, SchedMax: 10}
	agents := agentregistry.New([]byte("secret"), store)

	l := New(store, jrnl, d, snap, sched, agents, notify.NoopNotifier{}, &fakeRecorder{}, nil, nil, config.Defaults())
	return l, d, store
}

func payloadField(t *testing.T, v any) wire.Field {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return wire.Field{ID: wire.FieldPayload, Kind: wire.FieldString, Str: string(b)}
}

func TestHandleClientFrameAddJobThenGetJob(t *testing.T) {
	l, _, _ := newTestLoop(t)

	spec := dispatch.JobSpec{Name: "demo", Queue: "batch", RunUID: 1000}
	reply := l.handleClientFrame(&wire.ClientFrame{Op: "add_job", Fields: []wire.Field{
		{ID: wire.FieldUID, Kind: wire.FieldInt64, Int64: 1000},
		payloadField(t, spec),
	}})
	require.True(t, reply.OK, reply.ErrMsg)
	jobID, ok := wire.Int64(reply.Fields, wire.FieldJobID)
	require.True(t, ok)

	getReply := l.handleClientFrame(&wire.ClientFrame{Op: "get_job", Fields: []wire.Field{
		{ID: wire.FieldUID, Kind: wire.FieldInt64, Int64: 1000},
	}})
	require.True(t, getReply.OK)
	payload, ok := wire.String(getReply.Fields, wire.FieldPayload)
	require.True(t, ok)

	var jobs []*model.Job
	require.NoError(t, json.Unmarshal([]byte(payload), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobID(jobID), jobs[0].JobID)
	assert.Equal(t, "demo", jobs[0].Name)
}

func TestHandleClientFrameUnknownOp(t *testing.T) {
	l, _, _ := newTestLoop(t)
	reply := l.handleClientFrame(&wire.ClientFrame{Op: "not_a_real_op"})
	assert.False(t, reply.OK)
	assert.Equal(t, "UnknownOp", reply.ErrKind)
}

func TestHandleClientFrameAddJobRejectsUnknownQueue(t *testing.T) {
	l, _, _ := newTestLoop(t)
	reply := l.handleClientFrame(&wire.ClientFrame{Op: "add_job", Fields: []wire.Field{
		{ID: wire.FieldUID, Kind: wire.FieldInt64, Int64: 1000},
		payloadField(t, dispatch.JobSpec{Name: "demo", Queue: "ghost", RunUID: 1000}),
	}})
	assert.False(t, reply.OK)
	assert.Equal(t, "QueueNotFound", reply.ErrKind)
}

func TestHandleAgentFrameJobCompletedReleasesResourcesAndRecords(t *testing.T) {
	l, d, store := newTestLoop(t)
	require.NoError(t, d.AddResource(0, dispatch.ResourceSpec{Name: "gpu", Count: 4}, false))

	id, err := d.AddJob(1000, dispatch.JobSpec{
		Name: "demo", Queue: "batch", RunUID: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, store.ModResource("gpu", func(r *model.Resource) error {
		r.InUse = 2
		return nil
	}))
	require.NoError(t, store.WithJob(id, func(j *model.Job, q *model.Queue) error {
		j.ReqResources = []model.ResourceRequirement{{Resource: "gpu", Count: 2}}
		return nil
	}))
	require.NoError(t, d.ChangeJobState(0, id, model.JobRunning, true, false))

	l.handleAgentFrame(&wire.AgentFrame{Type: "JOB_COMPLETED", Fields: []wire.Field{
		{ID: wire.FieldJobID, Kind: wire.FieldInt64, Int64: int64(id)},
		{ID: wire.FieldExitCode, Kind: wire.FieldInt64, Int64: 0},
		{ID: wire.FieldSignal, Kind: wire.FieldInt64, Int64: 0},
	}})

	got := d.GetJob(model.JobFilter{JobID: id})
	require.Len(t, got, 1)
	assert.Equal(t, model.JobCompleted, got[0].State)

	gpu, ok := store.GetResource("gpu")
	require.True(t, ok)
	assert.EqualValues(t, 0, gpu.InUse)

	rec := l.Recorder.(*fakeRecorder)
	require.Len(t, rec.jobs, 1)
	assert.Equal(t, id, rec.jobs[0].JobID)
}

func TestHandleAgentFrameJobCompletedWithSignalMarksExited(t *testing.T) {
	l, d, _ := newTestLoop(t)
	id, err := d.AddJob(1000, dispatch.JobSpec{Name: "demo", Queue: "batch", RunUID: 1000})
	require.NoError(t, err)
	require.NoError(t, d.ChangeJobState(0, id, model.JobRunning, true, false))

	l.handleAgentFrame(&wire.AgentFrame{Type: "JOB_COMPLETED", Fields: []wire.Field{
		{ID: wire.FieldJobID, Kind: wire.FieldInt64, Int64: int64(id)},
		{ID: wire.FieldSignal, Kind: wire.FieldInt64, Int64: 9},
	}})

	got := d.GetJob(model.JobFilter{JobID: id})
	require.Len(t, got, 1)
	assert.Equal(t, model.JobExited, got[0].State)
	assert.Equal(t, model.FailSignaled, got[0].FailReason)
}

func TestHandleAgentGoneMarksRunningJobsDisconnected(t *testing.T) {
	l, d, store := newTestLoop(t)
	require.NoError(t, store.ModQueue("batch", func(q *model.Queue) error {
		q.Agent = "worker-1"
		return nil
	}))
	id, err := d.AddJob(1000, dispatch.JobSpec{Name: "demo", Queue: "batch", RunUID: 1000})
	require.NoError(t, err)
	require.NoError(t, d.ChangeJobState(0, id, model.JobRunning, true, false))

	l.handleAgentGone("worker-1")

	q, ok := store.GetQueue("batch")
	require.True(t, ok)
	assert.Equal(t, "", q.Agent)

	got := d.GetJob(model.JobFilter{JobID: id})
	require.Len(t, got, 1)
	assert.Equal(t, model.PendAgentDisconnected, got[0].PendReason)
}

func TestHandleReconUnknownJobIDShutsDown(t *testing.T) {
	l, _, _ := newTestLoop(t)
	l.handleRecon("worker-1", &agentregistry.ReconRecord{JobID: 99999})

	select {
	case <-l.stopCh:
	default:
		t.Fatal("handleRecon for an unknown jobid must trigger shutdown")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l, _, _ := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSubmitClientFrameRoundTrips(t *testing.T) {
	l, _, _ := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { l.Run(ctx) }()
	t.Cleanup(l.Stop)

	reply, err := l.SubmitClientFrame(context.Background(), &wire.ClientFrame{
		Op: "add_job",
		Fields: []wire.Field{
			{ID: wire.FieldUID, Kind: wire.FieldInt64, Int64: 1000},
			payloadField(t, dispatch.JobSpec{Name: "demo", Queue: "batch", RunUID: 1000}),
		},
	})
	require.NoError(t, err)
	require.True(t, reply.OK, reply.ErrMsg)
}
