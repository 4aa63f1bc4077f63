package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jers/internal/dispatch"
	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/internal/snapshot"
	"github.com/ChuLiYu/jers/pkg/model"
)

func openJournal(t *testing.T, dir string) *journal.Journal {
	t.Helper()
	jrnl, err := journal.Open(dir, 4, 5*time.Millisecond, journal.SyncImmediate)
	require.NoError(t, err)
	t.Cleanup(func() { jrnl.Close() })
	return jrnl
}

func TestRunReplaysJournalOntoEmptyStore(t *testing.T) {
	root := t.TempDir()
	journalDir := filepath.Join(root, "journal")
	stateDir := filepath.Join(root, "state")

	jrnl := openJournal(t, journalDir)
	store := objectstore.New(1000)
	d := dispatch.New(store, jrnl, nil)
	require.NoError(t, d.AddQueue(0, dispatch.QueueSpec{Name: "batch"}, false))
	id, err := d.AddJob(1000, dispatch.JobSpec{Name: "demo", Queue: "batch", RunUID: 1000})
	require.NoError(t, err)
	require.NoError(t, jrnl.Close())

	jrnl2 := openJournal(t, journalDir)
	store2 := objectstore.New(1000)
	disp2 := dispatch.New(store2, jrnl2, nil)

	res, err := Run(stateDir, store2, disp2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Jobs, "no snapshot was ever written")
	assert.GreaterOrEqual(t, res.ReplayedRecords, 2, "queue add + job add records")

	got := disp2.GetJob(model.JobFilter{JobID: id})
	require.Len(t, got, 1)
	assert.Equal(t, "demo", got[0].Name)
}

func TestRunLoadsSnapshotAndMarksRunningJobsOrphaned(t *testing.T) {
	root := t.TempDir()
	journalDir := filepath.Join(root, "journal")
	stateDir := filepath.Join(root, "state")

	jrnl := openJournal(t, journalDir)
	store := objectstore.New(1000)
	d := dispatch.New(store, jrnl, nil)
	require.NoError(t, d.AddQueue(0, dispatch.QueueSpec{Name: "batch"}, false))
	id, err := d.AddJob(1000, dispatch.JobSpec{Name: "demo", Queue: "batch", RunUID: 1000})
	require.NoError(t, err)
	require.NoError(t, d.ChangeJobState(0, id, model.JobRunning, true, false))

	mgr := snapshot.NewManager(stateDir, jrnl)
	flushed, flushedQueues, flushedResources := store.CopyDirty()
	out, ok := mgr.TryStart(flushed, flushedQueues, flushedResources, jrnl.CurrentPosition())
	require.True(t, ok)
	select {
	case res := <-out:
		require.NoError(t, res.Err)
		store.ClearFlushing(res.Jobs, res.Queues, res.Resources)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	require.NoError(t, jrnl.Close())

	jrnl2 := openJournal(t, journalDir)
	store2 := objectstore.New(1000)
	disp2 := dispatch.New(store2, jrnl2, nil)

	res, err := Run(stateDir, store2, disp2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Jobs)
	assert.Equal(t, 1, res.Queues)

	got := disp2.GetJob(model.JobFilter{JobID: id})
	require.Len(t, got, 1)
	assert.Equal(t, model.JobRunning, got[0].State)
	assert.Equal(t, model.PendAgentDisconnected, got[0].PendReason)
}
