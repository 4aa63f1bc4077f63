package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{
		TimestampSec: 1700000000,
		TimestampMs:  42,
		UID:          1000,
		Cmd:          CmdAddJob,
		JobID:        7,
		Revision:     3,
		Encoded:      `{"Name":"demo"}`,
	}
	line := string(rec.Encode())
	assert.Equal(t, byte(' '), line[0], "newly encoded record must carry the pending sentinel")

	got, committed, err := decodeRecord(line[:len(line)-1]) // decodeRecord receives a scanned, newline-stripped line
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, rec, got)
}

func TestDecodeRecordRejectsBadSentinel(t *testing.T) {
	_, _, err := decodeRecord("?1.0\t0\tADD_JOB\t1\t1\t{}")
	assert.Error(t, err)
}

func TestAppendAndMarkPersisted(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 4, 5*time.Millisecond, SyncImmediate)
	require.NoError(t, err)
	defer j.Close()

	pos, err := j.Append(Record{TimestampSec: 1, Cmd: CmdAddJob, JobID: 1, Revision: 1, Encoded: "{}"})
	require.NoError(t, err)
	require.NoError(t, j.MarkPersisted(pos))

	var seen []Record
	require.NoError(t, j.Replay(func(rec Record, replay bool) error {
		seen = append(seen, rec)
		return nil
	}))
	// The only record is now committed, so Replay (which only walks the
	// suffix after the newest commit marker) sees nothing left to redo.
	assert.Len(t, seen, 0)
}

func TestReplayWalksUncommittedSuffix(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 4, 5*time.Millisecond, SyncImmediate)
	require.NoError(t, err)

	pos1, err := j.Append(Record{TimestampSec: 1, Cmd: CmdAddJob, JobID: 1, Revision: 1, Encoded: "{}"})
	require.NoError(t, err)
	require.NoError(t, j.MarkPersisted(pos1))

	_, err = j.Append(Record{TimestampSec: 2, Cmd: CmdModJob, JobID: 1, Revision: 2, Encoded: "{}"})
	require.NoError(t, err)
	_, err = j.Append(Record{TimestampSec: 3, Cmd: CmdDelJob, JobID: 1, Revision: 3, Encoded: "{}"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j2, err := Open(dir, 4, 5*time.Millisecond, SyncImmediate)
	require.NoError(t, err)
	defer j2.Close()

	var cmds []Command
	require.NoError(t, j2.Replay(func(rec Record, replay bool) error {
		assert.True(t, replay)
		cmds = append(cmds, rec.Cmd)
		return nil
	}))
	assert.Equal(t, []Command{CmdModJob, CmdDelJob}, cmds)
}

func TestRollStartsNewFile(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 4, 5*time.Millisecond, SyncImmediate)
	require.NoError(t, err)
	defer j.Close()

	before := j.index
	require.NoError(t, j.Roll())
	assert.Equal(t, before+1, j.index)
}
