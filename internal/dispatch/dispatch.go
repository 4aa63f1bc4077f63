// Package dispatch implements CommandDispatch: the typed per-entity
// add/mod/del/get operations clients submit, each producing exactly
// one response and at most one journal record (spec.md §4.6). Reads
// never journal. Grounded on the teacher's internal/raft/commands.go
// envelope idiom (a typed command struct with a constructor per
// operation), generalized from the teacher's two raft command types
// to the closed set add/mod/del/get x {job, queue, resource}.
package dispatch

import (
	"time"

	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/pkg/model"
)

// IdentityResolver is the seam AddJob uses to validate that a job's
// run_uid names a real local user, per spec.md §4.1. Satisfied by
// *internal/identity.Resolver in production; a nil Identity on
// Dispatch skips the check (recovery/replay paths never need it,
// since AddJobReplay bypasses AddJob entirely).
type IdentityResolver interface {
	UserName(uid int) (string, error)
}

// Dispatch wires a command handler to its ObjectStore and Journal.
// replaying, when true, suppresses re-journaling: this is how
// internal/recovery feeds the journal suffix back through the same
// handlers used for live traffic without re-appending what it is
// itself replaying.
type Dispatch struct {
	Store    *objectstore.ObjectStore
	Journal  *journal.Journal
	Identity IdentityResolver

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(store *objectstore.ObjectStore, jrnl *journal.Journal, identity IdentityResolver) *Dispatch {
	return &Dispatch{Store: store, Journal: jrnl, Identity: identity, Now: time.Now}
}

func (d *Dispatch) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// appendRecord journals one mutation unless replaying is set, mapping
// ErrClosed and write failures straight through: per spec.md §7,
// journal write errors are fatal and must propagate to the caller
// (the event loop), which exits after logging.
func (d *Dispatch) appendRecord(replaying bool, uid int, cmd journal.Command, jobID model.JobID, revision uint64, encoded string) error {
	if replaying {
		return nil
	}
	now := d.now()
	_, err := d.Journal.Append(journal.Record{
		TimestampSec: now.Unix(),
		TimestampMs:  int64(now.Nanosecond() / 1e6),
		UID:          uid,
		Cmd:          cmd,
		JobID:        uint32(jobID),
		Revision:     revision,
		Encoded:      encoded,
	})
	return err
}
