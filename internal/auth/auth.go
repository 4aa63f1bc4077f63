// Package auth implements the client capability model of spec.md
// §4.9: group-based checks for which operations a uid may perform
// (submit to a queue, modify another user's job, administer queues
// and resources). Grounded in idiom on the teacher's ErrXxx sentinel
// style (internal/storage/wal/errors.go,
// internal/jobmanager/job_manager.go's ErrDuplicateJob).
package auth

import (
	"errors"

	"github.com/ChuLiYu/jers/internal/identity"
	"github.com/ChuLiYu/jers/pkg/model"
)

var (
	ErrForbidden       = errors.New("auth: operation not permitted")
	ErrQueueACLDenied  = errors.New("auth: uid not in queue ACL")
	ErrNotJobOwner     = errors.New("auth: uid does not own this job")
)

// Capability is a bit in a queue's ACL map value (model.Queue.ACL
// is map[gid]uint8), matching spec.md §3's "permission bitmap".
type Capability uint8

const (
	CapSubmit Capability = 1 << iota
	CapAdmin
)

// Checker evaluates capability checks against a Resolver for gid
// membership; AdminGIDs lists gids whose members bypass all
// per-queue ACL checks (the "operator" role).
type Checker struct {
	Identity  *identity.Resolver
	AdminGIDs map[int]bool
}

func New(resolver *identity.Resolver, adminGIDs []int) *Checker {
	m := make(map[int]bool, len(adminGIDs))
	for _, g := range adminGIDs {
		m[g] = true
	}
	return &Checker{Identity: resolver, AdminGIDs: m}
}

func (c *Checker) isAdmin(uid int) bool {
	gids, err := c.Identity.GroupIDs(uid)
	if err != nil {
		return false
	}
	for _, g := range gids {
		if c.AdminGIDs[g] {
			return true
		}
	}
	return false
}

// CanSubmit reports whether uid may add_job to q, per spec.md §3's
// queue ACL: a gid present in q.ACL with a nonzero value may submit.
func (c *Checker) CanSubmit(uid int, q *model.Queue) error {
	if c.isAdmin(uid) {
		return nil
	}
	gids, err := c.Identity.GroupIDs(uid)
	if err != nil {
		return err
	}
	for _, g := range gids {
		if bits, ok := q.ACL[g]; ok && Capability(bits)&CapSubmit != 0 {
			return nil
		}
	}
	return ErrQueueACLDenied
}

// CanModify reports whether uid may mod_job/del_job job: uid must be
// its submitter or a member of an admin gid.
func (c *Checker) CanModify(uid int, job *model.Job) error {
	if uid == job.SubmitterUID || c.isAdmin(uid) {
		return nil
	}
	return ErrNotJobOwner
}

// CanAdminister reports whether uid may add/mod/del queues and
// resources — an operator-only action.
func (c *Checker) CanAdminister(uid int) error {
	if c.isAdmin(uid) {
		return nil
	}
	return ErrForbidden
}
