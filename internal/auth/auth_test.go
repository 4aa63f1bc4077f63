package auth

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jers/internal/identity"
	"github.com/ChuLiYu/jers/pkg/model"
)

func currentGID(t *testing.T) int {
	t.Helper()
	r := identity.New(time.Minute)
	gids, err := r.GroupIDs(os.Getuid())
	require.NoError(t, err)
	require.NotEmpty(t, gids)
	return gids[0]
}

func TestCanSubmitAllowsACLMember(t *testing.T) {
	gid := currentGID(t)
	checker := New(identity.New(time.Minute), nil)

	q := &model.Queue{Name: "batch", ACL: map[int]uint8{gid: uint8(CapSubmit)}}
	assert.NoError(t, checker.CanSubmit(os.Getuid(), q))
}

func TestCanSubmitDeniesNonMember(t *testing.T) {
	checker := New(identity.New(time.Minute), nil)
	q := &model.Queue{Name: "batch", ACL: map[int]uint8{999999: uint8(CapSubmit)}}
	assert.ErrorIs(t, checker.CanSubmit(os.Getuid(), q), ErrQueueACLDenied)
}

func TestCanSubmitAdminBypassesACL(t *testing.T) {
	gid := currentGID(t)
	checker := New(identity.New(time.Minute), []int{gid})
	q := &model.Queue{Name: "batch", ACL: map[int]uint8{}}
	assert.NoError(t, checker.CanSubmit(os.Getuid(), q))
}

func TestCanModifyOwnerOrAdmin(t *testing.T) {
	checker := New(identity.New(time.Minute), nil)
	uid := os.Getuid()

	job := &model.Job{SubmitterUID: uid}
	assert.NoError(t, checker.CanModify(uid, job))

	otherJob := &model.Job{SubmitterUID: uid + 1}
	assert.ErrorIs(t, checker.CanModify(uid, otherJob), ErrNotJobOwner)
}

func TestCanAdministerRequiresAdminGID(t *testing.T) {
	gid := currentGID(t)
	assert.ErrorIs(t, New(identity.New(time.Minute), nil).CanAdminister(os.Getuid()), ErrForbidden)
	assert.NoError(t, New(identity.New(time.Minute), []int{gid}).CanAdminister(os.Getuid()))
}
