package identity

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserNameCachesWithinTTL(t *testing.T) {
	r := New(time.Minute)
	now := time.Unix(1000, 0)
	r.Now = func() time.Time { return now }

	uid := os.Getuid()
	name, err := r.UserName(uid)
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	// Within the TTL the cached entry must be returned without a
	// second lookup failing if the uid somehow stopped resolving.
	now = now.Add(30 * time.Second)
	cached, err := r.UserName(uid)
	require.NoError(t, err)
	assert.Equal(t, name, cached)
}

func TestUserNameExpiresAfterTTL(t *testing.T) {
	r := New(time.Second)
	now := time.Unix(1000, 0)
	r.Now = func() time.Time { return now }

	uid := os.Getuid()
	_, err := r.UserName(uid)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, ok := r.uids[uid]
	require.True(t, ok, "entry should still be present, just stale")
	assert.False(t, r.now().Before(r.uids[uid].expires))
}

func TestGroupIDsReturnsNonEmptySet(t *testing.T) {
	r := New(time.Minute)
	gids, err := r.GroupIDs(os.Getuid())
	require.NoError(t, err)
	assert.NotEmpty(t, gids)
}

func TestGroupNameCaches(t *testing.T) {
	r := New(time.Minute)
	gids, err := r.GroupIDs(os.Getuid())
	require.NoError(t, err)
	require.NotEmpty(t, gids)

	name, err := r.GroupName(gids[0])
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	cached, err := r.GroupName(gids[0])
	require.NoError(t, err)
	assert.Equal(t, name, cached)
}
