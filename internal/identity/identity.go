// Package identity resolves uid/gid to usernames/group names and
// caches the result, standing in for the "local user/group lookup and
// caching" external collaborator spec.md §1 scopes out of this
// repository. Grounded on the teacher's sentinel-error-per-package
// style (internal/storage/wal/errors.go) and its single-struct-plus-
// mutex caching shape (internal/jobmanager/job_manager.go).
package identity

import (
	"os/user"
	"strconv"
	"sync"
	"time"
)

type cacheEntry struct {
	name    string
	expires time.Time
}

// Resolver caches uid->username and gid->groupname lookups for a
// bounded TTL, avoiding a syscall on every auth check.
type Resolver struct {
	mu   sync.Mutex
	uids map[int]cacheEntry
	gids map[int]cacheEntry

	TTL time.Duration
	Now func() time.Time
}

func New(ttl time.Duration) *Resolver {
	return &Resolver{
		uids: make(map[int]cacheEntry),
		gids: make(map[int]cacheEntry),
		TTL:  ttl,
		Now:  time.Now,
	}
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// UserName resolves uid to a username, using the cache when fresh.
func (r *Resolver) UserName(uid int) (string, error) {
	r.mu.Lock()
	if e, ok := r.uids[uid]; ok && r.now().Before(e.expires) {
		r.mu.Unlock()
		return e.name, nil
	}
	r.mu.Unlock()

	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.uids[uid] = cacheEntry{name: u.Username, expires: r.now().Add(r.TTL)}
	r.mu.Unlock()
	return u.Username, nil
}

// GroupName resolves gid to a group name, using the cache when fresh.
func (r *Resolver) GroupName(gid int) (string, error) {
	r.mu.Lock()
	if e, ok := r.gids[gid]; ok && r.now().Before(e.expires) {
		r.mu.Unlock()
		return e.name, nil
	}
	r.mu.Unlock()

	g, err := user.LookupGroupId(strconv.Itoa(gid))
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.gids[gid] = cacheEntry{name: g.Name, expires: r.now().Add(r.TTL)}
	r.mu.Unlock()
	return g.Name, nil
}

// GroupIDs returns the gids uid belongs to, uncached: group
// membership changes rarely enough in a batch scheduler's lifetime
// that Auth re-resolves it per check rather than risking a stale ACL
// decision.
func (r *Resolver) GroupIDs(uid int) ([]int, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return nil, err
	}
	gidStrs, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	gids := make([]int, 0, len(gidStrs))
	for _, s := range gidStrs {
		if gid, err := strconv.Atoi(s); err == nil {
			gids = append(gids, gid)
		}
	}
	return gids, nil
}
