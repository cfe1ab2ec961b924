package engine

import (
	"hash/fnv"
	"sync"

	"progresskit/core"
)

// userLocks serializes per-user critical sections over a fixed set of mutexes.
// Two users may share a stripe; one user always maps to the same one.
type userLocks struct {
	stripes [64]sync.Mutex
}

func (l *userLocks) lock(user core.UserID) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
