package engine

import (
	"context"
	"hash/fnv"
	"time"
)

// pathLocks is a striped lock table keyed by (userId, filePath). Each stripe
// is a one-slot channel used as a mutex so acquisition can be bounded by a
// timeout or cancelled with the request context.
type pathLocks struct {
	stripes []chan struct{}
	wait    time.Duration
}

const defaultLockStripes = 256

// newPathLocks creates a lock table with the given number of stripes and
// maximum acquisition wait.
func newPathLocks(stripes int, wait time.Duration) *pathLocks {
	if stripes <= 0 {
		stripes = defaultLockStripes
	}
	table := &pathLocks{
		stripes: make([]chan struct{}, stripes),
		wait:    wait,
	}
	for i := range table.stripes {
		table.stripes[i] = make(chan struct{}, 1)
	}
	return table
}

func (l *pathLocks) stripe(userID, path string) chan struct{} {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(path))
	return l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

// acquire locks the stripe for (userID, path), waiting at most the table's
// bound. Returns a release func, or false if the lock could not be acquired
// in time.
func (l *pathLocks) acquire(ctx context.Context, userID, path string) (func(), bool) {
	ch := l.stripe(userID, path)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
