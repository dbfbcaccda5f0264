package services

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Locker grants exclusive access to a key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

const defaultLockShards = 256

// ZoneLocker is an in-process lock table keyed by zone id. Keys hash onto a
// fixed set of mutexes, so unrelated zones rarely contend and memory stays bounded.
type ZoneLocker struct {
	shards []sync.Mutex
}

// NewZoneLocker creates a lock table with n shards (256 when n <= 0)
func NewZoneLocker(n int) *ZoneLocker {
	if n <= 0 {
		n = defaultLockShards
	}
	return &ZoneLocker{shards: make([]sync.Mutex, n)}
}

func (l *ZoneLocker) shard(key string) *sync.Mutex {
	return &l.shards[xxhash.Sum64String(key)%uint64(len(l.shards))]
}

// Lock blocks until the shard for key is held. ctx is checked before waiting only.
func (l *ZoneLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu := l.shard(key)
	mu.Lock()
	return mu.Unlock, nil
}
