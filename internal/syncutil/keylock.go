// Package syncutil provides per-key locking with bounded memory.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyLock serializes work per key. Keys are hashed onto a fixed pool of
// shards, so unrelated keys occasionally share a lock. The zero value is
// ready to use.
type KeyLock struct {
	once   sync.Once
	shards [shardCount]chan struct{}
}

func (k *KeyLock) init() {
	k.once.Do(func() {
		for i := range k.shards {
			k.shards[i] = make(chan struct{}, 1)
		}
	})
}

// Lock blocks until key's shard is free and returns its release function.
func (k *KeyLock) Lock(key string) func() {
	k.init()
	ch := k.shards[shard(key)]
	ch <- struct{}{}
	return func() { <-ch }
}

// LockContext is Lock that gives up when ctx is done.
func (k *KeyLock) LockContext(ctx context.Context, key string) (func(), error) {
	k.init()
	ch := k.shards[shard(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shard(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
