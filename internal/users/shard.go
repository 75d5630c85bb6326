package users

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

// shardCount governs the fan-out of the striped locking below. 32 is
// generous for the handful of concurrent handshakes/sessions a single
// instance handles; it only needs to be large enough that two unrelated
// keys rarely contend for the same shard.
const shardCount = 32

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// shardedMap is a striped map: each key hashes to one of shardCount
// independent mutex-guarded buckets, so operations on unrelated keys never
// block each other. This is what gives pending/authenticated/registered
// their per-key locking instead of one lock serializing the whole table.
type shardedMap[K comparable, V any] struct {
	shards [shardCount]*shard[K, V]
	hash   func(K) uint32
}

func newShardedMap[K comparable, V any](hash func(K) uint32) *shardedMap[K, V] {
	sm := &shardedMap[K, V]{hash: hash}
	for i := range sm.shards {
		sm.shards[i] = &shard[K, V]{m: make(map[K]V)}
	}
	return sm
}

func (sm *shardedMap[K, V]) shardFor(k K) *shard[K, V] {
	return sm.shards[sm.hash(k)%shardCount]
}

// withLock runs fn with exclusive access to the single shard k falls in.
// fn must only touch k (never iterate the map it's handed) — the shard may
// hold other keys too.
func (sm *shardedMap[K, V]) withLock(k K, fn func(m map[K]V)) {
	s := sm.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.m)
}

// load is a read-only convenience over withLock for the common single-key
// lookup case.
func (sm *shardedMap[K, V]) load(k K) (v V, ok bool) {
	s := sm.shardFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok = s.m[k]
	return v, ok
}

func (sm *shardedMap[K, V]) store(k K, v V) {
	sm.withLock(k, func(m map[K]V) { m[k] = v })
}

func (sm *shardedMap[K, V]) delete(k K) {
	sm.withLock(k, func(m map[K]V) { delete(m, k) })
}

// len and values each take every shard's RLock in a fixed, always-ascending
// index order, so concurrent snapshot calls can never deadlock against each
// other.
func (sm *shardedMap[K, V]) len() int {
	n := 0
	for _, s := range sm.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

func (sm *shardedMap[K, V]) values() []V {
	out := make([]V, 0, sm.len())
	for _, s := range sm.shards {
		s.mu.RLock()
		for _, v := range s.m {
			out = append(out, v)
		}
		s.mu.RUnlock()
	}
	return out
}

// deleteWhere removes every entry for which keep returns false, shard by
// shard. Used by the pending-handshake sweep.
func (sm *shardedMap[K, V]) deleteWhere(keep func(k K, v V) bool) (removed int) {
	for _, s := range sm.shards {
		s.mu.Lock()
		for k, v := range s.m {
			if !keep(k, v) {
				delete(s.m, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func hashUUID(id uuid.UUID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return h.Sum32()
}
