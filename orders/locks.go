package orders

import (
	"hash/fnv"
	"sync"
)

const lockShards = 32

// lockMap serializes transitions per order. Entries are evicted when the
// order reaches a terminal status so the map stays bounded by the number of
// live orders.
type lockMap struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mtx   sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockMap() *lockMap {
	lm := &lockMap{}
	for i := range lm.shards {
		lm.shards[i].locks = map[string]*sync.Mutex{}
	}
	return lm
}

func (lm *lockMap) shard(orderID string) *lockShard {
	h := fnv.New32a()
	h.Write([]byte(orderID))
	return &lm.shards[h.Sum32()%lockShards]
}

// Lock acquires the order's mutex and returns it; the caller unlocks it
// directly so eviction can happen while still held.
func (lm *lockMap) Lock(orderID string) *sync.Mutex {
	shard := lm.shard(orderID)
	shard.mtx.Lock()
	lock, ok := shard.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		shard.locks[orderID] = lock
	}
	shard.mtx.Unlock()
	lock.Lock()
	return lock
}

func (lm *lockMap) Evict(orderID string) {
	shard := lm.shard(orderID)
	shard.mtx.Lock()
	delete(shard.locks, orderID)
	shard.mtx.Unlock()
}

func (lm *lockMap) Len() int {
	total := 0
	for i := range lm.shards {
		lm.shards[i].mtx.Lock()
		total += len(lm.shards[i].locks)
		lm.shards[i].mtx.Unlock()
	}
	return total
}
