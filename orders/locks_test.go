package orders

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockMapSerializesPerOrder(t *testing.T) {
	locks := newLockMap()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := locks.Lock("order-a")
			defer lock.Unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestLockMapEvict(t *testing.T) {
	locks := newLockMap()

	lock := locks.Lock("order-a")
	locks.Lock("order-b").Unlock()
	assert.Equal(t, 2, locks.Len())

	// eviction while held is safe, the caller keeps its reference
	locks.Evict("order-a")
	lock.Unlock()
	assert.Equal(t, 1, locks.Len())

	locks.Evict("order-b")
	assert.Equal(t, 0, locks.Len())
}
