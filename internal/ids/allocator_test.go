package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocator_StartsAtBase(t *testing.T) {
	a := New(1000)
	assert.Equal(t, int64(1000), a.Next())
	assert.Equal(t, int64(1001), a.Next())
	assert.Equal(t, int64(1001), a.Peek())

	var zero Allocator
	assert.Equal(t, int64(1), zero.Next())
}

func TestAllocator_IndependentCounters(t *testing.T) {
	orders := New(1)
	requests := New(1)

	orders.Next()
	orders.Next()
	assert.Equal(t, int64(1), requests.Next())
	assert.Equal(t, int64(3), orders.Next())
}

func TestAllocator_ConcurrentUnique(t *testing.T) {
	a := New(1)
	const workers, per = 8, 500

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			last := int64(0)
			for i := 0; i < per; i++ {
				id := a.Next()
				assert.Greater(t, id, last)
				last = id
				local = append(local, id)
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
}

func TestAllocator_Advance(t *testing.T) {
	a := New(1)
	a.Advance(50)
	assert.Equal(t, int64(51), a.Next())

	a.Advance(10)
	assert.Equal(t, int64(52), a.Next())
}
