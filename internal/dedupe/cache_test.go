// ABOUTME: Tests for the processed-event dedup cache.
// ABOUTME: Validates FIFO eviction, the size bound, optional TTL expiry and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "task-T1-2024-01-01T00:00:00.000Z", Key("task", "T1", "2024-01-01T00:00:00.000Z"))
	assert.NotEqual(t, Key("task", "1", "x"), Key("story", "1", "x"))
}

func TestCache_CheckAndMark_SameEventTwice(t *testing.T) {
	cache := New(0, 1000)
	defer cache.Close()

	key := Key("task", "T1", "2024-01-01T00:00:00Z")
	assert.False(t, cache.CheckAndMark(key), "first delivery is new")
	assert.True(t, cache.CheckAndMark(key), "second delivery is a duplicate")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_NoTTL_KeysDoNotExpire(t *testing.T) {
	cache := New(0, 10)
	defer cache.Close()

	cache.Mark("k")
	time.Sleep(5 * time.Millisecond)
	assert.True(t, cache.Check("k"))
}

func TestCache_BoundedSize(t *testing.T) {
	const max = 100
	cache := New(0, max)
	defer cache.Close()

	for i := 0; i < max*5; i++ {
		cache.CheckAndMark(fmt.Sprintf("story-%d-ts", i))
		assert.LessOrEqual(t, cache.Len(), max)
	}
	assert.Equal(t, max, cache.Len())

	// The newest max keys survive; everything older was evicted first.
	assert.True(t, cache.Check(fmt.Sprintf("story-%d-ts", max*5-1)))
	assert.True(t, cache.Check(fmt.Sprintf("story-%d-ts", max*4)))
	assert.False(t, cache.Check(fmt.Sprintf("story-%d-ts", max*4-1)))
}

func TestCache_EvictionOrder(t *testing.T) {
	cache := New(0, 3)
	defer cache.Close()

	cache.Mark("first")
	cache.Mark("second")
	cache.Mark("third")
	cache.Mark("fourth")

	assert.False(t, cache.Check("first"), "first should be evicted")
	assert.True(t, cache.Check("second"))
	assert.True(t, cache.Check("third"))
	assert.True(t, cache.Check("fourth"))

	cache.Mark("fifth")

	assert.False(t, cache.Check("second"), "second should be evicted")
	assert.True(t, cache.Check("fifth"))
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("expiring"))
	assert.True(t, cache.CheckAndMark("expiring"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.Check("expiring"))
	assert.False(t, cache.CheckAndMark("expiring"), "expired key is treated as new")
}

func TestCache_RemoveExpired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("a")
	cache.Mark("b")
	time.Sleep(20 * time.Millisecond)
	cache.Mark("c")

	cache.removeExpired()

	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Check("c"))
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	cache := New(0, 100)
	defer cache.Close()

	const numGoroutines = 100

	var winners int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contested-key") {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), winners, "exactly one goroutine should win the race for CheckAndMark")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(time.Minute, 50)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("task-%d-%d", id, j)
				cache.CheckAndMark(key)
				cache.Check(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 50)
}

func TestCache_Close(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Mark("before-close")
	assert.True(t, cache.Check("before-close"))

	cache.Close()
	cache.Close()
}
