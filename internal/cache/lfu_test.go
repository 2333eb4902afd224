package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	hits, misses, evictions atomic.Int64
}

func (o *countingObserver) Hit()   { o.hits.Add(1) }
func (o *countingObserver) Miss()  { o.misses.Add(1) }
func (o *countingObserver) Evict() { o.evictions.Add(1) }

func value(v int) func() (int, error) {
	return func() (int, error) { return v, nil }
}

func TestLFUGetFillsOnce(t *testing.T) {
	obs := &countingObserver{}
	c := NewLFU[string, int](2, obs)

	calls := 0
	fill := func() (int, error) {
		calls++
		return 42, nil
	}

	v, err := c.Get("a", fill)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.Get("a", fill)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), obs.hits.Load())
	assert.Equal(t, int64(1), obs.misses.Load())
}

func TestLFUEvictsLeastFrequentlyUsed(t *testing.T) {
	obs := &countingObserver{}
	c := NewLFU[string, int](2, obs)

	c.Set("hot", 1)
	c.Set("cold", 2)
	for range 3 {
		_, ok := c.Peek("hot")
		require.True(t, ok)
	}

	c.Set("new", 3)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Peek("cold")
	assert.False(t, ok, "cold entry should have been evicted")
	_, ok = c.Peek("hot")
	assert.True(t, ok)
	assert.Equal(t, int64(1), obs.evictions.Load())
}

func TestLFUBreaksTiesByRecency(t *testing.T) {
	c := NewLFU[string, int](2, nil)
	c.Set("first", 1)
	c.Set("second", 2)
	c.Set("third", 3)

	_, ok := c.Peek("first")
	assert.False(t, ok)
	_, ok = c.Peek("second")
	assert.True(t, ok)
	_, ok = c.Peek("third")
	assert.True(t, ok)
}

func TestLFUDoesNotCacheErrors(t *testing.T) {
	c := NewLFU[int, int](1, nil)
	boom := errors.New("boom")

	_, err := c.Get(1, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.Get(1, value(7))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestLFUSingleFlight(t *testing.T) {
	c := NewLFU[string, int](4, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	fill := func() (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get("key", fill)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 1, r)
	}
}

func TestLFURemove(t *testing.T) {
	c := NewLFU[int, string](4, nil)
	c.Set(1, "a")
	c.Set(2, "b")
	c.Set(3, "c")

	assert.True(t, c.Remove(2))
	assert.False(t, c.Remove(2))
	assert.Equal(t, 2, c.Len())

	n := c.RemoveFunc(func(k int) bool { return k > 1 })
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())

	// The cache is still usable after a purge.
	c.Set(4, "d")
	c.Set(5, "e")
	c.Set(6, "f")
	c.Set(7, "g")
	c.Set(8, "h")
	assert.Equal(t, 4, c.Len())
}

func TestLFUInvalidationDropsInflightFill(t *testing.T) {
	c := NewLFU[string, int](2, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get("key", func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()

	<-started
	c.Purge()
	close(release)
	<-done

	_, ok := c.Peek("key")
	assert.False(t, ok, "value computed before the purge must not be stored")

	v, err := c.Get("key", value(2))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestLFURemoveMissingKeyDropsInflightFill(t *testing.T) {
	tests := []struct {
		name   string
		remove func(c *LFU[string, string])
	}{
		{"Remove", func(c *LFU[string, string]) { c.Remove("XLON") }},
		{"RemoveFunc", func(c *LFU[string, string]) {
			c.RemoveFunc(func(k string) bool { return k == "XLON" })
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLFU[string, string](2, nil)

			started := make(chan struct{})
			release := make(chan struct{})
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = c.Get("XLON", func() (string, error) {
					close(started)
					<-release
					return "old", nil
				})
			}()

			// The key is not cached yet while its fill is running.
			<-started
			tt.remove(c)
			c.Set("XLON", "new")
			close(release)
			<-done

			v, err := c.Get("XLON", func() (string, error) { return "refilled", nil })
			require.NoError(t, err)
			assert.Equal(t, "new", v)
		})
	}
}

func TestLFUStructKeys(t *testing.T) {
	type key struct {
		venue string
		year  int
	}
	c := NewLFU[key, int](4, nil)

	a, err := c.Get(key{"XLON", 2024}, value(1))
	require.NoError(t, err)
	b, err := c.Get(key{"XLON", 2025}, value(2))
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 2, c.Len())
}

func TestLFUMinimumCapacity(t *testing.T) {
	c := NewLFU[int, int](0, nil)
	assert.Equal(t, 1, c.Cap())
	c.Set(1, 1)
	c.Set(2, 2)
	assert.Equal(t, 1, c.Len())
}
