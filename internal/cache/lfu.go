// Package cache provides a bounded least-frequently-used cache whose misses
// are filled at most once per key at a time.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Observer receives cache events. Any of its methods may be called
// concurrently.
type Observer interface {
	Hit()
	Miss()
	Evict()
}

type entry[K comparable, V any] struct {
	key   K
	value V
	freq  int
	elem  *list.Element
}

// LFU is a fixed capacity cache evicting the least frequently used entry,
// and among those the least recently used one.
type LFU[K comparable, V any] struct {
	capacity int
	observer Observer

	mu      sync.Mutex
	entries map[K]*entry[K, V]
	freqs   map[int]*list.List
	minFreq int
	// gen changes whenever entries are invalidated so fills that started
	// before the invalidation do not store stale values.
	gen   uint64
	group *singleflight.Group
}

// NewLFU returns an empty cache holding at most capacity entries. A capacity
// below one is raised to one. observer may be nil.
func NewLFU[K comparable, V any](capacity int, observer Observer) *LFU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LFU[K, V]{
		capacity: capacity,
		observer: observer,
		entries:  make(map[K]*entry[K, V], capacity),
		freqs:    make(map[int]*list.List),
		group:    &singleflight.Group{},
	}
}

// Get returns the cached value for key, calling fill on a miss. Concurrent
// misses for the same key share a single fill call. Errors are returned to
// every waiting caller and are not cached.
func (c *LFU[K, V]) Get(key K, fill func() (V, error)) (V, error) {
	if v, ok := c.Peek(key); ok {
		c.hit()
		return v, nil
	}
	c.miss()

	c.mu.Lock()
	group := c.group
	c.mu.Unlock()

	v, err, _ := group.Do(fmt.Sprintf("%#v", key), func() (any, error) {
		// Another fill may have completed between the miss and this call.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			c.touch(e)
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		gen := c.gen
		c.mu.Unlock()

		v, err := fill()
		if err != nil {
			return v, err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.set(key, v)
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Peek returns the cached value for key and counts it as a use.
func (c *LFU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.touch(e)
	return e.value, true
}

// Set stores value under key, evicting an entry if the cache is full.
func (c *LFU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value)
}

// Remove drops key from the cache and reports whether it was present.
// Fills already in flight are discarded either way.
func (c *LFU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidate()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.unlink(e)
	return true
}

// RemoveFunc drops every entry whose key matches and returns how many were
// dropped. Like Remove it discards fills in flight.
func (c *LFU[K, V]) RemoveFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidate()
	n := 0
	for k, e := range c.entries {
		if match(k) {
			c.unlink(e)
			n++
		}
	}
	return n
}

// Purge drops every entry.
func (c *LFU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*entry[K, V], c.capacity)
	c.freqs = make(map[int]*list.List)
	c.minFreq = 0
	c.invalidate()
}

// Len returns the number of cached entries.
func (c *LFU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cap returns the cache capacity.
func (c *LFU[K, V]) Cap() int {
	return c.capacity
}

func (c *LFU[K, V]) invalidate() {
	c.gen++
	c.group = &singleflight.Group{}
}

func (c *LFU[K, V]) set(key K, value V) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.touch(e)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evict()
	}

	e := &entry[K, V]{key: key, value: value, freq: 1}
	e.elem = c.bucket(1).PushFront(e)
	c.entries[key] = e
	c.minFreq = 1
}

func (c *LFU[K, V]) touch(e *entry[K, V]) {
	old := c.freqs[e.freq]
	old.Remove(e.elem)
	if old.Len() == 0 {
		delete(c.freqs, e.freq)
		if c.minFreq == e.freq {
			c.minFreq = e.freq + 1
		}
	}
	e.freq++
	e.elem = c.bucket(e.freq).PushFront(e)
}

func (c *LFU[K, V]) evict() {
	l, ok := c.freqs[c.minFreq]
	if !ok {
		return
	}
	victim := l.Back().Value.(*entry[K, V])
	c.unlink(victim)
	if c.observer != nil {
		c.observer.Evict()
	}
}

func (c *LFU[K, V]) unlink(e *entry[K, V]) {
	l := c.freqs[e.freq]
	l.Remove(e.elem)
	if l.Len() == 0 {
		delete(c.freqs, e.freq)
		if c.minFreq == e.freq {
			c.minFreq = c.lowestFreq()
		}
	}
	delete(c.entries, e.key)
}

// lowestFreq scans the buckets; only needed after removals, never on the
// hit path.
func (c *LFU[K, V]) lowestFreq() int {
	lowest := 0
	for f := range c.freqs {
		if lowest == 0 || f < lowest {
			lowest = f
		}
	}
	return lowest
}

func (c *LFU[K, V]) bucket(freq int) *list.List {
	l, ok := c.freqs[freq]
	if !ok {
		l = list.New()
		c.freqs[freq] = l
	}
	return l
}

func (c *LFU[K, V]) hit() {
	if c.observer != nil {
		c.observer.Hit()
	}
}

func (c *LFU[K, V]) miss() {
	if c.observer != nil {
		c.observer.Miss()
	}
}
