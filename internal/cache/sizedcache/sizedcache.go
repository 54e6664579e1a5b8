// Package sizedcache implements a bounded-memory key/value store with
// priority- and recency-aware eviction.
//
// The cache is single-writer: all mutating calls must come from one
// goroutine (or be serialized by the owner). It holds no internal lock.
package sizedcache

import "time"

// Releasable payloads get released exactly once, when the entry leaves
// the cache (eviction, Remove, Clear or replacement).
type Releasable interface {
	Release()
}

type entry[V any] struct {
	key          string
	payload      V
	sizeBytes    int64
	lastAccessed time.Time
	accessCount  int
	priority     float64
}

type Stats struct {
	TotalItems     int     `json:"total_items"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	MaxBytes       int64   `json:"max_bytes"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	MissRate       float64 `json:"miss_rate"`
	EvictedCount   int64   `json:"evicted_count"`
}

type Cache[V any] struct {
	maxBytes     int64
	currentBytes int64
	entries      map[string]*entry[V]

	hits    int64
	misses  int64
	evicted int64

	// staleAfter bounds entry idle time during Sweep.
	staleAfter time.Duration

	// onEvict observes every entry leaving the cache with the reason
	// ("evict", "stale", "remove", "clear", "replace"). Optional.
	onEvict func(key string, reason string)

	now func() time.Time
}

type Option[V any] func(*Cache[V])

func WithStaleAfter[V any](d time.Duration) Option[V] {
	return func(c *Cache[V]) { c.staleAfter = d }
}

func WithOnEvict[V any](fn func(key, reason string)) Option[V] {
	return func(c *Cache[V]) { c.onEvict = fn }
}

func New[V any](maxBytes int64, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		maxBytes:   maxBytes,
		entries:    make(map[string]*entry[V]),
		staleAfter: 30 * time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Put stores payload under key, replacing any previous entry. It evicts by
// ascending (priority, lastAccessed) until the byte budget holds again.
// Returns false, leaving the cache unchanged, when the payload alone
// exceeds the budget and other entries exist; an oversized entry that
// would be alone after the put is admitted (documented degenerate case).
func (c *Cache[V]) Put(key string, payload V, sizeBytes int64, priority float64) bool {
	if priority == 0 {
		priority = 1
	}

	old, replacing := c.entries[key]

	if sizeBytes > c.maxBytes {
		others := len(c.entries)
		if replacing {
			others--
		}
		if others > 0 {
			return false
		}
	}

	if replacing {
		c.drop(old, "replace")
	}

	e := &entry[V]{
		key:          key,
		payload:      payload,
		sizeBytes:    sizeBytes,
		lastAccessed: c.now(),
		accessCount:  1,
		priority:     priority,
	}
	c.entries[key] = e
	c.currentBytes += sizeBytes

	c.evictOverBudget(e)
	return true
}

// Get returns the payload and updates recency counters on hit.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	e.accessCount++
	e.lastAccessed = c.now()
	return e.payload, true
}

// Peek returns the payload without touching recency or hit/miss counters.
func (c *Cache[V]) Peek(key string) (V, bool) {
	if e, ok := c.entries[key]; ok {
		return e.payload, true
	}
	var zero V
	return zero, false
}

func (c *Cache[V]) Contains(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Remove deletes the entry if present. Idempotent.
func (c *Cache[V]) Remove(key string) {
	if e, ok := c.entries[key]; ok {
		c.drop(e, "remove")
	}
}

// Clear releases every entry. Lifetime counters are kept; use ResetStats
// to zero them.
func (c *Cache[V]) Clear() {
	for _, e := range c.entries {
		c.drop(e, "clear")
	}
}

func (c *Cache[V]) ResetStats() {
	c.hits, c.misses, c.evicted = 0, 0, 0
}

// SetLimit updates the byte budget and evicts until it holds.
func (c *Cache[V]) SetLimit(maxBytes int64) {
	c.maxBytes = maxBytes
	c.evictOverBudget(nil)
}

func (c *Cache[V]) Len() int { return len(c.entries) }

func (c *Cache[V]) SizeBytes() int64 { return c.currentBytes }

func (c *Cache[V]) Keys() []string {
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	return out
}

func (c *Cache[V]) Stats() Stats {
	s := Stats{
		TotalItems:     len(c.entries),
		TotalSizeBytes: c.currentBytes,
		MaxBytes:       c.maxBytes,
		Hits:           c.hits,
		Misses:         c.misses,
		EvictedCount:   c.evicted,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
		s.MissRate = float64(c.misses) / float64(total)
	}
	return s
}

// Sweep is periodic maintenance, driven by the owner's timer: stale
// entries go first, then the bottom 20% by (priority, lastAccessed) if
// the cache still sits above 80% of its budget.
func (c *Cache[V]) Sweep() {
	if c.staleAfter > 0 {
		cutoff := c.now().Add(-c.staleAfter)
		for _, e := range c.entries {
			if e.lastAccessed.Before(cutoff) {
				c.drop(e, "stale")
				c.evicted++
			}
		}
	}

	if c.maxBytes <= 0 || c.currentBytes <= c.maxBytes*8/10 {
		return
	}
	n := len(c.entries) / 5
	for range n {
		v := c.victim(nil)
		if v == nil {
			return
		}
		c.drop(v, "evict")
		c.evicted++
	}
}

// EvictOne removes the current eviction victim regardless of budget.
// Used by owners that enforce a secondary cap (e.g. max entry count).
func (c *Cache[V]) EvictOne() bool {
	v := c.victim(nil)
	if v == nil {
		return false
	}
	c.drop(v, "evict")
	c.evicted++
	return true
}

// evictOverBudget evicts until currentBytes <= maxBytes. keep is spared
// only while another victim exists, which preserves the single-oversized-
// entry degenerate case.
func (c *Cache[V]) evictOverBudget(keep *entry[V]) {
	for c.currentBytes > c.maxBytes && len(c.entries) > 0 {
		v := c.victim(keep)
		if v == nil {
			return
		}
		c.drop(v, "evict")
		c.evicted++
	}
}

// victim selects the entry with the smallest (priority, lastAccessed),
// priority compared first, older lastAccessed breaking ties. Key order
// breaks exact ties for determinism.
func (c *Cache[V]) victim(skip *entry[V]) *entry[V] {
	var best *entry[V]
	for _, e := range c.entries {
		if e == skip {
			continue
		}
		if best == nil || less(e, best) {
			best = e
		}
	}
	return best
}

func less[V any](a, b *entry[V]) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if !a.lastAccessed.Equal(b.lastAccessed) {
		return a.lastAccessed.Before(b.lastAccessed)
	}
	return a.key < b.key
}

func (c *Cache[V]) drop(e *entry[V], reason string) {
	delete(c.entries, e.key)
	c.currentBytes -= e.sizeBytes
	if r, ok := any(e.payload).(Releasable); ok {
		r.Release()
	}
	if c.onEvict != nil {
		c.onEvict(e.key, reason)
	}
}
