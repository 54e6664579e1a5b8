// Package tilecache caches immutable raster tiles keyed by zoom/x/y on
// top of a byte-budgeted store, with neighbor preloading.
package tilecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpineops/trailcache/internal/cache/keys"
	"github.com/alpineops/trailcache/internal/cache/sizedcache"
	"github.com/alpineops/trailcache/internal/core/observability"
	mylog "github.com/alpineops/trailcache/internal/logger"
)

type TileKey struct {
	Z, X, Y int
}

func (k TileKey) String() string { return keys.Tile(k.Z, k.X, k.Y) }

// Tile owns its decoded bytes. Release is one-shot and drops the buffer;
// the cache calls it when the entry leaves the store.
type Tile struct {
	Key         TileKey
	ContentType string
	FetchedAt   time.Time

	mu   sync.Mutex
	data []byte
}

func newTile(key TileKey, data []byte, contentType string, fetchedAt time.Time) *Tile {
	return &Tile{Key: key, ContentType: contentType, FetchedAt: fetchedAt, data: data}
}

// Data returns the tile bytes, or nil after Release.
func (t *Tile) Data() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

func (t *Tile) Release() {
	t.mu.Lock()
	t.data = nil
	t.mu.Unlock()
}

var _ sizedcache.Releasable = (*Tile)(nil)

// Provider fetches raw tile bytes from the imagery backend. URL
// templating and the API key live behind this seam.
type Provider interface {
	FetchTile(ctx context.Context, z, x, y int) ([]byte, string, error)
}

type Options struct {
	MaxBytes     int64
	MaxEntries   int
	Expiry       time.Duration
	PreloadBatch int
	PreloadDelay time.Duration
}

func (o *Options) fill() {
	if o.MaxBytes <= 0 {
		o.MaxBytes = 100 << 20
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 1000
	}
	if o.Expiry <= 0 {
		o.Expiry = 24 * time.Hour
	}
	if o.PreloadBatch <= 0 {
		o.PreloadBatch = 5
	}
	if o.PreloadDelay < 0 {
		o.PreloadDelay = 100 * time.Millisecond
	}
}

// Cache wraps the sized store behind one mutex: the preload session runs
// on its own goroutine, so unlike the track cache this owner is not
// single-writer by construction.
type Cache struct {
	logger   *slog.Logger
	provider Provider
	opts     Options

	mu         sync.Mutex
	store      *sizedcache.Cache[*Tile]
	preloading bool

	preloadWG sync.WaitGroup

	now func() time.Time
}

func New(logger *slog.Logger, provider Provider, opts Options) *Cache {
	opts.fill()
	c := &Cache{
		logger:   logger,
		provider: provider,
		opts:     opts,
		now:      time.Now,
	}
	c.store = sizedcache.New(opts.MaxBytes,
		sizedcache.WithStaleAfter[*Tile](0), // tiles expire by age, not idleness
		sizedcache.WithOnEvict[*Tile](func(_, reason string) {
			observability.IncEviction("tile", reason)
		}),
	)
	return c
}

// GetTile returns the cached tile or fetches it from the provider. Fetch
// failures propagate and leave the cache untouched.
func (c *Cache) GetTile(ctx context.Context, z, x, y int) (*Tile, error) {
	key := TileKey{Z: z, X: x, Y: y}

	c.mu.Lock()
	if t, ok := c.store.Peek(key.String()); ok && !c.expired(t) {
		c.store.Get(key.String()) // count the hit, bump recency
		c.mu.Unlock()
		observability.IncCacheHit("tile")
		return t, nil
	}
	// absent or expired: drop the stale entry and count a miss
	c.store.Remove(key.String())
	c.store.Get(key.String())
	c.mu.Unlock()
	observability.IncCacheMiss("tile")

	t, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.admit(key, t)
	c.mu.Unlock()
	return t, nil
}

func (c *Cache) fetch(ctx context.Context, key TileKey) (*Tile, error) {
	start := c.now()
	data, contentType, err := c.provider.FetchTile(ctx, key.Z, key.X, key.Y)
	dur := c.now().Sub(start).Seconds()
	if err != nil {
		observability.ObserveTileFetch("error", dur)
		return nil, fmt.Errorf("fetch tile %s: %w", key, err)
	}
	observability.ObserveTileFetch("ok", dur)
	return newTile(key, data, contentType, c.now()), nil
}

// admit stores the tile and enforces the secondary entry-count cap with
// the same eviction order as the byte cap. Caller holds c.mu.
func (c *Cache) admit(key TileKey, t *Tile) {
	c.store.Put(key.String(), t, int64(len(t.Data())), 1)
	for c.store.Len() > c.opts.MaxEntries {
		if !c.store.EvictOne() {
			break
		}
	}
	observability.SetCacheBytes("tile", c.store.SizeBytes())
}

func (c *Cache) expired(t *Tile) bool {
	return c.now().Sub(t.FetchedAt) > c.opts.Expiry
}

// NeighborKeys lists the ring of keys around the center for the given
// radius, center excluded, in row-major order.
func NeighborKeys(z, x, y, radius int) []TileKey {
	if radius < 1 {
		radius = 1
	}
	out := make([]TileKey, 0, (2*radius+1)*(2*radius+1)-1)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			out = append(out, TileKey{Z: z, X: x + dx, Y: y + dy})
		}
	}
	return out
}

// PreloadAround warms the neighbors of a viewport center. Freshly cached
// keys are skipped; the rest are fetched in fixed-size batches with a
// short pause between batches. At most one preload session runs at a
// time; re-entrant calls are no-ops. Returns the number of keys queued.
func (c *Cache) PreloadAround(ctx context.Context, z, x, y, radius int) int {
	c.mu.Lock()
	if c.preloading {
		c.mu.Unlock()
		return 0
	}
	var queue []TileKey
	for _, k := range NeighborKeys(z, x, y, radius) {
		// expired neighbors count as absent, same as in GetTile
		if t, ok := c.store.Peek(k.String()); ok && !c.expired(t) {
			continue
		}
		queue = append(queue, k)
	}
	if len(queue) == 0 {
		c.mu.Unlock()
		return 0
	}
	c.preloading = true
	c.mu.Unlock()

	c.preloadWG.Add(1)
	go c.runPreload(ctx, queue)
	return len(queue)
}

func (c *Cache) runPreload(ctx context.Context, queue []TileKey) {
	defer func() {
		c.mu.Lock()
		c.preloading = false
		c.mu.Unlock()
		c.preloadWG.Done()
	}()

	for len(queue) > 0 {
		n := min(c.opts.PreloadBatch, len(queue))
		batch := queue[:n]
		queue = queue[n:]

		var wg sync.WaitGroup
		for _, key := range batch {
			wg.Add(1)
			go func(key TileKey) {
				defer wg.Done()
				t, err := c.fetch(ctx, key)
				if err != nil {
					// preload failures are logged and skipped
					c.logger.WarnContext(mylog.WithItemID(ctx, key.String()),
						"tile preload failed", "err", err)
					return
				}
				c.mu.Lock()
				c.admit(key, t)
				c.mu.Unlock()
			}(key)
		}
		wg.Wait()

		if len(queue) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.PreloadDelay):
		}
	}
}

// Sweep drops expired tiles, then delegates budget maintenance to the
// store. Driven by the owner's timer.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.store.Keys() {
		if t, ok := c.store.Peek(k); ok && c.expired(t) {
			c.store.Remove(k)
		}
	}
	c.store.Sweep()
	observability.SetCacheBytes("tile", c.store.SizeBytes())
}

func (c *Cache) Stats() sizedcache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Stats()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// Clear releases every tile.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Clear()
	observability.SetCacheBytes("tile", 0)
}
