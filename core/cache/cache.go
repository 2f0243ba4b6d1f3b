// Package cache is the two-tier store between tool handlers and upstream
// APIs: a TTL map in memory plus a JSON mirror on disk for entries whose
// descriptor marks them persistent. It guarantees at most one in-flight
// fetch per key; concurrent callers for the same key share one upstream
// request and one error.
package cache

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/brasildados/localidades-mcp/core/clock"
	"github.com/brasildados/localidades-mcp/core/fsx"
)

// Entry mirrors the on-disk format: {value, inserted_at, ttl}.
type Entry struct {
	Value      json.RawMessage `json:"value"`
	InsertedAt time.Time       `json:"inserted_at"`
	TTLSeconds int64           `json:"ttl"`

	persist bool
}

func (e Entry) fresh(now time.Time) bool {
	return e.InsertedAt.Add(time.Duration(e.TTLSeconds) * time.Second).After(now)
}

// Fetcher produces the value for a key on a cache miss. The boolean says
// whether the value may be stored; fallback fixture values travel through
// the cache to waiting callers but are never retained.
type Fetcher func(ctx context.Context) (json.RawMessage, bool, error)

type flight struct {
	done  chan struct{}
	value json.RawMessage
	err   error
}

type Cache struct {
	clock  clock.Clock
	logger logr.Logger
	path   string

	mu      sync.RWMutex
	entries map[string]Entry

	flightMu sync.Mutex
	flights  map[string]*flight

	dirty    chan struct{}
	flushReq chan chan struct{}
	stop     chan struct{}
	writerWG sync.WaitGroup
}

// New opens the cache. When path is non-empty the mirror document is loaded
// (a missing file is a cold start, not an error) and a single writer
// goroutine owns every subsequent disk write.
func New(clk clock.Clock, logger logr.Logger, path string) (*Cache, error) {
	c := &Cache{
		clock:    clk,
		logger:   logger.WithName("cache"),
		path:     path,
		entries:  make(map[string]Entry),
		flights:  make(map[string]*flight),
		dirty:    make(chan struct{}, 1),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
	}
	if path != "" {
		persisted := map[string]Entry{}
		if err := fsx.ReadJSON(path, &persisted); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
		for key, entry := range persisted {
			entry.persist = true
			c.entries[key] = entry
		}
		c.logger.V(1).Info("mirror loaded", "path", path, "entries", len(c.entries))
		c.writerWG.Add(1)
		go c.writerLoop()
	}
	return c, nil
}

// GetOrFetch returns the fresh cached value for key, or runs fetcher under
// the per-key flight lock and stores the result with ttl. The boolean
// reports whether the value came from cache. Failed fetches are never
// stored, so the next caller retries immediately.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, persistent bool, fetcher Fetcher) (json.RawMessage, bool, error) {
	if value, ok := c.get(key); ok {
		return value, true, nil
	}

	c.flightMu.Lock()
	if existing, ok := c.flights[key]; ok {
		c.flightMu.Unlock()
		select {
		case <-existing.done:
			return existing.value, existing.err == nil, existing.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	current := &flight{done: make(chan struct{})}
	c.flights[key] = current
	c.flightMu.Unlock()

	defer func() {
		c.flightMu.Lock()
		delete(c.flights, key)
		c.flightMu.Unlock()
		close(current.done)
	}()

	// Another caller may have finished a fetch between our fast path and
	// the flight registration.
	if value, ok := c.get(key); ok {
		current.value = value
		return value, true, nil
	}

	value, store, err := fetcher(ctx)
	if err != nil {
		current.err = err
		return nil, false, err
	}
	current.value = value
	if store {
		c.set(key, value, ttl, persistent)
	}
	return value, false, nil
}

func (c *Cache) get(key string) (json.RawMessage, bool) {
	now := c.clock.WallNow()
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.fresh(now) {
		return entry.Value, true
	}
	// Lazy eviction; re-check under the write lock.
	c.mu.Lock()
	if stale, ok := c.entries[key]; ok && !stale.fresh(now) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil, false
}

func (c *Cache) set(key string, value json.RawMessage, ttl time.Duration, persistent bool) {
	entry := Entry{
		Value:      value,
		InsertedAt: c.clock.WallNow(),
		TTLSeconds: int64(ttl / time.Second),
		persist:    persistent && c.path != "",
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	if entry.persist {
		c.markDirty()
	}
}

// Len reports the live entry count, for the usage report.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func (c *Cache) writerLoop() {
	defer c.writerWG.Done()
	for {
		select {
		case <-c.dirty:
			c.writeMirror()
		case ack := <-c.flushReq:
			c.drainDirty()
			c.writeMirror()
			close(ack)
		case <-c.stop:
			c.drainDirty()
			c.writeMirror()
			return
		}
	}
}

func (c *Cache) drainDirty() {
	select {
	case <-c.dirty:
	default:
	}
}

func (c *Cache) writeMirror() {
	snapshot := map[string]Entry{}
	c.mu.RLock()
	for key, entry := range c.entries {
		if entry.persist {
			snapshot[key] = entry
		}
	}
	c.mu.RUnlock()
	if err := fsx.WriteJSONAtomic(c.path, snapshot, 0o600); err != nil {
		c.logger.Error(err, "mirror write failed", "path", c.path)
	}
}

// Flush blocks until the mirror reflects every persistent entry.
func (c *Cache) Flush() {
	if c.path == "" {
		return
	}
	ack := make(chan struct{})
	select {
	case c.flushReq <- ack:
		<-ack
	case <-c.stop:
	}
}

// Close flushes the mirror and stops the writer. Safe to call once.
func (c *Cache) Close() {
	if c.path == "" {
		return
	}
	close(c.stop)
	c.writerWG.Wait()
}
