package climatology

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Key identifies one cached profile.
type Key struct {
	Location     string
	Lat          float64
	Lon          float64
	Variable     domain.Variable
	Granularity  domain.Granularity
	Start        time.Time
	End          time.Time
	Accumulation int
}

// Point returns the location the key's baseline is fetched for.
func (k Key) Point() domain.Location {
	return domain.Location{ID: k.Location, Lat: k.Lat, Lon: k.Lon}
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%.4f,%.4f|%s|%s|%s|%s|%d", k.Location, k.Lat, k.Lon, k.Variable, k.Granularity,
		k.Start.Format(time.DateOnly), k.End.Format(time.DateOnly), k.Accumulation)
}

// Loader produces a profile on a cache miss, typically by fetching the
// baseline series and running a Builder over it.
type Loader interface {
	LoadProfile(ctx context.Context, key Key) (*domain.Profile, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, key Key) (*domain.Profile, error)

func (f LoaderFunc) LoadProfile(ctx context.Context, key Key) (*domain.Profile, error) {
	return f(ctx, key)
}

// CacheObserver receives hit/miss notifications.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

// Cache keeps recently built profiles in an LRU and collapses concurrent
// misses for the same key into a single load. Profiles are immutable, so the
// same pointer is handed to every caller.
type Cache struct {
	loader   Loader
	lru      *lruCache
	group    singleflight.Group
	observer CacheObserver
}

// NewCache creates a cache decorator around a loader. observer may be nil.
func NewCache(loader Loader, maxEntries int, observer CacheObserver) *Cache {
	return &Cache{
		loader:   loader,
		lru:      newLRUCache(maxEntries),
		observer: observer,
	}
}

// Profile returns the cached profile for key, loading it on a miss.
// Failed loads are not cached so the next caller retries.
func (c *Cache) Profile(ctx context.Context, key Key) (*domain.Profile, error) {
	id := key.String()
	if p, ok := c.lru.get(id); ok {
		c.observe(true)
		return p, nil
	}
	c.observe(false)

	v, err, _ := c.group.Do(id, func() (any, error) {
		if p, ok := c.lru.get(id); ok {
			return p, nil
		}
		p, err := c.loader.LoadProfile(ctx, key)
		if err != nil {
			return nil, err
		}
		c.lru.put(id, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Profile), nil
}

// Len returns the number of cached profiles.
func (c *Cache) Len() int {
	return c.lru.len()
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(hit)
	}
}

// lruCache is a small thread-safe LRU of profiles.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *domain.Profile
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (*domain.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value *domain.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
