// Package cache implements the second-level cache: one region per
// namespace, each an expiring LRU with its own invalidation epoch.
//
// Invalidate bumps the region epoch atomically. Entries stored under an
// older epoch are treated as misses and removed when next read, and a Put
// carrying the epoch of a lookup that predates an invalidation is dropped,
// so a select racing a mutation never stores what it read before the
// mutation committed.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
)

// DefaultSize is the capacity of regions configured without a size limit.
const DefaultSize = 1024

// Manager holds the cache regions. It implements nuvatis.Cache and is safe
// for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	regions  map[string]*region
	configs  map[string]nuvatis.CacheConfig
	defaults nuvatis.CacheConfig
	group    singleflight.Group
	logger   *slog.Logger
}

type region struct {
	name   string
	epoch  atomic.Uint64
	lru    *expirable.LRU[uint64, entry]
	hits   atomic.Int64
	misses atomic.Int64
	stale  atomic.Int64
}

type entry struct {
	epoch uint64
	value []byte
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegion configures the region of one namespace.
func WithRegion(namespace string, cfg nuvatis.CacheConfig) Option {
	return func(m *Manager) {
		m.configs[namespace] = cfg
	}
}

// WithDefaults sets the configuration of regions not configured explicitly.
func WithDefaults(cfg nuvatis.CacheConfig) Option {
	return func(m *Manager) {
		m.defaults = cfg
	}
}

// WithLogger sets the logger used to report invalidations.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a Manager without regions. Regions are created on
// first use.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		regions:  make(map[string]*region),
		configs:  make(map[string]nuvatis.CacheConfig),
		defaults: nuvatis.CacheConfig{Enabled: true, SizeLimit: DefaultSize, Eviction: nuvatis.EvictionLRU},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configure sets the configuration of a namespace region. It replaces an
// existing region, dropping its entries.
func (m *Manager) Configure(namespace string, cfg nuvatis.CacheConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[namespace] = cfg
	if r, ok := m.regions[namespace]; ok {
		nr := newRegion(namespace, cfg)
		nr.epoch.Store(r.epoch.Load() + 1)
		m.regions[namespace] = nr
	}
}

func newRegion(namespace string, cfg nuvatis.CacheConfig) *region {
	size := cfg.SizeLimit
	if size <= 0 {
		size = DefaultSize
	}
	// FIFO is a hint for custom caches; built-in regions are LRU.
	return &region{
		name: namespace,
		lru:  expirable.NewLRU[uint64, entry](size, nil, cfg.FlushInterval),
	}
}

func (m *Manager) region(namespace string) *region {
	m.mu.RLock()
	r, ok := m.regions[namespace]
	m.mu.RUnlock()
	if ok {
		return r
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.regions[namespace]; ok {
		return r
	}
	cfg, ok := m.configs[namespace]
	if !ok {
		cfg = m.defaults
	}
	r = newRegion(namespace, cfg)
	m.regions[namespace] = r
	return r
}

// Get implements nuvatis.Cache.
func (m *Manager) Get(_ context.Context, namespace string, key uint64) ([]byte, uint64, bool) {
	r := m.region(namespace)
	epoch := r.epoch.Load()
	e, ok := r.lru.Get(key)
	switch {
	case !ok:
		r.misses.Add(1)
		return nil, epoch, false
	case e.epoch != epoch:
		r.lru.Remove(key)
		r.stale.Add(1)
		r.misses.Add(1)
		return nil, epoch, false
	}
	r.hits.Add(1)
	return e.value, epoch, true
}

// Put implements nuvatis.Cache. The value is dropped when the region was
// invalidated after the lookup at epoch.
func (m *Manager) Put(_ context.Context, namespace string, key, epoch uint64, value []byte) {
	r := m.region(namespace)
	if r.epoch.Load() != epoch {
		return
	}
	r.lru.Add(key, entry{epoch: epoch, value: value})
}

// Invalidate implements nuvatis.Cache.
func (m *Manager) Invalidate(ctx context.Context, namespace string) {
	r := m.region(namespace)
	epoch := r.epoch.Add(1)
	m.logger.DebugContext(ctx, "cache region invalidated",
		slog.String("namespace", namespace),
		slog.Uint64("epoch", epoch),
	)
}

// Load returns the cached value for key, or calls fill and stores its
// result. Concurrent misses for the same key and epoch share one fill
// call; a lookup made after an invalidation never joins a fill started
// before it. hit is true when the value did not come from this caller's
// fill.
func (m *Manager) Load(ctx context.Context, namespace string, key uint64, fill func(context.Context) ([]byte, error)) (value []byte, hit bool, err error) {
	v, seen, ok := m.Get(ctx, namespace, key)
	if ok {
		return v, true, nil
	}
	filled := false
	flight := namespace + "\x00" + strconv.FormatUint(seen, 16) + "\x00" + strconv.FormatUint(key, 16)
	res, err, _ := m.group.Do(flight, func() (any, error) {
		v, epoch, ok := m.Get(ctx, namespace, key)
		if ok {
			return v, nil
		}
		filled = true
		v, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		m.Put(ctx, namespace, key, epoch, v)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.([]byte), !filled, nil
}

// Enabled reports whether the region of namespace is configured to serve
// results.
func (m *Manager) Enabled(namespace string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[namespace]; ok {
		return cfg.Enabled
	}
	return m.defaults.Enabled
}

// RegionStats is a snapshot of one region.
type RegionStats struct {
	Namespace string
	Len       int
	Epoch     uint64
	Hits      int64
	Misses    int64
	Stale     int64
	TTL       time.Duration
}

// Stats returns the statistics of the region of namespace.
func (m *Manager) Stats(namespace string) RegionStats {
	r := m.region(namespace)
	m.mu.RLock()
	cfg, ok := m.configs[namespace]
	if !ok {
		cfg = m.defaults
	}
	m.mu.RUnlock()
	return RegionStats{
		Namespace: r.name,
		Len:       r.lru.Len(),
		Epoch:     r.epoch.Load(),
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		Stale:     r.stale.Load(),
		TTL:       cfg.FlushInterval,
	}
}

var _ nuvatis.Cache = (*Manager)(nil)
