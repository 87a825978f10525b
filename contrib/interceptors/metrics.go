package interceptors

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
)

// Metrics is an interceptor counting executions per statement.
type Metrics struct {
	mu         sync.RWMutex
	statements map[string]*counters
}

type counters struct {
	calls     atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64
	rows      atomic.Int64
	total     atomic.Int64 // nanoseconds
	max       atomic.Int64 // nanoseconds
}

// NewMetrics returns an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{statements: make(map[string]*counters)}
}

// BeforeExecute implements nuvatis.Interceptor.
func (*Metrics) BeforeExecute(context.Context, *nuvatis.ExecContext) error { return nil }

// AfterExecute implements nuvatis.Interceptor.
func (m *Metrics) AfterExecute(_ context.Context, ec *nuvatis.ExecContext) {
	c := m.counters(ec.StatementID)
	c.calls.Add(1)
	if ec.Err != nil {
		c.errors.Add(1)
	}
	if ec.CacheHit {
		c.cacheHits.Add(1)
	}
	c.rows.Add(ec.RowsAffected)
	d := int64(ec.Elapsed)
	c.total.Add(d)
	for {
		cur := c.max.Load()
		if d <= cur || c.max.CompareAndSwap(cur, d) {
			break
		}
	}
}

func (m *Metrics) counters(id string) *counters {
	m.mu.RLock()
	c, ok := m.statements[id]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.statements[id]; !ok {
		c = new(counters)
		m.statements[id] = c
	}
	return c
}

// StatementStats is a snapshot of the counters of one statement.
type StatementStats struct {
	Statement     string
	Calls         int64
	Errors        int64
	CacheHits     int64
	Rows          int64
	TotalDuration time.Duration
	MaxDuration   time.Duration
}

// AvgDuration returns the mean duration of all calls.
func (s StatementStats) AvgDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

func (s StatementStats) String() string {
	return fmt.Sprintf(
		"%s: calls=%d errors=%d cache_hits=%d rows=%d avg=%s max=%s",
		s.Statement, s.Calls, s.Errors, s.CacheHits, s.Rows, s.AvgDuration(), s.MaxDuration,
	)
}

// Stats returns the counters of statement id.
func (m *Metrics) Stats(id string) StatementStats {
	m.mu.RLock()
	c, ok := m.statements[id]
	m.mu.RUnlock()
	if !ok {
		return StatementStats{Statement: id}
	}
	return StatementStats{
		Statement:     id,
		Calls:         c.calls.Load(),
		Errors:        c.errors.Load(),
		CacheHits:     c.cacheHits.Load(),
		Rows:          c.rows.Load(),
		TotalDuration: time.Duration(c.total.Load()),
		MaxDuration:   time.Duration(c.max.Load()),
	}
}

// All returns the counters of every statement seen, sorted by id.
func (m *Metrics) All() []StatementStats {
	m.mu.RLock()
	ids := slices.Sorted(maps.Keys(m.statements))
	m.mu.RUnlock()
	out := make([]StatementStats, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.Stats(id))
	}
	return out
}

// Reset drops all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	clear(m.statements)
	m.mu.Unlock()
}

var _ nuvatis.Interceptor = (*Metrics)(nil)
