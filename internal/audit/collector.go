package audit

import (
	"sort"
	"sync"
	"time"

	"market-signal-bot/internal/events"
)

// SourceStats aggregates the attempts made against one source
type SourceStats struct {
	Source       string    `json:"source"`
	Successes    int64     `json:"successes"`
	Failures     int64     `json:"failures"`
	RateLimited  int64     `json:"rate_limited"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	LastReason   string    `json:"last_reason,omitempty"`
	LastFailure  time.Time `json:"last_failure,omitempty"`

	latencyTotal int64
	latencyCount int64
}

// Metrics is a point-in-time copy of the collector's counters
type Metrics struct {
	StartedAt   time.Time                 `json:"started_at"`
	CacheHits   int64                     `json:"cache_hits"`
	CacheMisses int64                     `json:"cache_misses"`
	Coalesced   int64                     `json:"coalesced"`
	Sources     []SourceStats             `json:"sources"`
	Events      map[events.EventType]int64 `json:"events"`
}

// Collector tallies bus events
type Collector struct {
	mu        sync.Mutex
	startedAt time.Time
	hits      int64
	misses    int64
	coalesced int64
	sources   map[string]*SourceStats
	counts    map[events.EventType]int64
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		startedAt: time.Now(),
		sources:   make(map[string]*SourceStats),
		counts:    make(map[events.EventType]int64),
	}
}

// Attach subscribes the collector to every event on bus
func (c *Collector) Attach(bus *events.EventBus) {
	bus.SubscribeAll(c.Observe)
}

// Observe updates counters from one event
func (c *Collector) Observe(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[e.Type]++

	switch e.Type {
	case events.EventCacheAccess:
		if hit, _ := e.Data["hit"].(bool); hit {
			c.hits++
		} else {
			c.misses++
		}
	case events.EventRequestCoalesce:
		c.coalesced++
	case events.EventSourceAttempt, events.EventSourceFallback, events.EventRateLimited:
		name, _ := e.Data["source"].(string)
		if name == "" {
			return
		}
		st, ok := c.sources[name]
		if !ok {
			st = &SourceStats{Source: name}
			c.sources[name] = st
		}
		if ms, ok := e.Data["latency_ms"].(int64); ok {
			st.latencyTotal += ms
			st.latencyCount++
		}
		switch e.Type {
		case events.EventSourceAttempt:
			st.Successes++
		case events.EventRateLimited:
			st.RateLimited++
			fallthrough
		default:
			st.Failures++
			st.LastReason, _ = e.Data["reason"].(string)
			st.LastFailure = e.Timestamp
		}
	}
}

// Snapshot copies the counters
func (c *Collector) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{
		StartedAt:   c.startedAt,
		CacheHits:   c.hits,
		CacheMisses: c.misses,
		Coalesced:   c.coalesced,
		Sources:     make([]SourceStats, 0, len(c.sources)),
		Events:      make(map[events.EventType]int64, len(c.counts)),
	}
	for _, st := range c.sources {
		cp := *st
		if cp.latencyCount > 0 {
			cp.AvgLatencyMs = float64(cp.latencyTotal) / float64(cp.latencyCount)
		}
		m.Sources = append(m.Sources, cp)
	}
	sort.Slice(m.Sources, func(i, j int) bool { return m.Sources[i].Source < m.Sources[j].Source })
	for k, v := range c.counts {
		m.Events[k] = v
	}
	return m
}
