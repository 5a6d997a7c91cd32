// Package cache provides the in-memory TTL store shared by the market data
// layer. Retention depends on the class of data stored, and expiry is lazy:
// an entry is only evicted when a read finds it stale.
package cache

import (
	"strings"
	"sync"
	"time"

	"market-signal-bot/config"
)

// Class names a retention policy
type Class string

const (
	ClassIntraday   Class = "intraday"
	ClassDaily      Class = "daily"
	ClassHistorical Class = "historical"
	ClassNews       Class = "news"
	ClassAnalysis   Class = "analysis"
	ClassSearch     Class = "search"
	ClassExtended   Class = "extended"
)

// Classes lists every retention class
var Classes = []Class{
	ClassIntraday, ClassDaily, ClassHistorical, ClassNews,
	ClassAnalysis, ClassSearch, ClassExtended,
}

// TTLs maps a class to its expiry
type TTLs map[Class]time.Duration

// DefaultTTLs returns the stock retention per class
func DefaultTTLs() TTLs {
	return TTLs{
		ClassIntraday:   3 * time.Minute,
		ClassDaily:      10 * time.Minute,
		ClassHistorical: 45 * time.Minute,
		ClassNews:       8 * time.Minute,
		ClassAnalysis:   20 * time.Minute,
		ClassSearch:     5 * time.Minute,
		ClassExtended:   120 * time.Minute,
	}
}

// TTLsFromConfig overlays configured minutes on the defaults
func TTLsFromConfig(cfg config.CacheConfig) TTLs {
	ttls := DefaultTTLs()
	set := func(c Class, minutes int) {
		if minutes > 0 {
			ttls[c] = time.Duration(minutes) * time.Minute
		}
	}
	set(ClassIntraday, cfg.IntradayMinutes)
	set(ClassDaily, cfg.DailyMinutes)
	set(ClassHistorical, cfg.HistoricalMinutes)
	set(ClassNews, cfg.NewsMinutes)
	set(ClassAnalysis, cfg.AnalysisMinutes)
	set(ClassSearch, cfg.SearchMinutes)
	set(ClassExtended, cfg.ExtendedMinutes)
	return ttls
}

// Observer is notified of every read
type Observer interface {
	CacheAccessed(key, class string, hit bool)
}

type entry struct {
	value    interface{}
	class    Class
	storedAt time.Time
}

// Stats is a snapshot of store counters
type Stats struct {
	Entries   int              `json:"entries"`
	Hits      int64            `json:"hits"`
	Misses    int64            `json:"misses"`
	Evictions int64            `json:"evictions"`
	HitRate   float64          `json:"hit_rate"`
	ByClass   map[string]int   `json:"by_class"`
	TTLs      map[string]int64 `json:"ttl_seconds"`
}

// Store is a keyed TTL cache
type Store struct {
	mu        sync.Mutex
	entries   map[string]*entry
	ttls      TTLs
	now       func() time.Time
	observer  Observer
	hits      int64
	misses    int64
	evictions int64
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithObserver attaches a hit/miss observer
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// NewStore creates a store. Classes missing from ttls use the defaults.
func NewStore(ttls TTLs, opts ...Option) *Store {
	merged := DefaultTTLs()
	for c, d := range ttls {
		if d > 0 {
			merged[c] = d
		}
	}
	s := &Store{
		entries: make(map[string]*entry),
		ttls:    merged,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the expiry for a class
func (s *Store) TTL(class Class) time.Duration {
	return s.ttls[class]
}

func namespaced(key string, class Class) string {
	return string(class) + ":" + strings.ToLower(key)
}

// Get returns the value stored under key when it is younger than the class TTL.
// A stale entry is evicted.
func (s *Store) Get(key string, class Class) (interface{}, bool) {
	nk := namespaced(key, class)

	s.mu.Lock()
	e, ok := s.entries[nk]
	if ok && s.now().Sub(e.storedAt) >= s.ttls[class] {
		delete(s.entries, nk)
		s.evictions++
		ok = false
	}
	if ok {
		s.hits++
	} else {
		s.misses++
	}
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer.CacheAccessed(key, string(class), ok)
	}
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key in the given class
func (s *Store) Set(key string, value interface{}, class Class) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[namespaced(key, class)] = &entry{
		value:    value,
		class:    class,
		storedAt: s.now(),
	}
}

// Delete removes key from class
func (s *Store) Delete(key string, class Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, namespaced(key, class))
}

// Len reports stored entries, including ones not yet evicted
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns a snapshot of the store counters
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Entries:   len(s.entries),
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		ByClass:   make(map[string]int),
		TTLs:      make(map[string]int64, len(s.ttls)),
	}
	for _, e := range s.entries {
		st.ByClass[string(e.class)]++
	}
	for c, d := range s.ttls {
		st.TTLs[string(c)] = int64(d / time.Second)
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	return st
}

// Lookup is a typed Get. A stored value of another type counts as a miss.
func Lookup[T any](s *Store, key string, class Class) (T, bool) {
	var zero T
	v, ok := s.Get(key, class)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
