package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"market-signal-bot/config"
	"market-signal-bot/internal/events"
	"market-signal-bot/internal/logging"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream key used when none is configured
const DefaultStream = "market:audit"

// StreamSink appends bus events to a Redis stream. When Redis is unreachable
// the sink degrades: appends fail fast until a background ping succeeds.
type StreamSink struct {
	client       *redis.Client
	stream       string
	maxLen       int64
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time
	dropped      int64

	// Circuit breaker settings
	maxFailures   int
	checkInterval time.Duration

	logger *logging.Logger
}

// NewStreamSink connects to Redis. A failed initial ping returns the sink in
// degraded mode rather than an error.
func NewStreamSink(cfg config.RedisConfig) (*StreamSink, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 1,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	s := newStreamSink(client, cfg.Stream, cfg.StreamMax)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("Initial Redis connection failed, audit stream degraded", "address", cfg.Address, "error", err)
		return s, nil
	}

	s.healthy = true
	s.lastCheck = time.Now()
	s.logger.Info("Audit stream connected", "address", cfg.Address, "stream", s.stream)
	return s, nil
}

func newStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &StreamSink{
		client:        client,
		stream:        stream,
		maxLen:        maxLen,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
		logger:        logging.WithComponent("audit-stream"),
	}
}

// IsHealthy returns whether Redis is currently available
func (s *StreamSink) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *StreamSink) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
	if s.failureCount >= s.maxFailures {
		if s.healthy {
			s.logger.Warn("Circuit breaker OPEN: audit stream marked unhealthy", "failures", s.failureCount)
		}
		s.healthy = false
	}
}

func (s *StreamSink) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy {
		s.logger.Info("Circuit breaker CLOSED: audit stream recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

// checkHealth pings in the background when the breaker is open and the
// check interval has passed
func (s *StreamSink) checkHealth() {
	s.mu.Lock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	if shouldCheck {
		s.lastCheck = time.Now()
	}
	s.mu.Unlock()

	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(ctx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// Append writes one event to the stream
func (s *StreamSink) Append(ctx context.Context, e events.Event) error {
	s.checkHealth()

	if !s.IsHealthy() {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(e.Type),
			"ts":   e.Timestamp.UnixMilli(),
			"data": string(data),
		},
	}).Err()
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("redis xadd failed: %w", err)
	}

	s.recordSuccess()
	return nil
}

// Handle is a bus subscriber. Cache accesses are skipped; they are counted by
// the collector and would dominate the stream.
func (s *StreamSink) Handle(e events.Event) {
	if e.Type == events.EventCacheAccess {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Append(ctx, e); err != nil {
		s.logger.Debug("Audit event not written", "type", e.Type, "error", err)
	}
}

// Attach subscribes the sink to every event on bus
func (s *StreamSink) Attach(bus *events.EventBus) {
	bus.SubscribeAll(s.Handle)
}

// Recent returns the newest n stream entries, newest first
func (s *StreamSink) Recent(ctx context.Context, n int64) ([]events.Event, error) {
	if !s.IsHealthy() {
		return nil, fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", n).Result()
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("redis xrevrange failed: %w", err)
	}
	s.recordSuccess()

	out := make([]events.Event, 0, len(msgs))
	for _, m := range msgs {
		e, err := decodeStreamEntry(m.Values)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeStreamEntry(values map[string]interface{}) (events.Event, error) {
	var e events.Event
	typ, _ := values["type"].(string)
	if typ == "" {
		return e, fmt.Errorf("entry has no type")
	}
	e.Type = events.EventType(typ)

	switch ts := values["ts"].(type) {
	case string:
		var ms int64
		if _, err := fmt.Sscan(ts, &ms); err == nil {
			e.Timestamp = time.UnixMilli(ms)
		}
	case int64:
		e.Timestamp = time.UnixMilli(ts)
	}

	if raw, ok := values["data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Data); err != nil {
			return e, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}
	return e, nil
}

// StreamStats reports the sink's health
type StreamStats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Dropped      int64  `json:"dropped"`
	Stream       string `json:"stream"`
}

// Stats returns current sink statistics
func (s *StreamSink) Stats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StreamStats{
		Healthy:      s.healthy,
		FailureCount: s.failureCount,
		Dropped:      s.dropped,
		Stream:       s.stream,
	}
}

// Close closes the Redis connection
func (s *StreamSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
