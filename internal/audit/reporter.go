// Package audit turns cache, coalescing and source-chain outcomes into bus
// events and keeps running counters of them for the metrics endpoint.
package audit

import (
	"errors"
	"time"

	"market-signal-bot/internal/events"
	"market-signal-bot/internal/logging"
	"market-signal-bot/internal/marketdata"
)

// Reporter publishes observability events. It satisfies the cache, coalesce
// and marketdata observer interfaces.
type Reporter struct {
	bus    *events.EventBus
	logger *logging.Logger
}

// NewReporter creates a reporter publishing on bus
func NewReporter(bus *events.EventBus) *Reporter {
	return &Reporter{
		bus:    bus,
		logger: logging.WithComponent("audit"),
	}
}

// CacheAccessed records a cache hit or miss
func (r *Reporter) CacheAccessed(key, class string, hit bool) {
	r.bus.Publish(events.Event{
		Type: events.EventCacheAccess,
		Data: map[string]interface{}{
			"key":   key,
			"class": class,
			"hit":   hit,
		},
	})
}

// RequestCoalesced records a caller that shared an in-flight execution
func (r *Reporter) RequestCoalesced(key string) {
	r.bus.Publish(events.Event{
		Type: events.EventRequestCoalesce,
		Data: map[string]interface{}{"key": key},
	})
}

// SourceSucceeded records a source attempt that produced usable data
func (r *Reporter) SourceSucceeded(source, kind string, latency time.Duration) {
	r.bus.Publish(events.Event{
		Type: events.EventSourceAttempt,
		Data: map[string]interface{}{
			"source":     source,
			"kind":       kind,
			"latency_ms": latency.Milliseconds(),
			"ok":         true,
		},
	})
}

// SourceFailed records a recovered source failure. Rate limits are published
// as their own event type so they can be counted apart from outages.
func (r *Reporter) SourceFailed(source, kind string, latency time.Duration, err error) {
	eventType := events.EventSourceFallback
	if errors.Is(err, marketdata.ErrRateLimited) {
		eventType = events.EventRateLimited
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	}

	r.logger.Debug("Recovered source failure", "source", source, "kind", kind, "latency", latency, "reason", reason)
	r.bus.Publish(events.Event{
		Type: eventType,
		Data: map[string]interface{}{
			"source":     source,
			"kind":       kind,
			"latency_ms": latency.Milliseconds(),
			"ok":         false,
			"reason":     reason,
			"category":   Category(err),
		},
	})
}

// Category maps an error onto the recovered-error taxonomy
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, marketdata.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, marketdata.ErrNotFound):
		return "not_found"
	case errors.Is(err, marketdata.ErrUnsupported):
		return "unsupported"
	}
	return "upstream_unavailable"
}
