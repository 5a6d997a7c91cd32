package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	// Data acquisition
	EventSourceAttempt   EventType = "SOURCE_ATTEMPT"
	EventSourceFallback  EventType = "SOURCE_FALLBACK"
	EventRateLimited     EventType = "RATE_LIMITED"
	EventCacheAccess     EventType = "CACHE_ACCESS"
	EventRequestCoalesce EventType = "REQUEST_COALESCED"

	// Signal pipeline
	EventAnalysisGenerated EventType = "ANALYSIS_GENERATED"
	EventSignalGenerated   EventType = "SIGNAL_GENERATED"
	EventSignalSuppressed  EventType = "SIGNAL_SUPPRESSED"
	EventTradeCreated      EventType = "TRADE_CREATED"
	EventAlertCreated      EventType = "ALERT_CREATED"
	EventSettingsUpdated   EventType = "SETTINGS_UPDATED"

	EventError EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu           sync.RWMutex
	subscribers  map[EventType][]Subscriber
	allSubs      []Subscriber
	syncDelivery bool
	wg           sync.WaitGroup
}

// NewEventBus creates a new event bus that delivers asynchronously
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// NewSyncEventBus creates a bus that delivers on the publishing goroutine
func NewSyncEventBus() *EventBus {
	eb := NewEventBus()
	eb.syncDelivery = true
	return eb
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := make([]Subscriber, 0, len(eb.subscribers[event.Type])+len(eb.allSubs))
	subs = append(subs, eb.subscribers[event.Type]...)
	subs = append(subs, eb.allSubs...)
	eb.mu.RUnlock()

	for _, sub := range subs {
		if eb.syncDelivery {
			sub(event)
			continue
		}
		eb.wg.Add(1)
		go func(s Subscriber) {
			defer eb.wg.Done()
			s(event)
		}(sub)
	}
}

// Wait blocks until every asynchronous delivery started so far has returned
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(userID, symbol, signal, reason string, confidence, price float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"user_id":    userID,
			"symbol":     symbol,
			"signal":     signal,
			"reason":     reason,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// PublishSignalSuppressed publishes a suppressed decision
func (eb *EventBus) PublishSignalSuppressed(userID, symbol, signal, reason string, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalSuppressed,
		Data: map[string]interface{}{
			"user_id":    userID,
			"symbol":     symbol,
			"signal":     signal,
			"reason":     reason,
			"confidence": confidence,
		},
	})
}

// PublishTradeCreated publishes a pending trade record
func (eb *EventBus) PublishTradeCreated(userID, symbol, side string, tradeID int64, price, quantity float64) {
	eb.Publish(Event{
		Type: EventTradeCreated,
		Data: map[string]interface{}{
			"user_id":  userID,
			"symbol":   symbol,
			"side":     side,
			"trade_id": tradeID,
			"price":    price,
			"quantity": quantity,
		},
	})
}

// PublishAlertCreated publishes a protective price alert
func (eb *EventBus) PublishAlertCreated(userID, symbol, alertType, condition string, target float64) {
	eb.Publish(Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{
			"user_id":      userID,
			"symbol":       symbol,
			"alert_type":   alertType,
			"condition":    condition,
			"target_price": target,
		},
	})
}

// PublishAnalysis publishes a completed automated analysis
func (eb *EventBus) PublishAnalysis(userID, symbol, recommendation, trigger string, confidence float64) {
	eb.Publish(Event{
		Type: EventAnalysisGenerated,
		Data: map[string]interface{}{
			"user_id":        userID,
			"symbol":         symbol,
			"recommendation": recommendation,
			"trigger":        trigger,
			"confidence":     confidence,
		},
	})
}

// PublishSettingsUpdated publishes a change to a user's automation settings
func (eb *EventBus) PublishSettingsUpdated(userID string, enabled bool) {
	eb.Publish(Event{
		Type: EventSettingsUpdated,
		Data: map[string]interface{}{
			"user_id": userID,
			"enabled": enabled,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}
