package events

import (
	"sync"
	"testing"
)

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewSyncEventBus()

	var got []Event
	bus.Subscribe(EventSignalGenerated, func(e Event) { got = append(got, e) })

	bus.PublishSignal("u1", "AAPL", "BUY", "confidence above threshold", 80, 150)
	bus.PublishError("test", "ignored")

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].Data["symbol"] != "AAPL" {
		t.Errorf("Expected symbol AAPL, got %v", got[0].Data["symbol"])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestSubscribeAllAsync(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.PublishTradeCreated("u1", "IBM", "BUY", 7, 100, 1)
	bus.PublishAlertCreated("u1", "IBM", "STOP_LOSS", "below", 95)
	bus.PublishAlertCreated("u1", "IBM", "TAKE_PROFIT", "above", 110)
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("Expected 3 deliveries, got %d", count)
	}
}
