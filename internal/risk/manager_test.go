package risk

import (
	"context"
	"errors"
	"testing"

	"market-signal-bot/internal/database"
	"market-signal-bot/internal/events"

	"github.com/google/uuid"
)

type fakeAlertStore struct {
	alerts []*database.PriceAlert
	failOn string
}

func (f *fakeAlertStore) CreateAlert(ctx context.Context, alert *database.PriceAlert) error {
	if alert.Type == f.failOn {
		return errors.New("insert failed")
	}
	alert.ID = int64(len(f.alerts) + 1)
	alert.Active = true
	f.alerts = append(f.alerts, alert)
	return nil
}

func settings(sl, tp float64) database.AutomationSettings {
	return database.AutomationSettings{UserID: "u1", StopLossPercent: sl, TakeProfitPercent: tp}
}

func TestProtectBuy(t *testing.T) {
	store := &fakeAlertStore{}
	bus := events.NewSyncEventBus()
	var published int
	bus.Subscribe(events.EventAlertCreated, func(e events.Event) { published++ })

	m := NewManager(store, bus)
	signal := &database.AutomationSignal{ID: uuid.New(), UserID: "u1", Symbol: "IBM", Action: SideBuy, EntryPrice: 100}

	order, err := m.Protect(context.Background(), signal, settings(5, 10))
	if err != nil {
		t.Fatalf("Protect returned error: %v", err)
	}
	if order.StopLoss != 95.00 || order.TakeProfit != 110.00 {
		t.Errorf("Expected 95.00/110.00, got %v/%v", order.StopLoss, order.TakeProfit)
	}
	if len(store.alerts) != 2 || len(order.Alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d stored and %d returned", len(store.alerts), len(order.Alerts))
	}
	if store.alerts[0].Type != database.AlertStopLoss || store.alerts[0].Condition != database.ConditionBelow {
		t.Errorf("Unexpected stop-loss alert %+v", store.alerts[0])
	}
	if store.alerts[1].Type != database.AlertTakeProfit || store.alerts[1].Condition != database.ConditionAbove {
		t.Errorf("Unexpected take-profit alert %+v", store.alerts[1])
	}
	if published != 2 {
		t.Errorf("Expected 2 alert events, got %d", published)
	}
}

func TestProtectSellMirrors(t *testing.T) {
	store := &fakeAlertStore{}
	m := NewManager(store, nil)
	signal := &database.AutomationSignal{ID: uuid.New(), Symbol: "TSLA", Action: SideSell, EntryPrice: 250}

	order, err := m.Protect(context.Background(), signal, settings(4, 8))
	if err != nil {
		t.Fatalf("Protect returned error: %v", err)
	}
	if order.StopLoss != 260 || order.TakeProfit != 230 {
		t.Errorf("Expected 260/230, got %v/%v", order.StopLoss, order.TakeProfit)
	}
	if store.alerts[0].Condition != database.ConditionAbove || store.alerts[1].Condition != database.ConditionBelow {
		t.Error("Expected SELL alerts to be mirrored")
	}
}

func TestTriggerPricesRounding(t *testing.T) {
	tests := []struct {
		name       string
		side       string
		price      float64
		wantStop   float64
		wantTarget float64
	}{
		{"cents above one", SideBuy, 123.456, 117.28, 135.80},
		{"eight places below one", SideBuy, 0.12345678, 0.11728394, 0.13580246},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop, take, err := TriggerPrices(tt.side, tt.price, 5, 10)
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if stop != tt.wantStop || take != tt.wantTarget {
				t.Errorf("Expected %v/%v, got %v/%v", tt.wantStop, tt.wantTarget, stop, take)
			}
		})
	}
}

func TestTriggerPricesRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		side   string
		price  float64
		sl, tp float64
		want   error
	}{
		{"zero price", SideBuy, 0, 5, 10, ErrInvalidPrice},
		{"negative price", SideBuy, -3, 5, 10, ErrInvalidPrice},
		{"zero stop loss", SideBuy, 100, 0, 10, ErrInvalidPercent},
		{"stop loss of 100", SideBuy, 100, 100, 10, ErrInvalidPercent},
		{"zero take profit", SideBuy, 100, 5, 0, ErrInvalidPercent},
		{"sell take profit of 100", SideSell, 100, 5, 100, ErrInvalidPercent},
		{"hold", "HOLD", 100, 5, 10, ErrInvalidSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := TriggerPrices(tt.side, tt.price, tt.sl, tt.tp)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestProtectStoreFailure(t *testing.T) {
	store := &fakeAlertStore{failOn: database.AlertTakeProfit}
	m := NewManager(store, nil)
	signal := &database.AutomationSignal{ID: uuid.New(), Symbol: "IBM", Action: SideBuy, EntryPrice: 100}

	if _, err := m.Protect(context.Background(), signal, settings(5, 10)); err == nil {
		t.Error("Expected error when an alert cannot be stored")
	}
}
