package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"market-signal-bot/internal/database"
	"market-signal-bot/internal/marketdata"
)

type fakeCounter struct {
	count int
	err   error
	calls int
}

func (f *fakeCounter) CountTradesToday(ctx context.Context, userID string) (int, error) {
	f.calls++
	return f.count, f.err
}

func enabledSettings() database.AutomationSettings {
	return database.AutomationSettings{
		UserID:            "u1",
		Enabled:           true,
		BuyThreshold:      75,
		SellThreshold:     75,
		MaxTradesPerDay:   5,
		StopLossPercent:   5,
		TakeProfitPercent: 10,
		TradeAmount:       100,
	}
}

var ibm = marketdata.Quote{Symbol: "IBM", Price: 100, Type: marketdata.AssetStock}

func TestDecideSignalsUnderLimit(t *testing.T) {
	e := NewEvaluator(&fakeCounter{count: 2})

	d := e.Decide(context.Background(), enabledSettings(), "BUY", 80, ibm)
	if !d.Signalled() {
		t.Fatalf("Expected signal, got %s (%s)", d.State, d.Reason)
	}
	if d.Signal == nil || d.Signal.Action != "BUY" || d.Signal.EntryPrice != 100 || d.Signal.UserID != "u1" {
		t.Errorf("Unexpected signal %+v", d.Signal)
	}
	if d.TradesToday != 2 {
		t.Errorf("Expected 2 trades today, got %d", d.TradesToday)
	}
}

func TestDecideSuppresses(t *testing.T) {
	disabled := enabledSettings()
	disabled.Enabled = false

	tests := []struct {
		name       string
		settings   database.AutomationSettings
		rec        string
		confidence int
		counter    *fakeCounter
		quote      marketdata.Quote
		reason     string
	}{
		{"daily limit reached", enabledSettings(), "BUY", 80, &fakeCounter{count: 5}, ibm, ReasonDailyLimit},
		{"hold", enabledSettings(), "HOLD", 85, &fakeCounter{}, ibm, ReasonHold},
		{"below buy threshold", enabledSettings(), "BUY", 74, &fakeCounter{}, ibm, ReasonBelowThreshold},
		{"below sell threshold", enabledSettings(), "SELL", 60, &fakeCounter{}, ibm, ReasonBelowThreshold},
		{"disabled", disabled, "BUY", 85, &fakeCounter{}, ibm, ReasonDisabled},
		{"count failure", enabledSettings(), "SELL", 80, &fakeCounter{err: errors.New("db down")}, ibm, ReasonCountFailed},
		{"unknown recommendation", enabledSettings(), "STRONG_BUY", 80, &fakeCounter{}, ibm, ReasonUnknown},
		{"zero price", enabledSettings(), "BUY", 80, &fakeCounter{}, marketdata.Quote{Symbol: "IBM"}, ReasonNoPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewEvaluator(tt.counter).Decide(context.Background(), tt.settings, tt.rec, tt.confidence, tt.quote)
			if d.Signalled() || d.Signal != nil {
				t.Fatalf("Expected suppression, got %s", d.State)
			}
			if !strings.HasPrefix(d.Reason, tt.reason) {
				t.Errorf("Expected reason %q, got %q", tt.reason, d.Reason)
			}
		})
	}
}

func TestDecideSkipsCountWhenAlreadySuppressed(t *testing.T) {
	counter := &fakeCounter{}
	NewEvaluator(counter).Decide(context.Background(), enabledSettings(), "HOLD", 85, ibm)
	if counter.calls != 0 {
		t.Errorf("Expected no trade count lookup for HOLD, got %d", counter.calls)
	}
}

func TestDecideLowercaseRecommendation(t *testing.T) {
	d := NewEvaluator(&fakeCounter{}).Decide(context.Background(), enabledSettings(), "sell", 75, ibm)
	if !d.Signalled() || d.Signal.Action != "SELL" {
		t.Errorf("Expected SELL signal at the threshold, got %s (%s)", d.State, d.Reason)
	}
}

func TestBeginRejectsConcurrentEvaluation(t *testing.T) {
	e := NewEvaluator(&fakeCounter{})

	release, err := e.Begin("u1", "IBM")
	if err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}
	if _, err := e.Begin("u1", "ibm"); !errors.Is(err, ErrEvaluationInProgress) {
		t.Errorf("Expected ErrEvaluationInProgress, got %v", err)
	}
	if r, err := e.Begin("u2", "IBM"); err != nil {
		t.Errorf("Expected another user to proceed, got %v", err)
	} else {
		r()
	}

	release()
	release()
	if e.InFlight() != 0 {
		t.Errorf("Expected no evaluations in flight, got %d", e.InFlight())
	}
	if r, err := e.Begin("u1", "IBM"); err != nil {
		t.Errorf("Expected Begin after release to succeed, got %v", err)
	} else {
		r()
	}
}

func TestBeginParallelOnlyOneWins(t *testing.T) {
	e := NewEvaluator(&fakeCounter{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		blocked int
	)
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.Begin("u1", "BTC")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if errors.Is(err, ErrEvaluationInProgress) {
				blocked++
			}
		}()
	}
	close(start)
	wg.Wait()

	if won != 1 || blocked != 19 {
		t.Errorf("Expected 1 winner and 19 rejected, got %d and %d", won, blocked)
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*database.AutomationSettings)
		field string
	}{
		{"valid", func(s *database.AutomationSettings) {}, ""},
		{"missing user", func(s *database.AutomationSettings) { s.UserID = " " }, "user_id"},
		{"buy threshold over 100", func(s *database.AutomationSettings) { s.BuyThreshold = 101 }, "buy_threshold"},
		{"negative sell threshold", func(s *database.AutomationSettings) { s.SellThreshold = -1 }, "sell_threshold"},
		{"zero daily limit", func(s *database.AutomationSettings) { s.MaxTradesPerDay = 0 }, "max_trades_per_day"},
		{"zero stop loss", func(s *database.AutomationSettings) { s.StopLossPercent = 0 }, "stop_loss_percent"},
		{"stop loss of 100", func(s *database.AutomationSettings) { s.StopLossPercent = 100 }, "stop_loss_percent"},
		{"negative take profit", func(s *database.AutomationSettings) { s.TakeProfitPercent = -2 }, "take_profit_percent"},
		{"negative amount", func(s *database.AutomationSettings) { s.TradeAmount = -1 }, "trade_amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := enabledSettings()
			tt.edit(&s)
			err := ValidateSettings(s)
			if tt.field == "" {
				if err != nil {
					t.Errorf("Expected valid settings, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}
