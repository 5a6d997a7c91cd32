package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryRepositoryCountsOnlyToday(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	repo.now = func() time.Time { return now.Add(-12 * time.Hour) }
	repo.CreateTrade(ctx, &Trade{UserID: "u1", Symbol: "IBM", Side: "BUY"})

	repo.now = func() time.Time { return now }
	repo.CreateTrade(ctx, &Trade{UserID: "u1", Symbol: "IBM", Side: "BUY"})
	repo.CreateTrade(ctx, &Trade{UserID: "u2", Symbol: "IBM", Side: "BUY"})

	count, err := repo.CountTradesToday(ctx, "u1")
	if err != nil {
		t.Fatalf("CountTradesToday returned error: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 trade today, got %d", count)
	}
}

func TestMemoryRepositoryTradeDefaults(t *testing.T) {
	repo := NewMemoryRepository()
	trade := &Trade{UserID: "u1", Symbol: "AAPL", Side: "SELL"}
	repo.CreateTrade(context.Background(), trade)

	if trade.ID == 0 || trade.Status != TradeStatusPending || trade.TradeSource != TradeSourceAutomation {
		t.Errorf("Unexpected trade defaults %+v", trade)
	}
}

func TestMemoryRepositorySettings(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	if _, err := repo.GetAutomationSettings(ctx, "u1"); !errors.Is(err, ErrNoSettings) {
		t.Errorf("Expected ErrNoSettings, got %v", err)
	}

	repo.UpsertAutomationSettings(ctx, &AutomationSettings{UserID: "u1", BuyThreshold: 70})
	repo.UpsertAutomationSettings(ctx, &AutomationSettings{UserID: "u1", BuyThreshold: 80})

	s, err := repo.GetAutomationSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("GetAutomationSettings returned error: %v", err)
	}
	if s.BuyThreshold != 80 {
		t.Errorf("Expected upsert to replace settings, got threshold %d", s.BuyThreshold)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	for i, m := range migrations {
		if !strings.Contains(m, "IF NOT EXISTS") {
			t.Errorf("migration %d is not idempotent", i+1)
		}
	}
}
