package database

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps trades, alerts, activity and settings in process.
// It stands in for Repository when PostgreSQL is not configured.
type MemoryRepository struct {
	mu       sync.Mutex
	trades   []*Trade
	alerts   []*PriceAlert
	activity []*ActivityLog
	settings map[string]AutomationSettings
	nextID   int64
	now      func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		settings: make(map[string]AutomationSettings),
		now:      time.Now,
	}
}

// HealthCheck always succeeds
func (m *MemoryRepository) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateTrade stores a trade
func (m *MemoryRepository) CreateTrade(ctx context.Context, trade *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if trade.TradeSource == "" {
		trade.TradeSource = TradeSourceAutomation
	}
	if trade.Status == "" {
		trade.Status = TradeStatusPending
	}
	trade.ID = m.id()
	trade.CreatedAt = m.now()
	stored := *trade
	m.trades = append(m.trades, &stored)
	return nil
}

// CountTradesToday counts trades created since local midnight
func (m *MemoryRepository) CountTradesToday(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count := 0
	for _, t := range m.trades {
		if t.UserID == userID && !t.CreatedAt.Before(midnight) {
			count++
		}
	}
	return count, nil
}

// GetRecentTrades returns the user's latest trades, newest first
func (m *MemoryRepository) GetRecentTrades(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Trade
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if m.trades[i].UserID == userID {
			t := *m.trades[i]
			out = append(out, &t)
		}
	}
	return out, nil
}

// CreateAlert stores a price alert
func (m *MemoryRepository) CreateAlert(ctx context.Context, alert *PriceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert.ID = m.id()
	alert.Active = true
	alert.CreatedAt = m.now()
	stored := *alert
	m.alerts = append(m.alerts, &stored)
	return nil
}

// GetActiveAlerts returns the active alerts for a symbol
func (m *MemoryRepository) GetActiveAlerts(ctx context.Context, symbol string) ([]*PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*PriceAlert
	for _, a := range m.alerts {
		if a.Symbol == symbol && a.Active {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

// RecordActivity appends an activity record
func (m *MemoryRepository) RecordActivity(ctx context.Context, entry *ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = m.id()
	entry.CreatedAt = m.now()
	stored := *entry
	m.activity = append(m.activity, &stored)
	return nil
}

// Activity returns a copy of the activity log
func (m *MemoryRepository) Activity() []ActivityLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ActivityLog, len(m.activity))
	for i, a := range m.activity {
		out[i] = *a
	}
	return out
}

// GetAutomationSettings loads a user's settings or returns ErrNoSettings
func (m *MemoryRepository) GetAutomationSettings(ctx context.Context, userID string) (*AutomationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[userID]
	if !ok {
		return nil, ErrNoSettings
	}
	return &s, nil
}

// UpsertAutomationSettings inserts or replaces a user's settings
func (m *MemoryRepository) UpsertAutomationSettings(ctx context.Context, s *AutomationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.UpdatedAt = m.now()
	m.settings[s.UserID] = *s
	return nil
}
