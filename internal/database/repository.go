package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoSettings is returned when a user has never saved automation settings
var ErrNoSettings = errors.New("no automation settings stored")

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// TRADES
// ============================================================================

// CreateTrade inserts a new pending trade
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	if trade.TradeSource == "" {
		trade.TradeSource = TradeSourceAutomation
	}
	if trade.Status == "" {
		trade.Status = TradeStatusPending
	}
	query := `
		INSERT INTO trades (signal_id, user_id, symbol, side, entry_price, quantity, amount, confidence, status, trade_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		trade.SignalID, trade.UserID, trade.Symbol, trade.Side, trade.EntryPrice,
		trade.Quantity, trade.Amount, trade.Confidence, trade.Status, trade.TradeSource,
	).Scan(&trade.ID, &trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// CountTradesToday counts the user's trades created since midnight (database time)
func (r *Repository) CountTradesToday(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM trades WHERE user_id = $1 AND created_at >= date_trunc('day', now())`
	var count int
	if err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

// GetRecentTrades returns the user's latest trades, newest first
func (r *Repository) GetRecentTrades(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	query := `
		SELECT id, signal_id, user_id, symbol, side, entry_price, quantity, amount, confidence, status, trade_source, created_at
		FROM trades
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(
			&t.ID, &t.SignalID, &t.UserID, &t.Symbol, &t.Side, &t.EntryPrice,
			&t.Quantity, &t.Amount, &t.Confidence, &t.Status, &t.TradeSource, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ============================================================================
// PRICE ALERTS
// ============================================================================

// CreateAlert inserts a price alert
func (r *Repository) CreateAlert(ctx context.Context, alert *PriceAlert) error {
	query := `
		INSERT INTO price_alerts (trade_id, user_id, symbol, alert_type, condition, target_price, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id, active, created_at
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		alert.TradeID, alert.UserID, alert.Symbol, alert.Type, alert.Condition, alert.TargetPrice,
	).Scan(&alert.ID, &alert.Active, &alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// GetActiveAlerts returns the active alerts for a symbol
func (r *Repository) GetActiveAlerts(ctx context.Context, symbol string) ([]*PriceAlert, error) {
	query := `
		SELECT id, trade_id, user_id, symbol, alert_type, condition, target_price, active, created_at
		FROM price_alerts
		WHERE symbol = $1 AND active
		ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*PriceAlert
	for rows.Next() {
		a := &PriceAlert{}
		if err := rows.Scan(
			&a.ID, &a.TradeID, &a.UserID, &a.Symbol, &a.Type, &a.Condition, &a.TargetPrice, &a.Active, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ============================================================================
// ACTIVITY LOG
// ============================================================================

// RecordActivity appends an activity record
func (r *Repository) RecordActivity(ctx context.Context, entry *ActivityLog) error {
	var details []byte
	if entry.Details != nil {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal activity details: %w", err)
		}
	}
	query := `
		INSERT INTO activity_log (user_id, symbol, action, trigger, recommendation, confidence, reason, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		entry.UserID, entry.Symbol, entry.Action, entry.Trigger,
		entry.Recommendation, entry.Confidence, entry.Reason, details,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// ============================================================================
// AUTOMATION SETTINGS
// ============================================================================

// GetAutomationSettings loads a user's settings or returns ErrNoSettings
func (r *Repository) GetAutomationSettings(ctx context.Context, userID string) (*AutomationSettings, error) {
	query := `
		SELECT user_id, enabled, buy_threshold, sell_threshold, max_trades_per_day,
		       stop_loss_percent, take_profit_percent, trade_amount, updated_at
		FROM automation_settings
		WHERE user_id = $1
	`
	s := &AutomationSettings{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.Enabled, &s.BuyThreshold, &s.SellThreshold, &s.MaxTradesPerDay,
		&s.StopLossPercent, &s.TakeProfitPercent, &s.TradeAmount, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSettings
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation settings: %w", err)
	}
	return s, nil
}

// UpsertAutomationSettings inserts or replaces a user's settings
func (r *Repository) UpsertAutomationSettings(ctx context.Context, s *AutomationSettings) error {
	query := `
		INSERT INTO automation_settings (
			user_id, enabled, buy_threshold, sell_threshold, max_trades_per_day,
			stop_loss_percent, take_profit_percent, trade_amount, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET
			enabled = EXCLUDED.enabled,
			buy_threshold = EXCLUDED.buy_threshold,
			sell_threshold = EXCLUDED.sell_threshold,
			max_trades_per_day = EXCLUDED.max_trades_per_day,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			take_profit_percent = EXCLUDED.take_profit_percent,
			trade_amount = EXCLUDED.trade_amount,
			updated_at = NOW()
		RETURNING updated_at
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		s.UserID, s.Enabled, s.BuyThreshold, s.SellThreshold, s.MaxTradesPerDay,
		s.StopLossPercent, s.TakeProfitPercent, s.TradeAmount,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save automation settings: %w", err)
	}
	return nil
}
