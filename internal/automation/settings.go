package automation

import (
	"fmt"
	"strings"

	"market-signal-bot/config"
	"market-signal-bot/internal/database"
)

// ValidationError reports a malformed settings field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DefaultSettings returns the configured defaults for a user without stored settings
func DefaultSettings(userID string, cfg config.AutomationConfig) database.AutomationSettings {
	return database.AutomationSettings{
		UserID:            userID,
		Enabled:           cfg.Enabled,
		BuyThreshold:      int(cfg.BuyThreshold),
		SellThreshold:     int(cfg.SellThreshold),
		MaxTradesPerDay:   cfg.MaxTradesPerDay,
		StopLossPercent:   cfg.StopLossPercent,
		TakeProfitPercent: cfg.TakeProfitPercent,
		TradeAmount:       cfg.TradeAmount,
	}
}

// ValidateSettings checks every field before anything is written
func ValidateSettings(s database.AutomationSettings) error {
	if strings.TrimSpace(s.UserID) == "" {
		return &ValidationError{Field: "user_id", Message: "required"}
	}
	if s.BuyThreshold < 0 || s.BuyThreshold > 100 {
		return &ValidationError{Field: "buy_threshold", Message: fmt.Sprintf("must be within [0,100], got %d", s.BuyThreshold)}
	}
	if s.SellThreshold < 0 || s.SellThreshold > 100 {
		return &ValidationError{Field: "sell_threshold", Message: fmt.Sprintf("must be within [0,100], got %d", s.SellThreshold)}
	}
	if s.MaxTradesPerDay < 1 {
		return &ValidationError{Field: "max_trades_per_day", Message: fmt.Sprintf("must be at least 1, got %d", s.MaxTradesPerDay)}
	}
	if s.StopLossPercent <= 0 || s.StopLossPercent >= 100 {
		return &ValidationError{Field: "stop_loss_percent", Message: fmt.Sprintf("must be within (0,100), got %v", s.StopLossPercent)}
	}
	if s.TakeProfitPercent <= 0 {
		return &ValidationError{Field: "take_profit_percent", Message: fmt.Sprintf("must be positive, got %v", s.TakeProfitPercent)}
	}
	if s.TradeAmount < 0 {
		return &ValidationError{Field: "trade_amount", Message: fmt.Sprintf("must not be negative, got %v", s.TradeAmount)}
	}
	return nil
}
