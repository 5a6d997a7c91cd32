package risk

import (
	"context"
	"errors"
	"fmt"

	"market-signal-bot/internal/database"
	"market-signal-bot/internal/events"
	"market-signal-bot/internal/logging"

	"github.com/shopspring/decimal"
)

// Sides a signal can take
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

var (
	ErrInvalidPrice   = errors.New("entry price must be positive")
	ErrInvalidPercent = errors.New("invalid stop-loss or take-profit percentage")
	ErrInvalidSide    = errors.New("signal side must be BUY or SELL")
)

var hundred = decimal.NewFromInt(100)

// AlertStore persists price alerts
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *database.PriceAlert) error
}

// RiskOrder is the protection attached to one signal
type RiskOrder struct {
	SignalID   string                `json:"signal_id"`
	Symbol     string                `json:"symbol"`
	Side       string                `json:"side"`
	EntryPrice float64               `json:"entry_price"`
	StopLoss   float64               `json:"stop_loss"`
	TakeProfit float64               `json:"take_profit"`
	Alerts     []database.PriceAlert `json:"alerts"`
}

// Manager derives stop-loss and take-profit triggers for signals
type Manager struct {
	alerts AlertStore
	bus    *events.EventBus
	logger *logging.Logger
}

// NewManager creates a risk manager. bus may be nil.
func NewManager(alerts AlertStore, bus *events.EventBus) *Manager {
	return &Manager{
		alerts: alerts,
		bus:    bus,
		logger: logging.WithComponent("risk"),
	}
}

// pricePlaces keeps cents for normal prices and 8 places for sub-dollar assets
func pricePlaces(price decimal.Decimal) int32 {
	if price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 2
	}
	return 8
}

// TriggerPrices computes stop-loss and take-profit for an entry.
// BUY protects below and takes profit above; SELL is the mirror image.
func TriggerPrices(side string, entryPrice, stopLossPercent, takeProfitPercent float64) (stop, take float64, err error) {
	if entryPrice <= 0 {
		return 0, 0, ErrInvalidPrice
	}
	if stopLossPercent <= 0 || stopLossPercent >= 100 || takeProfitPercent <= 0 {
		return 0, 0, fmt.Errorf("%w: stop-loss %.2f%%, take-profit %.2f%%", ErrInvalidPercent, stopLossPercent, takeProfitPercent)
	}

	entry := decimal.NewFromFloat(entryPrice)
	one := decimal.NewFromInt(1)
	sl := decimal.NewFromFloat(stopLossPercent).Div(hundred)
	tp := decimal.NewFromFloat(takeProfitPercent).Div(hundred)
	places := pricePlaces(entry)

	var stopDec, takeDec decimal.Decimal
	switch side {
	case SideBuy:
		stopDec = entry.Mul(one.Sub(sl))
		takeDec = entry.Mul(one.Add(tp))
	case SideSell:
		if takeProfitPercent >= 100 {
			return 0, 0, fmt.Errorf("%w: take-profit %.2f%% would target a non-positive price", ErrInvalidPercent, takeProfitPercent)
		}
		stopDec = entry.Mul(one.Add(sl))
		takeDec = entry.Mul(one.Sub(tp))
	default:
		return 0, 0, ErrInvalidSide
	}

	return stopDec.Round(places).InexactFloat64(), takeDec.Round(places).InexactFloat64(), nil
}

// Protect computes trigger prices for a signal and stores the two alerts
func (m *Manager) Protect(ctx context.Context, signal *database.AutomationSignal, settings database.AutomationSettings) (*RiskOrder, error) {
	if signal == nil {
		return nil, fmt.Errorf("nil signal")
	}
	stop, take, err := TriggerPrices(signal.Action, signal.EntryPrice, settings.StopLossPercent, settings.TakeProfitPercent)
	if err != nil {
		return nil, err
	}

	stopCond, takeCond := database.ConditionBelow, database.ConditionAbove
	if signal.Action == SideSell {
		stopCond, takeCond = database.ConditionAbove, database.ConditionBelow
	}

	order := &RiskOrder{
		SignalID:   signal.ID.String(),
		Symbol:     signal.Symbol,
		Side:       signal.Action,
		EntryPrice: signal.EntryPrice,
		StopLoss:   stop,
		TakeProfit: take,
	}

	for _, a := range []database.PriceAlert{
		{TradeID: signal.TradeID, UserID: signal.UserID, Symbol: signal.Symbol, Type: database.AlertStopLoss, Condition: stopCond, TargetPrice: stop},
		{TradeID: signal.TradeID, UserID: signal.UserID, Symbol: signal.Symbol, Type: database.AlertTakeProfit, Condition: takeCond, TargetPrice: take},
	} {
		alert := a
		if m.alerts != nil {
			if err := m.alerts.CreateAlert(ctx, &alert); err != nil {
				return order, fmt.Errorf("failed to store %s alert: %w", alert.Type, err)
			}
		}
		order.Alerts = append(order.Alerts, alert)
		if m.bus != nil {
			m.bus.PublishAlertCreated(alert.UserID, alert.Symbol, alert.Type, alert.Condition, alert.TargetPrice)
		}
	}

	m.logger.Info("Risk alerts created",
		"symbol", signal.Symbol, "side", signal.Action, "entry", signal.EntryPrice,
		"stop_loss", stop, "take_profit", take, "trace_id", logging.TraceID(ctx))
	return order, nil
}
