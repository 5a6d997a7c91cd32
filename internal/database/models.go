package database

import (
	"time"

	"github.com/google/uuid"
)

// TradeSource constants
const (
	TradeSourceManual     = "manual"
	TradeSourceAutomation = "automation"
)

// Trade statuses
const (
	TradeStatusPending   = "PENDING"
	TradeStatusOpen      = "OPEN"
	TradeStatusCancelled = "CANCELLED"
)

// Alert types and conditions
const (
	AlertStopLoss   = "STOP_LOSS"
	AlertTakeProfit = "TAKE_PROFIT"

	ConditionBelow = "below"
	ConditionAbove = "above"
)

// Activity actions
const (
	ActivitySignalled  = "SIGNAL_GENERATED"
	ActivitySuppressed = "SIGNAL_SUPPRESSED"
	ActivityAnalyzed   = "ANALYSIS_ONLY"
)

// AutomationSignal is a BUY or SELL decision that passed every gate
type AutomationSignal struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	Confidence  int       `json:"confidence"`
	EntryPrice  float64   `json:"entry_price"`
	TargetPrice float64   `json:"target_price"`
	Trigger     string    `json:"trigger"`
	TradeID     *int64    `json:"trade_id,omitempty"` // set once the pending trade is stored
	CreatedAt   time.Time `json:"created_at"`
}

// Trade is a pending trade created from an automation signal.
// Trades are always inserted as new rows, never merged into a position.
type Trade struct {
	ID          int64     `json:"id"`
	SignalID    uuid.UUID `json:"signal_id"`
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	Quantity    float64   `json:"quantity"`
	Amount      float64   `json:"amount"`
	Confidence  int       `json:"confidence"`
	Status      string    `json:"status"`
	TradeSource string    `json:"trade_source"`
	CreatedAt   time.Time `json:"created_at"`
}

// PriceAlert is a stop-loss or take-profit trigger attached to a trade
type PriceAlert struct {
	ID          int64     `json:"id"`
	TradeID     *int64    `json:"trade_id,omitempty"`
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Type        string    `json:"alert_type"`
	Condition   string    `json:"condition"`
	TargetPrice float64   `json:"target_price"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActivityLog records the outcome of one automated evaluation
type ActivityLog struct {
	ID             int64                  `json:"id"`
	UserID         string                 `json:"user_id"`
	Symbol         string                 `json:"symbol"`
	Action         string                 `json:"action"`
	Trigger        string                 `json:"trigger"`
	Recommendation *string                `json:"recommendation,omitempty"`
	Confidence     *int                   `json:"confidence,omitempty"`
	Reason         *string                `json:"reason,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// AutomationSettings are the per-user gates applied to automated signals
type AutomationSettings struct {
	UserID            string    `json:"user_id"`
	Enabled           bool      `json:"enabled"`
	BuyThreshold      int       `json:"buy_threshold"`
	SellThreshold     int       `json:"sell_threshold"`
	MaxTradesPerDay   int       `json:"max_trades_per_day"`
	StopLossPercent   float64   `json:"stop_loss_percent"`
	TakeProfitPercent float64   `json:"take_profit_percent"`
	TradeAmount       float64   `json:"trade_amount"`
	UpdatedAt         time.Time `json:"updated_at"`
}
