package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"market-signal-bot/internal/ai/llm"
	"market-signal-bot/internal/database"
	"market-signal-bot/internal/marketdata"

	"github.com/google/uuid"
)

// ErrEvaluationInProgress rejects a second evaluation of the same user and symbol
var ErrEvaluationInProgress = errors.New("analysis already in progress")

// State of one evaluation
type State string

const (
	StateIdle       State = "idle"
	StateEvaluating State = "evaluating"
	StateSignalled  State = "signalled"
	StateSuppressed State = "suppressed"
)

// Suppression reasons
const (
	ReasonDisabled       = "automation disabled"
	ReasonHold           = "HOLD recommendation"
	ReasonUnknown        = "unrecognised recommendation"
	ReasonNoPrice        = "no usable price"
	ReasonBelowThreshold = "confidence below threshold"
	ReasonDailyLimit     = "daily trade limit reached"
	ReasonCountFailed    = "trade count unavailable"
)

// TradeCounter reports how many trades a user has created today
type TradeCounter interface {
	CountTradesToday(ctx context.Context, userID string) (int, error)
}

// Decision is the outcome of gating one recommendation
type Decision struct {
	State          State                      `json:"state"`
	Recommendation string                     `json:"recommendation"`
	Confidence     int                        `json:"confidence"`
	Threshold      int                        `json:"threshold,omitempty"`
	TradesToday    int                        `json:"tradesToday"`
	DailyLimit     int                        `json:"dailyLimit"`
	Reason         string                     `json:"reason"`
	Signal         *database.AutomationSignal `json:"-"`
}

// Signalled reports whether the decision produced a signal
func (d Decision) Signalled() bool {
	return d.State == StateSignalled
}

// Evaluator gates recommendations into automation signals and tracks one
// in-flight evaluation per user and symbol
type Evaluator struct {
	counter  TradeCounter
	inflight map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewEvaluator creates an evaluator
func NewEvaluator(counter TradeCounter) *Evaluator {
	return &Evaluator{
		counter:  counter,
		inflight: make(map[string]time.Time),
		now:      time.Now,
	}
}

func evaluationKey(userID, symbol string) string {
	return userID + "|" + strings.ToUpper(symbol)
}

// Begin claims the evaluation slot for userID and symbol. The returned
// release func must be called when the evaluation finishes.
func (e *Evaluator) Begin(userID, symbol string) (release func(), err error) {
	key := evaluationKey(userID, symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	if started, ok := e.inflight[key]; ok {
		return nil, fmt.Errorf("%w for %s (started %s ago)", ErrEvaluationInProgress, strings.ToUpper(symbol), e.now().Sub(started).Round(time.Millisecond))
	}
	e.inflight[key] = e.now()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.inflight, key)
			e.mu.Unlock()
		})
	}, nil
}

// InFlight returns the number of evaluations currently running
func (e *Evaluator) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Decide applies the user's gates. A signal is only built for BUY or SELL
// when confidence meets the side's threshold and today's trade count is
// strictly below the daily limit.
func (e *Evaluator) Decide(ctx context.Context, settings database.AutomationSettings, recommendation string, confidence int, quote marketdata.Quote) Decision {
	d := Decision{
		State:          StateSuppressed,
		Recommendation: strings.ToUpper(recommendation),
		Confidence:     confidence,
		DailyLimit:     settings.MaxTradesPerDay,
	}

	if !settings.Enabled {
		d.Reason = ReasonDisabled
		return d
	}

	switch d.Recommendation {
	case llm.RecommendHold:
		d.Reason = ReasonHold
		return d
	case llm.RecommendBuy:
		d.Threshold = settings.BuyThreshold
	case llm.RecommendSell:
		d.Threshold = settings.SellThreshold
	default:
		d.Reason = ReasonUnknown
		return d
	}

	if quote.Price <= 0 {
		d.Reason = ReasonNoPrice
		return d
	}

	if confidence < d.Threshold {
		d.Reason = fmt.Sprintf("%s: %d < %d", ReasonBelowThreshold, confidence, d.Threshold)
		return d
	}

	count, err := e.counter.CountTradesToday(ctx, settings.UserID)
	if err != nil {
		d.Reason = fmt.Sprintf("%s: %v", ReasonCountFailed, err)
		return d
	}
	d.TradesToday = count

	if count >= settings.MaxTradesPerDay {
		d.Reason = fmt.Sprintf("%s: %d/%d", ReasonDailyLimit, count, settings.MaxTradesPerDay)
		return d
	}

	d.State = StateSignalled
	d.Reason = fmt.Sprintf("%s at confidence %d >= %d (%d/%d trades today)", d.Recommendation, confidence, d.Threshold, count, settings.MaxTradesPerDay)
	d.Signal = &database.AutomationSignal{
		ID:         uuid.New(),
		UserID:     settings.UserID,
		Symbol:     quote.Symbol,
		Action:     d.Recommendation,
		Confidence: confidence,
		EntryPrice: quote.Price,
		CreatedAt:  e.now(),
	}
	return d
}
