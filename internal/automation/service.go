package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-signal-bot/config"
	"market-signal-bot/internal/ai/llm"
	"market-signal-bot/internal/ai/sentiment"
	"market-signal-bot/internal/cache"
	"market-signal-bot/internal/confidence"
	"market-signal-bot/internal/database"
	"market-signal-bot/internal/events"
	"market-signal-bot/internal/indicators"
	"market-signal-bot/internal/logging"
	"market-signal-bot/internal/marketdata"
	"market-signal-bot/internal/risk"

	"github.com/shopspring/decimal"
)

// Triggers that start an automated analysis
const (
	TriggerManual     = "manual"
	TriggerScheduled  = "scheduled"
	TriggerPriceAlert = "price_alert"
)

// MarketData is the slice of the asset service automation needs
type MarketData interface {
	GetAssetDetails(ctx context.Context, symbol string) (*marketdata.Quote, error)
	GetPriceHistory(ctx context.Context, symbol string, interval marketdata.Interval) (*marketdata.PriceSeries, error)
	GetNews(ctx context.Context, symbol string) ([]marketdata.NewsItem, error)
}

// Store is the persistence collaborator
type Store interface {
	TradeCounter
	CreateTrade(ctx context.Context, trade *database.Trade) error
	RecordActivity(ctx context.Context, entry *database.ActivityLog) error
	GetAutomationSettings(ctx context.Context, userID string) (*database.AutomationSettings, error)
	UpsertAutomationSettings(ctx context.Context, s *database.AutomationSettings) error
}

// Analyzer produces a generative analysis
type Analyzer interface {
	Analyze(ctx context.Context, in llm.Input) (*llm.Analysis, error)
	IsEnabled() bool
}

// Protector attaches stop-loss and take-profit alerts to a signal
type Protector interface {
	Protect(ctx context.Context, signal *database.AutomationSignal, settings database.AutomationSettings) (*risk.RiskOrder, error)
}

// Result is everything one automated analysis produced
type Result struct {
	Symbol     string                     `json:"symbol"`
	UserID     string                     `json:"userId"`
	Trigger    string                     `json:"trigger"`
	Found      bool                       `json:"found"`
	Quote      *marketdata.Quote          `json:"quote,omitempty"`
	Indicators indicators.Set             `json:"indicators"`
	Sentiment  sentiment.Summary          `json:"sentiment"`
	Confidence confidence.Score           `json:"confidence"`
	Analysis   *llm.Analysis              `json:"analysis,omitempty"`
	Decision   Decision                   `json:"decision"`
	Signal     *database.AutomationSignal `json:"automationSignal,omitempty"`
	Trade      *database.Trade            `json:"trade,omitempty"`
	RiskOrder  *risk.RiskOrder            `json:"riskOrder,omitempty"`
	Warnings   []string                   `json:"warnings,omitempty"`
}

// Service orchestrates generateAutomatedAnalysis and settings management
type Service struct {
	market    MarketData
	store     Store
	analyst   Analyzer
	scorer    *confidence.Scorer
	risk      Protector
	evaluator *Evaluator
	cache     *cache.Store
	bus       *events.EventBus
	defaults  config.AutomationConfig
	now       func() time.Time
	logger    *logging.Logger
}

// Deps groups the collaborators of a Service
type Deps struct {
	Market   MarketData
	Store    Store
	Analyst  Analyzer // optional, rule-based analysis is used without it
	Scorer   *confidence.Scorer
	Risk     Protector
	Cache    *cache.Store
	Bus      *events.EventBus
	Defaults config.AutomationConfig
}

// NewService creates the automation service
func NewService(d Deps) *Service {
	if d.Scorer == nil {
		d.Scorer = confidence.NewScorer()
	}
	return &Service{
		market:    d.Market,
		store:     d.Store,
		analyst:   d.Analyst,
		scorer:    d.Scorer,
		risk:      d.Risk,
		evaluator: NewEvaluator(d.Store),
		cache:     d.Cache,
		bus:       d.Bus,
		defaults:  d.Defaults,
		now:       time.Now,
		logger:    logging.WithComponent("automation"),
	}
}

// Evaluator exposes the in-flight tracker
func (s *Service) Evaluator() *Evaluator {
	return s.evaluator
}

// ValidTrigger reports whether trigger is a known trigger
func ValidTrigger(trigger string) bool {
	switch trigger {
	case TriggerManual, TriggerScheduled, TriggerPriceAlert:
		return true
	}
	return false
}

// Settings returns the user's stored settings or the configured defaults
func (s *Service) Settings(ctx context.Context, userID string) (database.AutomationSettings, error) {
	stored, err := s.store.GetAutomationSettings(ctx, userID)
	if errors.Is(err, database.ErrNoSettings) {
		return DefaultSettings(userID, s.defaults), nil
	}
	if err != nil {
		return database.AutomationSettings{}, err
	}
	return *stored, nil
}

// UpdateSettings validates and stores settings
func (s *Service) UpdateSettings(ctx context.Context, settings database.AutomationSettings) (database.AutomationSettings, error) {
	if err := ValidateSettings(settings); err != nil {
		return database.AutomationSettings{}, err
	}
	if err := s.store.UpsertAutomationSettings(ctx, &settings); err != nil {
		return database.AutomationSettings{}, err
	}
	if s.bus != nil {
		s.bus.PublishSettingsUpdated(settings.UserID, settings.Enabled)
	}
	s.logger.Info("Automation settings updated", "user_id", settings.UserID, "enabled", settings.Enabled)
	return settings, nil
}

// GenerateAutomatedAnalysis analyzes symbol for userID and, when every gate
// passes, records a pending trade with its risk alerts. A symbol that cannot
// be resolved gives a Result with Found false and no error.
func (s *Service) GenerateAutomatedAnalysis(ctx context.Context, symbol, userID, trigger string) (*Result, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if trigger == "" {
		trigger = TriggerManual
	}
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Message: "required"}
	}
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "user_id", Message: "required"}
	}
	if !ValidTrigger(trigger) {
		return nil, &ValidationError{Field: "trigger", Message: fmt.Sprintf("must be manual, scheduled or price_alert, got %q", trigger)}
	}

	release, err := s.evaluator.Begin(userID, symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	start := s.now()
	log := s.logger.WithFields(map[string]interface{}{"symbol": symbol, "user_id": userID, "trigger": trigger})
	result := &Result{Symbol: symbol, UserID: userID, Trigger: trigger}

	settings, err := s.Settings(ctx, userID)
	if err != nil {
		log.Warn("Settings unavailable, automation disabled for this run", "error", err)
		settings = DefaultSettings(userID, s.defaults)
		settings.Enabled = false
		result.Warnings = append(result.Warnings, "settings unavailable")
	}

	quote, err := s.market.GetAssetDetails(ctx, symbol)
	if err != nil || quote == nil {
		log.Info("Symbol not found", "error", err)
		return result, nil
	}
	result.Found = true
	result.Quote = quote

	series, err := s.market.GetPriceHistory(ctx, symbol, marketdata.IntervalDaily)
	if err != nil {
		log.Warn("History unavailable, using neutral indicators", "error", err)
		result.Warnings = append(result.Warnings, "history unavailable")
	}
	if series == nil || series.Len() == 0 {
		result.Indicators = indicators.Neutral(symbol, quote.Price)
	} else {
		result.Indicators = indicators.Compute(series)
	}

	news, err := s.market.GetNews(ctx, symbol)
	if err != nil {
		log.Warn("News unavailable", "error", err)
		result.Warnings = append(result.Warnings, "news unavailable")
	}
	result.Sentiment = sentiment.Summarize(news, s.now())
	result.Confidence = s.scorer.Score(*quote, result.Indicators, result.Sentiment)

	result.Analysis = s.analysis(ctx, llm.Input{
		Quote:      *quote,
		Indicators: result.Indicators,
		Sentiment:  result.Sentiment,
		News:       news,
	})
	if s.bus != nil {
		s.bus.PublishAnalysis(userID, symbol, result.Analysis.Recommendation, trigger, float64(result.Confidence.Value))
	}

	result.Decision = s.evaluator.Decide(ctx, settings, result.Analysis.Recommendation, result.Confidence.Value, *quote)
	if result.Decision.Signalled() {
		s.act(ctx, result, settings)
	} else {
		if s.bus != nil {
			s.bus.PublishSignalSuppressed(userID, symbol, result.Decision.Recommendation, result.Decision.Reason, float64(result.Confidence.Value))
		}
		s.record(ctx, result, database.ActivitySuppressed)
	}

	log.Info("Automated analysis complete",
		"recommendation", result.Analysis.Recommendation,
		"source", result.Analysis.Source,
		"confidence", result.Confidence.Value,
		"state", result.Decision.State,
		"reason", result.Decision.Reason,
		"duration", s.now().Sub(start))
	return result, nil
}

// analysis returns the cached analysis for the symbol or generates one,
// falling back to rules when the model is unavailable or its answer is invalid
func (s *Service) analysis(ctx context.Context, in llm.Input) *llm.Analysis {
	key := "analysis:" + in.Quote.Symbol
	if s.cache != nil {
		if a, ok := cache.Lookup[*llm.Analysis](s.cache, key, cache.ClassAnalysis); ok {
			return a
		}
	}

	var analysis *llm.Analysis
	if s.analyst != nil && s.analyst.IsEnabled() {
		a, err := s.analyst.Analyze(ctx, in)
		if err != nil {
			var verr *llm.ValidationError
			if errors.As(err, &verr) {
				s.logger.Warn("Model answer failed validation, using rules", "symbol", in.Quote.Symbol, "field", verr.Field)
			} else {
				s.logger.Warn("Model unavailable, using rules", "symbol", in.Quote.Symbol, "error", err)
			}
			if s.bus != nil {
				s.bus.PublishError("llm", err.Error())
			}
		} else {
			analysis = a
		}
	}
	if analysis == nil {
		analysis = llm.FallbackAnalysis(in)
	}

	if s.cache != nil {
		s.cache.Set(key, analysis, cache.ClassAnalysis)
	}
	return analysis
}

// act persists the pending trade, attaches risk alerts and publishes the signal
func (s *Service) act(ctx context.Context, result *Result, settings database.AutomationSettings) {
	signal := result.Decision.Signal
	signal.Trigger = result.Trigger
	signal.TargetPrice = result.Analysis.PriceTarget
	result.Signal = signal

	trade := &database.Trade{
		SignalID:    signal.ID,
		UserID:      signal.UserID,
		Symbol:      signal.Symbol,
		Side:        signal.Action,
		EntryPrice:  signal.EntryPrice,
		Quantity:    Quantity(settings.TradeAmount, signal.EntryPrice),
		Amount:      settings.TradeAmount,
		Confidence:  signal.Confidence,
		Status:      database.TradeStatusPending,
		TradeSource: database.TradeSourceAutomation,
	}
	if err := s.store.CreateTrade(ctx, trade); err != nil {
		s.logger.Error("Failed to persist automated trade", "symbol", signal.Symbol, "error", err)
		result.Warnings = append(result.Warnings, "trade not persisted")
		if s.bus != nil {
			s.bus.PublishError("automation", err.Error())
		}
	} else {
		result.Trade = trade
		signal.TradeID = &trade.ID
		if s.bus != nil {
			s.bus.PublishTradeCreated(trade.UserID, trade.Symbol, trade.Side, trade.ID, trade.EntryPrice, trade.Quantity)
		}
	}

	if s.risk != nil {
		order, err := s.risk.Protect(ctx, signal, settings)
		if err != nil {
			s.logger.Error("Failed to attach risk alerts", "symbol", signal.Symbol, "error", err)
			result.Warnings = append(result.Warnings, "risk alerts incomplete")
		}
		result.RiskOrder = order
	}

	if s.bus != nil {
		s.bus.PublishSignal(signal.UserID, signal.Symbol, signal.Action, result.Decision.Reason, float64(signal.Confidence), signal.EntryPrice)
	}
	s.record(ctx, result, database.ActivitySignalled)
}

func (s *Service) record(ctx context.Context, result *Result, action string) {
	rec := result.Decision.Recommendation
	conf := result.Confidence.Value
	reason := result.Decision.Reason
	entry := &database.ActivityLog{
		UserID:         result.UserID,
		Symbol:         result.Symbol,
		Action:         action,
		Trigger:        result.Trigger,
		Recommendation: &rec,
		Confidence:     &conf,
		Reason:         &reason,
		Details: map[string]interface{}{
			"analysis_source": result.Analysis.Source,
			"price_target":    result.Analysis.PriceTarget,
			"sentiment":       result.Sentiment.Label,
			"trades_today":    result.Decision.TradesToday,
		},
	}
	if result.Trade != nil {
		entry.Details["trade_id"] = result.Trade.ID
	}
	if err := s.store.RecordActivity(ctx, entry); err != nil {
		s.logger.Warn("Failed to record activity", "symbol", result.Symbol, "error", err)
	}
}

// Quantity converts a quote-currency amount into units at price, 8 places
func Quantity(amount, price float64) float64 {
	if amount <= 0 || price <= 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).DivRound(decimal.NewFromFloat(price), 8).InexactFloat64()
}
