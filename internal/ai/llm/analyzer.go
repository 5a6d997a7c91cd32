package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"market-signal-bot/internal/logging"
)

// Recommendations
const (
	RecommendBuy  = "BUY"
	RecommendSell = "SELL"
	RecommendHold = "HOLD"
)

// Analysis sources
const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

// Analysis is a validated recommendation
type Analysis struct {
	Recommendation  string    `json:"recommendation"`
	Confidence      float64   `json:"confidence"`
	PriceTarget     float64   `json:"priceTarget"`
	TimeHorizon     string    `json:"timeHorizon"`
	KeyPoints       []string  `json:"keyPoints"`
	Risks           []string  `json:"risks"`
	Opportunities   []string  `json:"opportunities"`
	MarketSentiment string    `json:"marketSentiment"`
	Source          string    `json:"source"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// ValidationError reports a response field that broke the schema
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid analysis field %q: %s", e.Field, e.Message)
}

var codeBlockPattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownCodeBlock removes markdown code block formatting from LLM responses
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if matches := codeBlockPattern.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

// rawAnalysis mirrors the response with pointers so missing fields are detectable
type rawAnalysis struct {
	Recommendation  *string  `json:"recommendation"`
	Confidence      *float64 `json:"confidence"`
	PriceTarget     *float64 `json:"priceTarget"`
	TimeHorizon     *string  `json:"timeHorizon"`
	KeyPoints       []string `json:"keyPoints"`
	Risks           []string `json:"risks"`
	Opportunities   []string `json:"opportunities"`
	MarketSentiment *string  `json:"marketSentiment"`
}

// ParseAnalysis decodes and strictly validates a model response
func ParseAnalysis(response string) (*Analysis, error) {
	clean := stripMarkdownCodeBlock(response)

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return nil, &ValidationError{Field: "body", Message: fmt.Sprintf("not a JSON object: %v", err)}
	}

	if raw.Recommendation == nil {
		return nil, &ValidationError{Field: "recommendation", Message: "missing"}
	}
	rec := strings.ToUpper(strings.TrimSpace(*raw.Recommendation))
	switch rec {
	case RecommendBuy, RecommendSell, RecommendHold:
	default:
		return nil, &ValidationError{Field: "recommendation", Message: fmt.Sprintf("must be BUY, SELL or HOLD, got %q", *raw.Recommendation)}
	}

	if raw.Confidence == nil {
		return nil, &ValidationError{Field: "confidence", Message: "missing"}
	}
	if *raw.Confidence < 0 || *raw.Confidence > 100 {
		return nil, &ValidationError{Field: "confidence", Message: fmt.Sprintf("must be within [0,100], got %v", *raw.Confidence)}
	}

	target := 0.0
	if raw.PriceTarget != nil {
		if *raw.PriceTarget < 0 {
			return nil, &ValidationError{Field: "priceTarget", Message: "must not be negative"}
		}
		target = *raw.PriceTarget
	}

	if raw.TimeHorizon == nil || strings.TrimSpace(*raw.TimeHorizon) == "" {
		return nil, &ValidationError{Field: "timeHorizon", Message: "missing"}
	}

	if raw.MarketSentiment == nil {
		return nil, &ValidationError{Field: "marketSentiment", Message: "missing"}
	}
	ms := strings.ToLower(strings.TrimSpace(*raw.MarketSentiment))
	switch ms {
	case "bullish", "bearish", "neutral":
	default:
		return nil, &ValidationError{Field: "marketSentiment", Message: fmt.Sprintf("must be bullish, bearish or neutral, got %q", *raw.MarketSentiment)}
	}

	return &Analysis{
		Recommendation:  rec,
		Confidence:      *raw.Confidence,
		PriceTarget:     target,
		TimeHorizon:     strings.TrimSpace(*raw.TimeHorizon),
		KeyPoints:       nonNil(raw.KeyPoints),
		Risks:           nonNil(raw.Risks),
		Opportunities:   nonNil(raw.Opportunities),
		MarketSentiment: ms,
		Source:          SourceLLM,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Analyst asks the model for an asset analysis
type Analyst struct {
	client          Completer
	rateLimitPerMin int
	requestCount    int
	lastReset       time.Time
	mu              sync.Mutex
	now             func() time.Time
	logger          *logging.Logger
}

// NewAnalyst creates an analyst. client may be nil, in which case every call
// fails and callers use FallbackAnalysis.
func NewAnalyst(client Completer, rateLimitPerMin int) *Analyst {
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 10
	}
	return &Analyst{
		client:          client,
		rateLimitPerMin: rateLimitPerMin,
		lastReset:       time.Now(),
		now:             time.Now,
		logger:          logging.WithComponent("llm"),
	}
}

// IsEnabled reports whether a configured client is present
func (a *Analyst) IsEnabled() bool {
	return a.client != nil && a.client.IsConfigured()
}

// checkRateLimit caps model calls per minute
func (a *Analyst) checkRateLimit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if now.Sub(a.lastReset) > time.Minute {
		a.requestCount = 0
		a.lastReset = now
	}
	if a.requestCount >= a.rateLimitPerMin {
		return false
	}
	a.requestCount++
	return true
}

// Analyze calls the model and validates its answer. A schema violation is
// returned as *ValidationError.
func (a *Analyst) Analyze(ctx context.Context, in Input) (*Analysis, error) {
	if !a.IsEnabled() {
		return nil, fmt.Errorf("LLM analyst not configured")
	}
	if !a.checkRateLimit() {
		return nil, fmt.Errorf("LLM rate limit exceeded")
	}

	start := a.now()
	response, err := a.client.Complete(ctx, SystemPromptAssetAnalysis, BuildAssetAnalysisPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}

	analysis, err := ParseAnalysis(response)
	if err != nil {
		a.logger.Warn("LLM response rejected", "symbol", in.Quote.Symbol, "error", err)
		return nil, err
	}
	analysis.GeneratedAt = a.now()

	a.logger.Debug("LLM analysis complete", "symbol", in.Quote.Symbol, "recommendation", analysis.Recommendation, "duration", a.now().Sub(start))
	return analysis, nil
}
