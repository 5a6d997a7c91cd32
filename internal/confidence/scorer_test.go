package confidence

import (
	"testing"

	"market-signal-bot/internal/ai/sentiment"
	"market-signal-bot/internal/indicators"
	"market-signal-bot/internal/marketdata"

	"github.com/guregu/null/v6"
)

func fullQuote() marketdata.Quote {
	return marketdata.Quote{
		Symbol:    "IBM",
		Price:     100,
		Volume:    null.FloatFrom(1e6),
		MarketCap: null.FloatFrom(1e11),
		PERatio:   null.FloatFrom(20),
		Sector:    null.StringFrom("Technology"),
	}
}

func TestScoreBaseOnly(t *testing.T) {
	s := NewScorer().Score(marketdata.Quote{Symbol: "X", Price: 1}, indicators.Neutral("X", 1), sentiment.Summary{Label: sentiment.Neutral})
	if s.Value != Base {
		t.Errorf("Expected base %d, got %d", Base, s.Value)
	}
	if len(s.Reasoning) != 0 {
		t.Errorf("Expected no reasoning, got %v", s.Reasoning)
	}
}

func TestScoreCompleteness(t *testing.T) {
	s := NewScorer().Score(fullQuote(), indicators.Neutral("IBM", 100), sentiment.Summary{Label: sentiment.Neutral})
	if s.Value != 80 {
		t.Errorf("Expected 80, got %d", s.Value)
	}
}

func TestScoreIgnoresIndicatorsWithoutHistory(t *testing.T) {
	ind := indicators.Neutral("IBM", 100) // RSI 50, on MA20, zero volatility
	s := NewScorer().Score(marketdata.Quote{Symbol: "IBM", Price: 100}, ind, sentiment.Summary{})
	if s.Value != Base {
		t.Errorf("Expected indicator bonuses skipped, got %d", s.Value)
	}

	ind.Sufficient = true
	s = NewScorer().Score(marketdata.Quote{Symbol: "IBM", Price: 100}, ind, sentiment.Summary{})
	if s.Value != Base+5+3+5 {
		t.Errorf("Expected %d with indicator bonuses, got %d", Base+13, s.Value)
	}
}

func TestScoreHighVolatilityPenalty(t *testing.T) {
	ind := indicators.Set{Sufficient: true, RSI: 85, Price: 100, MA20: 150, Volatility: 55}
	s := NewScorer().Score(marketdata.Quote{Symbol: "X", Price: 100}, ind, sentiment.Summary{})
	if s.Value != Base-5 {
		t.Errorf("Expected %d, got %d", Base-5, s.Value)
	}
}

func TestScoreSentimentNeedsCoverage(t *testing.T) {
	q := marketdata.Quote{Symbol: "X", Price: 1}
	ind := indicators.Neutral("X", 1)

	few := NewScorer().Score(q, ind, sentiment.Summary{Label: sentiment.Bullish, ArticleCount: 2})
	if few.Value != Base {
		t.Errorf("Expected no bonus below 3 articles, got %d", few.Value)
	}
	some := NewScorer().Score(q, ind, sentiment.Summary{Label: sentiment.Bearish, ArticleCount: 3})
	if some.Value != Base+8 {
		t.Errorf("Expected +8, got %d", some.Value)
	}
	many := NewScorer().Score(q, ind, sentiment.Summary{Label: sentiment.Bullish, ArticleCount: 12})
	if many.Value != Base+13 {
		t.Errorf("Expected +13, got %d", many.Value)
	}
}

func TestScoreAlwaysClamped(t *testing.T) {
	allBonus := NewScorer().Score(
		fullQuote(),
		indicators.Set{Sufficient: true, RSI: 50, Price: 100, MA20: 100, Volatility: 5},
		sentiment.Summary{Label: sentiment.Bullish, ArticleCount: 50},
	)
	if allBonus.Raw <= Max {
		t.Fatalf("Expected raw above max for all bonuses, got %d", allBonus.Raw)
	}
	if allBonus.Value != Max {
		t.Errorf("Expected %d, got %d", Max, allBonus.Value)
	}

	// A scorer with an exaggerated penalty drives raw below the floor
	harsh := NewScorer()
	harsh.highVolatilityMalus = 500
	allPenalty := harsh.Score(
		marketdata.Quote{Symbol: "X"},
		indicators.Set{Sufficient: true, RSI: 95, Price: 1, MA20: 100, Volatility: 90},
		sentiment.Summary{},
	)
	if allPenalty.Value != Min {
		t.Errorf("Expected %d, got %d", Min, allPenalty.Value)
	}

	for _, v := range []int{-1000, 0, 44, 45, 60, 85, 86, 1 << 30} {
		if c := Clamp(v); c < Min || c > Max {
			t.Errorf("Clamp(%d) = %d out of range", v, c)
		}
	}
}
