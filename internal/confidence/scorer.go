// Package confidence scores how much an analysis can be trusted, from data
// completeness, indicator stability and news sentiment.
package confidence

import (
	"fmt"

	"market-signal-bot/internal/ai/sentiment"
	"market-signal-bot/internal/indicators"
	"market-signal-bot/internal/marketdata"
)

// Bounds of every score
const (
	Base = 60
	Min  = 45
	Max  = 85
)

// Score is a bounded confidence value with the factors that produced it
type Score struct {
	Value     int      `json:"value"`
	Raw       int      `json:"raw"` // before clamping
	Reasoning []string `json:"reasoning"`
}

// Scorer calculates confidence scores
type Scorer struct {
	// Completeness bonuses
	volumeBonus    int
	marketCapBonus int
	peBonus        int
	sectorBonus    int

	// Sentiment bonuses
	sentimentBonus   int
	newsVolumeBonus  int
	minArticles      int
	highNewsArticles int

	// Indicator adjustments
	neutralRSIBonus     int
	nearMABonus         int
	lowVolatilityBonus  int
	highVolatilityMalus int
}

// NewScorer creates a scorer with the default weights
func NewScorer() *Scorer {
	return &Scorer{
		volumeBonus:         5,
		marketCapBonus:      5,
		peBonus:             5,
		sectorBonus:         5,
		sentimentBonus:      8,
		newsVolumeBonus:     5,
		minArticles:         3,
		highNewsArticles:    10,
		neutralRSIBonus:     5,
		nearMABonus:         3,
		lowVolatilityBonus:  5,
		highVolatilityMalus: 5,
	}
}

// Score combines the inputs. The result is always within [Min, Max].
func (s *Scorer) Score(q marketdata.Quote, ind indicators.Set, sent sentiment.Summary) Score {
	score := Score{Reasoning: make([]string, 0, 8)}
	raw := Base

	// 1. Data completeness
	if q.Volume.Valid {
		raw += s.volumeBonus
		score.Reasoning = append(score.Reasoning, "Volume available")
	}
	if q.MarketCap.Valid {
		raw += s.marketCapBonus
		score.Reasoning = append(score.Reasoning, "Market cap available")
	}
	if q.PERatio.Valid {
		raw += s.peBonus
		score.Reasoning = append(score.Reasoning, "P/E available")
	}
	if q.Sector.Valid {
		raw += s.sectorBonus
		score.Reasoning = append(score.Reasoning, "Sector available")
	}

	// 2. Sentiment with enough coverage
	if sent.Label != sentiment.Neutral && sent.ArticleCount >= s.minArticles {
		raw += s.sentimentBonus
		score.Reasoning = append(score.Reasoning, fmt.Sprintf("%s sentiment across %d articles", sent.Label, sent.ArticleCount))
		if sent.ArticleCount >= s.highNewsArticles {
			raw += s.newsVolumeBonus
			score.Reasoning = append(score.Reasoning, "High news coverage")
		}
	}

	// 3. Indicators, only when computed from enough history
	if ind.Sufficient {
		if ind.RSI >= 30 && ind.RSI <= 70 {
			raw += s.neutralRSIBonus
			score.Reasoning = append(score.Reasoning, fmt.Sprintf("RSI %.1f in neutral band", ind.RSI))
		}
		if ind.MA20 > 0 && ind.DistanceFromMA20() <= 10 {
			raw += s.nearMABonus
			score.Reasoning = append(score.Reasoning, "Price within 10% of MA20")
		}
		switch {
		case ind.Volatility < 20:
			raw += s.lowVolatilityBonus
			score.Reasoning = append(score.Reasoning, fmt.Sprintf("Low volatility %.1f%%", ind.Volatility))
		case ind.Volatility > 40:
			raw -= s.highVolatilityMalus
			score.Reasoning = append(score.Reasoning, fmt.Sprintf("High volatility %.1f%%", ind.Volatility))
		}
	}

	score.Raw = raw
	score.Value = Clamp(raw)
	return score
}

// Clamp bounds v to [Min, Max]
func Clamp(v int) int {
	if v < Min {
		return Min
	}
	if v > Max {
		return Max
	}
	return v
}
