package llm

import (
	"fmt"
	"math"
	"time"

	"market-signal-bot/internal/ai/sentiment"
)

// FallbackAnalysis derives a recommendation from indicator and sentiment
// votes. It is used whenever the model is unavailable or its answer fails
// validation.
func FallbackAnalysis(in Input) *Analysis {
	ind := in.Indicators
	price := in.Quote.Price

	a := &Analysis{
		TimeHorizon:     "short_term",
		KeyPoints:       []string{},
		Risks:           []string{},
		Opportunities:   []string{},
		MarketSentiment: string(in.Sentiment.Label),
		Source:          SourceRules,
		GeneratedAt:     time.Now(),
	}
	if a.MarketSentiment == "" {
		a.MarketSentiment = string(sentiment.Neutral)
	}

	votes := 0
	if ind.Sufficient {
		switch {
		case ind.RSI < 30:
			votes++
			a.Opportunities = append(a.Opportunities, fmt.Sprintf("RSI %.1f is oversold", ind.RSI))
		case ind.RSI > 70:
			votes--
			a.Risks = append(a.Risks, fmt.Sprintf("RSI %.1f is overbought", ind.RSI))
		default:
			a.KeyPoints = append(a.KeyPoints, fmt.Sprintf("RSI %.1f is neutral", ind.RSI))
		}

		if ind.MACD.Histogram > 0 {
			votes++
			a.KeyPoints = append(a.KeyPoints, "MACD above signal line")
		} else if ind.MACD.Histogram < 0 {
			votes--
			a.KeyPoints = append(a.KeyPoints, "MACD below signal line")
		}

		switch ind.Trend() {
		case "bullish":
			votes++
			a.KeyPoints = append(a.KeyPoints, "Price above rising moving averages")
		case "bearish":
			votes--
			a.KeyPoints = append(a.KeyPoints, "Price below falling moving averages")
		}

		if ind.Volatility > 40 {
			a.Risks = append(a.Risks, fmt.Sprintf("High volatility %.1f%%", ind.Volatility))
		}
	} else {
		a.Risks = append(a.Risks, "Limited price history")
	}

	switch in.Sentiment.Label {
	case sentiment.Bullish:
		votes++
		a.Opportunities = append(a.Opportunities, "Positive news sentiment")
	case sentiment.Bearish:
		votes--
		a.Risks = append(a.Risks, "Negative news sentiment")
	}

	switch {
	case votes >= 2:
		a.Recommendation = RecommendBuy
		a.PriceTarget = math.Max(ind.Bollinger.Upper, price*1.05)
	case votes <= -2:
		a.Recommendation = RecommendSell
		a.PriceTarget = price * 0.95
		if ind.Bollinger.Lower > 0 && ind.Bollinger.Lower < price {
			a.PriceTarget = ind.Bollinger.Lower
		}
	default:
		a.Recommendation = RecommendHold
		a.PriceTarget = price
	}

	a.Confidence = math.Min(50+10*math.Abs(float64(votes)), 90)
	return a
}
