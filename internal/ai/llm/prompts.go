package llm

import (
	"fmt"
	"strings"

	"market-signal-bot/internal/ai/sentiment"
	"market-signal-bot/internal/indicators"
	"market-signal-bot/internal/marketdata"
)

// SystemPromptAssetAnalysis asks for a structured recommendation on one asset
const SystemPromptAssetAnalysis = `You are an expert equity and cryptocurrency analyst. Analyze the provided quote, technical indicators and news sentiment and give a clear recommendation.

Your response must be in valid JSON format with the following structure:
{
  "recommendation": "BUY" | "SELL" | "HOLD",
  "confidence": 0-100,
  "priceTarget": number,
  "timeHorizon": "short_term" | "medium_term" | "long_term",
  "keyPoints": ["..."],
  "risks": ["..."],
  "opportunities": ["..."],
  "marketSentiment": "bullish" | "bearish" | "neutral"
}

Be conservative with confidence. Only go above 75 when price action, indicators and sentiment agree.
Respond with the JSON object only.`

// maxPromptHeadlines bounds how many headlines are quoted in a prompt
const maxPromptHeadlines = 5

// BuildAssetAnalysisPrompt renders the user prompt for one asset
func BuildAssetAnalysisPrompt(in Input) string {
	q := in.Quote
	ind := in.Indicators

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze %s (%s, %s).\n\n", q.Symbol, q.Name, q.Type)

	b.WriteString("QUOTE:\n")
	fmt.Fprintf(&b, "- Price: %.4f\n", q.Price)
	fmt.Fprintf(&b, "- Change: %.4f (%.2f%%)\n", q.Change, q.ChangePercent)
	if q.Volume.Valid {
		fmt.Fprintf(&b, "- Volume: %.0f\n", q.Volume.Float64)
	}
	if q.MarketCap.Valid {
		fmt.Fprintf(&b, "- Market cap: %.0f\n", q.MarketCap.Float64)
	}
	if q.PERatio.Valid {
		fmt.Fprintf(&b, "- P/E: %.2f\n", q.PERatio.Float64)
	}
	if q.Sector.Valid {
		fmt.Fprintf(&b, "- Sector: %s\n", q.Sector.String)
	}

	fmt.Fprintf(&b, "\nTECHNICAL INDICATORS (%d samples", ind.Samples)
	if !ind.Sufficient {
		b.WriteString(", limited history")
	}
	b.WriteString("):\n")
	fmt.Fprintf(&b, "- RSI(14): %.2f\n", ind.RSI)
	fmt.Fprintf(&b, "- MACD: %.4f signal %.4f histogram %.4f\n", ind.MACD.MACD, ind.MACD.Signal, ind.MACD.Histogram)
	fmt.Fprintf(&b, "- MA20: %.4f MA50: %.4f\n", ind.MA20, ind.MA50)
	fmt.Fprintf(&b, "- Bollinger: upper %.4f lower %.4f\n", ind.Bollinger.Upper, ind.Bollinger.Lower)
	fmt.Fprintf(&b, "- Volatility (annualized): %.2f%%\n", ind.Volatility)
	fmt.Fprintf(&b, "- Volume: %s\n", ind.VolumeClass)

	b.WriteString("\nNEWS SENTIMENT:\n")
	fmt.Fprintf(&b, "- Score: %.2f (%s) across %d articles\n", in.Sentiment.Score, in.Sentiment.Label, in.Sentiment.ArticleCount)
	for i, n := range in.News {
		if i == maxPromptHeadlines {
			break
		}
		fmt.Fprintf(&b, "- %s (%s)\n", n.Title, n.Source)
	}

	return b.String()
}

// Input is everything the analysis is based on
type Input struct {
	Quote      marketdata.Quote      `json:"quote"`
	Indicators indicators.Set        `json:"indicators"`
	Sentiment  sentiment.Summary     `json:"sentiment"`
	News       []marketdata.NewsItem `json:"news,omitempty"`
}
