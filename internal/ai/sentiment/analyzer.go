package sentiment

import (
	"math"
	"strings"
	"time"

	"market-signal-bot/internal/marketdata"
)

// Label classifies an aggregate score
type Label string

const (
	Bullish Label = "bullish"
	Bearish Label = "bearish"
	Neutral Label = "neutral"
)

// NeutralBand is the |score| below which the label stays neutral
const NeutralBand = 0.15

// Summary is the aggregate sentiment of a set of headlines
type Summary struct {
	Score        float64   `json:"score"` // -1 (bearish) to +1 (bullish)
	Label        Label     `json:"label"`
	ArticleCount int       `json:"articleCount"`
	Scored       int       `json:"scored"` // items carrying a provider score
	UpdatedAt    time.Time `json:"updatedAt"`
}

var positiveWords = []string{
	"beat", "beats", "surge", "surges", "soar", "soars", "rally", "rallies", "gain", "gains",
	"record", "upgrade", "upgraded", "outperform", "bullish", "growth", "profit", "strong",
	"raises", "jump", "jumps", "tops", "breakthrough", "approval", "buy",
}

var negativeWords = []string{
	"miss", "misses", "plunge", "plunges", "fall", "falls", "drop", "drops", "slump", "loss",
	"losses", "downgrade", "downgraded", "underperform", "bearish", "lawsuit", "probe", "weak",
	"cuts", "recall", "fraud", "layoffs", "sell", "crash", "warning",
}

// ScoreHeadline scores text from keyword hits, in [-1, 1]
func ScoreHeadline(text string) float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})

	pos, neg := 0, 0
	for _, w := range words {
		for _, p := range positiveWords {
			if w == p {
				pos++
			}
		}
		for _, n := range negativeWords {
			if w == n {
				neg++
			}
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// Summarize aggregates news relative to now. Provider scores win over the
// keyword score; both are clamped to [-1, 1].
func Summarize(news []marketdata.NewsItem, now time.Time) Summary {
	s := Summary{Label: Neutral, ArticleCount: len(news), UpdatedAt: now}
	if len(news) == 0 {
		return s
	}

	totalWeight := 0.0
	weightedSum := 0.0

	for _, item := range news {
		score := 0.0
		if item.Sentiment.Valid {
			score = item.Sentiment.Float64
			s.Scored++
		} else {
			score = ScoreHeadline(item.Title + " " + item.Summary)
		}
		score = math.Max(-1, math.Min(1, score))

		weight := recencyWeight(now, item.PublishedAt)
		weightedSum += score * weight
		totalWeight += weight
	}

	if totalWeight > 0 {
		s.Score = weightedSum / totalWeight
	}
	s.Label = LabelFor(s.Score)
	return s
}

// recencyWeight weights recent news more heavily
func recencyWeight(now, published time.Time) float64 {
	if published.IsZero() {
		return 1.0
	}
	age := now.Sub(published).Hours()
	switch {
	case age < 1:
		return 2.0
	case age < 6:
		return 1.5
	case age > 24:
		return 0.5
	}
	return 1.0
}

// LabelFor maps a score to its label
func LabelFor(score float64) Label {
	switch {
	case score >= NeutralBand:
		return Bullish
	case score <= -NeutralBand:
		return Bearish
	}
	return Neutral
}
