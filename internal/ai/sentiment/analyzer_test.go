package sentiment

import (
	"math"
	"testing"
	"time"

	"market-signal-bot/internal/marketdata"

	"github.com/guregu/null/v6"
)

func TestScoreHeadline(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"IBM beats estimates, shares surge", 1},
		{"Shares plunge after earnings miss", -1},
		{"IBM beats estimates but guidance cuts weigh", 0},
		{"Company holds annual meeting", 0},
	}
	for _, tt := range tests {
		if got := ScoreHeadline(tt.text); got != tt.want {
			t.Errorf("ScoreHeadline(%q): expected %v, got %v", tt.text, tt.want, got)
		}
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, time.Now())
	if s.Label != Neutral || s.Score != 0 || s.ArticleCount != 0 {
		t.Errorf("Expected neutral empty summary, got %+v", s)
	}
}

func TestSummarizePrefersProviderScore(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	news := []marketdata.NewsItem{
		{Title: "Shares plunge", Sentiment: null.FloatFrom(0.6), PublishedAt: now.Add(-2 * time.Hour)},
		{Title: "Strong growth", PublishedAt: now.Add(-2 * time.Hour)},
	}

	s := Summarize(news, now)
	if s.Scored != 1 || s.ArticleCount != 2 {
		t.Errorf("Expected 1 of 2 scored, got %d of %d", s.Scored, s.ArticleCount)
	}
	if math.Abs(s.Score-0.8) > 1e-9 {
		t.Errorf("Expected score 0.8, got %v", s.Score)
	}
	if s.Label != Bullish {
		t.Errorf("Expected bullish, got %s", s.Label)
	}
}

func TestSummarizeWeightsRecentNews(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	news := []marketdata.NewsItem{
		{Title: "fresh", Sentiment: null.FloatFrom(-1), PublishedAt: now.Add(-10 * time.Minute)},
		{Title: "stale", Sentiment: null.FloatFrom(1), PublishedAt: now.Add(-48 * time.Hour)},
	}

	s := Summarize(news, now)
	// (-1*2 + 1*0.5) / 2.5
	if math.Abs(s.Score-(-0.6)) > 1e-9 {
		t.Errorf("Expected -0.6, got %v", s.Score)
	}
	if s.Label != Bearish {
		t.Errorf("Expected bearish, got %s", s.Label)
	}
}

func TestLabelForNeutralBand(t *testing.T) {
	if LabelFor(0.14) != Neutral || LabelFor(-0.14) != Neutral {
		t.Error("Expected scores inside the band to be neutral")
	}
	if LabelFor(0.15) != Bullish || LabelFor(-0.15) != Bearish {
		t.Error("Expected band edges to be directional")
	}
}
