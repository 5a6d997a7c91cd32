package marketdata

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// AssetType distinguishes equities from crypto assets
type AssetType string

const (
	AssetStock  AssetType = "STOCK"
	AssetCrypto AssetType = "CRYPTO"
)

// Quote is a point-in-time asset snapshot
type Quote struct {
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	Type          AssetType   `json:"type"`
	Price         float64     `json:"price"`
	Change        float64     `json:"change"`
	ChangePercent float64     `json:"changePercent"`
	Open          float64     `json:"open,omitempty"`
	High          float64     `json:"high,omitempty"`
	Low           float64     `json:"low,omitempty"`
	Volume        null.Float  `json:"volume"`
	MarketCap     null.Float  `json:"marketCap"`
	PERatio       null.Float  `json:"peRatio"`
	Sector        null.String `json:"sector"`
	Region        string      `json:"region,omitempty"`
	Source        string      `json:"source"`
	CapturedAt    time.Time   `json:"capturedAt"`
}

// Usable reports whether the quote carries a real price
func (q Quote) Usable() bool {
	return q.Symbol != "" && q.Price > 0 && !math.IsNaN(q.Price) && !math.IsInf(q.Price, 0)
}

// Normalize clamps a negative price to zero and recomputes changePercent when
// its sign disagrees with change.
func (q *Quote) Normalize() {
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Price < 0 || math.IsNaN(q.Price) {
		q.Price = 0
	}
	if q.Change == 0 {
		q.ChangePercent = 0
		return
	}
	if (q.Change > 0) != (q.ChangePercent > 0) || q.ChangePercent == 0 {
		prev := q.Price - q.Change
		if prev > 0 {
			q.ChangePercent = q.Change / prev * 100
		} else {
			q.ChangePercent = 0
			q.Change = 0
		}
	}
}

// Interval is the spacing of a price series
type Interval string

const (
	IntervalIntraday Interval = "intraday"
	IntervalDaily    Interval = "daily"
	IntervalWeekly   Interval = "weekly"
	IntervalMonthly  Interval = "monthly"
)

// ParseInterval validates an interval name. Empty means daily.
func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.ToLower(strings.TrimSpace(s))) {
	case "", IntervalDaily:
		return IntervalDaily, nil
	case IntervalIntraday:
		return IntervalIntraday, nil
	case IntervalWeekly:
		return IntervalWeekly, nil
	case IntervalMonthly:
		return IntervalMonthly, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Step returns the nominal spacing between points
func (i Interval) Step() time.Duration {
	switch i {
	case IntervalIntraday:
		return 5 * time.Minute
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	case IntervalMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// PricePoint is one observation in a series
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}

// PriceSeries holds ordered historical points for one symbol
type PriceSeries struct {
	Symbol   string       `json:"symbol"`
	Interval Interval     `json:"interval"`
	Points   []PricePoint `json:"points"`
	Source   string       `json:"source"`
}

// Validate checks that timestamps are strictly increasing
func (s PriceSeries) Validate() error {
	for i := 1; i < len(s.Points); i++ {
		if !s.Points[i].Timestamp.After(s.Points[i-1].Timestamp) {
			return fmt.Errorf("series %s: point %d at %s not after %s",
				s.Symbol, i, s.Points[i].Timestamp.Format(time.RFC3339), s.Points[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Prices returns the closing prices in order
func (s PriceSeries) Prices() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Price
	}
	return out
}

// Volumes returns the volumes in order
func (s PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Volume
	}
	return out
}

// Len returns the number of points
func (s PriceSeries) Len() int {
	return len(s.Points)
}

// sortPoints orders points by time and drops duplicate timestamps, keeping the
// last one seen.
func sortPoints(points []PricePoint) []PricePoint {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	out := points[:0]
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(p.Timestamp) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// NewsItem is one headline about an asset
type NewsItem struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Summary     string     `json:"summary,omitempty"`
	PublishedAt time.Time  `json:"publishedAt"`
	Sentiment   null.Float `json:"sentiment"` // -1..1 when the provider scores it
}

// AnalystRatings is the consensus rating breakdown
type AnalystRatings struct {
	StrongBuy   int        `json:"strongBuy"`
	Buy         int        `json:"buy"`
	Hold        int        `json:"hold"`
	Sell        int        `json:"sell"`
	StrongSell  int        `json:"strongSell"`
	TargetPrice null.Float `json:"targetPrice"`
}

// Total returns the number of ratings
func (r AnalystRatings) Total() int {
	return r.StrongBuy + r.Buy + r.Hold + r.Sell + r.StrongSell
}

// Fundamentals holds slower-moving company data
type Fundamentals struct {
	Symbol         string         `json:"symbol"`
	Name           string         `json:"name,omitempty"`
	MarketCap      null.Float     `json:"marketCap"`
	PERatio        null.Float     `json:"peRatio"`
	Sector         null.String    `json:"sector"`
	AnalystRatings AnalystRatings `json:"analystRatings"`
	Source         string         `json:"source"`
}

// Apply copies populated fundamentals into q without overwriting set fields
func (f *Fundamentals) Apply(q *Quote) {
	if f == nil {
		return
	}
	if !q.MarketCap.Valid && f.MarketCap.Valid {
		q.MarketCap = f.MarketCap
	}
	if !q.PERatio.Valid && f.PERatio.Valid {
		q.PERatio = f.PERatio
	}
	if !q.Sector.Valid && f.Sector.Valid {
		q.Sector = f.Sector
	}
	if q.Name == "" {
		q.Name = f.Name
	}
}

// EnhancedAsset is a quote with news and analyst ratings attached
type EnhancedAsset struct {
	Quote
	News           []NewsItem     `json:"news"`
	AnalystRatings AnalystRatings `json:"analystRatings"`
}
