package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	rmodels "github.com/polygon-io/client-go/rest/models"
)

// Bar is one aggregate returned by the Polygon REST API
type Bar struct {
	Timestamp time.Time
	Close     float64
	Volume    float64
}

// AggsFetcher lists aggregate bars for a request
type AggsFetcher func(ctx context.Context, params *rmodels.ListAggsParams) ([]Bar, error)

// Polygon serves equity and crypto history from aggregate bars
type Polygon struct {
	fetch AggsFetcher
	now   func() time.Time
}

// NewPolygon creates the provider backed by the official REST client
func NewPolygon(apiKey string, timeout time.Duration) *Polygon {
	rest := polygonrest.NewWithClient(apiKey, &http.Client{Timeout: orDefaultTimeout(timeout)})
	return NewPolygonWithFetcher(func(ctx context.Context, params *rmodels.ListAggsParams) ([]Bar, error) {
		iter := rest.ListAggs(ctx, params)
		var bars []Bar
		for iter.Next() {
			a := iter.Item()
			bars = append(bars, Bar{
				Timestamp: time.Time(a.Timestamp).UTC(),
				Close:     a.Close,
				Volume:    a.Volume,
			})
		}
		if err := iter.Err(); err != nil {
			return nil, classifyPolygonError(err)
		}
		return bars, nil
	})
}

// NewPolygonWithFetcher creates the provider around a custom fetcher
func NewPolygonWithFetcher(fetch AggsFetcher) *Polygon {
	return &Polygon{fetch: fetch, now: time.Now}
}

func (p *Polygon) Name() string { return "polygon" }

func orDefaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultHTTPTimeout
	}
	return d
}

// classifyPolygonError maps client errors onto the package sentinels
func classifyPolygonError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "exceeded the maximum requests"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

type polygonWindow struct {
	timespan   rmodels.Timespan
	multiplier int
	lookback   time.Duration
}

var polygonWindows = map[Interval]polygonWindow{
	IntervalIntraday: {rmodels.Minute, 5, 24 * time.Hour},
	IntervalDaily:    {rmodels.Day, 1, 180 * 24 * time.Hour},
	IntervalWeekly:   {rmodels.Week, 1, 2 * 365 * 24 * time.Hour},
	IntervalMonthly:  {rmodels.Month, 1, 5 * 365 * 24 * time.Hour},
}

// polygonTicker maps crypto symbols onto Polygon's X:<base>USD tickers
func polygonTicker(symbol string) string {
	if IsCryptoSymbol(symbol) {
		return "X:" + baseCryptoSymbol(symbol) + "USD"
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// History lists aggregate bars ending now
func (p *Polygon) History(ctx context.Context, symbol string, interval Interval) (*PriceSeries, error) {
	win, ok := polygonWindows[interval]
	if !ok {
		return nil, fmt.Errorf("unknown interval %q", interval)
	}

	now := p.now()
	params := &rmodels.ListAggsParams{
		Ticker:     polygonTicker(symbol),
		Timespan:   win.timespan,
		Multiplier: win.multiplier,
		From:       rmodels.Millis(now.Add(-win.lookback)),
		To:         rmodels.Millis(now),
	}
	lim := 5000
	asc := rmodels.Asc
	adj := true
	params.Limit = &lim
	params.Order = &asc
	params.Adjusted = &adj

	bars, err := p.fetch(ctx, params)
	if err != nil {
		return nil, err
	}

	points := make([]PricePoint, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		points = append(points, PricePoint{Timestamp: b.Timestamp, Price: b.Close, Volume: b.Volume})
	}

	return &PriceSeries{
		Symbol:   strings.ToUpper(baseCryptoSymbol(symbol)),
		Interval: interval,
		Points:   sortPoints(points),
		Source:   p.Name(),
	}, nil
}
