package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// CoinGecko is the secondary source, used for crypto assets
type CoinGecko struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewCoinGecko creates the provider. apiKey may be empty for the public tier.
func NewCoinGecko(apiKey, baseURL string, timeout time.Duration) *CoinGecko {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGecko{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout),
		now:        time.Now,
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

// maxSearchCoins bounds how many search hits are priced
const maxSearchCoins = 3

func (c *CoinGecko) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": c.apiKey}
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return fetchJSON(ctx, c.httpClient, u, headers, out)
}

type cgSearchResponse struct {
	Coins []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Symbol        string `json:"symbol"`
		MarketCapRank int    `json:"market_cap_rank"`
	} `json:"coins"`
}

type cgCoin struct {
	id, symbol, name string
}

// Resolve prices known crypto tickers directly and searches free text.
// Ticker-shaped queries that are not known crypto assets are skipped so an
// equity symbol never resolves to an unrelated token.
func (c *CoinGecko) Resolve(ctx context.Context, query string) ([]Quote, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var coins []cgCoin
	base := baseCryptoSymbol(query)
	if id, ok := coinGeckoIDs[base]; ok {
		name := base
		if sd, ok := seedBySymbol[base]; ok {
			name = sd.Name
		}
		coins = append(coins, cgCoin{id: id, symbol: base, name: name})
	} else if looksLikeTicker(query) {
		return nil, nil
	} else {
		var search cgSearchResponse
		if err := c.get(ctx, "/search", url.Values{"query": {query}}, &search); err != nil {
			return nil, err
		}
		for _, coin := range search.Coins {
			if coin.MarketCapRank == 0 {
				continue
			}
			coins = append(coins, cgCoin{id: coin.ID, symbol: strings.ToUpper(coin.Symbol), name: coin.Name})
			if len(coins) == maxSearchCoins {
				break
			}
		}
	}
	if len(coins) == 0 {
		return nil, nil
	}

	ids := make([]string, len(coins))
	for i, coin := range coins {
		ids[i] = coin.id
	}

	var prices map[string]map[string]float64
	params := url.Values{
		"ids":                 {strings.Join(ids, ",")},
		"vs_currencies":       {"usd"},
		"include_market_cap":  {"true"},
		"include_24hr_vol":    {"true"},
		"include_24hr_change": {"true"},
	}
	if err := c.get(ctx, "/simple/price", params, &prices); err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]Quote, 0, len(coins))
	for _, coin := range coins {
		p, ok := prices[coin.id]
		if !ok {
			continue
		}
		price := p["usd"]
		pct := p["usd_24h_change"]
		change := 0.0
		if pct != 0 {
			change = price - price/(1+pct/100)
		}
		q := Quote{
			Symbol:        coin.symbol,
			Name:          coin.name,
			Type:          AssetCrypto,
			Price:         price,
			Change:        change,
			ChangePercent: pct,
			Region:        "Global",
			Source:        c.Name(),
			CapturedAt:    now,
		}
		if v, ok := p["usd_24h_vol"]; ok && v > 0 {
			q.Volume = null.FloatFrom(v)
		}
		if v, ok := p["usd_market_cap"]; ok && v > 0 {
			q.MarketCap = null.FloatFrom(v)
		}
		q.Normalize()
		out = append(out, q)
	}
	return out, nil
}

var cgHistoryDays = map[Interval]string{
	IntervalIntraday: "1",
	IntervalDaily:    "120",
	IntervalWeekly:   "730",
	IntervalMonthly:  "max",
}

type cgMarketChart struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// History returns market_chart points. Weekly and monthly series are
// downsampled from the daily points.
func (c *CoinGecko) History(ctx context.Context, symbol string, interval Interval) (*PriceSeries, error) {
	base := baseCryptoSymbol(symbol)
	id, ok := coinGeckoIDs[base]
	if !ok {
		return nil, ErrUnsupported
	}
	days, ok := cgHistoryDays[interval]
	if !ok {
		return nil, fmt.Errorf("unknown interval %q", interval)
	}

	params := url.Values{"vs_currency": {"usd"}, "days": {days}}
	if interval != IntervalIntraday {
		params.Set("interval", "daily")
	}

	var chart cgMarketChart
	if err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", params, &chart); err != nil {
		return nil, err
	}

	volumes := make(map[int64]float64, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		volumes[int64(v[0])] = v[1]
	}

	points := make([]PricePoint, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		if p[1] <= 0 {
			continue
		}
		ms := int64(p[0])
		points = append(points, PricePoint{
			Timestamp: time.UnixMilli(ms).UTC(),
			Price:     p[1],
			Volume:    volumes[ms],
		})
	}
	points = sortPoints(points)

	switch interval {
	case IntervalWeekly:
		points = downsample(points, func(t time.Time) string {
			y, w := t.ISOWeek()
			return fmt.Sprintf("%d-%02d", y, w)
		})
	case IntervalMonthly:
		points = downsample(points, func(t time.Time) string { return t.Format("2006-01") })
	}

	return &PriceSeries{Symbol: base, Interval: interval, Points: points, Source: c.Name()}, nil
}

// downsample keeps the last point of each bucket and sums volume across it
func downsample(points []PricePoint, bucket func(time.Time) string) []PricePoint {
	out := make([]PricePoint, 0, len(points)/5+1)
	lastKey := ""
	for _, p := range points {
		key := bucket(p.Timestamp)
		if n := len(out); n > 0 && key == lastKey {
			vol := out[n-1].Volume + p.Volume
			out[n-1] = p
			out[n-1].Volume = vol
			continue
		}
		out = append(out, p)
		lastKey = key
	}
	return out
}
