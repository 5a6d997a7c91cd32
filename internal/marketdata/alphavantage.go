package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// AlphaVantage is the primary equity source
type AlphaVantage struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	gate       func() bool
}

// NewAlphaVantage creates the provider. baseURL defaults to the public endpoint.
func NewAlphaVantage(apiKey, baseURL string, timeout time.Duration) *AlphaVantage {
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co"
	}
	return &AlphaVantage{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout),
		now:        time.Now,
	}
}

func (a *AlphaVantage) Name() string { return "alphavantage" }

// SetGate makes every follow-up call of an attempt draw from gate
func (a *AlphaVantage) SetGate(gate func() bool) { a.gate = gate }

// maxSearchQuotes bounds how many search matches are priced. Each one costs a
// GLOBAL_QUOTE call on top of the search.
const maxSearchQuotes = 2

func (a *AlphaVantage) allow() bool {
	return a.gate == nil || a.gate()
}

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}([.\-][A-Z]{1,2})?$`)

// looksLikeTicker reports whether q can be sent straight to a quote endpoint.
// Lowercase input is treated as free text.
func looksLikeTicker(q string) bool {
	return tickerPattern.MatchString(strings.TrimSpace(q))
}

// avEnvelope holds the fields Alpha Vantage uses to report problems in a 200 body
type avEnvelope struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (a *AlphaVantage) call(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("apikey", a.apiKey)
	body, err := fetch(ctx, a.httpClient, a.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	var env avEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", ErrUpstreamUnavailable, err)
	}
	switch {
	case env.Note != "":
		return fmt.Errorf("%w: %s", ErrRateLimited, env.Note)
	case env.Information != "":
		return fmt.Errorf("%w: %s", ErrRateLimited, env.Information)
	case env.ErrorMessage != "":
		return fmt.Errorf("%w: %s", ErrNotFound, env.ErrorMessage)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

type avSearchResponse struct {
	BestMatches []struct {
		Symbol     string `json:"1. symbol"`
		Name       string `json:"2. name"`
		Type       string `json:"3. type"`
		Region     string `json:"4. region"`
		MatchScore string `json:"9. matchScore"`
	} `json:"bestMatches"`
}

type avGlobalQuote struct {
	Quote struct {
		Symbol        string `json:"01. symbol"`
		Open          string `json:"02. open"`
		High          string `json:"03. high"`
		Low           string `json:"04. low"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

// Resolve quotes a ticker directly, or searches first when the query is free
// text and quotes the best matches. Crypto symbols are left to the crypto source.
func (a *AlphaVantage) Resolve(ctx context.Context, query string) ([]Quote, error) {
	query = strings.TrimSpace(query)
	if query == "" || IsCryptoSymbol(query) {
		return nil, nil
	}

	if looksLikeTicker(query) {
		q, err := a.quote(ctx, strings.ToUpper(query))
		if err != nil || q == nil {
			return nil, err
		}
		q.Region = "United States"
		return []Quote{*q}, nil
	}

	var search avSearchResponse
	if err := a.call(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {query}}, &search); err != nil {
		return nil, err
	}

	var out []Quote
	for _, m := range search.BestMatches {
		if len(out) == maxSearchQuotes {
			break
		}
		// The search call used the attempt's slot; each quote needs its own
		if !a.allow() {
			if len(out) == 0 {
				return nil, ErrBudgetExhausted
			}
			break
		}
		q, err := a.quote(ctx, m.Symbol)
		if err != nil {
			if len(out) == 0 {
				return nil, err
			}
			break
		}
		if q == nil {
			continue
		}
		q.Name = m.Name
		q.Region = m.Region
		out = append(out, *q)
	}
	return out, nil
}

func (a *AlphaVantage) quote(ctx context.Context, symbol string) (*Quote, error) {
	var gq avGlobalQuote
	if err := a.call(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}, &gq); err != nil {
		return nil, err
	}
	if gq.Quote.Symbol == "" {
		return nil, nil
	}

	q := Quote{
		Symbol:        gq.Quote.Symbol,
		Type:          AssetStock,
		Price:         parseFloat(gq.Quote.Price),
		Change:        parseFloat(gq.Quote.Change),
		ChangePercent: parseFloat(strings.TrimSuffix(gq.Quote.ChangePercent, "%")),
		Open:          parseFloat(gq.Quote.Open),
		High:          parseFloat(gq.Quote.High),
		Low:           parseFloat(gq.Quote.Low),
		Volume:        parseNullFloat(gq.Quote.Volume),
		Source:        a.Name(),
		CapturedAt:    a.now(),
	}
	q.Normalize()
	return &q, nil
}

var avSeriesFunctions = map[Interval]string{
	IntervalIntraday: "TIME_SERIES_INTRADAY",
	IntervalDaily:    "TIME_SERIES_DAILY",
	IntervalWeekly:   "TIME_SERIES_WEEKLY",
	IntervalMonthly:  "TIME_SERIES_MONTHLY",
}

// History fetches a time series. The series key differs per function, so the
// body is decoded generically and the first "Time Series" object is used.
func (a *AlphaVantage) History(ctx context.Context, symbol string, interval Interval) (*PriceSeries, error) {
	if IsCryptoSymbol(symbol) {
		return nil, ErrUnsupported
	}
	fn, ok := avSeriesFunctions[interval]
	if !ok {
		return nil, fmt.Errorf("unknown interval %q", interval)
	}

	params := url.Values{"function": {fn}, "symbol": {strings.ToUpper(symbol)}}
	if interval == IntervalIntraday {
		params.Set("interval", "5min")
	}

	var raw map[string]json.RawMessage
	if err := a.call(ctx, params, &raw); err != nil {
		return nil, err
	}

	var bars map[string]map[string]string
	for key, msg := range raw {
		if strings.Contains(key, "Time Series") {
			if err := json.Unmarshal(msg, &bars); err != nil {
				return nil, fmt.Errorf("%w: bad series payload: %v", ErrUpstreamUnavailable, err)
			}
			break
		}
	}
	if len(bars) == 0 {
		return nil, nil
	}

	points := make([]PricePoint, 0, len(bars))
	for stamp, bar := range bars {
		ts, err := parseAVTime(stamp)
		if err != nil {
			continue
		}
		price := parseFloat(bar["4. close"])
		if price <= 0 {
			continue
		}
		points = append(points, PricePoint{Timestamp: ts, Price: price, Volume: parseFloat(bar["5. volume"])})
	}

	return &PriceSeries{
		Symbol:   strings.ToUpper(symbol),
		Interval: interval,
		Points:   sortPoints(points),
		Source:   a.Name(),
	}, nil
}

type avNewsResponse struct {
	Feed []struct {
		Title           string  `json:"title"`
		URL             string  `json:"url"`
		TimePublished   string  `json:"time_published"`
		Summary         string  `json:"summary"`
		Source          string  `json:"source"`
		OverallScore    float64 `json:"overall_sentiment_score"`
		TickerSentiment []struct {
			Ticker string `json:"ticker"`
			Score  string `json:"ticker_sentiment_score"`
		} `json:"ticker_sentiment"`
	} `json:"feed"`
}

// News returns scored headlines from NEWS_SENTIMENT
func (a *AlphaVantage) News(ctx context.Context, symbol string) ([]NewsItem, error) {
	ticker := strings.ToUpper(symbol)
	if IsCryptoSymbol(symbol) {
		ticker = "CRYPTO:" + baseCryptoSymbol(symbol)
	}

	var resp avNewsResponse
	if err := a.call(ctx, url.Values{"function": {"NEWS_SENTIMENT"}, "tickers": {ticker}, "limit": {"50"}}, &resp); err != nil {
		return nil, err
	}

	items := make([]NewsItem, 0, len(resp.Feed))
	for _, f := range resp.Feed {
		published, _ := time.Parse("20060102T150405", f.TimePublished)
		score := null.FloatFrom(f.OverallScore)
		for _, ts := range f.TickerSentiment {
			if strings.EqualFold(ts.Ticker, ticker) {
				if v, err := strconv.ParseFloat(ts.Score, 64); err == nil {
					score = null.FloatFrom(v)
				}
				break
			}
		}
		items = append(items, NewsItem{
			Title:       f.Title,
			URL:         f.URL,
			Source:      f.Source,
			Summary:     f.Summary,
			PublishedAt: published,
			Sentiment:   score,
		})
	}
	return items, nil
}

type avOverview struct {
	Symbol                  string `json:"Symbol"`
	Name                    string `json:"Name"`
	Sector                  string `json:"Sector"`
	MarketCapitalization    string `json:"MarketCapitalization"`
	PERatio                 string `json:"PERatio"`
	AnalystTargetPrice      string `json:"AnalystTargetPrice"`
	AnalystRatingStrongBuy  string `json:"AnalystRatingStrongBuy"`
	AnalystRatingBuy        string `json:"AnalystRatingBuy"`
	AnalystRatingHold       string `json:"AnalystRatingHold"`
	AnalystRatingSell       string `json:"AnalystRatingSell"`
	AnalystRatingStrongSell string `json:"AnalystRatingStrongSell"`
}

// Fundamentals returns company overview data
func (a *AlphaVantage) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	if IsCryptoSymbol(symbol) {
		return nil, ErrUnsupported
	}

	var ov avOverview
	if err := a.call(ctx, url.Values{"function": {"OVERVIEW"}, "symbol": {strings.ToUpper(symbol)}}, &ov); err != nil {
		return nil, err
	}
	if ov.Symbol == "" {
		return nil, nil
	}

	f := &Fundamentals{
		Symbol:    ov.Symbol,
		Name:      ov.Name,
		MarketCap: parseNullFloat(ov.MarketCapitalization),
		PERatio:   parseNullFloat(ov.PERatio),
		AnalystRatings: AnalystRatings{
			StrongBuy:   parseInt(ov.AnalystRatingStrongBuy),
			Buy:         parseInt(ov.AnalystRatingBuy),
			Hold:        parseInt(ov.AnalystRatingHold),
			Sell:        parseInt(ov.AnalystRatingSell),
			StrongSell:  parseInt(ov.AnalystRatingStrongSell),
			TargetPrice: parseNullFloat(ov.AnalystTargetPrice),
		},
		Source: a.Name(),
	}
	if ov.Sector != "" && ov.Sector != "None" {
		f.Sector = null.StringFrom(ov.Sector)
	}
	return f, nil
}

func parseAVTime(s string) (time.Time, error) {
	if len(s) > len("2006-01-02") {
		return time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	}
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseNullFloat treats blanks and the provider's "None"/"-" markers as absent
func parseNullFloat(s string) null.Float {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "-" {
		return null.Float{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

func parseInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}
