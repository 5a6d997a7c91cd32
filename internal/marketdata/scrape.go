package marketdata

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"golang.org/x/net/html"
)

// Scraper reads a quote from a public quote page. It is best effort: layout
// changes produce a zero price, which the chain treats as unusable.
type Scraper struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewScraper creates the provider
func NewScraper(baseURL string, timeout time.Duration) *Scraper {
	if baseURL == "" {
		baseURL = "https://finance.yahoo.com"
	}
	return &Scraper{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout),
		now:        time.Now,
	}
}

func (s *Scraper) Name() string { return "scrape" }

// pageSymbol maps a query onto the page's ticker format
func pageSymbol(query string) string {
	if IsCryptoSymbol(query) {
		return baseCryptoSymbol(query) + "-USD"
	}
	return strings.ToUpper(strings.TrimSpace(query))
}

// Resolve scrapes the quote page of a ticker-shaped query
func (s *Scraper) Resolve(ctx context.Context, query string) ([]Quote, error) {
	query = strings.TrimSpace(query)
	if !looksLikeTicker(strings.ToUpper(query)) && !IsCryptoSymbol(query) {
		return nil, nil
	}

	symbol := pageSymbol(query)
	body, err := fetch(ctx, s.httpClient, s.baseURL+"/quote/"+url.PathEscape(symbol)+"/", map[string]string{
		"Accept": "text/html",
	})
	if err != nil {
		return nil, err
	}

	q := parseQuotePage(body, symbol)
	q.Symbol = baseCryptoSymbol(symbol)
	q.Type = AssetStock
	if IsCryptoSymbol(query) {
		q.Type = AssetCrypto
	}
	q.Source = s.Name()
	q.CapturedAt = s.now()
	q.Normalize()
	return []Quote{q}, nil
}

// parseQuotePage extracts fin-streamer fields for symbol and the page heading
func parseQuotePage(body []byte, symbol string) Quote {
	var q Quote
	z := html.NewTokenizer(bytes.NewReader(body))

	var (
		field      string // fin-streamer field awaiting inner text
		inHeading  bool
		headingBuf strings.Builder
	)

	set := func(f, raw string) {
		raw = strings.NewReplacer(",", "", "%", "", "(", "", ")", "", "+", "").Replace(strings.TrimSpace(raw))
		if raw == "" {
			return
		}
		switch f {
		case "regularMarketPrice":
			if q.Price == 0 {
				q.Price = parseFloat(raw)
			}
		case "regularMarketChange":
			if q.Change == 0 {
				q.Change = parseFloat(raw)
			}
		case "regularMarketChangePercent":
			if q.ChangePercent == 0 {
				q.ChangePercent = parseFloat(raw)
			}
		case "regularMarketVolume":
			if !q.Volume.Valid {
				if v := parseFloat(raw); v > 0 {
					q.Volume = null.FloatFrom(v)
				}
			}
		case "regularMarketOpen":
			q.Open = parseFloat(raw)
		case "regularMarketDayHigh":
			q.High = parseFloat(raw)
		case "regularMarketDayLow":
			q.Low = parseFloat(raw)
		}
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if q.Name == "" {
				q.Name = cleanHeading(headingBuf.String(), symbol)
			}
			return q
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "h1" && q.Name == "" {
				inHeading = true
				continue
			}
			if tag != "fin-streamer" || !hasAttr {
				continue
			}
			attrs := map[string]string{}
			for {
				k, v, more := z.TagAttr()
				attrs[string(k)] = string(v)
				if !more {
					break
				}
			}
			if sym, ok := attrs["data-symbol"]; ok && !strings.EqualFold(sym, symbol) {
				continue
			}
			if v, ok := attrs["value"]; ok && v != "" {
				set(attrs["data-field"], v)
				continue
			}
			field = attrs["data-field"]
		case html.TextToken:
			if field != "" {
				set(field, string(z.Text()))
				field = ""
			} else if inHeading {
				headingBuf.Write(z.Text())
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "fin-streamer":
				field = ""
			case "h1":
				if inHeading {
					inHeading = false
					q.Name = cleanHeading(headingBuf.String(), symbol)
				}
			}
		}
	}
}

// cleanHeading turns "Apple Inc. (AAPL)" into "Apple Inc."
func cleanHeading(h, symbol string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimSuffix(h, "("+symbol+")")
	return strings.TrimSpace(h)
}
