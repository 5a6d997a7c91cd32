package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newAlphaServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*AlphaVantage, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return NewAlphaVantage("test-key", srv.URL, 2*time.Second), srv
}

func TestAlphaVantageResolveTicker(t *testing.T) {
	var functions []string
	av, _ := newAlphaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("Expected api key to be sent")
		}
		functions = append(functions, r.URL.Query().Get("function"))
		w.Write([]byte(`{"Global Quote":{"01. symbol":"IBM","02. open":"184.10","03. high":"186.00","04. low":"183.50","05. price":"185.25","06. volume":"4123456","09. change":"1.15","10. change percent":"0.6247%"}}`))
	})

	quotes, err := av.Resolve(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(functions) != 1 || functions[0] != "GLOBAL_QUOTE" {
		t.Errorf("Expected a single GLOBAL_QUOTE call, got %v", functions)
	}
	if len(quotes) != 1 {
		t.Fatalf("Expected 1 quote, got %d", len(quotes))
	}
	q := quotes[0]
	if q.Price != 185.25 || q.ChangePercent != 0.6247 || q.Volume.Float64 != 4123456 {
		t.Errorf("Unexpected quote: %+v", q)
	}
	if q.Source != "alphavantage" || q.Type != AssetStock {
		t.Errorf("Expected alphavantage stock quote, got %s %s", q.Source, q.Type)
	}
}

const microsoftMatches = `{"bestMatches":[
	{"1. symbol":"MSFT","2. name":"Microsoft Corporation","3. type":"Equity","4. region":"United States","9. matchScore":"0.8"},
	{"1. symbol":"MSF.DEX","2. name":"Microsoft Corporation","3. type":"Equity","4. region":"XETRA","9. matchScore":"0.6"},
	{"1. symbol":"MSFT.LON","2. name":"Microsoft Corporation","3. type":"Equity","4. region":"United Kingdom","9. matchScore":"0.5"}]}`

func microsoftHandler(t *testing.T, hits *int64) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		switch r.URL.Query().Get("function") {
		case "SYMBOL_SEARCH":
			if r.URL.Query().Get("keywords") != "microsoft" {
				t.Errorf("Unexpected keywords %q", r.URL.Query().Get("keywords"))
			}
			w.Write([]byte(microsoftMatches))
		case "GLOBAL_QUOTE":
			sym := r.URL.Query().Get("symbol")
			w.Write([]byte(`{"Global Quote":{"01. symbol":"` + sym + `","05. price":"410.00","09. change":"-2.00","10. change percent":"-0.4854%"}}`))
		}
	}
}

func TestAlphaVantageResolveSearchesFreeText(t *testing.T) {
	var hits int64
	av, _ := newAlphaServer(t, microsoftHandler(t, &hits))

	quotes, err := av.Resolve(context.Background(), "microsoft")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(quotes) != maxSearchQuotes {
		t.Fatalf("Expected %d quotes, got %d", maxSearchQuotes, len(quotes))
	}
	if quotes[0].Symbol != "MSFT" || quotes[0].Name != "Microsoft Corporation" || quotes[0].Change != -2 {
		t.Errorf("Unexpected top quote: %+v", quotes[0])
	}
	if quotes[1].Symbol != "MSF.DEX" || quotes[1].Region != "XETRA" {
		t.Errorf("Expected second match with its region, got %+v", quotes[1])
	}
	if n := atomic.LoadInt64(&hits); n != 1+maxSearchQuotes {
		t.Errorf("Expected %d upstream calls, got %d", 1+maxSearchQuotes, n)
	}
}

func TestAlphaVantageGateStopsQuoteCalls(t *testing.T) {
	var hits int64
	av, _ := newAlphaServer(t, microsoftHandler(t, &hits))

	tokens := 1
	av.SetGate(func() bool {
		if tokens == 0 {
			return false
		}
		tokens--
		return true
	})

	quotes, err := av.Resolve(context.Background(), "microsoft")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Symbol != "MSFT" {
		t.Errorf("Expected only the top match priced, got %+v", quotes)
	}
	if n := atomic.LoadInt64(&hits); n != 2 {
		t.Errorf("Expected search plus one quote call, got %d", n)
	}

	av.SetGate(func() bool { return false })
	atomic.StoreInt64(&hits, 0)
	if _, err := av.Resolve(context.Background(), "microsoft"); !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("Expected ErrBudgetExhausted, got %v", err)
	}
	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Errorf("Expected only the search call, got %d", n)
	}
}

func TestAlphaVantageNoteIsRateLimit(t *testing.T) {
	av, _ := newAlphaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`))
	})

	_, err := av.Resolve(context.Background(), "IBM")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
}

func TestAlphaVantageSkipsCrypto(t *testing.T) {
	called := false
	av, _ := newAlphaServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	quotes, err := av.Resolve(context.Background(), "BTC")
	if err != nil || len(quotes) != 0 || called {
		t.Errorf("Expected crypto query to be skipped, got %v %v called=%v", quotes, err, called)
	}
}

func TestAlphaVantageHistorySortsPoints(t *testing.T) {
	av, _ := newAlphaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("function") != "TIME_SERIES_DAILY" {
			t.Errorf("Unexpected function %s", r.URL.Query().Get("function"))
		}
		w.Write([]byte(`{"Meta Data":{"2. Symbol":"IBM"},"Time Series (Daily)":{
			"2024-01-03":{"1. open":"1","4. close":"161.00","5. volume":"100"},
			"2024-01-02":{"1. open":"1","4. close":"160.00","5. volume":"90"},
			"2024-01-04":{"1. open":"1","4. close":"162.50","5. volume":"110"}}}`))
	})

	series, err := av.History(context.Background(), "ibm", IntervalDaily)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if series.Len() != 3 {
		t.Fatalf("Expected 3 points, got %d", series.Len())
	}
	if err := series.Validate(); err != nil {
		t.Errorf("Expected increasing timestamps: %v", err)
	}
	if series.Points[2].Price != 162.50 || series.Points[0].Volume != 90 {
		t.Errorf("Unexpected points: %+v", series.Points)
	}
}

func TestAlphaVantageNewsAndOverview(t *testing.T) {
	av, _ := newAlphaServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("function") {
		case "NEWS_SENTIMENT":
			w.Write([]byte(`{"feed":[{"title":"IBM beats estimates","url":"https://example.com/a","time_published":"20240102T153000","source":"Wire","overall_sentiment_score":0.1,"ticker_sentiment":[{"ticker":"IBM","ticker_sentiment_score":"0.45"}]}]}`))
		case "OVERVIEW":
			w.Write([]byte(`{"Symbol":"IBM","Name":"International Business Machines","Sector":"TECHNOLOGY","MarketCapitalization":"170000000000","PERatio":"None","AnalystTargetPrice":"190.5","AnalystRatingStrongBuy":"2","AnalystRatingBuy":"5","AnalystRatingHold":"8","AnalystRatingSell":"1","AnalystRatingStrongSell":"0"}`))
		}
	})

	news, err := av.News(context.Background(), "IBM")
	if err != nil || len(news) != 1 {
		t.Fatalf("Expected 1 news item, got %v %v", news, err)
	}
	if news[0].Sentiment.Float64 != 0.45 {
		t.Errorf("Expected ticker-specific sentiment 0.45, got %v", news[0].Sentiment.Float64)
	}
	if news[0].PublishedAt.Hour() != 15 {
		t.Errorf("Expected publish time parsed, got %v", news[0].PublishedAt)
	}

	f, err := av.Fundamentals(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("Fundamentals returned error: %v", err)
	}
	if f.PERatio.Valid {
		t.Error("Expected None P/E to be absent")
	}
	if !f.MarketCap.Valid || f.Sector.String != "TECHNOLOGY" {
		t.Errorf("Unexpected fundamentals: %+v", f)
	}
	if f.AnalystRatings.Total() != 16 || f.AnalystRatings.TargetPrice.Float64 != 190.5 {
		t.Errorf("Unexpected ratings: %+v", f.AnalystRatings)
	}
}

func TestAlphaVantageServerError(t *testing.T) {
	av, _ := newAlphaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := av.Resolve(context.Background(), "IBM")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Expected ErrUpstreamUnavailable, got %v", err)
	}
}
