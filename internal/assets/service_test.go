package assets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-signal-bot/config"
	"market-signal-bot/internal/cache"
	"market-signal-bot/internal/coalesce"
	"market-signal-bot/internal/marketdata"
	"market-signal-bot/internal/ratelimit"

	"github.com/guregu/null/v6"
)

type fakeChain struct {
	mu           sync.Mutex
	queries      []string
	resolves     int64
	histories    int64
	news         int64
	fundamentals int64
	release      chan struct{}
}

func (f *fakeChain) Resolve(ctx context.Context, query string) (marketdata.Result[[]marketdata.Quote], error) {
	atomic.AddInt64(&f.resolves, 1)
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if query == "NOPE" {
		return marketdata.Result[[]marketdata.Quote]{}, marketdata.ErrNotFound
	}
	return marketdata.Result[[]marketdata.Quote]{
		Value: []marketdata.Quote{
			{Symbol: "IBMX", Price: 1, Type: marketdata.AssetStock},
			{Symbol: "IBM", Name: "IBM", Price: 185, Type: marketdata.AssetStock},
		},
		Source: "alphavantage",
	}, nil
}

func (f *fakeChain) History(ctx context.Context, symbol string, interval marketdata.Interval) (marketdata.Result[*marketdata.PriceSeries], error) {
	atomic.AddInt64(&f.histories, 1)
	return marketdata.Result[*marketdata.PriceSeries]{
		Value: &marketdata.PriceSeries{Symbol: symbol, Interval: interval, Points: []marketdata.PricePoint{
			{Timestamp: time.Unix(0, 0), Price: 1},
			{Timestamp: time.Unix(86400, 0), Price: 2},
		}},
		Source: "polygon",
	}, nil
}

func (f *fakeChain) News(ctx context.Context, symbol string) (marketdata.Result[[]marketdata.NewsItem], error) {
	atomic.AddInt64(&f.news, 1)
	return marketdata.Result[[]marketdata.NewsItem]{Value: []marketdata.NewsItem{{Title: "IBM beats estimates"}}}, nil
}

func (f *fakeChain) Fundamentals(ctx context.Context, symbol string) (marketdata.Result[*marketdata.Fundamentals], error) {
	atomic.AddInt64(&f.fundamentals, 1)
	return marketdata.Result[*marketdata.Fundamentals]{Value: &marketdata.Fundamentals{
		Symbol:         symbol,
		PERatio:        null.FloatFrom(21.5),
		Sector:         null.StringFrom("Technology"),
		AnalystRatings: marketdata.AnalystRatings{Buy: 7, Hold: 5},
	}}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(chain Chain, delay time.Duration) (*Service, *clock) {
	clk := &clock{now: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)}
	store := cache.NewStore(cache.DefaultTTLs(), cache.WithClock(clk.Now))
	return NewService(chain, store, delay, nil), clk
}

func TestSearchAssetsDeduplicatesConcurrentCalls(t *testing.T) {
	chain := &fakeChain{release: make(chan struct{})}
	svc, _ := newTestService(chain, 0)

	const n = 10
	var wg sync.WaitGroup
	results := make([][]marketdata.Quote, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := WithClientKey(context.Background(), string(rune('a'+i)))
			res, err := svc.SearchAssets(ctx, "IBM")
			if err != nil {
				t.Errorf("caller %d: unexpected error %v", i, err)
			}
			results[i] = res
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(chain.release)
	wg.Wait()

	if got := atomic.LoadInt64(&chain.resolves); got != 1 {
		t.Errorf("Expected 1 upstream resolve, got %d", got)
	}
	for i, r := range results {
		if len(r) != 2 {
			t.Errorf("caller %d got %d quotes", i, len(r))
		}
	}
}

func TestSearchAssetsDebouncesToLastQuery(t *testing.T) {
	chain := &fakeChain{}
	svc, _ := newTestService(chain, 50*time.Millisecond)

	queries := []string{"I", "IB", "IBM"}
	errs := make([]error, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			_, errs[i] = svc.SearchAssets(context.Background(), q)
		}(i, q)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	if len(chain.queries) != 1 || chain.queries[0] != "IBM" {
		t.Errorf("Expected only the last query to run, got %v", chain.queries)
	}
	if !errors.Is(errs[0], coalesce.ErrSuperseded) || !errors.Is(errs[1], coalesce.ErrSuperseded) {
		t.Errorf("Expected earlier calls to be superseded, got %v", errs)
	}
	if errs[2] != nil {
		t.Errorf("Expected last call to succeed, got %v", errs[2])
	}
}

func TestSearchAssetsCachesUntilTTL(t *testing.T) {
	chain := &fakeChain{}
	svc, clk := newTestService(chain, 0)
	ctx := context.Background()

	svc.SearchAssets(ctx, "ibm")
	clk.Advance(4 * time.Minute)
	svc.SearchAssets(ctx, " IBM ")
	if got := atomic.LoadInt64(&chain.resolves); got != 1 {
		t.Errorf("Expected cached search within TTL, got %d resolves", got)
	}

	clk.Advance(2 * time.Minute)
	svc.SearchAssets(ctx, "ibm")
	if got := atomic.LoadInt64(&chain.resolves); got != 2 {
		t.Errorf("Expected refetch after TTL, got %d resolves", got)
	}
}

func TestSearchAssetsEmptyAndNotFound(t *testing.T) {
	chain := &fakeChain{}
	svc, _ := newTestService(chain, 0)

	res, err := svc.SearchAssets(context.Background(), "   ")
	if err != nil || res == nil || len(res) != 0 {
		t.Errorf("Expected empty list for blank query, got %v %v", res, err)
	}
	res, err = svc.SearchAssets(context.Background(), "NOPE")
	if err != nil || len(res) != 0 {
		t.Errorf("Expected empty list for unknown query, got %v %v", res, err)
	}
}

func TestGetAssetDetails(t *testing.T) {
	chain := &fakeChain{}
	svc, _ := newTestService(chain, 0)
	ctx := context.Background()

	q, err := svc.GetAssetDetails(ctx, "ibm")
	if err != nil || q == nil {
		t.Fatalf("Expected quote, got %v %v", q, err)
	}
	if q.Symbol != "IBM" || q.Price != 185 {
		t.Errorf("Expected exact symbol match, got %+v", q)
	}
	if !q.PERatio.Valid || q.Sector.String != "Technology" {
		t.Errorf("Expected fundamentals applied, got %+v", q)
	}

	q.Price = 0
	again, _ := svc.GetAssetDetails(ctx, "IBM")
	if again.Price != 185 {
		t.Error("Expected cached quote to be isolated from caller edits")
	}
	if atomic.LoadInt64(&chain.resolves) != 1 || atomic.LoadInt64(&chain.fundamentals) != 1 {
		t.Errorf("Expected one resolve and one fundamentals fetch, got %d and %d", chain.resolves, chain.fundamentals)
	}

	missing, err := svc.GetAssetDetails(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for unknown symbol, got %v %v", missing, err)
	}
}

func TestGetPriceHistoryUsesIntervalClass(t *testing.T) {
	chain := &fakeChain{}
	svc, clk := newTestService(chain, 0)
	ctx := context.Background()

	svc.GetPriceHistory(ctx, "IBM", marketdata.IntervalWeekly)
	clk.Advance(30 * time.Minute)
	svc.GetPriceHistory(ctx, "IBM", marketdata.IntervalWeekly)
	if got := atomic.LoadInt64(&chain.histories); got != 1 {
		t.Errorf("Expected weekly history cached for 30m, got %d fetches", got)
	}

	svc.GetPriceHistory(ctx, "IBM", marketdata.IntervalIntraday)
	clk.Advance(4 * time.Minute)
	series, err := svc.GetPriceHistory(ctx, "IBM", marketdata.IntervalIntraday)
	if err != nil || series.Len() != 2 {
		t.Fatalf("Unexpected series %v %v", series, err)
	}
	if got := atomic.LoadInt64(&chain.histories); got != 3 {
		t.Errorf("Expected intraday history to expire after 3m, got %d fetches", got)
	}
}

func TestClassForInterval(t *testing.T) {
	tests := []struct {
		interval marketdata.Interval
		want     cache.Class
	}{
		{marketdata.IntervalIntraday, cache.ClassIntraday},
		{marketdata.IntervalDaily, cache.ClassDaily},
		{marketdata.IntervalWeekly, cache.ClassHistorical},
		{marketdata.IntervalMonthly, cache.ClassHistorical},
	}
	for _, tt := range tests {
		if got := ClassForInterval(tt.interval); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.interval, tt.want, got)
		}
	}
}

func TestGetEnhancedAssetData(t *testing.T) {
	chain := &fakeChain{}
	svc, _ := newTestService(chain, 0)

	e, err := svc.GetEnhancedAssetData(context.Background(), "IBM")
	if err != nil || e == nil {
		t.Fatalf("Expected enhanced data, got %v %v", e, err)
	}
	if len(e.News) != 1 || e.AnalystRatings.Total() != 12 {
		t.Errorf("Unexpected enhanced data %+v", e)
	}
	if e.Price != 185 {
		t.Errorf("Expected embedded quote price 185, got %v", e.Price)
	}
}

func TestExhaustedChainResolvesIBMFromStaticTable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Rate-limited source was called: %s", r.URL)
	}))
	defer upstream.Close()

	fixed := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewRateLimiter(
		config.RateLimitConfig{Window: time.Minute, BackoffBase: 30 * time.Second, BackoffCap: 5 * time.Minute},
		ratelimit.WithClock(func() time.Time { return fixed }),
	)
	for source, max := range marketdata.DefaultLimits {
		for i := 0; i < max; i++ {
			limiter.TryAcquire(source, max)
		}
	}

	chain := marketdata.NewChain(limiter, marketdata.DefaultLimits, nil)
	chain.Register(marketdata.NewAlphaVantage("key", upstream.URL, time.Second))
	chain.Register(marketdata.NewCoinGecko("", upstream.URL, time.Second))
	chain.Register(marketdata.NewScraper(upstream.URL, time.Second))
	chain.Register(marketdata.NewStaticTable(time.Now))

	svc, _ := newTestService(chain, 0)
	q, err := svc.GetAssetDetails(context.Background(), "IBM")
	if err != nil || q == nil {
		t.Fatalf("Expected IBM from the static table, got %v %v", q, err)
	}
	if q.Price <= 0 || q.Source != "static" {
		t.Errorf("Expected static quote with a price, got %+v", q)
	}
}

func TestCallerMutationsDoNotReachCache(t *testing.T) {
	chain := &fakeChain{}
	svc, _ := newTestService(chain, 0)
	ctx := context.Background()

	quotes, err := svc.SearchAssets(ctx, "IBM")
	if err != nil {
		t.Fatalf("SearchAssets returned error: %v", err)
	}
	quotes[0].Price = -1

	series, err := svc.GetPriceHistory(ctx, "IBM", marketdata.IntervalDaily)
	if err != nil {
		t.Fatalf("GetPriceHistory returned error: %v", err)
	}
	series.Points[0].Price = -1
	series.Symbol = "XXX"

	news, err := svc.GetNews(ctx, "IBM")
	if err != nil {
		t.Fatalf("GetNews returned error: %v", err)
	}
	news[0].Title = "changed"

	f, err := svc.GetFundamentals(ctx, "IBM")
	if err != nil {
		t.Fatalf("GetFundamentals returned error: %v", err)
	}
	f.Sector = null.StringFrom("changed")

	again, _ := svc.SearchAssets(ctx, "IBM")
	if again[0].Price == -1 {
		t.Error("Expected cached search results to be unaffected")
	}
	seriesAgain, _ := svc.GetPriceHistory(ctx, "IBM", marketdata.IntervalDaily)
	if seriesAgain.Points[0].Price != 1 || seriesAgain.Symbol != "IBM" {
		t.Errorf("Expected cached series to be unaffected, got %+v", seriesAgain)
	}
	newsAgain, _ := svc.GetNews(ctx, "IBM")
	if newsAgain[0].Title != "IBM beats estimates" {
		t.Errorf("Expected cached news to be unaffected, got %q", newsAgain[0].Title)
	}
	fAgain, _ := svc.GetFundamentals(ctx, "IBM")
	if fAgain.Sector.String != "Technology" {
		t.Errorf("Expected cached fundamentals to be unaffected, got %q", fAgain.Sector.String)
	}

	if chain.resolves != 1 || chain.histories != 1 || chain.news != 1 || chain.fundamentals != 1 {
		t.Errorf("Expected every second read from cache, got %d/%d/%d/%d",
			chain.resolves, chain.histories, chain.news, chain.fundamentals)
	}
}
