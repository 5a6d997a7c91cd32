package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"market-signal-bot/config"
	"market-signal-bot/internal/ratelimit"
)

type fakeLimiter struct {
	mu       sync.Mutex
	deny     map[string]bool
	acquired map[string]int
	errors   map[string]int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{deny: map[string]bool{}, acquired: map[string]int{}, errors: map[string]int{}}
}

func (f *fakeLimiter) TryAcquire(source string, max int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny[source] {
		return false
	}
	f.acquired[source]++
	return true
}

func (f *fakeLimiter) RecordRateLimitError(source string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[source]++
	return 30 * time.Second
}

type fakeReporter struct {
	mu        sync.Mutex
	succeeded []string
	failed    []string
}

func (r *fakeReporter) SourceSucceeded(source, kind string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, source)
}

func (r *fakeReporter) SourceFailed(source, kind string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, source)
}

type stubQuotes struct {
	name   string
	quotes []Quote
	err    error
	calls  int
}

func (s *stubQuotes) Name() string { return s.name }

func (s *stubQuotes) Resolve(ctx context.Context, query string) ([]Quote, error) {
	s.calls++
	return s.quotes, s.err
}

func TestChainFallsBackToStaticWhenEverySourceFails(t *testing.T) {
	alpha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note":"Our standard API call frequency is 5 calls per minute."}`))
	}))
	defer alpha.Close()
	scrape := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer scrape.Close()

	limiter := newFakeLimiter()
	reporter := &fakeReporter{}
	chain := NewChain(limiter, nil, reporter).
		Register(NewAlphaVantage("k", alpha.URL, time.Second)).
		Register(NewCoinGecko("", "http://127.0.0.1:1", time.Second)).
		Register(NewScraper(scrape.URL, time.Second)).
		Register(NewStaticTable(nil))

	res, err := chain.Resolve(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("Expected static fallback, got error %v", err)
	}
	if res.Source != "static" {
		t.Errorf("Expected static source, got %s", res.Source)
	}
	if len(res.Value) == 0 || res.Value[0].Symbol != "IBM" || res.Value[0].Price <= 0 {
		t.Fatalf("Expected IBM with a non-zero price, got %+v", res.Value)
	}
	if !res.FellBack() {
		t.Error("Expected FellBack to be true")
	}
	if limiter.errors["alphavantage"] != 1 {
		t.Errorf("Expected upstream rate limit recorded once, got %d", limiter.errors["alphavantage"])
	}
	if len(res.Attempts) != 4 {
		t.Errorf("Expected 4 attempts, got %d", len(res.Attempts))
	}
	if !errors.Is(res.Attempts[0].Err, ErrRateLimited) {
		t.Errorf("Expected first attempt rate limited, got %v", res.Attempts[0].Err)
	}
	if len(reporter.succeeded) != 1 || reporter.succeeded[0] != "static" {
		t.Errorf("Expected one success from static, got %v", reporter.succeeded)
	}
}

func TestChainSkipsDeniedSourceWithoutCalling(t *testing.T) {
	limiter := newFakeLimiter()
	limiter.deny["alphavantage"] = true

	primary := &stubQuotes{name: "alphavantage", quotes: []Quote{{Symbol: "IBM", Price: 1}}}
	fallback := &stubQuotes{name: "coingecko", quotes: []Quote{{Symbol: "IBM", Price: 2}}}
	chain := NewChain(limiter, nil, nil).Register(primary).Register(fallback)

	res, err := chain.Resolve(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if primary.calls != 0 {
		t.Errorf("Expected denied source not to be called, got %d calls", primary.calls)
	}
	if res.Source != "coingecko" || res.Value[0].Price != 2 {
		t.Errorf("Unexpected result %+v", res)
	}
	if limiter.errors["alphavantage"] != 0 {
		t.Error("A local denial must not escalate upstream backoff")
	}
}

func TestChainDropsUnusableQuotes(t *testing.T) {
	zero := &stubQuotes{name: "scrape", quotes: []Quote{{Symbol: "IBM", Price: 0}}}
	good := &stubQuotes{name: "static", quotes: []Quote{{Symbol: "IBM", Price: 185}}}
	chain := NewChain(newFakeLimiter(), nil, nil).Register(zero).Register(good)

	res, err := chain.Resolve(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Source != "static" {
		t.Errorf("Expected zero-price quote to be skipped, got source %s", res.Source)
	}
	if !errors.Is(res.Attempts[0].Err, ErrNotFound) {
		t.Errorf("Expected unusable attempt recorded as not found, got %v", res.Attempts[0].Err)
	}
}

func TestChainAllEmptyIsNotFound(t *testing.T) {
	chain := NewChain(newFakeLimiter(), nil, nil).
		Register(&stubQuotes{name: "alphavantage", err: ErrUpstreamUnavailable}).
		Register(NewStaticTable(nil))

	_, err := chain.Resolve(context.Background(), "no such thing at all")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestChainStaticIsNotGated(t *testing.T) {
	limiter := newFakeLimiter()
	chain := NewChain(limiter, nil, nil).Register(NewStaticTable(nil))

	if _, err := chain.History(context.Background(), "TSLA", IntervalWeekly); err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if limiter.acquired["static"] != 0 {
		t.Error("Expected static table to bypass the limiter")
	}
}

func TestChainSources(t *testing.T) {
	chain := NewChain(nil, nil, nil).
		Register(NewPolygonWithFetcher(nil)).
		Register(NewStaticTable(nil))

	got := chain.Sources()
	if len(got[KindHistory]) != 2 || got[KindHistory][0] != "polygon" {
		t.Errorf("Unexpected history sources %v", got[KindHistory])
	}
	if len(got[KindQuote]) != 1 || got[KindQuote][0] != "static" {
		t.Errorf("Unexpected quote sources %v", got[KindQuote])
	}
}

func TestChainUpstreamCallsStayWithinBudget(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	alpha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		switch r.URL.Query().Get("function") {
		case "SYMBOL_SEARCH":
			w.Write([]byte(microsoftMatches))
		case "GLOBAL_QUOTE":
			w.Write([]byte(`{"Global Quote":{"01. symbol":"` + r.URL.Query().Get("symbol") + `","05. price":"410.00"}}`))
		}
	}))
	defer alpha.Close()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewRateLimiter(config.RateLimitConfig{}, ratelimit.WithClock(func() time.Time { return now }))
	chain := NewChain(limiter, map[string]int{"alphavantage": 5}, nil).
		Register(NewAlphaVantage("k", alpha.URL, time.Second)).
		Register(NewStaticTable(nil))

	for i := 0; i < 5; i++ {
		if _, err := chain.Resolve(context.Background(), "microsoft"); err != nil {
			t.Fatalf("Resolve %d returned error: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	st := limiter.Status("alphavantage")
	if hits > st.MaxPerWindow {
		t.Errorf("Expected at most %d upstream calls, got %d", st.MaxPerWindow, hits)
	}
	if st.UpstreamHits != 0 {
		t.Errorf("A local denial must not count as an upstream limit, got %d", st.UpstreamHits)
	}
}
