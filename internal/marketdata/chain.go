package marketdata

import (
	"context"
	"errors"
	"time"

	"market-signal-bot/internal/logging"
)

// Limiter gates calls per source
type Limiter interface {
	TryAcquire(source string, maxPerWindow int) bool
	RecordRateLimitError(source string) time.Duration
}

// Reporter receives the outcome of every source attempt
type Reporter interface {
	SourceSucceeded(source, kind string, latency time.Duration)
	SourceFailed(source, kind string, latency time.Duration, err error)
}

// Metered sources may make more than one upstream call per attempt. The chain
// hands them a gate drawing on the same per-source budget.
type Metered interface {
	SetGate(gate func() bool)
}

// DefaultLimits are the per-minute budgets of the upstream sources. Sources
// without an entry are not gated.
var DefaultLimits = map[string]int{
	"alphavantage": 5,
	"coingecko":    30,
	"polygon":      5,
	"scrape":       10,
}

// Chain tries sources in registration order until one returns usable data
type Chain struct {
	quotes       []QuoteSource
	history      []HistorySource
	news         []NewsSource
	fundamentals []FundamentalsSource

	limiter  Limiter
	limits   map[string]int
	reporter Reporter
	logger   *logging.Logger
}

// NewChain creates an empty chain. reporter may be nil.
func NewChain(limiter Limiter, limits map[string]int, reporter Reporter) *Chain {
	if limits == nil {
		limits = DefaultLimits
	}
	return &Chain{
		limiter:  limiter,
		limits:   limits,
		reporter: reporter,
		logger:   logging.WithComponent("sourcechain"),
	}
}

// Register appends src to every capability list it implements
func (c *Chain) Register(src interface{ Name() string }) *Chain {
	if s, ok := src.(QuoteSource); ok {
		c.quotes = append(c.quotes, s)
	}
	if s, ok := src.(HistorySource); ok {
		c.history = append(c.history, s)
	}
	if s, ok := src.(NewsSource); ok {
		c.news = append(c.news, s)
	}
	if s, ok := src.(FundamentalsSource); ok {
		c.fundamentals = append(c.fundamentals, s)
	}
	if m, ok := src.(Metered); ok {
		name := src.Name()
		m.SetGate(func() bool { return c.acquire(name) })
	}
	return c
}

// acquire takes one call from the budget of source. Ungated sources always pass.
func (c *Chain) acquire(source string) bool {
	max, gated := c.limits[source]
	if !gated || c.limiter == nil {
		return true
	}
	return c.limiter.TryAcquire(source, max)
}

// Sources lists the registered source names per request kind
func (c *Chain) Sources() map[string][]string {
	out := map[string][]string{}
	for _, s := range c.quotes {
		out[KindQuote] = append(out[KindQuote], s.Name())
	}
	for _, s := range c.history {
		out[KindHistory] = append(out[KindHistory], s.Name())
	}
	for _, s := range c.news {
		out[KindNews] = append(out[KindNews], s.Name())
	}
	for _, s := range c.fundamentals {
		out[KindFundamentals] = append(out[KindFundamentals], s.Name())
	}
	return out
}

// Resolve returns the usable quotes of the first source that has any.
// ErrNotFound means every source, the static table included, came up empty.
func (c *Chain) Resolve(ctx context.Context, query string) (Result[[]Quote], error) {
	return walk(c, KindQuote, c.quotes,
		func(s QuoteSource) ([]Quote, error) {
			quotes, err := s.Resolve(ctx, query)
			if err != nil {
				return nil, err
			}
			usable := quotes[:0:0]
			for _, q := range quotes {
				if q.Usable() {
					usable = append(usable, q)
				}
			}
			return usable, nil
		},
		func(q []Quote) bool { return len(q) > 0 },
	)
}

// History returns the first non-empty valid series
func (c *Chain) History(ctx context.Context, symbol string, interval Interval) (Result[*PriceSeries], error) {
	return walk(c, KindHistory, c.history,
		func(s HistorySource) (*PriceSeries, error) { return s.History(ctx, symbol, interval) },
		func(ps *PriceSeries) bool { return ps != nil && ps.Len() > 0 && ps.Validate() == nil },
	)
}

// News returns the first non-empty headline list
func (c *Chain) News(ctx context.Context, symbol string) (Result[[]NewsItem], error) {
	return walk(c, KindNews, c.news,
		func(s NewsSource) ([]NewsItem, error) { return s.News(ctx, symbol) },
		func(items []NewsItem) bool { return len(items) > 0 },
	)
}

// Fundamentals returns the first fundamentals record
func (c *Chain) Fundamentals(ctx context.Context, symbol string) (Result[*Fundamentals], error) {
	return walk(c, KindFundamentals, c.fundamentals,
		func(s FundamentalsSource) (*Fundamentals, error) { return s.Fundamentals(ctx, symbol) },
		func(f *Fundamentals) bool { return f != nil },
	)
}

// walk runs call against each source in order. A source error never aborts
// the walk; it is recorded and the next source is tried.
func walk[S interface{ Name() string }, T any](c *Chain, kind string, sources []S, call func(S) (T, error), usable func(T) bool) (Result[T], error) {
	var res Result[T]

	for _, src := range sources {
		name := src.Name()

		_, gated := c.limits[name]
		if !c.acquire(name) {
			c.fail(&res, name, kind, 0, ErrBudgetExhausted)
			continue
		}

		start := time.Now()
		v, err := call(src)
		latency := time.Since(start)

		if err == nil && !usable(v) {
			err = ErrNotFound
		}
		if err != nil {
			if gated && c.limiter != nil && errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrBudgetExhausted) {
				c.limiter.RecordRateLimitError(name)
			}
			c.fail(&res, name, kind, latency, err)
			continue
		}

		res.Value = v
		res.Source = name
		res.Attempts = append(res.Attempts, Attempt{Source: name, Kind: kind, Latency: latency})
		if c.reporter != nil {
			c.reporter.SourceSucceeded(name, kind, latency)
		}
		if res.FellBack() {
			c.logger.Info("Resolved after fallback", "kind", kind, "source", name, "attempts", len(res.Attempts))
		}
		return res, nil
	}

	return res, ErrNotFound
}

func (c *Chain) fail(res interface{ add(Attempt) }, source, kind string, latency time.Duration, err error) {
	res.add(Attempt{Source: source, Kind: kind, Latency: latency, Err: err, Reason: err.Error()})
	c.logger.Warn("Source attempt failed", "source", source, "kind", kind, "latency", latency, "error", err)
	if c.reporter != nil {
		c.reporter.SourceFailed(source, kind, latency, err)
	}
}

func (r *Result[T]) add(a Attempt) {
	r.Attempts = append(r.Attempts, a)
}
