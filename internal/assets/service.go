// Package assets is the caller-facing market data service. Every read goes
// through request coalescing and the TTL cache before it reaches the source
// chain.
package assets

import (
	"context"
	"errors"
	"strings"
	"time"

	"market-signal-bot/internal/cache"
	"market-signal-bot/internal/coalesce"
	"market-signal-bot/internal/logging"
	"market-signal-bot/internal/marketdata"
)

// DefaultSearchDelay is the quiet period before a search runs
const DefaultSearchDelay = 300 * time.Millisecond

// Chain is the source chain the service reads through
type Chain interface {
	Resolve(ctx context.Context, query string) (marketdata.Result[[]marketdata.Quote], error)
	History(ctx context.Context, symbol string, interval marketdata.Interval) (marketdata.Result[*marketdata.PriceSeries], error)
	News(ctx context.Context, symbol string) (marketdata.Result[[]marketdata.NewsItem], error)
	Fundamentals(ctx context.Context, symbol string) (marketdata.Result[*marketdata.Fundamentals], error)
}

type clientKey struct{}

// WithClientKey tags ctx with the identity searches are debounced by
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKey{}, key)
}

// ClientKey returns the debounce identity of ctx, "search" when untagged
func ClientKey(ctx context.Context) string {
	if k, ok := ctx.Value(clientKey{}).(string); ok && k != "" {
		return k
	}
	return "search"
}

// Stats reports the coalescing state
type Stats struct {
	PendingSearches int `json:"pendingSearches"`
	InFlight        int `json:"inFlight"`
}

// Service implements searchAssets, getAssetDetails, getPriceHistory and
// getEnhancedAssetData
type Service struct {
	chain       Chain
	cache       *cache.Store
	searchDelay time.Duration

	debounce     *coalesce.Debouncer[[]marketdata.Quote]
	searches     *coalesce.Deduplicator[[]marketdata.Quote]
	quotes       *coalesce.Deduplicator[*marketdata.Quote]
	histories    *coalesce.Deduplicator[*marketdata.PriceSeries]
	news         *coalesce.Deduplicator[[]marketdata.NewsItem]
	fundamentals *coalesce.Deduplicator[*marketdata.Fundamentals]

	logger *logging.Logger
}

// NewService creates the asset service. observer may be nil.
func NewService(chain Chain, store *cache.Store, searchDelay time.Duration, observer coalesce.Observer) *Service {
	if searchDelay < 0 {
		searchDelay = DefaultSearchDelay
	}
	return &Service{
		chain:        chain,
		cache:        store,
		searchDelay:  searchDelay,
		debounce:     coalesce.NewDebouncer[[]marketdata.Quote](),
		searches:     coalesce.NewDeduplicator[[]marketdata.Quote](observer),
		quotes:       coalesce.NewDeduplicator[*marketdata.Quote](observer),
		histories:    coalesce.NewDeduplicator[*marketdata.PriceSeries](observer),
		news:         coalesce.NewDeduplicator[[]marketdata.NewsItem](observer),
		fundamentals: coalesce.NewDeduplicator[*marketdata.Fundamentals](observer),
		logger:       logging.WithComponent("assets"),
	}
}

// Stats returns the number of pending debounced searches and running fetches
func (s *Service) Stats() Stats {
	return Stats{
		PendingSearches: s.debounce.Pending(),
		InFlight: s.searches.InFlight() + s.quotes.InFlight() + s.histories.InFlight() +
			s.news.InFlight() + s.fundamentals.InFlight(),
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SearchAssets resolves a free-text query. Calls from the same client within
// the search delay collapse into the last one; earlier callers receive
// coalesce.ErrSuperseded. Nothing found gives an empty list.
func (s *Service) SearchAssets(ctx context.Context, query string) ([]marketdata.Quote, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []marketdata.Quote{}, nil
	}

	return s.debounce.Schedule(ctx, "search:"+ClientKey(ctx), s.searchDelay, func(ctx context.Context) ([]marketdata.Quote, error) {
		return s.search(ctx, q)
	})
}

func (s *Service) search(ctx context.Context, q string) ([]marketdata.Quote, error) {
	key := "search:" + strings.ToLower(q)
	quotes, err := s.searches.Run(ctx, key, func(ctx context.Context) ([]marketdata.Quote, error) {
		if cached, ok := cache.Lookup[[]marketdata.Quote](s.cache, key, cache.ClassSearch); ok {
			return cached, nil
		}

		res, err := s.chain.Resolve(ctx, q)
		if errors.Is(err, marketdata.ErrNotFound) {
			return []marketdata.Quote{}, nil
		}
		if err != nil {
			return nil, err
		}
		if res.FellBack() {
			s.logger.Debug("Search answered after fallback", "query", q, "source", res.Source, "attempts", len(res.Attempts))
		}

		s.cache.Set(key, res.Value, cache.ClassSearch)
		return res.Value, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]marketdata.Quote{}, quotes...), nil
}

// GetAssetDetails returns the quote for symbol enriched with fundamentals,
// or nil when the symbol is unknown everywhere
func (s *Service) GetAssetDetails(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return nil, nil
	}

	key := "quote:" + sym
	q, err := s.quotes.Run(ctx, key, func(ctx context.Context) (*marketdata.Quote, error) {
		if cached, ok := cache.Lookup[*marketdata.Quote](s.cache, key, cache.ClassIntraday); ok {
			return cached, nil
		}

		res, err := s.chain.Resolve(ctx, sym)
		if errors.Is(err, marketdata.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		quote := pickSymbol(res.Value, sym)

		if f, err := s.GetFundamentals(ctx, quote.Symbol); err == nil && f != nil {
			f.Apply(&quote)
		}

		s.cache.Set(key, &quote, cache.ClassIntraday)
		return &quote, nil
	})
	if err != nil || q == nil {
		return nil, err
	}
	out := *q
	return &out, nil
}

// pickSymbol prefers an exact symbol match over the first result
func pickSymbol(quotes []marketdata.Quote, sym string) marketdata.Quote {
	for _, q := range quotes {
		if strings.EqualFold(q.Symbol, sym) {
			return q
		}
	}
	return quotes[0]
}

// ClassForInterval maps a history interval to its cache class
func ClassForInterval(interval marketdata.Interval) cache.Class {
	switch interval {
	case marketdata.IntervalIntraday:
		return cache.ClassIntraday
	case marketdata.IntervalDaily:
		return cache.ClassDaily
	default:
		return cache.ClassHistorical
	}
}

// GetPriceHistory returns the series for symbol. An unknown symbol gives an
// empty series.
func (s *Service) GetPriceHistory(ctx context.Context, symbol string, interval marketdata.Interval) (*marketdata.PriceSeries, error) {
	sym := normalizeSymbol(symbol)
	empty := &marketdata.PriceSeries{Symbol: sym, Interval: interval, Points: []marketdata.PricePoint{}}
	if sym == "" {
		return empty, nil
	}

	key := "history:" + sym + ":" + string(interval)
	class := ClassForInterval(interval)
	series, err := s.histories.Run(ctx, key, func(ctx context.Context) (*marketdata.PriceSeries, error) {
		if cached, ok := cache.Lookup[*marketdata.PriceSeries](s.cache, key, class); ok {
			return cached, nil
		}

		res, err := s.chain.History(ctx, sym, interval)
		if errors.Is(err, marketdata.ErrNotFound) {
			return empty, nil
		}
		if err != nil {
			return nil, err
		}

		s.cache.Set(key, res.Value, class)
		return res.Value, nil
	})
	if err != nil || series == nil {
		return nil, err
	}
	out := *series
	out.Points = append([]marketdata.PricePoint{}, series.Points...)
	return &out, nil
}

// GetNews returns recent headlines for symbol, empty when none are found
func (s *Service) GetNews(ctx context.Context, symbol string) ([]marketdata.NewsItem, error) {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return []marketdata.NewsItem{}, nil
	}

	key := "news:" + sym
	items, err := s.news.Run(ctx, key, func(ctx context.Context) ([]marketdata.NewsItem, error) {
		if cached, ok := cache.Lookup[[]marketdata.NewsItem](s.cache, key, cache.ClassNews); ok {
			return cached, nil
		}

		res, err := s.chain.News(ctx, sym)
		if errors.Is(err, marketdata.ErrNotFound) {
			return []marketdata.NewsItem{}, nil
		}
		if err != nil {
			return nil, err
		}

		s.cache.Set(key, res.Value, cache.ClassNews)
		return res.Value, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]marketdata.NewsItem{}, items...), nil
}

// GetFundamentals returns fundamentals and analyst ratings for symbol, nil
// when none are found
func (s *Service) GetFundamentals(ctx context.Context, symbol string) (*marketdata.Fundamentals, error) {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return nil, nil
	}

	key := "fundamentals:" + sym
	f, err := s.fundamentals.Run(ctx, key, func(ctx context.Context) (*marketdata.Fundamentals, error) {
		if cached, ok := cache.Lookup[*marketdata.Fundamentals](s.cache, key, cache.ClassExtended); ok {
			return cached, nil
		}

		res, err := s.chain.Fundamentals(ctx, sym)
		if errors.Is(err, marketdata.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		s.cache.Set(key, res.Value, cache.ClassExtended)
		return res.Value, nil
	})
	if err != nil || f == nil {
		return nil, err
	}
	out := *f
	return &out, nil
}

// GetEnhancedAssetData returns the quote with news and analyst ratings, or
// nil when the symbol is unknown
func (s *Service) GetEnhancedAssetData(ctx context.Context, symbol string) (*marketdata.EnhancedAsset, error) {
	quote, err := s.GetAssetDetails(ctx, symbol)
	if err != nil || quote == nil {
		return nil, err
	}

	out := &marketdata.EnhancedAsset{Quote: *quote, News: []marketdata.NewsItem{}}

	news, err := s.GetNews(ctx, quote.Symbol)
	if err != nil {
		s.logger.Warn("News unavailable", "symbol", quote.Symbol, "error", err)
	} else {
		out.News = news
	}

	f, err := s.GetFundamentals(ctx, quote.Symbol)
	if err != nil {
		s.logger.Warn("Fundamentals unavailable", "symbol", quote.Symbol, "error", err)
	} else if f != nil {
		out.AnalystRatings = f.AnalystRatings
	}
	return out, nil
}
