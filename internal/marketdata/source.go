package marketdata

import (
	"context"
	"time"
)

// QuoteSource resolves a free-text query or ticker to quotes
type QuoteSource interface {
	Name() string
	Resolve(ctx context.Context, query string) ([]Quote, error)
}

// HistorySource returns a price series
type HistorySource interface {
	Name() string
	History(ctx context.Context, symbol string, interval Interval) (*PriceSeries, error)
}

// NewsSource returns recent headlines for a symbol
type NewsSource interface {
	Name() string
	News(ctx context.Context, symbol string) ([]NewsItem, error)
}

// FundamentalsSource returns company fundamentals and analyst ratings
type FundamentalsSource interface {
	Name() string
	Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
}

// Request kinds, used in attempts and audit records
const (
	KindQuote        = "quote"
	KindHistory      = "history"
	KindNews         = "news"
	KindFundamentals = "fundamentals"
)

// Attempt records one source call made by the chain
type Attempt struct {
	Source  string        `json:"source"`
	Kind    string        `json:"kind"`
	Latency time.Duration `json:"latency"`
	Err     error         `json:"-"`
	Reason  string        `json:"reason,omitempty"`
}

// Failed reports whether the attempt did not produce usable data
func (a Attempt) Failed() bool {
	return a.Err != nil
}

// Result is the outcome of a chain walk
type Result[T any] struct {
	Value    T         `json:"value"`
	Source   string    `json:"source"`
	Attempts []Attempt `json:"attempts"`
}

// FellBack reports whether any source before the answering one failed
func (r Result[T]) FellBack() bool {
	for _, a := range r.Attempts {
		if a.Failed() {
			return true
		}
	}
	return false
}
