package marketdata

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when a source refuses a call for quota reasons,
	// either locally or upstream
	ErrRateLimited = errors.New("rate limited")

	// ErrBudgetExhausted is a local refusal. It is a rate limit, but not one
	// the upstream signalled.
	ErrBudgetExhausted = fmt.Errorf("%w: budget exhausted", ErrRateLimited)

	// ErrUpstreamUnavailable wraps network and HTTP failures from one source
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotFound is returned when no source, the static table included, knows the symbol
	ErrNotFound = errors.New("not found")

	// ErrUnsupported is returned by a source that cannot serve a request kind
	ErrUnsupported = errors.New("unsupported by source")
)
