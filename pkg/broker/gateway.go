package broker

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every failed gateway call: network, timeout, auth or a
// malformed response. Callers must skip the affected work, never guess a value.
var ErrUnavailable = errors.New("gateway unavailable")

// Gateway abstracts the price and execution venue.
type Gateway interface {
	CurrentPrice(ctx context.Context, code string) (float64, error)
	PriceHistory(ctx context.Context, code string, days int) ([]Point, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Positions(ctx context.Context, accountID string) ([]Holding, error)
}

// MarketClock is the authoritative market-hours source, when the venue has one.
type MarketClock interface {
	MarketOpen(ctx context.Context, segment Segment) (bool, error)
}

// Canceler cancels resting orders of an account on a best-effort basis.
type Canceler interface {
	CancelOpenOrders(ctx context.Context, accountID string) error
}
