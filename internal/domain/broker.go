package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one price observation for a symbol.
type Quote struct {
	LastTradedPrice decimal.Decimal
	Timestamp       time.Time
}

// QuoteProvider is the price-lookup collaborator. Implementations must
// return ErrQuoteUnavailable (possibly wrapped) when no usable price exists.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol, exchange string) (Quote, error)
}

// OrderGateway is the order-submission collaborator. A successful call
// returns the broker's order identifier; failures are wrapped as
// *BrokerError by the caller-facing layer.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, order OrderRequest) (string, error)
}

// Clock abstracts wall time so cooldowns, rollovers and interval schedules
// are testable with a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
