package domain

import (
	"github.com/shopspring/decimal"
)

// TransactionType is the order side.
type TransactionType string

const (
	Buy  TransactionType = "BUY"
	Sell TransactionType = "SELL"
)

// OrderKind is the execution style of an order.
type OrderKind string

const (
	KindLimit      OrderKind = "LIMIT"
	KindMarket     OrderKind = "MARKET"
	KindStopLoss   OrderKind = "SL"   // Stop-loss limit
	KindStopMarket OrderKind = "SL-M" // Stop-loss market
)

// ProductType is the brokerage product the order settles under.
type ProductType string

const (
	ProductDelivery ProductType = "CNC" // Cash and carry (delivery)
	ProductIntraday ProductType = "MIS" // Intraday margin
)

// Segment is the market segment.
type Segment string

const (
	SegmentCash        Segment = "CASH"
	SegmentDerivatives Segment = "FNO"
)

// OrderRequest describes one order to be admitted through the validation
// pipeline. It is immutable after construction; the pipeline validates it
// and never mutates it.
//
// Price carries the limit price for LIMIT/SL orders. For MARKET orders the
// caller sets Price to the reference LTP so notional checks have a value to
// work with; the brokerage collaborator ignores it.
type OrderRequest struct {
	Symbol       string
	Exchange     string
	Side         TransactionType
	Quantity     int64
	Kind         OrderKind
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	Product      ProductType
	Segment      Segment
}

// Validate checks structural correctness: positive quantity and the
// price/trigger combinations each order kind requires.
func (o OrderRequest) Validate() error {
	if o.Symbol == "" {
		return &InvalidOrderError{Field: "symbol", Detail: "symbol is required"}
	}
	if o.Exchange == "" {
		return &InvalidOrderError{Field: "exchange", Detail: "exchange is required"}
	}
	if o.Side != Buy && o.Side != Sell {
		return &InvalidOrderError{Field: "side", Detail: "side must be BUY or SELL"}
	}
	if o.Quantity <= 0 {
		return &InvalidOrderError{Field: "quantity", Detail: "quantity must be positive"}
	}

	switch o.Kind {
	case KindLimit:
		if o.Price.Sign() <= 0 {
			return &InvalidOrderError{Field: "price", Detail: "LIMIT order requires a positive price"}
		}
	case KindMarket:
		// No price required; reference price is optional.
	case KindStopLoss:
		if o.Price.Sign() <= 0 {
			return &InvalidOrderError{Field: "price", Detail: "SL order requires a positive price"}
		}
		if o.TriggerPrice.Sign() <= 0 {
			return &InvalidOrderError{Field: "trigger_price", Detail: "SL order requires a positive trigger price"}
		}
	case KindStopMarket:
		if o.TriggerPrice.Sign() <= 0 {
			return &InvalidOrderError{Field: "trigger_price", Detail: "SL-M order requires a positive trigger price"}
		}
	default:
		return &InvalidOrderError{Field: "kind", Detail: "unknown order kind"}
	}

	return nil
}

// Notional returns the order value used by limit checks: quantity times the
// limit price, falling back to the trigger price for SL-M orders.
func (o OrderRequest) Notional() decimal.Decimal {
	price := o.Price
	if price.Sign() <= 0 {
		price = o.TriggerPrice
	}
	return price.Mul(decimal.NewFromInt(o.Quantity))
}

// OrderResult is the outcome of a pipeline submission.
type OrderResult struct {
	BrokerOrderID string
	Simulated     bool
}
