package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GTTStatus is the lifecycle state of a conditional order.
type GTTStatus string

const (
	GTTActive    GTTStatus = "ACTIVE"
	GTTTriggered GTTStatus = "TRIGGERED"
	GTTCompleted GTTStatus = "COMPLETED"
	GTTCancelled GTTStatus = "CANCELLED"
	GTTFailed    GTTStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s GTTStatus) IsTerminal() bool {
	switch s {
	case GTTCompleted, GTTCancelled, GTTFailed:
		return true
	default:
		return false
	}
}

// GTTSpec is the caller-supplied definition of a new conditional order.
// The trigger condition is fixed at creation; changing it means cancelling
// and recreating.
type GTTSpec struct {
	Symbol       string
	Exchange     string
	TriggerPrice decimal.Decimal
	Action       TransactionType
	Quantity     int64
	Kind         OrderKind
	LimitPrice   decimal.Decimal
	Notes        string
}

// Validate checks a GTT spec before it is persisted.
func (s GTTSpec) Validate() error {
	if s.Symbol == "" {
		return &InvalidOrderError{Field: "symbol", Detail: "symbol is required"}
	}
	if s.Exchange == "" {
		return &InvalidOrderError{Field: "exchange", Detail: "exchange is required"}
	}
	if s.Action != Buy && s.Action != Sell {
		return &InvalidOrderError{Field: "action", Detail: "action must be BUY or SELL"}
	}
	if s.Quantity <= 0 {
		return &InvalidOrderError{Field: "quantity", Detail: "quantity must be positive"}
	}
	if s.TriggerPrice.Sign() <= 0 {
		return &InvalidOrderError{Field: "trigger_price", Detail: "trigger price must be positive"}
	}
	switch s.Kind {
	case KindLimit:
		if s.LimitPrice.Sign() <= 0 {
			return &InvalidOrderError{Field: "limit_price", Detail: "LIMIT GTT requires a positive limit price"}
		}
	case KindMarket:
	default:
		return &InvalidOrderError{Field: "kind", Detail: "GTT kind must be LIMIT or MARKET"}
	}
	return nil
}

// GTTRecord is one persisted conditional order. Mutated only through the
// store's conditional transition; terminal states are immutable.
type GTTRecord struct {
	ID           int64
	Symbol       string
	Exchange     string
	TriggerPrice decimal.Decimal
	Action       TransactionType
	Quantity     int64
	Kind         OrderKind
	LimitPrice   decimal.Decimal
	Status       GTTStatus
	CreatedAt    time.Time
	LastChecked  time.Time
	TriggeredAt  time.Time // zero until triggered
	CompletedAt  time.Time // zero until terminal
	OrderID      string    // broker order id once completed
	ErrorMessage string    // failure reason once failed
	TriggerLTP   decimal.Decimal
	Notes        string
}

// ShouldTrigger evaluates the trigger predicate against an observed price.
// BUY triggers when LTP drops to or below the trigger price; SELL triggers
// when LTP rises to or above it. Equality triggers in both directions.
func (g *GTTRecord) ShouldTrigger(ltp decimal.Decimal) bool {
	if g.Action == Buy {
		return ltp.LessThanOrEqual(g.TriggerPrice)
	}
	return ltp.GreaterThanOrEqual(g.TriggerPrice)
}

// OrderRequest synthesizes the order submitted when this GTT fires.
// GTT executions always settle as cash delivery. For MARKET GTTs the
// observed LTP is used as the valuation price for limit checks.
func (g *GTTRecord) OrderRequest(ltp decimal.Decimal) OrderRequest {
	price := g.LimitPrice
	if g.Kind == KindMarket {
		price = ltp
	}
	return OrderRequest{
		Symbol:   g.Symbol,
		Exchange: g.Exchange,
		Side:     g.Action,
		Quantity: g.Quantity,
		Kind:     g.Kind,
		Price:    price,
		Product:  ProductDelivery,
		Segment:  SegmentCash,
	}
}
