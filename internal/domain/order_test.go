package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderRequest_ValidateKindCombinations(t *testing.T) {
	base := OrderRequest{
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		Side:     Buy,
		Quantity: 1,
		Product:  ProductDelivery,
		Segment:  SegmentCash,
	}

	limit := base
	limit.Kind = KindLimit
	if err := limit.Validate(); err == nil {
		t.Error("expected LIMIT without price to fail validation")
	}
	limit.Price = decimal.NewFromInt(2450)
	if err := limit.Validate(); err != nil {
		t.Errorf("expected LIMIT with price to pass, got %v", err)
	}

	market := base
	market.Kind = KindMarket
	if err := market.Validate(); err != nil {
		t.Errorf("expected MARKET without price to pass, got %v", err)
	}

	sl := base
	sl.Kind = KindStopLoss
	sl.Price = decimal.NewFromInt(2400)
	if err := sl.Validate(); err == nil {
		t.Error("expected SL without trigger price to fail validation")
	}
	sl.TriggerPrice = decimal.NewFromInt(2390)
	if err := sl.Validate(); err != nil {
		t.Errorf("expected SL with price and trigger to pass, got %v", err)
	}

	slm := base
	slm.Kind = KindStopMarket
	if err := slm.Validate(); err == nil {
		t.Error("expected SL-M without trigger price to fail validation")
	}
	slm.TriggerPrice = decimal.NewFromInt(2390)
	if err := slm.Validate(); err != nil {
		t.Errorf("expected SL-M with trigger to pass, got %v", err)
	}
}

func TestOrderRequest_ValidateRejectsBadFields(t *testing.T) {
	o := OrderRequest{Symbol: "X", Exchange: "NSE", Side: Buy, Quantity: 0, Kind: KindMarket}
	if err := o.Validate(); err == nil {
		t.Error("expected zero quantity to fail validation")
	}

	o = OrderRequest{Symbol: "X", Exchange: "NSE", Side: "HOLD", Quantity: 1, Kind: KindMarket}
	if err := o.Validate(); err == nil {
		t.Error("expected unknown side to fail validation")
	}
}

func TestOrderRequest_Notional(t *testing.T) {
	o := OrderRequest{
		Symbol: "RELIANCE", Exchange: "NSE", Side: Buy,
		Quantity: 3, Kind: KindLimit, Price: decimal.NewFromInt(2450),
	}
	if got := o.Notional(); !got.Equal(decimal.NewFromInt(7350)) {
		t.Errorf("expected notional 7350, got %s", got)
	}

	// SL-M has no limit price; notional falls back to trigger price.
	slm := OrderRequest{
		Symbol: "RELIANCE", Exchange: "NSE", Side: Sell,
		Quantity: 2, Kind: KindStopMarket, TriggerPrice: decimal.NewFromInt(2400),
	}
	if got := slm.Notional(); !got.Equal(decimal.NewFromInt(4800)) {
		t.Errorf("expected notional 4800, got %s", got)
	}
}

func TestGTTRecord_ShouldTriggerBoundary(t *testing.T) {
	buy := &GTTRecord{Action: Buy, TriggerPrice: decimal.NewFromFloat(2400.00)}

	if buy.ShouldTrigger(decimal.NewFromFloat(2450.50)) {
		t.Error("BUY must not trigger above trigger price")
	}
	if !buy.ShouldTrigger(decimal.NewFromFloat(2400.00)) {
		t.Error("BUY must trigger at exact trigger price")
	}
	if !buy.ShouldTrigger(decimal.NewFromFloat(2395.00)) {
		t.Error("BUY must trigger below trigger price")
	}

	sell := &GTTRecord{Action: Sell, TriggerPrice: decimal.NewFromFloat(2400.00)}

	if sell.ShouldTrigger(decimal.NewFromFloat(2395.00)) {
		t.Error("SELL must not trigger below trigger price")
	}
	if !sell.ShouldTrigger(decimal.NewFromFloat(2400.00)) {
		t.Error("SELL must trigger at exact trigger price")
	}
	if !sell.ShouldTrigger(decimal.NewFromFloat(2450.50)) {
		t.Error("SELL must trigger above trigger price")
	}
}

func TestGTTRecord_OrderRequestSynthesis(t *testing.T) {
	g := &GTTRecord{
		ID: 7, Symbol: "TCS", Exchange: "NSE",
		Action: Buy, Quantity: 5, Kind: KindMarket,
		TriggerPrice: decimal.NewFromInt(3500),
	}

	ltp := decimal.NewFromFloat(3495.25)
	req := g.OrderRequest(ltp)

	if req.Kind != KindMarket || !req.Price.Equal(ltp) {
		t.Errorf("MARKET GTT should carry LTP as valuation price, got %s", req.Price)
	}
	if req.Product != ProductDelivery || req.Segment != SegmentCash {
		t.Error("GTT orders must settle as CNC/CASH")
	}

	g.Kind = KindLimit
	g.LimitPrice = decimal.NewFromInt(3490)
	req = g.OrderRequest(ltp)
	if !req.Price.Equal(decimal.NewFromInt(3490)) {
		t.Errorf("LIMIT GTT should carry its limit price, got %s", req.Price)
	}
}
