package risk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
	"github.com/prixroxx/AutomatedTraderMCP/internal/infra"
)

// Compiled-in hard limits. These are not configuration: no deployment can
// raise them, and they are evaluated before any configured limit.
var (
	maxSingleOrderValue  = decimal.NewFromInt(10000)
	hardPortfolioCeiling = decimal.NewFromInt(100000)
)

const maxDailyOrdersHard = 15

// Limits carries the operator-configured caps, already converted from the
// whole-rupee config integers.
type Limits struct {
	MaxPositionSize   decimal.Decimal
	MaxPortfolioValue decimal.Decimal
	MaxDailyLoss      decimal.Decimal
	MaxOpenPositions  int
	MaxDailyOrders    int
}

// LimitsFromConfig converts the config block.
func LimitsFromConfig(cfg *infra.Config) Limits {
	return Limits{
		MaxPositionSize:   decimal.NewFromInt(cfg.Risk.MaxPositionSize),
		MaxPortfolioValue: decimal.NewFromInt(cfg.Risk.MaxPortfolioValue),
		MaxDailyLoss:      decimal.NewFromInt(cfg.Risk.MaxDailyLoss),
		MaxOpenPositions:  cfg.Risk.MaxOpenPositions,
		MaxDailyOrders:    cfg.Risk.MaxDailyOrders,
	}
}

// Pipeline admits every order through seven ordered stages: kill switch,
// hard limits, configured limits, daily caps, risk approval, paper-mode
// simulation, rate-limited broker submission. The first failing stage
// rejects; no later stage runs. An order rejected anywhere before stage 6
// never consumes the daily order budget.
type Pipeline struct {
	limits  Limits
	kill    *KillSwitch
	state   *State
	limiter *infra.RateLimiter
	gateway domain.OrderGateway
	paper   bool
	logger  *slog.Logger
}

// NewPipeline wires the validation chain. gateway may be nil in paper mode.
func NewPipeline(limits Limits, kill *KillSwitch, state *State, limiter *infra.RateLimiter,
	gateway domain.OrderGateway, paper bool, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		limits:  limits,
		kill:    kill,
		state:   state,
		limiter: limiter,
		gateway: gateway,
		paper:   paper,
		logger:  logger,
	}
}

// Submit runs one order through all stages. The request is validated but
// never mutated; the returned result names the broker (or simulated) id.
func (p *Pipeline) Submit(ctx context.Context, order domain.OrderRequest) (*domain.OrderResult, error) {
	infra.MetricOrdersAttempted.Inc()

	if err := order.Validate(); err != nil {
		return nil, p.reject("validate", order, err)
	}

	// Stage 1: kill switch.
	if err := p.kill.Guard(); err != nil {
		return nil, p.reject("kill_switch", order, err)
	}

	notional := order.Notional()

	// Stage 2: stateless hard limits (per-order value, segment, product).
	if err := p.checkHardOrder(order, notional); err != nil {
		return nil, p.reject("hard_limits", order, err)
	}

	// Stage 3: stateless configured limit (per-order position size).
	if notional.GreaterThan(p.limits.MaxPositionSize) {
		return nil, p.reject("config_limits", order, &domain.ConfigLimitError{
			Limit:  "max_position_size",
			Detail: fmt.Sprintf("order value %s exceeds %s", notional, p.limits.MaxPositionSize),
		})
	}

	// Stages 2-5, stateful half: counts, exposure, daily loss and position
	// slots are re-validated and consumed inside one state lock hold, so
	// concurrent submissions cannot race past a ceiling between check and
	// increment. An order admitted here has consumed daily budget whether
	// it is simulated or sent to the broker.
	if err := p.state.TryAdmit(ctx, order, p.limits); err != nil {
		return nil, p.reject(admitStage(err), order, err)
	}

	// Stage 6: paper mode short-circuits before any broker traffic.
	if p.paper {
		result := &domain.OrderResult{
			BrokerOrderID: p.simulatedOrderID(order, p.state.Snapshot()),
			Simulated:     true,
		}
		infra.MetricOrdersPlaced.Inc()
		p.logger.Info("paper order placed",
			slog.String("order_id", result.BrokerOrderID),
			slog.String("symbol", order.Symbol),
			slog.String("side", string(order.Side)),
			slog.Int64("quantity", order.Quantity))
		return result, nil
	}

	// Stage 7: rate-limited live submission, single attempt.
	result, err := p.submitLive(ctx, order)
	if err != nil {
		return nil, err
	}
	infra.MetricOrdersPlaced.Inc()
	p.logger.Info("live order placed",
		slog.String("order_id", result.BrokerOrderID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.String("notional", notional.String()))
	return result, nil
}

func (p *Pipeline) checkHardOrder(order domain.OrderRequest, notional decimal.Decimal) error {
	if notional.GreaterThan(maxSingleOrderValue) {
		return &domain.HardLimitError{
			Limit:  "max_single_order_value",
			Detail: fmt.Sprintf("order value %s exceeds %s", notional, maxSingleOrderValue),
		}
	}
	if order.Segment == domain.SegmentDerivatives {
		return &domain.HardLimitError{
			Limit:  "no_derivatives",
			Detail: "derivatives segment is not permitted",
		}
	}
	if order.Product == domain.ProductIntraday {
		return &domain.HardLimitError{
			Limit:  "no_intraday",
			Detail: "intraday margin product is not permitted",
		}
	}
	return nil
}

// admitStage maps a TryAdmit rejection back to the pipeline stage that
// owns it, for metrics and logs.
func admitStage(err error) string {
	var hard *domain.HardLimitError
	var cfg *domain.ConfigLimitError
	var daily *domain.DailyLimitError
	switch {
	case errors.As(err, &hard):
		return "hard_limits"
	case errors.As(err, &cfg):
		return "config_limits"
	case errors.As(err, &daily):
		return "daily_limits"
	default:
		return "risk_approval"
	}
}

// simulatedOrderID is deterministic for a given order, day and sequence so
// paper runs are reproducible.
func (p *Pipeline) simulatedOrderID(order domain.OrderRequest, snap Snapshot) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d|%s|%s|%d",
		snap.TradingDay, order.Symbol, order.Side, order.Quantity,
		order.Kind, order.Price, snap.OrderCount))
	return "PAPER-" + hex.EncodeToString(sum[:6])
}

func (p *Pipeline) submitLive(ctx context.Context, order domain.OrderRequest) (*domain.OrderResult, error) {
	if err := p.limiter.Acquire(ctx, infra.CategoryOrders); err != nil {
		return nil, p.reject("rate_limit", order, err)
	}

	brokerID, err := p.gateway.SubmitOrder(ctx, order)
	p.state.RecordAPICall(err == nil)
	if err != nil {
		// Single attempt, no retry: a failed order must stay failed rather
		// than risk a duplicate fill.
		p.kill.EvaluateAuto(p.state.Snapshot())
		return nil, p.reject("broker", order, err)
	}
	return &domain.OrderResult{BrokerOrderID: brokerID}, nil
}

func (p *Pipeline) reject(stage string, order domain.OrderRequest, err error) error {
	infra.MetricOrdersRejected.WithLabelValues(stage).Inc()
	p.logger.Warn("order rejected",
		slog.String("stage", stage),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.Any("error", err))
	return err
}
