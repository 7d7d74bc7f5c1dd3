package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
	"github.com/prixroxx/AutomatedTraderMCP/internal/storage"
)

// istZone pins the trading-day boundary to the exchange calendar. A restart
// at 23:59 UTC must not reset counters that belong to the same IST session.
var istZone = time.FixedZone("IST", 5*3600+30*60)

const (
	apiHistorySize = 100 // calls kept in the rolling window
	apiRateWindow  = 50  // error rate computed over the most recent calls
	apiMinSample   = 20  // below this the rate is treated as zero
)

// TradingDay formats a wall-clock instant as its IST calendar date.
func TradingDay(t time.Time) string {
	return t.In(istZone).Format("2006-01-02")
}

// State is the single mutable risk ledger: daily P&L, order count, open
// positions, consecutive losses and the rolling API health window. All
// mutation goes through its mutex; readers get copies via Snapshot.
//
// Counters reset when the IST calendar date changes; open positions carry
// across days because they exist until closed.
type State struct {
	mu sync.Mutex

	tradingDay        string
	dailyPnL          decimal.Decimal
	orderCount        int
	consecutiveLosses int
	openPositions     map[string]decimal.Decimal // symbol -> exposure

	apiHistory         []bool // true = success, most recent last
	lastNetworkSuccess time.Time

	store  *storage.Store
	clock  domain.Clock
	logger *slog.Logger
}

// NewState builds the ledger and restores today's persisted counters so a
// restart cannot forget orders already placed this session. store may be nil
// in tests that do not care about persistence.
func NewState(ctx context.Context, store *storage.Store, clock domain.Clock, logger *slog.Logger) (*State, error) {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	now := clock.Now()
	s := &State{
		tradingDay:         TradingDay(now),
		openPositions:      make(map[string]decimal.Decimal),
		lastNetworkSuccess: now,
		store:              store,
		clock:              clock,
		logger:             logger,
	}

	if store != nil {
		row, found, err := store.LoadDailyRisk(ctx, s.tradingDay)
		if err != nil {
			return nil, err
		}
		if found {
			pnl, err := decimal.NewFromString(row.DailyPnL)
			if err == nil {
				s.dailyPnL = pnl
			}
			s.orderCount = row.OrderCount
			s.consecutiveLosses = row.ConsecutiveLosses
			logger.Info("restored risk state",
				slog.String("trading_day", s.tradingDay),
				slog.Int("order_count", s.orderCount),
				slog.String("daily_pnl", s.dailyPnL.String()))
		}
	}

	return s, nil
}

// TryAdmit validates every stateful cap and, when they all hold, consumes
// one daily order slot and applies the order's projected exposure — in one
// mutex hold. Two concurrent submissions can therefore never both observe
// count 14 and both increment past the ceiling: the count the check reads
// is the count the increment mutates. Checks run hard → config → daily →
// risk so a breach of several caps reports the least overridable one.
func (s *State) TryAdmit(ctx context.Context, order domain.OrderRequest, limits Limits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()

	notional := order.Notional()

	if s.orderCount >= maxDailyOrdersHard {
		return &domain.HardLimitError{
			Limit:  "max_daily_orders",
			Detail: fmt.Sprintf("%d orders already placed today", s.orderCount),
		}
	}
	if order.Side == domain.Buy {
		projected := s.totalExposureLocked().Add(notional)
		if projected.GreaterThan(hardPortfolioCeiling) {
			return &domain.HardLimitError{
				Limit:  "portfolio_ceiling",
				Detail: fmt.Sprintf("projected exposure %s exceeds %s", projected, hardPortfolioCeiling),
			}
		}
		if projected.GreaterThan(limits.MaxPortfolioValue) {
			return &domain.ConfigLimitError{
				Limit:  "max_portfolio_value",
				Detail: fmt.Sprintf("projected exposure %s exceeds %s", projected, limits.MaxPortfolioValue),
			}
		}
	}
	if s.orderCount >= limits.MaxDailyOrders {
		return &domain.DailyLimitError{
			Limit:  "max_daily_orders",
			Detail: fmt.Sprintf("%d of %d orders used", s.orderCount, limits.MaxDailyOrders),
		}
	}
	if s.dailyPnL.LessThanOrEqual(limits.MaxDailyLoss.Neg()) {
		return &domain.DailyLimitError{
			Limit:  "max_daily_loss",
			Detail: fmt.Sprintf("daily P&L %s breached loss cap %s", s.dailyPnL, limits.MaxDailyLoss),
		}
	}
	if order.Side == domain.Buy {
		if _, held := s.openPositions[order.Symbol]; !held && len(s.openPositions) >= limits.MaxOpenPositions {
			return &domain.RiskRejectedError{
				Reason: fmt.Sprintf("already holding %d open positions (max %d)",
					len(s.openPositions), limits.MaxOpenPositions),
			}
		}
	}

	s.orderCount++
	s.applyExposureLocked(order)
	s.persistLocked(ctx)
	return nil
}

func (s *State) totalExposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, exp := range s.openPositions {
		total = total.Add(exp)
	}
	return total
}

func (s *State) applyExposureLocked(order domain.OrderRequest) {
	notional := order.Notional()
	current := s.openPositions[order.Symbol]

	if order.Side == domain.Buy {
		s.openPositions[order.Symbol] = current.Add(notional)
		return
	}
	remaining := current.Sub(notional)
	if remaining.Sign() <= 0 {
		delete(s.openPositions, order.Symbol)
	} else {
		s.openPositions[order.Symbol] = remaining
	}
}

// RecordTradeResult folds one realized P&L into the day. Losses extend the
// consecutive-loss streak; any profit breaks it; flat trades leave it alone.
func (s *State) RecordTradeResult(ctx context.Context, pnl decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()

	s.dailyPnL = s.dailyPnL.Add(pnl)
	switch {
	case pnl.Sign() < 0:
		s.consecutiveLosses++
	case pnl.Sign() > 0:
		s.consecutiveLosses = 0
	}
	s.persistLocked(ctx)

	s.logger.Info("trade result recorded",
		slog.String("pnl", pnl.String()),
		slog.String("daily_pnl", s.dailyPnL.String()),
		slog.Int("consecutive_losses", s.consecutiveLosses))
}

// RecordAPICall appends one broker call outcome to the rolling window.
// A success also counts as proof of network reachability.
func (s *State) RecordAPICall(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.apiHistory = append(s.apiHistory, success)
	if len(s.apiHistory) > apiHistorySize {
		s.apiHistory = s.apiHistory[len(s.apiHistory)-apiHistorySize:]
	}
	if success {
		s.lastNetworkSuccess = s.clock.Now()
	}
}

// RecordNetworkSuccess marks reachability without an API outcome, e.g. a
// websocket tick arriving.
func (s *State) RecordNetworkSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastNetworkSuccess = s.clock.Now()
}

// SetPositions replaces the exposure map wholesale, for reconciliation
// against the broker's view of holdings.
func (s *State) SetPositions(positions map[string]decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.openPositions = make(map[string]decimal.Decimal, len(positions))
	for sym, exp := range positions {
		if exp.Sign() > 0 {
			s.openPositions[sym] = exp
		}
	}
}

// Snapshot is a point-in-time copy of the ledger, safe to read without
// holding any lock.
type Snapshot struct {
	TradingDay        string
	DailyPnL          decimal.Decimal
	OrderCount        int
	ConsecutiveLosses int
	OpenPositions     map[string]decimal.Decimal
	TotalExposure     decimal.Decimal
	APIErrorRate      float64
	APISampleSize     int
	SinceNetworkOK    time.Duration
}

// HasPosition reports whether the snapshot carries exposure in symbol.
func (s Snapshot) HasPosition(symbol string) bool {
	_, ok := s.OpenPositions[symbol]
	return ok
}

// Snapshot returns a consistent copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()

	positions := make(map[string]decimal.Decimal, len(s.openPositions))
	total := decimal.Zero
	for sym, exp := range s.openPositions {
		positions[sym] = exp
		total = total.Add(exp)
	}

	return Snapshot{
		TradingDay:        s.tradingDay,
		DailyPnL:          s.dailyPnL,
		OrderCount:        s.orderCount,
		ConsecutiveLosses: s.consecutiveLosses,
		OpenPositions:     positions,
		TotalExposure:     total,
		APIErrorRate:      s.apiErrorRateLocked(),
		APISampleSize:     len(s.apiHistory),
		SinceNetworkOK:    s.clock.Now().Sub(s.lastNetworkSuccess),
	}
}

// apiErrorRateLocked computes the failure fraction over the most recent
// calls. Too small a sample reads as healthy rather than tripping the
// breaker off three early failures.
func (s *State) apiErrorRateLocked() float64 {
	if len(s.apiHistory) < apiMinSample {
		return 0
	}
	window := s.apiHistory
	if len(window) > apiRateWindow {
		window = window[len(window)-apiRateWindow:]
	}
	failures := 0
	for _, ok := range window {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(window))
}

// rolloverLocked resets daily counters when the IST date has moved on.
// Open positions survive; they are holdings, not counters.
func (s *State) rolloverLocked() {
	today := TradingDay(s.clock.Now())
	if today == s.tradingDay {
		return
	}

	s.logger.Info("trading day rollover",
		slog.String("from", s.tradingDay),
		slog.String("to", today),
		slog.String("closing_pnl", s.dailyPnL.String()))

	s.tradingDay = today
	s.dailyPnL = decimal.Zero
	s.orderCount = 0
	s.consecutiveLosses = 0
	s.apiHistory = nil
}

func (s *State) persistLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	err := s.store.SaveDailyRisk(ctx, storage.DailyRiskRow{
		TradingDay:        s.tradingDay,
		DailyPnL:          s.dailyPnL.String(),
		OrderCount:        s.orderCount,
		ConsecutiveLosses: s.consecutiveLosses,
	})
	if err != nil {
		// Persistence is best-effort; a failed snapshot must not block the
		// trade path that triggered it.
		s.logger.Error("failed to persist risk state", slog.Any("error", err))
	}
}
