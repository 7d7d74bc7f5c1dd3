package gtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
	"github.com/prixroxx/AutomatedTraderMCP/internal/infra"
	"github.com/prixroxx/AutomatedTraderMCP/internal/storage"
)

// MonitorState is the lifecycle of the background watcher.
type MonitorState string

const (
	StateRunning MonitorState = "RUNNING"
	StatePaused  MonitorState = "PAUSED"
	StateStopped MonitorState = "STOPPED"
)

// OrderSubmitter is the admission path for triggered executions. Every GTT
// fill goes through the same validation pipeline as a live order.
type OrderSubmitter interface {
	Submit(ctx context.Context, order domain.OrderRequest) (*domain.OrderResult, error)
}

// MonitorConfig tunes the watch loop.
type MonitorConfig struct {
	Interval      time.Duration // cycle period
	PriceCacheTTL time.Duration // quote reuse window inside and across cycles
}

// DefaultMonitorConfig mirrors the shipped defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{Interval: 30 * time.Second, PriceCacheTTL: 10 * time.Second}
}

type cachedQuote struct {
	ltp     decimal.Decimal
	fetched time.Time
}

// MonitorStats are cumulative counters since the monitor started.
type MonitorStats struct {
	Cycles      int64
	Checks      int64
	Triggers    int64
	Completed   int64
	Failures    int64
	QuoteErrors int64
	Uptime      time.Duration
}

// Monitor watches ACTIVE GTT records and executes them when their trigger
// condition holds. One cycle per interval; a cycle that overruns causes the
// next tick to be skipped rather than queued. Every status change goes
// through the store's conditional transition, so a cancel racing a trigger
// resolves cleanly.
type Monitor struct {
	store   *storage.Store
	quotes  domain.QuoteProvider
	submit  OrderSubmitter
	limiter *infra.RateLimiter
	cfg     MonitorConfig
	clock   domain.Clock
	logger  *slog.Logger

	mu         sync.Mutex
	state      MonitorState
	inCycle    bool
	priceCache map[string]cachedQuote
	stats      MonitorStats
	startedAt  time.Time
}

// NewMonitor wires the watcher. It starts in PAUSED and begins checking
// only after Start.
func NewMonitor(store *storage.Store, quotes domain.QuoteProvider, submit OrderSubmitter,
	limiter *infra.RateLimiter, cfg MonitorConfig, clock domain.Clock, logger *slog.Logger) *Monitor {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorConfig().Interval
	}
	return &Monitor{
		store:      store,
		quotes:     quotes,
		submit:     submit,
		limiter:    limiter,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
		state:      StatePaused,
		priceCache: make(map[string]cachedQuote),
	}
}

// Start runs the watch loop until ctx is cancelled. Blocking; callers run
// it in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.state = StateRunning
	m.startedAt = m.clock.Now()
	m.mu.Unlock()

	m.logger.Info("gtt monitor started",
		slog.Duration("interval", m.cfg.Interval))

	m.recoverOrphans(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.state = StateStopped
			m.mu.Unlock()
			m.logger.Info("gtt monitor stopped")
			return
		case <-ticker.C:
			if m.State() != StateRunning {
				continue
			}
			m.RunCycle(ctx)
		}
	}
}

// recoverOrphans fails any record stranded in TRIGGERED. TRIGGERED is a
// transient mid-execution state; finding one at startup means a crash (or
// kill) interrupted the execution, and whether the broker received the
// order is unknown. Failing it keeps it visible instead of invisible to
// both the monitor (which lists ACTIVE) and cancellation.
func (m *Monitor) recoverOrphans(ctx context.Context) {
	records, err := m.store.ListGTTs(ctx, storage.GTTFilter{Status: domain.GTTTriggered})
	if err != nil {
		m.logger.Error("failed to scan for orphaned gtts", slog.Any("error", err))
		return
	}
	for _, rec := range records {
		err := m.store.TransitionGTT(ctx, rec.ID, domain.GTTTriggered, domain.GTTFailed,
			storage.TransitionFields{ErrorMessage: "execution interrupted before completion"})
		if err != nil {
			m.logger.Error("failed to fail orphaned gtt", slog.Int64("gtt_id", rec.ID), slog.Any("error", err))
			continue
		}
		m.logger.Warn("orphaned gtt marked FAILED",
			slog.Int64("gtt_id", rec.ID), slog.String("symbol", rec.Symbol))
	}
}

// Pause suspends condition checks without losing state. Records stay ACTIVE
// and are picked up again on Resume.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		m.state = StatePaused
		m.logger.Warn("gtt monitoring paused")
	}
}

// Resume restarts condition checks after a Pause.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePaused {
		m.state = StateRunning
		m.logger.Info("gtt monitoring resumed")
	}
}

// State returns the current lifecycle state.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns cumulative counters.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	if !m.startedAt.IsZero() {
		stats.Uptime = m.clock.Now().Sub(m.startedAt)
	}
	return stats
}

// RunCycle performs one pass over all ACTIVE records. Concurrent calls
// collapse to one: a cycle already in flight makes this a no-op.
func (m *Monitor) RunCycle(ctx context.Context) {
	m.mu.Lock()
	if m.inCycle {
		m.mu.Unlock()
		return
	}
	m.inCycle = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inCycle = false
		m.stats.Cycles++
		m.mu.Unlock()
		infra.MetricMonitorCycles.Inc()
	}()

	records, err := m.store.ListGTTs(ctx, storage.GTTFilter{Status: domain.GTTActive})
	if err != nil {
		m.logger.Error("failed to list active gtts", slog.Any("error", err))
		return
	}
	if len(records) == 0 {
		return
	}

	// One price fetch per symbol regardless of how many GTTs watch it.
	for key, group := range groupBySymbol(records) {
		ltp, err := m.price(ctx, group[0].Symbol, group[0].Exchange)
		if err != nil {
			m.mu.Lock()
			m.stats.QuoteErrors++
			m.mu.Unlock()
			infra.MetricQuoteErrors.Inc()
			m.logger.Warn("quote unavailable, skipping symbol",
				slog.String("symbol", key), slog.Any("error", err))
			continue
		}
		for _, rec := range group {
			m.checkRecord(ctx, rec, ltp)
		}
	}
}

func groupBySymbol(records []*domain.GTTRecord) map[string][]*domain.GTTRecord {
	groups := make(map[string][]*domain.GTTRecord)
	for _, rec := range records {
		key := rec.Symbol + ":" + rec.Exchange
		groups[key] = append(groups[key], rec)
	}
	return groups
}

// price returns a cached LTP if fresh enough, otherwise fetches one through
// the live-data rate limit.
func (m *Monitor) price(ctx context.Context, symbol, exchange string) (decimal.Decimal, error) {
	key := symbol + ":" + exchange
	now := m.clock.Now()

	m.mu.Lock()
	if cached, ok := m.priceCache[key]; ok && now.Sub(cached.fetched) <= m.cfg.PriceCacheTTL {
		m.mu.Unlock()
		return cached.ltp, nil
	}
	m.mu.Unlock()

	if m.limiter != nil {
		if err := m.limiter.Acquire(ctx, infra.CategoryLiveData); err != nil {
			return decimal.Zero, err
		}
	}
	quote, err := m.quotes.GetQuote(ctx, symbol, exchange)
	if err != nil {
		return decimal.Zero, err
	}

	m.mu.Lock()
	m.priceCache[key] = cachedQuote{ltp: quote.LastTradedPrice, fetched: now}
	m.mu.Unlock()
	return quote.LastTradedPrice, nil
}

// checkRecord evaluates one record against the observed price. A panic in
// one record's execution must not take down the rest of the cycle.
func (m *Monitor) checkRecord(ctx context.Context, rec *domain.GTTRecord, ltp decimal.Decimal) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while checking gtt",
				slog.Int64("gtt_id", rec.ID), slog.Any("panic", r))
		}
	}()

	m.mu.Lock()
	m.stats.Checks++
	m.mu.Unlock()

	if err := m.store.TouchGTT(ctx, rec.ID); err != nil {
		m.logger.Warn("failed to stamp gtt check", slog.Int64("gtt_id", rec.ID), slog.Any("error", err))
	}

	if !rec.ShouldTrigger(ltp) {
		return
	}
	m.execute(ctx, rec, ltp)
}

// execute claims the record via CAS and runs the fill through the pipeline.
// Losing the claim means a cancel (or another trigger path) won; that is
// success from the monitor's point of view.
func (m *Monitor) execute(ctx context.Context, rec *domain.GTTRecord, ltp decimal.Decimal) {
	err := m.store.TransitionGTT(ctx, rec.ID, domain.GTTActive, domain.GTTTriggered,
		storage.TransitionFields{TriggerLTP: ltp})
	if err != nil {
		if errors.Is(err, domain.ErrConflictingState) || errors.Is(err, domain.ErrGTTNotFound) {
			return
		}
		m.logger.Error("failed to claim gtt", slog.Int64("gtt_id", rec.ID), slog.Any("error", err))
		return
	}

	m.mu.Lock()
	m.stats.Triggers++
	m.mu.Unlock()
	infra.MetricGTTTriggered.Inc()

	m.logger.Info("gtt triggered",
		slog.Int64("gtt_id", rec.ID),
		slog.String("symbol", rec.Symbol),
		slog.String("trigger_price", rec.TriggerPrice.String()),
		slog.String("ltp", ltp.String()))

	// The record is claimed: from here every exit path must land it in a
	// terminal state. A panic mid-execution would otherwise strand it in
	// TRIGGERED, unreachable by both the monitor and cancellation.
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.stats.Failures++
			m.mu.Unlock()
			infra.MetricGTTFailed.Inc()

			m.logger.Error("panic during gtt execution",
				slog.Int64("gtt_id", rec.ID), slog.Any("panic", r))
			if terr := m.store.TransitionGTT(ctx, rec.ID, domain.GTTTriggered, domain.GTTFailed,
				storage.TransitionFields{ErrorMessage: fmt.Sprintf("panic: %v", r)}); terr != nil {
				m.logger.Error("failed to mark gtt FAILED", slog.Int64("gtt_id", rec.ID), slog.Any("error", terr))
			}
		}
	}()

	result, err := m.submit.Submit(ctx, rec.OrderRequest(ltp))
	if err != nil {
		m.mu.Lock()
		m.stats.Failures++
		m.mu.Unlock()
		infra.MetricGTTFailed.Inc()

		m.logger.Error("gtt execution failed",
			slog.Int64("gtt_id", rec.ID), slog.Any("error", err))
		if terr := m.store.TransitionGTT(ctx, rec.ID, domain.GTTTriggered, domain.GTTFailed,
			storage.TransitionFields{ErrorMessage: err.Error()}); terr != nil {
			m.logger.Error("failed to mark gtt FAILED", slog.Int64("gtt_id", rec.ID), slog.Any("error", terr))
		}
		return
	}

	m.mu.Lock()
	m.stats.Completed++
	m.mu.Unlock()

	if terr := m.store.TransitionGTT(ctx, rec.ID, domain.GTTTriggered, domain.GTTCompleted,
		storage.TransitionFields{OrderID: result.BrokerOrderID}); terr != nil {
		m.logger.Error("failed to mark gtt COMPLETED", slog.Int64("gtt_id", rec.ID), slog.Any("error", terr))
		return
	}

	m.logger.Info("gtt completed",
		slog.Int64("gtt_id", rec.ID),
		slog.String("order_id", result.BrokerOrderID),
		slog.Bool("simulated", result.Simulated))
}

// ConditionReport is a read-only evaluation of one GTT's trigger predicate.
type ConditionReport struct {
	GTTID        int64
	Status       domain.GTTStatus
	TriggerPrice decimal.Decimal
	CurrentLTP   decimal.Decimal
	WouldTrigger bool
}

// CheckCondition evaluates a record's predicate against the current price
// without mutating anything.
func (m *Monitor) CheckCondition(ctx context.Context, id int64) (ConditionReport, error) {
	rec, err := m.store.GetGTT(ctx, id)
	if err != nil {
		return ConditionReport{}, err
	}

	ltp, err := m.price(ctx, rec.Symbol, rec.Exchange)
	if err != nil {
		return ConditionReport{}, err
	}

	return ConditionReport{
		GTTID:        rec.ID,
		Status:       rec.Status,
		TriggerPrice: rec.TriggerPrice,
		CurrentLTP:   ltp,
		WouldTrigger: rec.Status == domain.GTTActive && rec.ShouldTrigger(ltp),
	}, nil
}

// TriggerManually fires an ACTIVE record immediately, bypassing the price
// predicate but not the validation pipeline. Falls back to the trigger
// price as valuation when no quote is available.
func (m *Monitor) TriggerManually(ctx context.Context, id int64) (*domain.GTTRecord, error) {
	rec, err := m.store.GetGTT(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.GTTActive {
		if rec.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: gtt %d is %s", domain.ErrAlreadyTerminal, id, rec.Status)
		}
		return nil, fmt.Errorf("%w: gtt %d is %s", domain.ErrConflictingState, id, rec.Status)
	}

	ltp, err := m.price(ctx, rec.Symbol, rec.Exchange)
	if err != nil {
		m.logger.Warn("manual trigger without quote, using trigger price",
			slog.Int64("gtt_id", id), slog.Any("error", err))
		ltp = rec.TriggerPrice
	}

	m.execute(ctx, rec, ltp)
	return m.store.GetGTT(ctx, id)
}
