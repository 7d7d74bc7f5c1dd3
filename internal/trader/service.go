package trader

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
	"github.com/prixroxx/AutomatedTraderMCP/internal/gtt"
	"github.com/prixroxx/AutomatedTraderMCP/internal/infra"
	"github.com/prixroxx/AutomatedTraderMCP/internal/risk"
	"github.com/prixroxx/AutomatedTraderMCP/internal/storage"
)

// Service is the exposed surface of the trading core: order placement, risk
// visibility, kill-switch control and GTT management. It owns no policy of
// its own; every decision lives in the components it fronts.
type Service struct {
	pipeline *risk.Pipeline
	state    *risk.State
	kill     *risk.KillSwitch
	store    *storage.Store
	monitor  *gtt.Monitor
	limiter  *infra.RateLimiter
	logger   *slog.Logger
}

// NewService wires the facade.
func NewService(pipeline *risk.Pipeline, state *risk.State, kill *risk.KillSwitch,
	store *storage.Store, monitor *gtt.Monitor, limiter *infra.RateLimiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pipeline: pipeline,
		state:    state,
		kill:     kill,
		store:    store,
		monitor:  monitor,
		limiter:  limiter,
		logger:   logger,
	}
}

// PlaceOrder admits one order through the full validation pipeline.
func (s *Service) PlaceOrder(ctx context.Context, order domain.OrderRequest) (*domain.OrderResult, error) {
	return s.pipeline.Submit(ctx, order)
}

// RecordTradeResult folds a realized P&L into the day and re-evaluates the
// automatic kill-switch conditions against the updated state.
func (s *Service) RecordTradeResult(ctx context.Context, pnl decimal.Decimal) {
	s.state.RecordTradeResult(ctx, pnl)
	s.kill.EvaluateAuto(s.state.Snapshot())
}

// RiskStatus aggregates everything an operator needs to judge the session.
type RiskStatus struct {
	Risk       risk.Snapshot
	KillSwitch risk.Status
	RateLimits map[infra.Category]infra.CategoryStats
	Monitor    gtt.MonitorStats
}

// GetRiskStatus returns the combined risk, kill-switch, rate-limit and
// monitor view.
func (s *Service) GetRiskStatus(ctx context.Context) RiskStatus {
	status := RiskStatus{
		Risk:       s.state.Snapshot(),
		KillSwitch: s.kill.Status(),
		Monitor:    s.monitor.Stats(),
	}
	if s.limiter != nil {
		status.RateLimits = s.limiter.Stats()
	}
	return status
}

// ActivateKillSwitch halts all trading immediately. An empty reason is
// recorded as a manual stop; the message carries the operator's context.
func (s *Service) ActivateKillSwitch(reason, message string) bool {
	if reason == "" {
		reason = risk.ReasonManual
	}
	return s.kill.Activate(reason, message)
}

// DeactivateKillSwitch resumes trading after cooldown with the approval
// token.
func (s *Service) DeactivateKillSwitch(approvalToken string) error {
	return s.kill.Deactivate(approvalToken)
}

// CreateGTT registers a new conditional order for monitoring.
func (s *Service) CreateGTT(ctx context.Context, spec domain.GTTSpec) (*domain.GTTRecord, error) {
	id, err := s.store.CreateGTT(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.logger.Info("gtt created",
		slog.Int64("gtt_id", id),
		slog.String("symbol", spec.Symbol),
		slog.String("action", string(spec.Action)),
		slog.String("trigger_price", spec.TriggerPrice.String()))
	return s.store.GetGTT(ctx, id)
}

// GetGTT returns one GTT record.
func (s *Service) GetGTT(ctx context.Context, id int64) (*domain.GTTRecord, error) {
	return s.store.GetGTT(ctx, id)
}

// ListGTTs returns GTT records matching the filter.
func (s *Service) ListGTTs(ctx context.Context, filter storage.GTTFilter) ([]*domain.GTTRecord, error) {
	return s.store.ListGTTs(ctx, filter)
}

// CancelGTT cancels an ACTIVE GTT.
func (s *Service) CancelGTT(ctx context.Context, id int64) error {
	if err := s.store.CancelGTT(ctx, id); err != nil {
		return err
	}
	s.logger.Info("gtt cancelled", slog.Int64("gtt_id", id))
	return nil
}

// DeleteGTT permanently removes a GTT record.
func (s *Service) DeleteGTT(ctx context.Context, id int64) error {
	return s.store.DeleteGTT(ctx, id)
}

// CheckGTTTriggerCondition evaluates one GTT's predicate read-only.
func (s *Service) CheckGTTTriggerCondition(ctx context.Context, id int64) (gtt.ConditionReport, error) {
	return s.monitor.CheckCondition(ctx, id)
}

// TriggerGTTManually executes an ACTIVE GTT now, predicate notwithstanding.
func (s *Service) TriggerGTTManually(ctx context.Context, id int64) (*domain.GTTRecord, error) {
	return s.monitor.TriggerManually(ctx, id)
}

// PauseGTTMonitoring suspends the background condition checks.
func (s *Service) PauseGTTMonitoring() {
	s.monitor.Pause()
}

// ResumeGTTMonitoring restarts the background condition checks.
func (s *Service) ResumeGTTMonitoring() {
	s.monitor.Resume()
}

// GetGTTStatistics returns table-wide GTT counts.
func (s *Service) GetGTTStatistics(ctx context.Context) (storage.GTTStatistics, error) {
	return s.store.Statistics(ctx)
}
