package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
	"github.com/prixroxx/AutomatedTraderMCP/internal/feed"
	"github.com/prixroxx/AutomatedTraderMCP/internal/gtt"
	"github.com/prixroxx/AutomatedTraderMCP/internal/infra"
	"github.com/prixroxx/AutomatedTraderMCP/internal/risk"
	"github.com/prixroxx/AutomatedTraderMCP/internal/storage"
	"github.com/prixroxx/AutomatedTraderMCP/internal/trader"
)

// Bootstrap orchestrates the startup sequence and owns the wired components.
type Bootstrap struct {
	Config   *infra.Config
	Store    *storage.Store
	State    *risk.State
	Kill     *risk.KillSwitch
	Pipeline *risk.Pipeline
	Feed     *feed.WSFeed
	Monitor  *gtt.Monitor
	Limiter  *infra.RateLimiter
	Service  *trader.Service

	// Gateway is the live-order collaborator. Paper mode runs without one;
	// live mode refuses to start until the embedding program provides it.
	Gateway domain.OrderGateway
}

// NewBootstrap creates an empty bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// resolveConfigPath honors TRADER_CONFIG, falling back to config.yaml.
func resolveConfigPath() string {
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// Initialize loads config, sets up logging, opens storage and wires every
// component. It does not start any background loop; Run does.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping trader...")

	cfg, err := infra.LoadConfig(resolveConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		// No config file: run on shipped defaults.
		cfg = infra.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		slog.Warn("no config file found, using defaults")
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	paper := cfg.Trading.Mode != "live"
	if !paper && b.Gateway == nil {
		return fmt.Errorf("live mode requires an order gateway")
	}

	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	store, err := storage.NewStore(cfg.Storage.Path, nil)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Store initialized (WAL mode)", slog.String("path", cfg.Storage.Path))

	state, err := risk.NewState(ctx, store, nil, logger)
	if err != nil {
		return err
	}
	b.State = state

	b.Kill = risk.NewKillSwitch(risk.KillSwitchConfig{
		ConsecutiveLossThreshold: cfg.KillSwitch.ConsecutiveLossThreshold,
		APIErrorRateThreshold:    cfg.KillSwitch.APIErrorRateThreshold,
		NetworkTimeout:           time.Duration(cfg.KillSwitch.NetworkTimeoutSec) * time.Second,
		Cooldown:                 time.Duration(cfg.KillSwitch.CooldownMinutes) * time.Minute,
		ApprovalCode:             cfg.KillSwitch.ApprovalCode,
	}, nil, logger)

	b.Limiter = infra.NewRateLimiter(infra.RateLimiterConfig{
		Orders:     infra.CategoryLimit{PerWindow: cfg.RateLimits.OrdersPerSec, Window: time.Second, MaxWait: time.Duration(cfg.RateLimits.MaxWaitMS) * time.Millisecond},
		LiveData:   infra.CategoryLimit{PerWindow: cfg.RateLimits.LiveDataPerSec, Window: time.Second, MaxWait: time.Duration(cfg.RateLimits.MaxWaitMS) * time.Millisecond},
		NonTrading: infra.CategoryLimit{PerWindow: cfg.RateLimits.NonTradingPerSec, Window: time.Second, MaxWait: time.Duration(cfg.RateLimits.MaxWaitMS) * time.Millisecond},
	}, nil)

	b.Pipeline = risk.NewPipeline(risk.LimitsFromConfig(cfg), b.Kill, state, b.Limiter, b.Gateway, paper, logger)

	b.Feed = feed.NewWSFeed(feed.Config{
		URL:        cfg.Feed.WSURL,
		Symbols:    cfg.Feed.Symbols,
		StaleAfter: time.Duration(cfg.Feed.StaleAfterS) * time.Second,
	}, nil, logger)
	b.Feed.OnTick(state.RecordNetworkSuccess)

	b.Monitor = gtt.NewMonitor(store, b.Feed, b.Pipeline, b.Limiter, gtt.MonitorConfig{
		Interval:      time.Duration(cfg.Monitor.CheckIntervalSec) * time.Second,
		PriceCacheTTL: time.Duration(cfg.Monitor.PriceCacheTTLSec) * time.Second,
	}, nil, logger)

	b.Service = trader.NewService(b.Pipeline, state, b.Kill, store, b.Monitor, b.Limiter, logger)

	slog.Info("✅ Trader initialized",
		slog.String("mode", cfg.Trading.Mode),
		slog.Bool("paper", paper))
	return nil
}

// Run starts the background loops and blocks until ctx is cancelled.
func (b *Bootstrap) Run(ctx context.Context) {
	if b.Config.Feed.WSURL != "" {
		go b.Feed.Start(ctx)
	} else {
		slog.Warn("no feed url configured, quotes will be unavailable")
	}

	go b.Monitor.Start(ctx)
	go b.watchdog(ctx)

	<-ctx.Done()
	slog.Info("shutting down")
	if err := b.Store.Close(); err != nil {
		slog.Error("failed to close store", slog.Any("error", err))
	}
}

// watchdog re-evaluates the automatic kill-switch conditions on a fixed
// cadence so a network outage trips the switch even when no order or
// monitor activity is generating snapshots.
func (b *Bootstrap) watchdog(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(b.Config.Monitor.CheckIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Kill.EvaluateAuto(b.State.Snapshot())
		}
	}
}
