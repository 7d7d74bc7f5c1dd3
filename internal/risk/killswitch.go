package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
	"github.com/prixroxx/AutomatedTraderMCP/internal/infra"
)

// Activation reasons. The first condition to fire owns the activation; later
// conditions never overwrite it.
const (
	ReasonDailyLoss         = "daily_loss_exceeded"
	ReasonConsecutiveLosses = "consecutive_losses"
	ReasonAPIErrorRate      = "api_error_rate"
	ReasonNetworkOutage     = "network_outage"
	ReasonManual            = "manual"
)

// hardDailyLossLimit is the compiled-in catastrophic stop. The configurable
// soft loss cap rejects new orders; breaching this halts everything.
var hardDailyLossLimit = decimal.NewFromInt(5000)

// KillSwitchConfig holds the operator-tunable activation thresholds.
type KillSwitchConfig struct {
	ConsecutiveLossThreshold int
	APIErrorRateThreshold    float64
	NetworkTimeout           time.Duration
	Cooldown                 time.Duration
	ApprovalCode             string
}

// DefaultKillSwitchConfig mirrors the shipped defaults.
func DefaultKillSwitchConfig() KillSwitchConfig {
	return KillSwitchConfig{
		ConsecutiveLossThreshold: 5,
		APIErrorRateThreshold:    0.30,
		NetworkTimeout:           60 * time.Second,
		Cooldown:                 60 * time.Minute,
		ApprovalCode:             "RESUME_TRADING_2024",
	}
}

// KillSwitch is the global trading halt. Activation is cheap and immediate;
// deactivation demands both an elapsed cooldown and the approval token, so a
// panicked operator cannot flip trading straight back on.
type KillSwitch struct {
	mu sync.Mutex

	active      bool
	reason      string
	message     string
	activatedAt time.Time
	activations int

	cfg    KillSwitchConfig
	clock  domain.Clock
	logger *slog.Logger
}

// NewKillSwitch builds an inactive switch.
func NewKillSwitch(cfg KillSwitchConfig, clock domain.Clock, logger *slog.Logger) *KillSwitch {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KillSwitch{cfg: cfg, clock: clock, logger: logger}
}

// Activate halts trading. Idempotent: if already active, the original
// reason and timestamp stand and the call reports false.
func (k *KillSwitch) Activate(reason, message string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.activateLocked(reason, message)
}

func (k *KillSwitch) activateLocked(reason, message string) bool {
	if k.active {
		return false
	}
	k.active = true
	k.reason = reason
	k.message = message
	k.activatedAt = k.clock.Now()
	k.activations++
	infra.MetricKillSwitchState.Set(1)

	k.logger.Error("KILL SWITCH ACTIVATED",
		slog.String("reason", reason),
		slog.String("message", message))
	return true
}

// Deactivate resumes trading. Requires the cooldown to have fully elapsed
// and the exact approval token; both checks fail closed.
func (k *KillSwitch) Deactivate(approvalToken string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.active {
		return fmt.Errorf("kill switch is not active")
	}

	elapsed := k.clock.Now().Sub(k.activatedAt)
	if elapsed < k.cfg.Cooldown {
		return &domain.CooldownActiveError{Remaining: k.cfg.Cooldown - elapsed}
	}
	if approvalToken != k.cfg.ApprovalCode {
		return domain.ErrInvalidApproval
	}

	k.active = false
	k.reason = ""
	k.message = ""
	infra.MetricKillSwitchState.Set(0)

	k.logger.Warn("kill switch deactivated, trading resumed")
	return nil
}

// Guard returns the halt error while active, nil otherwise. This is the
// pipeline's first stage.
func (k *KillSwitch) Guard() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.active {
		return nil
	}
	return &domain.TradingHaltedError{
		Reason:      k.reason,
		Message:     k.message,
		ActivatedAt: k.activatedAt,
	}
}

// EvaluateAuto checks the automatic activation conditions against a risk
// snapshot and trips the switch on the first one that holds. Returns true
// if this call activated it.
func (k *KillSwitch) EvaluateAuto(snap Snapshot) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.active {
		return false
	}

	if snap.DailyPnL.LessThanOrEqual(hardDailyLossLimit.Neg()) {
		return k.activateLocked(ReasonDailyLoss,
			fmt.Sprintf("daily loss %s breached hard limit %s", snap.DailyPnL, hardDailyLossLimit))
	}
	if snap.ConsecutiveLosses >= k.cfg.ConsecutiveLossThreshold {
		return k.activateLocked(ReasonConsecutiveLosses,
			fmt.Sprintf("%d consecutive losing trades", snap.ConsecutiveLosses))
	}
	if snap.APIErrorRate > k.cfg.APIErrorRateThreshold {
		return k.activateLocked(ReasonAPIErrorRate,
			fmt.Sprintf("API error rate %.0f%% over last calls", snap.APIErrorRate*100))
	}
	if snap.SinceNetworkOK > k.cfg.NetworkTimeout {
		return k.activateLocked(ReasonNetworkOutage,
			fmt.Sprintf("no network success for %s", snap.SinceNetworkOK.Round(time.Second)))
	}
	return false
}

// Status is the externally visible kill-switch state.
type Status struct {
	Active            bool
	Reason            string
	Message           string
	ActivatedAt       time.Time
	CooldownRemaining time.Duration
	Activations       int
}

// Status reports the current state including remaining cooldown.
func (k *KillSwitch) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()

	st := Status{
		Active:      k.active,
		Reason:      k.reason,
		Message:     k.message,
		ActivatedAt: k.activatedAt,
		Activations: k.activations,
	}
	if k.active {
		if remaining := k.cfg.Cooldown - k.clock.Now().Sub(k.activatedAt); remaining > 0 {
			st.CooldownRemaining = remaining
		}
	}
	return st
}
