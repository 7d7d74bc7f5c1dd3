package risk

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
)

// fakeClock is a settable clock for cooldown and rollover tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testKillSwitch(clock domain.Clock) *KillSwitch {
	return NewKillSwitch(DefaultKillSwitchConfig(), clock, nil)
}

func TestKillSwitch_ManualActivate(t *testing.T) {
	ks := testKillSwitch(nil)

	if err := ks.Guard(); err != nil {
		t.Fatalf("Expected inactive switch to pass, got %v", err)
	}

	if !ks.Activate(ReasonManual, "operator halt") {
		t.Fatal("Expected activation to succeed")
	}

	err := ks.Guard()
	var halted *domain.TradingHaltedError
	if !errors.As(err, &halted) {
		t.Fatalf("Expected TradingHaltedError, got %v", err)
	}
	if halted.Reason != ReasonManual {
		t.Errorf("Expected reason %s, got %s", ReasonManual, halted.Reason)
	}

	// Second activation must not overwrite the first reason.
	if ks.Activate(ReasonDailyLoss, "later condition") {
		t.Error("Expected second activation to report false")
	}
	if st := ks.Status(); st.Reason != ReasonManual {
		t.Errorf("Expected original reason to stand, got %s", st.Reason)
	}
}

func TestKillSwitch_DeactivateCooldown(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	ks := testKillSwitch(clock)
	ks.Activate(ReasonManual, "halt")

	// Correct token but cooldown not elapsed: always fails.
	err := ks.Deactivate("RESUME_TRADING_2024")
	var cooldown *domain.CooldownActiveError
	if !errors.As(err, &cooldown) {
		t.Fatalf("Expected CooldownActiveError, got %v", err)
	}

	clock.Advance(59 * time.Minute)
	if err := ks.Deactivate("RESUME_TRADING_2024"); !errors.As(err, &cooldown) {
		t.Fatalf("Expected CooldownActiveError at 59m, got %v", err)
	}

	clock.Advance(2 * time.Minute)
	if err := ks.Deactivate("WRONG_TOKEN"); !errors.Is(err, domain.ErrInvalidApproval) {
		t.Fatalf("Expected ErrInvalidApproval, got %v", err)
	}
	if err := ks.Deactivate("RESUME_TRADING_2024"); err != nil {
		t.Fatalf("Expected deactivation to succeed, got %v", err)
	}
	if err := ks.Guard(); err != nil {
		t.Errorf("Expected switch inactive after deactivation, got %v", err)
	}
	if st := ks.Status(); st.Activations != 1 {
		t.Errorf("Expected 1 activation recorded, got %d", st.Activations)
	}
}

func TestKillSwitch_DeactivateInactive(t *testing.T) {
	ks := testKillSwitch(nil)
	if err := ks.Deactivate("RESUME_TRADING_2024"); err == nil {
		t.Error("Expected error deactivating an inactive switch")
	}
}

func TestKillSwitch_AutoDailyLoss(t *testing.T) {
	ks := testKillSwitch(nil)

	snap := Snapshot{DailyPnL: decimal.NewFromInt(-4999)}
	if ks.EvaluateAuto(snap) {
		t.Fatal("Expected -4999 to stay below the hard limit")
	}

	snap.DailyPnL = decimal.NewFromInt(-5000)
	if !ks.EvaluateAuto(snap) {
		t.Fatal("Expected -5000 to trip the switch")
	}
	if st := ks.Status(); st.Reason != ReasonDailyLoss {
		t.Errorf("Expected reason %s, got %s", ReasonDailyLoss, st.Reason)
	}
}

func TestKillSwitch_AutoConsecutiveLosses(t *testing.T) {
	ks := testKillSwitch(nil)

	if ks.EvaluateAuto(Snapshot{ConsecutiveLosses: 4}) {
		t.Fatal("Expected 4 losses to pass")
	}
	if !ks.EvaluateAuto(Snapshot{ConsecutiveLosses: 5}) {
		t.Fatal("Expected 5 losses to trip the switch")
	}
	if st := ks.Status(); st.Reason != ReasonConsecutiveLosses {
		t.Errorf("Expected reason %s, got %s", ReasonConsecutiveLosses, st.Reason)
	}
}

func TestKillSwitch_AutoAPIErrorRate(t *testing.T) {
	ks := testKillSwitch(nil)

	if ks.EvaluateAuto(Snapshot{APIErrorRate: 0.30}) {
		t.Fatal("Expected rate at exactly the threshold to pass")
	}
	if !ks.EvaluateAuto(Snapshot{APIErrorRate: 0.31}) {
		t.Fatal("Expected rate above threshold to trip the switch")
	}
	if st := ks.Status(); st.Reason != ReasonAPIErrorRate {
		t.Errorf("Expected reason %s, got %s", ReasonAPIErrorRate, st.Reason)
	}
}

func TestKillSwitch_AutoNetworkOutage(t *testing.T) {
	ks := testKillSwitch(nil)

	if ks.EvaluateAuto(Snapshot{SinceNetworkOK: 60 * time.Second}) {
		t.Fatal("Expected 60s silence to pass")
	}
	if !ks.EvaluateAuto(Snapshot{SinceNetworkOK: 61 * time.Second}) {
		t.Fatal("Expected >60s silence to trip the switch")
	}
	if st := ks.Status(); st.Reason != ReasonNetworkOutage {
		t.Errorf("Expected reason %s, got %s", ReasonNetworkOutage, st.Reason)
	}
}

func TestKillSwitch_AutoFirstConditionWins(t *testing.T) {
	ks := testKillSwitch(nil)

	snap := Snapshot{
		DailyPnL:          decimal.NewFromInt(-6000),
		ConsecutiveLosses: 7,
		APIErrorRate:      0.9,
	}
	if !ks.EvaluateAuto(snap) {
		t.Fatal("Expected activation")
	}
	if st := ks.Status(); st.Reason != ReasonDailyLoss {
		t.Errorf("Expected daily loss to win, got %s", st.Reason)
	}

	// Re-evaluating while active changes nothing.
	if ks.EvaluateAuto(snap) {
		t.Error("Expected no re-activation while active")
	}
}
