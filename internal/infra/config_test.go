package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_DefaultsAreValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config must validate: %v", err)
	}
	if cfg.Trading.Mode != "paper" {
		t.Errorf("Expected default mode paper, got %s", cfg.Trading.Mode)
	}
}

func TestConfig_LoadWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
trading:
  mode: paper
risk:
  max_position_size: 4000
rate_limits:
  orders_per_sec: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("TRADER_APPROVAL_CODE", "CUSTOM_CODE")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Risk.MaxPositionSize != 4000 {
		t.Errorf("Expected file value 4000, got %d", cfg.Risk.MaxPositionSize)
	}
	if cfg.RateLimits.OrdersPerSec != 5 {
		t.Errorf("Expected file value 5, got %d", cfg.RateLimits.OrdersPerSec)
	}
	// Untouched keys keep defaults.
	if cfg.Risk.MaxDailyLoss != 2000 {
		t.Errorf("Expected default 2000, got %d", cfg.Risk.MaxDailyLoss)
	}
	if cfg.KillSwitch.ApprovalCode != "CUSTOM_CODE" {
		t.Errorf("Expected env override, got %s", cfg.KillSwitch.ApprovalCode)
	}
}

func TestConfig_ValidatorRejectsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Risk.MaxDailyOrders = 20 // over the protocol ceiling
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation failure for max_daily_orders 20")
	}

	cfg = DefaultConfig()
	cfg.KillSwitch.APIErrorRateThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation failure for rate threshold > 1")
	}
}

func TestConfig_PaperModeLatch(t *testing.T) {
	// Without the explicit env opt-out, live mode cannot validate.
	cfg := DefaultConfig()
	cfg.Trading.Mode = "live"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected live mode to be blocked by default")
	}

	t.Setenv("FORCE_PAPER_MODE", "0")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected live mode to validate with latch released: %v", err)
	}

	// A garbled latch value fails safe.
	t.Setenv("FORCE_PAPER_MODE", "maybe")
	if err := cfg.Validate(); err == nil {
		t.Error("Expected unparseable latch to stay engaged")
	}
}

func TestConfig_EnvForcesPaper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("trading:\n  mode: live\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	// Latch engaged (default): the file's live mode is downgraded.
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Trading.Mode != "paper" {
		t.Errorf("Expected forced paper mode, got %s", cfg.Trading.Mode)
	}
}
