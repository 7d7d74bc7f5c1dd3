package infra

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds every operator-adjustable setting. Hard safety limits are
// deliberately NOT here: they are compiled into the risk package and cannot
// be relaxed by configuration.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode            string `yaml:"mode" validate:"oneof=paper live"`
		DefaultExchange string `yaml:"default_exchange"`
		DefaultProduct  string `yaml:"default_product"`
		DefaultSegment  string `yaml:"default_segment"`
	} `yaml:"trading"`

	// Rupee amounts are whole-rupee integers, converted to decimal at the
	// risk-package boundary.
	Risk struct {
		MaxPortfolioValue int64 `yaml:"max_portfolio_value" validate:"gt=0"`
		MaxPositionSize   int64 `yaml:"max_position_size" validate:"gt=0"`
		MaxDailyLoss      int64 `yaml:"max_daily_loss" validate:"gt=0"`
		MaxOpenPositions  int   `yaml:"max_open_positions" validate:"gt=0"`
		MaxDailyOrders    int   `yaml:"max_daily_orders" validate:"gt=0,lte=15"`
	} `yaml:"risk"`

	RateLimits struct {
		OrdersPerSec     int `yaml:"orders_per_sec" validate:"gt=0,lte=15"`
		LiveDataPerSec   int `yaml:"live_data_per_sec" validate:"gt=0,lte=10"`
		NonTradingPerSec int `yaml:"non_trading_per_sec" validate:"gt=0,lte=20"`
		MaxWaitMS        int `yaml:"max_wait_ms" validate:"gte=0"`
	} `yaml:"rate_limits"`

	KillSwitch struct {
		ConsecutiveLossThreshold int     `yaml:"consecutive_loss_threshold" validate:"gt=0"`
		APIErrorRateThreshold    float64 `yaml:"api_error_rate_threshold" validate:"gt=0,lte=1"`
		NetworkTimeoutSec        int     `yaml:"network_timeout_sec" validate:"gt=0"`
		CooldownMinutes          int     `yaml:"cooldown_minutes" validate:"gt=0"`
		ApprovalCode             string  `yaml:"approval_code" validate:"required"`
	} `yaml:"kill_switch"`

	Monitor struct {
		CheckIntervalSec int `yaml:"check_interval_sec" validate:"gt=0"`
		PriceCacheTTLSec int `yaml:"price_cache_ttl_sec" validate:"gte=0"`
	} `yaml:"monitor"`

	Feed struct {
		WSURL       string   `yaml:"ws_url"`
		Symbols     []string `yaml:"symbols"`
		StaleAfterS int      `yaml:"stale_after_sec"`
	} `yaml:"feed"`

	Storage struct {
		Path string `yaml:"path" validate:"required"`
	} `yaml:"storage"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns the shipped defaults: paper mode, conservative rate
// limits below the protocol ceilings, and the documented risk caps.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.App.Name = "trader"
	cfg.App.Version = "dev"

	cfg.Trading.Mode = "paper"
	cfg.Trading.DefaultExchange = "NSE"
	cfg.Trading.DefaultProduct = "CNC"
	cfg.Trading.DefaultSegment = "CASH"

	cfg.Risk.MaxPortfolioValue = 50000
	cfg.Risk.MaxPositionSize = 5000
	cfg.Risk.MaxDailyLoss = 2000
	cfg.Risk.MaxOpenPositions = 3
	cfg.Risk.MaxDailyOrders = 15

	cfg.RateLimits.OrdersPerSec = 10
	cfg.RateLimits.LiveDataPerSec = 8
	cfg.RateLimits.NonTradingPerSec = 15
	cfg.RateLimits.MaxWaitMS = 2000

	cfg.KillSwitch.ConsecutiveLossThreshold = 5
	cfg.KillSwitch.APIErrorRateThreshold = 0.30
	cfg.KillSwitch.NetworkTimeoutSec = 60
	cfg.KillSwitch.CooldownMinutes = 60
	cfg.KillSwitch.ApprovalCode = "RESUME_TRADING_2024"

	cfg.Monitor.CheckIntervalSec = 30
	cfg.Monitor.PriceCacheTTLSec = 10

	cfg.Feed.StaleAfterS = 30

	cfg.Storage.Path = "data/trader.db"
	cfg.Metrics.ListenAddr = "localhost:9464"
	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig reads a YAML file over the defaults, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity via struct tags plus the safety
// latch on live mode.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// FORCE_PAPER_MODE defaults on: live trading requires explicitly setting
	// it to 0 in the environment after testing and approval.
	if c.Trading.Mode == "live" && forcePaperMode() {
		return fmt.Errorf("FORCE_PAPER_MODE prevents live trading; set FORCE_PAPER_MODE=0 to enable live mode")
	}

	return nil
}

// overrideWithEnv lets sensitive or deployment-specific values come from the
// environment instead of the config file.
func overrideWithEnv(cfg *Config) {
	if code := os.Getenv("TRADER_APPROVAL_CODE"); code != "" {
		cfg.KillSwitch.ApprovalCode = code
	}
	if path := os.Getenv("TRADER_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if url := os.Getenv("TRADER_FEED_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if level := os.Getenv("TRADER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if forcePaperMode() {
		cfg.Trading.Mode = "paper"
	}
}

func forcePaperMode() bool {
	v := os.Getenv("FORCE_PAPER_MODE")
	if v == "" {
		return true // safe default
	}
	force, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return force
}
