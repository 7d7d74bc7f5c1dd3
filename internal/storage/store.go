package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
)

// Store is the durable substrate for GTT records and daily risk snapshots.
// Single-process SQLite with WAL; the conditional status update in
// TransitionGTT is the concurrency linchpin for the whole GTT engine.
type Store struct {
	db    *sql.DB
	clock domain.Clock
}

// NewStore opens (or creates) the database at dbPath with WAL mode enabled.
func NewStore(dbPath string, clock domain.Clock) (*Store, error) {
	if clock == nil {
		clock = domain.SystemClock{}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS gtt_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			exchange TEXT NOT NULL,
			trigger_price TEXT NOT NULL,
			action TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			order_kind TEXT NOT NULL,
			limit_price TEXT,
			status TEXT NOT NULL DEFAULT 'ACTIVE'
				CHECK (status IN ('ACTIVE','TRIGGERED','COMPLETED','CANCELLED','FAILED')),
			created_at INTEGER NOT NULL,
			last_checked_at INTEGER,
			triggered_at INTEGER,
			completed_at INTEGER,
			order_id TEXT,
			error_message TEXT,
			trigger_ltp TEXT,
			notes TEXT
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create gtt_orders table: %w", err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_gtt_status ON gtt_orders(status);",
		"CREATE INDEX IF NOT EXISTS idx_gtt_symbol ON gtt_orders(symbol, exchange);",
		"CREATE INDEX IF NOT EXISTS idx_gtt_created ON gtt_orders(created_at);",
	} {
		if _, err := db.Exec(idx); err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}

	// One row per trading day; the risk state reloads today's row on start
	// so counters survive a restart.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS risk_days (
			trading_day TEXT PRIMARY KEY,
			daily_pnl TEXT NOT NULL,
			order_count INTEGER NOT NULL,
			consecutive_losses INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk_days table: %w", err)
	}

	return &Store{db: db, clock: clock}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DailyRiskRow is the persisted slice of RiskState for one trading day.
type DailyRiskRow struct {
	TradingDay        string
	DailyPnL          string
	OrderCount        int
	ConsecutiveLosses int
}

// SaveDailyRisk upserts the snapshot for a trading day.
func (s *Store) SaveDailyRisk(ctx context.Context, row DailyRiskRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_days (trading_day, daily_pnl, order_count, consecutive_losses, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trading_day) DO UPDATE SET
			daily_pnl=excluded.daily_pnl,
			order_count=excluded.order_count,
			consecutive_losses=excluded.consecutive_losses,
			updated_at=excluded.updated_at`,
		row.TradingDay, row.DailyPnL, row.OrderCount, row.ConsecutiveLosses,
		s.clock.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save daily risk: %w", err)
	}
	return nil
}

// LoadDailyRisk returns the snapshot for a trading day; found=false if the
// day has no row yet.
func (s *Store) LoadDailyRisk(ctx context.Context, tradingDay string) (DailyRiskRow, bool, error) {
	var row DailyRiskRow
	err := s.db.QueryRowContext(ctx, `
		SELECT trading_day, daily_pnl, order_count, consecutive_losses
		FROM risk_days WHERE trading_day = ?`, tradingDay,
	).Scan(&row.TradingDay, &row.DailyPnL, &row.OrderCount, &row.ConsecutiveLosses)
	if err == sql.ErrNoRows {
		return DailyRiskRow{}, false, nil
	}
	if err != nil {
		return DailyRiskRow{}, false, fmt.Errorf("failed to load daily risk: %w", err)
	}
	return row, true, nil
}
