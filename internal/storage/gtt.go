package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
)

// GTTFilter narrows ListGTTs. Zero values mean "no filter".
type GTTFilter struct {
	Status domain.GTTStatus
	Symbol string
	Limit  int
}

// TransitionFields are the columns a status transition may set alongside the
// status itself. Zero values are skipped.
type TransitionFields struct {
	OrderID      string
	ErrorMessage string
	TriggerLTP   decimal.Decimal
}

// CreateGTT inserts a new ACTIVE record and returns its assigned id.
func (s *Store) CreateGTT(ctx context.Context, spec domain.GTTSpec) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	var limitPrice any
	if spec.LimitPrice.Sign() > 0 {
		limitPrice = spec.LimitPrice.String()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO gtt_orders (symbol, exchange, trigger_price, action, quantity,
			order_kind, limit_price, status, created_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.Symbol, spec.Exchange, spec.TriggerPrice.String(), string(spec.Action),
		spec.Quantity, string(spec.Kind), limitPrice, string(domain.GTTActive),
		s.clock.Now().Unix(), nullableString(spec.Notes),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create gtt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read gtt id: %w", err)
	}
	return id, nil
}

// GetGTT returns one record by id, or domain.ErrGTTNotFound.
func (s *Store) GetGTT(ctx context.Context, id int64) (*domain.GTTRecord, error) {
	row := s.db.QueryRowContext(ctx, gttSelect+" WHERE id = ?", id)
	rec, err := scanGTT(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", domain.ErrGTTNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gtt %d: %w", id, err)
	}
	return rec, nil
}

// ListGTTs returns records matching the filter, stable-ordered by creation.
func (s *Store) ListGTTs(ctx context.Context, filter GTTFilter) ([]*domain.GTTRecord, error) {
	query := gttSelect
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gtts: %w", err)
	}
	defer rows.Close()

	var out []*domain.GTTRecord
	for rows.Next() {
		rec, err := scanGTT(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gtt: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// CancelGTT moves an ACTIVE record to CANCELLED. Terminal records return
// domain.ErrAlreadyTerminal; a record mid-trigger returns ErrConflictingState.
func (s *Store) CancelGTT(ctx context.Context, id int64) error {
	rec, err := s.GetGTT(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("%w: gtt %d is %s", domain.ErrAlreadyTerminal, id, rec.Status)
	}
	return s.TransitionGTT(ctx, id, domain.GTTActive, domain.GTTCancelled, TransitionFields{})
}

// TransitionGTT is the only mutator for GTT status. It is a compare-and-swap:
// the update applies only if the stored status still equals from, so a cancel
// racing a trigger (or two overlapping monitor cycles) resolves to exactly
// one winner. The loser gets domain.ErrConflictingState.
func (s *Store) TransitionGTT(ctx context.Context, id int64, from, to domain.GTTStatus, fields TransitionFields) error {
	now := s.clock.Now().Unix()

	sets := []string{"status = ?", "last_checked_at = ?"}
	args := []any{string(to), now}

	switch to {
	case domain.GTTTriggered:
		sets = append(sets, "triggered_at = ?")
		args = append(args, now)
	case domain.GTTCompleted, domain.GTTCancelled, domain.GTTFailed:
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}

	if fields.OrderID != "" {
		sets = append(sets, "order_id = ?")
		args = append(args, fields.OrderID)
	}
	if fields.ErrorMessage != "" {
		sets = append(sets, "error_message = ?")
		args = append(args, fields.ErrorMessage)
	}
	if fields.TriggerLTP.Sign() > 0 {
		sets = append(sets, "trigger_ltp = ?")
		args = append(args, fields.TriggerLTP.String())
	}

	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE gtt_orders SET %s WHERE id = ? AND status = ?", strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to transition gtt %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Either the id does not exist or the status moved under us.
		if _, getErr := s.GetGTT(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: gtt %d is no longer %s", domain.ErrConflictingState, id, from)
	}
	return nil
}

// TouchGTT stamps last_checked_at without changing status.
func (s *Store) TouchGTT(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE gtt_orders SET last_checked_at = ? WHERE id = ?",
		s.clock.Now().Unix(), id,
	)
	return err
}

// DeleteGTT permanently removes a record. Prefer CancelGTT for normal use.
func (s *Store) DeleteGTT(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM gtt_orders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete gtt %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: id %d", domain.ErrGTTNotFound, id)
	}
	return nil
}

// GTTStatistics summarizes the table for reporting.
type GTTStatistics struct {
	Total        int
	ByStatus     map[domain.GTTStatus]int
	Created24h   int
	Triggered24h int
}

// Statistics returns counts by status plus last-24h activity.
func (s *Store) Statistics(ctx context.Context) (GTTStatistics, error) {
	stats := GTTStatistics{ByStatus: make(map[domain.GTTStatus]int)}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM gtt_orders GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("failed to count gtts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan counts: %w", err)
		}
		stats.ByStatus[domain.GTTStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("rows iteration error: %w", err)
	}

	dayAgo := s.clock.Now().Add(-24 * time.Hour).Unix()
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM gtt_orders WHERE created_at >= ?", dayAgo,
	).Scan(&stats.Created24h); err != nil {
		return stats, fmt.Errorf("failed to count recent creates: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM gtt_orders WHERE triggered_at IS NOT NULL AND triggered_at >= ?", dayAgo,
	).Scan(&stats.Triggered24h); err != nil {
		return stats, fmt.Errorf("failed to count recent triggers: %w", err)
	}

	return stats, nil
}

const gttSelect = `SELECT id, symbol, exchange, trigger_price, action, quantity,
	order_kind, limit_price, status, created_at, last_checked_at, triggered_at,
	completed_at, order_id, error_message, trigger_ltp, notes FROM gtt_orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGTT(row rowScanner) (*domain.GTTRecord, error) {
	var (
		rec          domain.GTTRecord
		action, kind string
		status       string
		triggerPrice string
		limitPrice   sql.NullString
		createdAt    int64
		lastChecked  sql.NullInt64
		triggeredAt  sql.NullInt64
		completedAt  sql.NullInt64
		orderID      sql.NullString
		errorMessage sql.NullString
		triggerLTP   sql.NullString
		notes        sql.NullString
	)

	err := row.Scan(&rec.ID, &rec.Symbol, &rec.Exchange, &triggerPrice, &action,
		&rec.Quantity, &kind, &limitPrice, &status, &createdAt, &lastChecked,
		&triggeredAt, &completedAt, &orderID, &errorMessage, &triggerLTP, &notes)
	if err != nil {
		return nil, err
	}

	rec.Action = domain.TransactionType(action)
	rec.Kind = domain.OrderKind(kind)
	rec.Status = domain.GTTStatus(status)
	rec.CreatedAt = time.Unix(createdAt, 0)

	if rec.TriggerPrice, err = decimal.NewFromString(triggerPrice); err != nil {
		return nil, fmt.Errorf("bad trigger_price %q: %w", triggerPrice, err)
	}
	if limitPrice.Valid {
		if rec.LimitPrice, err = decimal.NewFromString(limitPrice.String); err != nil {
			return nil, fmt.Errorf("bad limit_price %q: %w", limitPrice.String, err)
		}
	}
	if triggerLTP.Valid {
		if rec.TriggerLTP, err = decimal.NewFromString(triggerLTP.String); err != nil {
			return nil, fmt.Errorf("bad trigger_ltp %q: %w", triggerLTP.String, err)
		}
	}

	if lastChecked.Valid {
		rec.LastChecked = time.Unix(lastChecked.Int64, 0)
	}
	if triggeredAt.Valid {
		rec.TriggeredAt = time.Unix(triggeredAt.Int64, 0)
	}
	if completedAt.Valid {
		rec.CompletedAt = time.Unix(completedAt.Int64, 0)
	}
	rec.OrderID = orderID.String
	rec.ErrorMessage = errorMessage.String
	rec.Notes = notes.String

	return &rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
