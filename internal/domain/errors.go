package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the trading core.
var (
	// ErrQuoteUnavailable means no usable price exists for a symbol right now.
	// Monitor cycles treat it as a per-record skip, never as fatal.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrRateLimited is returned when a rate-limit permit could not be
	// acquired within the caller's wait budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrGTTNotFound is returned for lookups of unknown GTT ids.
	ErrGTTNotFound = errors.New("gtt not found")

	// ErrAlreadyTerminal is returned when cancelling a GTT that already
	// reached COMPLETED, CANCELLED or FAILED.
	ErrAlreadyTerminal = errors.New("gtt already in terminal state")

	// ErrConflictingState is returned when a conditional status transition
	// lost the race (e.g. a cancel landed between trigger check and update).
	ErrConflictingState = errors.New("conflicting gtt state")

	// ErrInvalidApproval is returned when kill-switch deactivation carries
	// the wrong approval token.
	ErrInvalidApproval = errors.New("invalid approval token")
)

// TradingHaltedError is returned by the validation pipeline while the kill
// switch is active. It carries the activation context so callers can report
// why trading is halted.
type TradingHaltedError struct {
	Reason      string
	Message     string
	ActivatedAt time.Time
}

func (e *TradingHaltedError) Error() string {
	return fmt.Sprintf("trading halted by kill switch: %s", e.Reason)
}

// HardLimitError is a rejection by a compiled-in, non-overridable limit.
type HardLimitError struct {
	Limit  string
	Detail string
}

func (e *HardLimitError) Error() string {
	return fmt.Sprintf("hard limit %s exceeded: %s", e.Limit, e.Detail)
}

// ConfigLimitError is a rejection by an operator-configured limit.
type ConfigLimitError struct {
	Limit  string
	Detail string
}

func (e *ConfigLimitError) Error() string {
	return fmt.Sprintf("configured limit %s exceeded: %s", e.Limit, e.Detail)
}

// DailyLimitError is a rejection by today's order-count or realized-loss cap.
type DailyLimitError struct {
	Limit  string
	Detail string
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily limit %s reached: %s", e.Limit, e.Detail)
}

// RiskRejectedError is the holistic risk-manager rejection (stage 5).
type RiskRejectedError struct {
	Reason string
}

func (e *RiskRejectedError) Error() string {
	return fmt.Sprintf("rejected by risk manager: %s", e.Reason)
}

// BrokerError wraps a failure reported by the brokerage collaborator.
// It is surfaced as-is and never retried by the pipeline.
type BrokerError struct {
	Code    string
	Message string
}

func (e *BrokerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("broker error: %s", e.Message)
	}
	return fmt.Sprintf("broker error %s: %s", e.Code, e.Message)
}

// CooldownActiveError is returned when kill-switch deactivation is attempted
// before the mandatory cooldown has elapsed.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("kill switch cooldown active: %.1f minutes remaining", e.Remaining.Minutes())
}

// InvalidOrderError reports a structurally invalid order request, detected
// before any pipeline stage runs.
type InvalidOrderError struct {
	Field  string
	Detail string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order: %s (%s)", e.Detail, e.Field)
}
