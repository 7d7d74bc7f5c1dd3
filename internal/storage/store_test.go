package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
)

func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()
	t.Cleanup(func() {
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	})

	store, err := NewStore(dbPath, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSpec(symbol string) domain.GTTSpec {
	return domain.GTTSpec{
		Symbol:       symbol,
		Exchange:     "NSE",
		TriggerPrice: decimal.NewFromFloat(2400.00),
		Action:       domain.Buy,
		Quantity:     2,
		Kind:         domain.KindLimit,
		LimitPrice:   decimal.NewFromFloat(2405.00),
	}
}

func TestStore_CreateAndGetGTT(t *testing.T) {
	store := newTestStore(t, "test_gtt_create.db")
	ctx := context.Background()

	id, err := store.CreateGTT(ctx, testSpec("RELIANCE"))
	if err != nil {
		t.Fatalf("Failed to create gtt: %v", err)
	}

	rec, err := store.GetGTT(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get gtt: %v", err)
	}

	if rec.Symbol != "RELIANCE" {
		t.Errorf("Expected symbol RELIANCE, got %s", rec.Symbol)
	}
	if rec.Status != domain.GTTActive {
		t.Errorf("Expected status ACTIVE, got %s", rec.Status)
	}
	if !rec.TriggerPrice.Equal(decimal.NewFromFloat(2400.00)) {
		t.Errorf("Trigger price mismatch: %s", rec.TriggerPrice)
	}
	if !rec.LimitPrice.Equal(decimal.NewFromFloat(2405.00)) {
		t.Errorf("Limit price mismatch: %s", rec.LimitPrice)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func TestStore_GetGTT_NotFound(t *testing.T) {
	store := newTestStore(t, "test_gtt_notfound.db")

	_, err := store.GetGTT(context.Background(), 9999)
	if !errors.Is(err, domain.ErrGTTNotFound) {
		t.Errorf("Expected ErrGTTNotFound, got %v", err)
	}
}

func TestStore_CreateGTT_InvalidSpec(t *testing.T) {
	store := newTestStore(t, "test_gtt_invalid.db")

	spec := testSpec("RELIANCE")
	spec.Quantity = 0
	if _, err := store.CreateGTT(context.Background(), spec); err == nil {
		t.Error("Expected error for zero quantity")
	}
}

func TestStore_ListGTTs(t *testing.T) {
	store := newTestStore(t, "test_gtt_list.db")
	ctx := context.Background()

	for _, sym := range []string{"RELIANCE", "TCS", "RELIANCE"} {
		if _, err := store.CreateGTT(ctx, testSpec(sym)); err != nil {
			t.Fatalf("Failed to create gtt: %v", err)
		}
	}

	all, err := store.ListGTTs(ctx, GTTFilter{})
	if err != nil {
		t.Fatalf("Failed to list gtts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	// Creation order is stable even with equal timestamps.
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Errorf("List not ordered by id: %d after %d", all[i].ID, all[i-1].ID)
		}
	}

	rel, err := store.ListGTTs(ctx, GTTFilter{Symbol: "RELIANCE"})
	if err != nil {
		t.Fatalf("Failed to list by symbol: %v", err)
	}
	if len(rel) != 2 {
		t.Errorf("Expected 2 RELIANCE records, got %d", len(rel))
	}

	active, err := store.ListGTTs(ctx, GTTFilter{Status: domain.GTTActive, Limit: 1})
	if err != nil {
		t.Fatalf("Failed to list active: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected limit 1 to apply, got %d", len(active))
	}
}

func TestStore_CancelGTT(t *testing.T) {
	store := newTestStore(t, "test_gtt_cancel.db")
	ctx := context.Background()

	id, err := store.CreateGTT(ctx, testSpec("TCS"))
	if err != nil {
		t.Fatalf("Failed to create gtt: %v", err)
	}

	if err := store.CancelGTT(ctx, id); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	rec, err := store.GetGTT(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get gtt: %v", err)
	}
	if rec.Status != domain.GTTCancelled {
		t.Errorf("Expected CANCELLED, got %s", rec.Status)
	}
	if rec.CompletedAt.IsZero() {
		t.Error("Expected completed_at to be set on cancel")
	}

	// Second cancel hits a terminal record.
	err = store.CancelGTT(ctx, id)
	if !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Errorf("Expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestStore_TransitionGTT(t *testing.T) {
	store := newTestStore(t, "test_gtt_transition.db")
	ctx := context.Background()

	id, err := store.CreateGTT(ctx, testSpec("INFY"))
	if err != nil {
		t.Fatalf("Failed to create gtt: %v", err)
	}

	ltp := decimal.NewFromFloat(2395.50)
	err = store.TransitionGTT(ctx, id, domain.GTTActive, domain.GTTTriggered,
		TransitionFields{TriggerLTP: ltp})
	if err != nil {
		t.Fatalf("Failed to transition to TRIGGERED: %v", err)
	}

	err = store.TransitionGTT(ctx, id, domain.GTTTriggered, domain.GTTCompleted,
		TransitionFields{OrderID: "ORD123"})
	if err != nil {
		t.Fatalf("Failed to transition to COMPLETED: %v", err)
	}

	rec, err := store.GetGTT(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get gtt: %v", err)
	}
	if rec.Status != domain.GTTCompleted {
		t.Errorf("Expected COMPLETED, got %s", rec.Status)
	}
	if rec.OrderID != "ORD123" {
		t.Errorf("Expected order id ORD123, got %q", rec.OrderID)
	}
	if !rec.TriggerLTP.Equal(ltp) {
		t.Errorf("Trigger LTP mismatch: %s", rec.TriggerLTP)
	}
	if rec.TriggeredAt.IsZero() || rec.CompletedAt.IsZero() {
		t.Error("Expected triggered_at and completed_at to be set")
	}
}

func TestStore_TransitionGTT_StaleFrom(t *testing.T) {
	store := newTestStore(t, "test_gtt_stale.db")
	ctx := context.Background()

	id, err := store.CreateGTT(ctx, testSpec("INFY"))
	if err != nil {
		t.Fatalf("Failed to create gtt: %v", err)
	}
	if err := store.CancelGTT(ctx, id); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	// A monitor that read the record before the cancel loses the CAS.
	err = store.TransitionGTT(ctx, id, domain.GTTActive, domain.GTTTriggered, TransitionFields{})
	if !errors.Is(err, domain.ErrConflictingState) {
		t.Errorf("Expected ErrConflictingState, got %v", err)
	}

	err = store.TransitionGTT(ctx, 9999, domain.GTTActive, domain.GTTTriggered, TransitionFields{})
	if !errors.Is(err, domain.ErrGTTNotFound) {
		t.Errorf("Expected ErrGTTNotFound for unknown id, got %v", err)
	}
}

func TestStore_TransitionGTT_Race(t *testing.T) {
	store := newTestStore(t, "test_gtt_race.db")
	ctx := context.Background()

	id, err := store.CreateGTT(ctx, testSpec("HDFC"))
	if err != nil {
		t.Fatalf("Failed to create gtt: %v", err)
	}

	// Trigger and cancel race for the same ACTIVE record; exactly one wins.
	results := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = store.TransitionGTT(ctx, id, domain.GTTActive, domain.GTTTriggered, TransitionFields{})
	}()
	go func() {
		defer wg.Done()
		results[1] = store.TransitionGTT(ctx, id, domain.GTTActive, domain.GTTCancelled, TransitionFields{})
	}()
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, domain.ErrConflictingState) {
			t.Errorf("Loser should see ErrConflictingState, got %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", wins)
	}
}

func TestStore_DeleteGTT(t *testing.T) {
	store := newTestStore(t, "test_gtt_delete.db")
	ctx := context.Background()

	id, err := store.CreateGTT(ctx, testSpec("SBIN"))
	if err != nil {
		t.Fatalf("Failed to create gtt: %v", err)
	}

	if err := store.DeleteGTT(ctx, id); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := store.GetGTT(ctx, id); !errors.Is(err, domain.ErrGTTNotFound) {
		t.Errorf("Expected ErrGTTNotFound after delete, got %v", err)
	}
	if err := store.DeleteGTT(ctx, id); !errors.Is(err, domain.ErrGTTNotFound) {
		t.Errorf("Expected ErrGTTNotFound on second delete, got %v", err)
	}
}

func TestStore_Statistics(t *testing.T) {
	store := newTestStore(t, "test_gtt_stats.db")
	ctx := context.Background()

	ids := make([]int64, 3)
	for i := range ids {
		id, err := store.CreateGTT(ctx, testSpec("RELIANCE"))
		if err != nil {
			t.Fatalf("Failed to create gtt: %v", err)
		}
		ids[i] = id
	}
	if err := store.TransitionGTT(ctx, ids[0], domain.GTTActive, domain.GTTTriggered, TransitionFields{}); err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if err := store.CancelGTT(ctx, ids[1]); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	stats, err := store.Statistics(ctx)
	if err != nil {
		t.Fatalf("Failed to get statistics: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Expected total 3, got %d", stats.Total)
	}
	if stats.ByStatus[domain.GTTActive] != 1 {
		t.Errorf("Expected 1 active, got %d", stats.ByStatus[domain.GTTActive])
	}
	if stats.ByStatus[domain.GTTTriggered] != 1 {
		t.Errorf("Expected 1 triggered, got %d", stats.ByStatus[domain.GTTTriggered])
	}
	if stats.Created24h != 3 {
		t.Errorf("Expected 3 created in 24h, got %d", stats.Created24h)
	}
	if stats.Triggered24h != 1 {
		t.Errorf("Expected 1 triggered in 24h, got %d", stats.Triggered24h)
	}
}

func TestStore_DailyRiskRoundTrip(t *testing.T) {
	store := newTestStore(t, "test_risk_days.db")
	ctx := context.Background()

	_, found, err := store.LoadDailyRisk(ctx, "2024-06-03")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if found {
		t.Error("Expected no row for fresh day")
	}

	row := DailyRiskRow{
		TradingDay:        "2024-06-03",
		DailyPnL:          "-450.25",
		OrderCount:        4,
		ConsecutiveLosses: 2,
	}
	if err := store.SaveDailyRisk(ctx, row); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	// Upsert replaces the same day.
	row.OrderCount = 5
	row.DailyPnL = "-600.00"
	if err := store.SaveDailyRisk(ctx, row); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	got, found, err := store.LoadDailyRisk(ctx, "2024-06-03")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if !found {
		t.Fatal("Expected row to exist")
	}
	if got.OrderCount != 5 || got.DailyPnL != "-600.00" || got.ConsecutiveLosses != 2 {
		t.Errorf("Round-trip mismatch: %+v", got)
	}
}
