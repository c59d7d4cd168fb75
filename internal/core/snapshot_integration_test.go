package core_test

import (
	"testing"
	"time"

	"stockbook/internal/core"

	"github.com/shopspring/decimal"
)

// snapshotFor pulls one product's snapshot row for a date, failing the test
// when it is absent.
func snapshotFor(t *testing.T, snaps []core.DailySnapshot, productID int, date string) core.DailySnapshot {
	t.Helper()
	for _, s := range snaps {
		if s.ProductID == productID && s.Date.Format("2006-01-02") == date {
			return s
		}
	}
	t.Fatalf("no snapshot for product %d on %s in %+v", productID, date, snaps)
	return core.DailySnapshot{}
}

func TestSnapshots_RunDailyUpsertsCurrentDay(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	snapshots := core.NewSnapshotService(pool)

	today := time.Now().Format("2006-01-02")
	postBuy(t, ctx, posting, today, 1, "100", "2.00")
	if err := snapshots.RunDaily(ctx, today); err != nil {
		t.Fatalf("RunDaily failed: %v", err)
	}

	// More postings land the same day; re-running must update in place.
	postSell(t, ctx, posting, today, 1, "30", "3.00")
	if err := snapshots.RunDaily(ctx, today); err != nil {
		t.Fatalf("RunDaily re-run failed: %v", err)
	}

	snaps, err := snapshots.GetSnapshots(ctx, today, today)
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshot rows, want 1 (upsert, not append)", len(snaps))
	}
	s := snapshotFor(t, snaps, 1, today)
	if !s.AvailableQty.Equal(dec("70")) || !s.AvgCost.Equal(dec("2")) {
		t.Errorf("snapshot: got {%s, %s}, want {70, 2.00}", s.AvailableQty, s.AvgCost)
	}
}

func TestSnapshots_RunDailyHealsMissedDates(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	snapshots := core.NewSnapshotService(pool)

	today := time.Now().Format("2006-01-02")
	twoDaysAgo := time.Now().AddDate(0, 0, -2).Format("2006-01-02")
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	// The scheduler was down for two days of activity; its next run must
	// fill the gap from the ledger, not just write today.
	postBuy(t, ctx, posting, twoDaysAgo, 1, "100", "2.00")
	postSell(t, ctx, posting, yesterday, 1, "30", "3.00")
	postBuy(t, ctx, posting, today, 1, "50", "5.00")

	if err := snapshots.RunDaily(ctx, today); err != nil {
		t.Fatalf("RunDaily failed: %v", err)
	}

	snaps, err := snapshots.GetSnapshots(ctx, twoDaysAgo, today)
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	want := []struct {
		date string
		qty  decimal.Decimal
		avg  decimal.Decimal
	}{
		{twoDaysAgo, dec("100"), dec("2")},
		{yesterday, dec("70"), dec("2")},
		{today, dec("120"), dec("3.25")},
	}
	for _, w := range want {
		s := snapshotFor(t, snaps, 1, w.date)
		if !s.AvailableQty.Equal(w.qty) || !s.AvgCost.Equal(w.avg) {
			t.Errorf("%s: got {%s, %s}, want {%s, %s}", w.date, s.AvailableQty, s.AvgCost, w.qty, w.avg)
		}
	}
}

func TestSnapshots_RunDailyDoesNotRewriteClosedDates(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	snapshots := core.NewSnapshotService(pool)

	postBuy(t, ctx, posting, "2024-03-01", 1, "100", "2.00")
	if _, err := snapshots.Backfill(ctx, "2024-03-01", "2024-03-01"); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	// The position has since moved on; pointing RunDaily at the closed date
	// must not stamp the current position onto it.
	postBuy(t, ctx, posting, "2024-03-05", 1, "50", "5.00")
	if err := snapshots.RunDaily(ctx, "2024-03-01"); err != nil {
		t.Fatalf("RunDaily on closed date failed: %v", err)
	}

	snaps, err := snapshots.GetSnapshots(ctx, "2024-03-01", "2024-03-01")
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	s := snapshotFor(t, snaps, 1, "2024-03-01")
	if !s.AvailableQty.Equal(dec("100")) || !s.AvgCost.Equal(dec("2")) {
		t.Errorf("closed snapshot was rewritten: got {%s, %s}, want {100, 2.00}", s.AvailableQty, s.AvgCost)
	}
}

func TestSnapshots_BackfillReplaysLedgerNotCurrentPosition(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	snapshots := core.NewSnapshotService(pool)

	// Three days of activity; the position today is {120, 3.25}, but each
	// backfilled date must show that date's state, not today's.
	postBuy(t, ctx, posting, "2024-03-01", 1, "100", "2.00")
	postSell(t, ctx, posting, "2024-03-02", 1, "30", "3.00")
	postBuy(t, ctx, posting, "2024-03-03", 1, "50", "5.00")

	report, err := snapshots.Backfill(ctx, "2024-03-01", "2024-03-03")
	if err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("Backfill reported failures: %v", err)
	}
	if len(report.DatesProcessed) != 3 {
		t.Errorf("processed %d dates, want 3", len(report.DatesProcessed))
	}

	snaps, err := snapshots.GetSnapshots(ctx, "2024-03-01", "2024-03-03")
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}

	want := []struct {
		date string
		qty  decimal.Decimal
		avg  decimal.Decimal
	}{
		{"2024-03-01", dec("100"), dec("2")},
		{"2024-03-02", dec("70"), dec("2")},
		{"2024-03-03", dec("120"), dec("3.25")},
	}
	for _, w := range want {
		s := snapshotFor(t, snaps, 1, w.date)
		if !s.AvailableQty.Equal(w.qty) || !s.AvgCost.Equal(w.avg) {
			t.Errorf("%s: got {%s, %s}, want {%s, %s}", w.date, s.AvailableQty, s.AvgCost, w.qty, w.avg)
		}
	}
}

func TestSnapshots_ClosedDatesAreWriteOnce(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	snapshots := core.NewSnapshotService(pool)

	postBuy(t, ctx, posting, "2024-03-01", 1, "100", "2.00")
	if _, err := snapshots.Backfill(ctx, "2024-03-01", "2024-03-01"); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	// A late posting dated the same day changes the replayed state, but the
	// already-closed snapshot row stays as written.
	postBuy(t, ctx, posting, "2024-03-01", 1, "10", "4.00")
	if _, err := snapshots.Backfill(ctx, "2024-03-01", "2024-03-01"); err != nil {
		t.Fatalf("second Backfill failed: %v", err)
	}

	snaps, err := snapshots.GetSnapshots(ctx, "2024-03-01", "2024-03-01")
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	s := snapshotFor(t, snaps, 1, "2024-03-01")
	if !s.AvailableQty.Equal(dec("100")) {
		t.Errorf("closed snapshot was rewritten: got qty=%s, want 100", s.AvailableQty)
	}
}

func TestSnapshots_BackfillSkipsQuietProducts(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	snapshots := core.NewSnapshotService(pool)

	// Only product 1 ever moves; products 2 and 3 must get no rows.
	postBuy(t, ctx, posting, "2024-03-01", 1, "10", "2.00")
	if _, err := snapshots.Backfill(ctx, "2024-03-01", "2024-03-02"); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	var count int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM daily_stock_snapshots WHERE product_id <> 1",
	).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d snapshot rows for products without movements, want 0", count)
	}
}
