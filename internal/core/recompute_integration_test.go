package core_test

import (
	"context"
	"errors"
	"testing"

	"stockbook/internal/core"
)

func seedRecomputeHistory(t *testing.T, ctx context.Context, posting core.PostingService) {
	t.Helper()
	postBuy(t, ctx, posting, "2024-03-01", 1, "100", "2.00")
	postSell(t, ctx, posting, "2024-03-02", 1, "30", "3.00")
	postBuy(t, ctx, posting, "2024-03-03", 1, "50", "5.00")
	postBuy(t, ctx, posting, "2024-03-01", 2, "40", "1.50")
	deleted := postSell(t, ctx, posting, "2024-03-02", 2, "10", "2.00")
	if err := posting.DeleteInvoice(ctx, deleted.ID); err != nil {
		t.Fatalf("DeleteInvoice failed: %v", err)
	}
}

func TestRecompute_RebuildMatchesLiveState(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	recompute := core.NewRecomputeService(pool, true)

	seedRecomputeHistory(t, ctx, posting)

	res, err := recompute.Recompute(ctx, core.RecomputeScope{})
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	// The deleted invoice is not replayed.
	if res.InvoicesReplayed != 4 {
		t.Errorf("replayed %d invoices, want 4", res.InvoicesReplayed)
	}

	qty, avg := getPosition(t, ctx, pool, 1)
	if !qty.Equal(dec("120")) || !avg.Equal(dec("3.25")) {
		t.Errorf("product 1 after rebuild: got {%s, %s}, want {120, 3.25}", qty, avg)
	}
	qty, avg = getPosition(t, ctx, pool, 2)
	if !qty.Equal(dec("40")) || !avg.Equal(dec("1.5")) {
		t.Errorf("product 2 after rebuild: got {%s, %s}, want {40, 1.50}", qty, avg)
	}

	if err := recompute.VerifyChain(ctx); err != nil {
		t.Errorf("rebuilt ledger fails chain check: %v", err)
	}
}

func TestRecompute_IsIdempotent(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	recompute := core.NewRecomputeService(pool, true)
	snapshots := core.NewSnapshotService(pool)

	seedRecomputeHistory(t, ctx, posting)

	first, err := recompute.Recompute(ctx, core.RecomputeScope{})
	if err != nil {
		t.Fatalf("first Recompute failed: %v", err)
	}
	q1a, a1a := getPosition(t, ctx, pool, 1)
	snapsA, err := snapshots.GetSnapshots(ctx, "2024-03-01", "2024-03-03")
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}

	second, err := recompute.Recompute(ctx, core.RecomputeScope{})
	if err != nil {
		t.Fatalf("second Recompute failed: %v", err)
	}
	q1b, a1b := getPosition(t, ctx, pool, 1)
	snapsB, err := snapshots.GetSnapshots(ctx, "2024-03-01", "2024-03-03")
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}

	if first.MovementsWritten != second.MovementsWritten {
		t.Errorf("movement counts differ between runs: %d vs %d", first.MovementsWritten, second.MovementsWritten)
	}
	if !q1a.Equal(q1b) || !a1a.Equal(a1b) {
		t.Errorf("positions differ between runs: {%s, %s} vs {%s, %s}", q1a, a1a, q1b, a1b)
	}
	if len(snapsA) != len(snapsB) {
		t.Fatalf("snapshot counts differ between runs: %d vs %d", len(snapsA), len(snapsB))
	}
	for i := range snapsA {
		a, b := snapsA[i], snapsB[i]
		if a.ProductID != b.ProductID || !a.Date.Equal(b.Date) ||
			!a.AvailableQty.Equal(b.AvailableQty) || !a.AvgCost.Equal(b.AvgCost) {
			t.Errorf("snapshot %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
}

func TestRecompute_HealsCorruptedPosition(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	recompute := core.NewRecomputeService(pool, true)

	seedRecomputeHistory(t, ctx, posting)

	// Simulate drift: somebody hand-edited the stored position.
	if _, err := pool.Exec(ctx,
		"UPDATE product_positions SET available_qty = 999, avg_cost = 0.01 WHERE product_id = 1",
	); err != nil {
		t.Fatalf("failed to corrupt position: %v", err)
	}

	if _, err := recompute.Recompute(ctx, core.RecomputeScope{ProductIDs: []int{1}}); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	qty, avg := getPosition(t, ctx, pool, 1)
	if !qty.Equal(dec("120")) || !avg.Equal(dec("3.25")) {
		t.Errorf("healed position: got {%s, %s}, want {120, 3.25}", qty, avg)
	}
}

func TestRecompute_VerifyChainDetectsCorruption(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	recompute := core.NewRecomputeService(pool, true)

	seedRecomputeHistory(t, ctx, posting)
	if err := recompute.VerifyChain(ctx); err != nil {
		t.Fatalf("healthy ledger fails chain check: %v", err)
	}

	// Break one link: the newest movement no longer starts where its
	// predecessor ended.
	if _, err := pool.Exec(ctx, `
		UPDATE stock_movements
		SET quantity_before = quantity_before + 5
		WHERE id = (SELECT MAX(id) FROM stock_movements WHERE product_id = 1)
	`); err != nil {
		t.Fatalf("failed to corrupt movement: %v", err)
	}

	err := recompute.VerifyChain(ctx)
	if !errors.Is(err, core.ErrLedgerChainBroken) {
		t.Fatalf("expected ErrLedgerChainBroken, got %v", err)
	}
}

func TestRecompute_ScopedRebuildLeavesOtherProductsAlone(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	recompute := core.NewRecomputeService(pool, true)

	seedRecomputeHistory(t, ctx, posting)

	var movementsBefore int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM stock_movements WHERE product_id = 2").Scan(&movementsBefore); err != nil {
		t.Fatalf("count failed: %v", err)
	}

	if _, err := recompute.Recompute(ctx, core.RecomputeScope{ProductIDs: []int{1}}); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	var movementsAfter int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM stock_movements WHERE product_id = 2").Scan(&movementsAfter); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if movementsBefore != movementsAfter {
		t.Errorf("out-of-scope movements changed: %d before, %d after", movementsBefore, movementsAfter)
	}

	// In-scope movements collapse to the replayed set: reversal pairs from
	// the live history disappear.
	var reversals int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM stock_movements WHERE product_id = 1 AND is_reversal",
	).Scan(&reversals); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if reversals != 0 {
		t.Errorf("rebuilt product 1 still has %d reversal rows", reversals)
	}

	// Snapshot writes stay inside the scope too.
	var snapshots int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM daily_stock_snapshots WHERE product_id <> 1",
	).Scan(&snapshots); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if snapshots != 0 {
		t.Errorf("scoped rebuild wrote %d snapshot rows for out-of-scope products", snapshots)
	}
}

func TestRecompute_PreservesPayments(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	payments := core.NewPaymentService(pool)
	recompute := core.NewRecomputeService(pool, true)

	postBuy(t, ctx, posting, "2024-03-01", 1, "10", "5.00")
	inv := postSell(t, ctx, posting, "2024-03-02", 1, "5", "20.00")
	if _, err := payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("45"),
		CurrencyCode: "EUR",
		PaymentDate:  "2024-03-10",
	}); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	if _, err := recompute.Recompute(ctx, core.RecomputeScope{}); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	sum, err := payments.GetInvoicePaymentSummary(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoicePaymentSummary failed: %v", err)
	}
	if sum.PaymentStatus != core.PaymentStatusPartial {
		t.Errorf("payment status after rebuild: got %s, want partial", sum.PaymentStatus)
	}
	if !sum.AmountPaid.Equal(dec("50")) {
		t.Errorf("amount paid after rebuild: got %s, want 50.00", sum.AmountPaid)
	}
}
