package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RecomputeScope bounds a rebuild. Empty ProductIDs means every product.
type RecomputeScope struct {
	ProductIDs []int
}

// RecomputeResult summarizes one rebuild run.
type RecomputeResult struct {
	InvoicesReplayed   int
	MovementsWritten   int
	SnapshotsWritten   int
	ProductsRecomputed int
}

// RecomputeService heals drift by discarding all derived stock state in a
// scope and replaying the authoritative invoice history through the same
// posting logic live traffic uses. The whole rebuild runs in one transaction
// under the exclusive ledger lock, so concurrent postings queue rather than
// interleave. Payments are never touched: settlement is independent of the
// stock path.
type RecomputeService interface {
	Recompute(ctx context.Context, scope RecomputeScope) (*RecomputeResult, error)
	// VerifyChain checks the per-product movement chain invariant without
	// rebuilding anything.
	VerifyChain(ctx context.Context) error
}

type recomputeService struct {
	pool          *pgxpool.Pool
	allowNegative bool
}

func NewRecomputeService(pool *pgxpool.Pool, allowNegative bool) RecomputeService {
	return &recomputeService{pool: pool, allowNegative: allowNegative}
}

func (s *recomputeService) Recompute(ctx context.Context, scope RecomputeScope) (*RecomputeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Exclusive: blocks until in-flight postings and snapshots finish, and
	// holds new ones off until the rebuild commits.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockID); err != nil {
		return nil, fmt.Errorf("failed to acquire exclusive ledger lock: %w", err)
	}

	scoped := len(scope.ProductIDs) > 0

	// Discard derived state for the scope: movements, positions, snapshots.
	// Invoice history is the source of truth and stays.
	if scoped {
		if _, err := tx.Exec(ctx, "DELETE FROM stock_movements WHERE product_id = ANY($1)", scope.ProductIDs); err != nil {
			return nil, fmt.Errorf("failed to discard movements: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM daily_stock_snapshots WHERE product_id = ANY($1)", scope.ProductIDs); err != nil {
			return nil, fmt.Errorf("failed to discard snapshots: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM product_positions WHERE product_id = ANY($1)", scope.ProductIDs); err != nil {
			return nil, fmt.Errorf("failed to discard positions: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, "DELETE FROM stock_movements"); err != nil {
			return nil, fmt.Errorf("failed to discard movements: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM daily_stock_snapshots"); err != nil {
			return nil, fmt.Errorf("failed to discard snapshots: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM product_positions"); err != nil {
			return nil, fmt.Errorf("failed to discard positions: %w", err)
		}
	}

	invoices, err := loadInvoiceHistoryTx(ctx, tx, scope)
	if err != nil {
		return nil, err
	}

	result := &RecomputeResult{}
	var prevDate time.Time

	for _, inv := range invoices {
		// Crossing a date boundary closes the previous day: materialize a
		// snapshot for every date from the last invoice date up to (but not
		// including) the new one.
		if !prevDate.IsZero() && inv.date.After(prevDate) {
			n, err := writeSnapshotsRangeTx(ctx, tx, scope, prevDate, inv.date.AddDate(0, 0, -1))
			if err != nil {
				return nil, err
			}
			result.SnapshotsWritten += n
		}
		prevDate = inv.date

		if err := postInvoiceLinesTx(ctx, tx, inv.id, inv.input, s.allowNegative); err != nil {
			return nil, fmt.Errorf("replay of invoice %d failed: %w", inv.id, err)
		}
		result.InvoicesReplayed++
		result.MovementsWritten += len(inv.input.Lines)
	}
	if !prevDate.IsZero() {
		n, err := writeSnapshotsRangeTx(ctx, tx, scope, prevDate, prevDate)
		if err != nil {
			return nil, err
		}
		result.SnapshotsWritten += n
	}

	// A quantity_before mismatch after a clean replay means corrupted invoice
	// history; abort the whole scope rather than commit a partial rebuild.
	if err := verifyChainTx(ctx, tx, scope); err != nil {
		return nil, err
	}

	var products int
	if scoped {
		err = tx.QueryRow(ctx, "SELECT COUNT(*) FROM product_positions WHERE product_id = ANY($1)", scope.ProductIDs).Scan(&products)
	} else {
		err = tx.QueryRow(ctx, "SELECT COUNT(*) FROM product_positions").Scan(&products)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to count rebuilt positions: %w", err)
	}
	result.ProductsRecomputed = products

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit recompute: %w", err)
	}
	return result, nil
}

func (s *recomputeService) VerifyChain(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock_shared($1)", ledgerLockID); err != nil {
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}
	return verifyChainTx(ctx, tx, RecomputeScope{})
}

// replayInvoice is one invoice of the authoritative history, shaped for the
// posting internals.
type replayInvoice struct {
	id    int
	date  time.Time
	input InvoiceInput
}

// loadInvoiceHistoryTx fetches non-deleted invoices in (invoice_date, id)
// order. For a scoped rebuild only lines touching scoped products replay;
// invoices with no such lines are skipped.
func loadInvoiceHistoryTx(ctx context.Context, tx pgx.Tx, scope RecomputeScope) ([]replayInvoice, error) {
	rows, err := tx.Query(ctx, `
		SELECT i.id, i.invoice_type, i.invoice_date,
		       l.product_id, l.quantity, l.unit_price
		FROM invoices i
		JOIN invoice_lines l ON l.invoice_id = i.id
		WHERE i.is_deleted = false
		ORDER BY i.invoice_date, i.id, l.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice history: %w", err)
	}
	defer rows.Close()

	inScope := func(productID int) bool {
		if len(scope.ProductIDs) == 0 {
			return true
		}
		for _, id := range scope.ProductIDs {
			if id == productID {
				return true
			}
		}
		return false
	}

	var history []replayInvoice
	for rows.Next() {
		var invoiceID, productID int
		var invType string
		var invoiceDate time.Time
		var qty, price decimal.Decimal
		if err := rows.Scan(&invoiceID, &invType, &invoiceDate, &productID, &qty, &price); err != nil {
			return nil, fmt.Errorf("failed to scan invoice history: %w", err)
		}
		if !inScope(productID) {
			continue
		}

		if len(history) == 0 || history[len(history)-1].id != invoiceID {
			history = append(history, replayInvoice{
				id:   invoiceID,
				date: invoiceDate,
				input: InvoiceInput{
					InvoiceType: InvoiceType(invType),
					InvoiceDate: invoiceDate.Format("2006-01-02"),
				},
			})
		}
		last := &history[len(history)-1]
		last.input.Lines = append(last.input.Lines, InvoiceLineInput{
			ProductID: productID,
			Quantity:  qty,
			UnitPrice: price,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice history: %w", err)
	}
	return history, nil
}

// writeSnapshotsRangeTx materializes the current in-transaction positions of
// the scoped products into snapshot rows for every date in [from, to].
func writeSnapshotsRangeTx(ctx context.Context, tx pgx.Tx, scope RecomputeScope, from, to time.Time) (int, error) {
	query := `
		INSERT INTO daily_stock_snapshots (product_id, snapshot_date, available_qty, avg_cost)
		SELECT product_id, $1, available_qty, avg_cost
		FROM product_positions`
	scoped := len(scope.ProductIDs) > 0
	if scoped {
		query += " WHERE product_id = ANY($2)"
	}
	query += `
		ON CONFLICT (product_id, snapshot_date)
		DO UPDATE SET available_qty = EXCLUDED.available_qty,
		              avg_cost     = EXCLUDED.avg_cost,
		              updated_at   = NOW()`

	written := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		args := []any{d.Format("2006-01-02")}
		if scoped {
			args = append(args, scope.ProductIDs)
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return written, fmt.Errorf("failed to write snapshots for %s: %w", d.Format("2006-01-02"), err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// verifyChainTx walks each product's movements in ledger order and checks
// that every quantity_before equals the prior quantity_after (zero for the
// first). A mismatch is corruption, not contention.
func verifyChainTx(ctx context.Context, tx pgx.Tx, scope RecomputeScope) error {
	query := `
		SELECT id, product_id, quantity_before, quantity_after
		FROM stock_movements`
	args := []any{}
	if len(scope.ProductIDs) > 0 {
		query += " WHERE product_id = ANY($1)"
		args = append(args, scope.ProductIDs)
	}
	query += " ORDER BY product_id, id"

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query movements for chain check: %w", err)
	}
	defer rows.Close()

	lastProduct := -1
	var lastAfter decimal.Decimal
	for rows.Next() {
		var id, productID int
		var before, after decimal.Decimal
		if err := rows.Scan(&id, &productID, &before, &after); err != nil {
			return fmt.Errorf("failed to scan movement for chain check: %w", err)
		}

		if productID != lastProduct {
			lastProduct = productID
			lastAfter = decimal.Zero
		}
		if !before.Equal(lastAfter) {
			return fmt.Errorf("%w: product %d movement %d has quantity_before %s, prior quantity_after %s",
				ErrLedgerChainBroken, productID, id, before, lastAfter)
		}
		lastAfter = after
	}
	return rows.Err()
}
