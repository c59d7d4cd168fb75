package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ledgerLockID keys the advisory lock that serializes recompute against live
// posting: postings take it shared, recompute takes it exclusive.
const ledgerLockID = 7403_2291

// postingRetries bounds automatic retries on lock contention before the
// operation surfaces ErrConcurrentModification.
const postingRetries = 3

// InvoiceLineInput is one line of an invoice supplied by the CRUD surface.
type InvoiceLineInput struct {
	ProductID int
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// InvoiceInput is the posting payload supplied by the invoice CRUD surface.
type InvoiceInput struct {
	InvoiceType InvoiceType
	InvoiceDate string // YYYY-MM-DD
	DueDate     string // YYYY-MM-DD, optional
	Lines       []InvoiceLineInput
}

// PostingService turns invoices into stock ledger movements. Posting a sell
// invoice issues one outgoing movement per line; a buy invoice one incoming
// movement per line with the line unit price as cost basis. Edits are full
// reversal plus re-post; deletes are reversal only. Every call is atomic:
// all line movements land or none do.
type PostingService interface {
	PostInvoice(ctx context.Context, input InvoiceInput) (*Invoice, error)
	EditInvoice(ctx context.Context, invoiceID int, input InvoiceInput) (*Invoice, error)
	DeleteInvoice(ctx context.Context, invoiceID int) error
	GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error)
}

type postingService struct {
	pool *pgxpool.Pool

	// allowNegative lets sales drive a quantity below zero; the movement is
	// recorded with an audit flag and the dashboard alerts instead of
	// blocking. Defaults to permissive.
	allowNegative bool
}

func NewPostingService(pool *pgxpool.Pool, allowNegative bool) PostingService {
	return &postingService{pool: pool, allowNegative: allowNegative}
}

func (s *postingService) PostInvoice(ctx context.Context, input InvoiceInput) (*Invoice, error) {
	if err := validateInvoiceInput(input); err != nil {
		return nil, err
	}

	var invoiceID int
	err := withContentionRetry(ctx, postingRetries, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock_shared($1)", ledgerLockID); err != nil {
			return fmt.Errorf("failed to acquire ledger lock: %w", err)
		}

		total := invoiceTotal(input.Lines)
		var dueDate *string
		if input.DueDate != "" {
			dueDate = &input.DueDate
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO invoices (invoice_type, invoice_date, due_date, total_amount)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, string(input.InvoiceType), input.InvoiceDate, dueDate, total).Scan(&invoiceID)
		if err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}

		if err := insertLinesTx(ctx, tx, invoiceID, input.Lines); err != nil {
			return err
		}
		if err := postInvoiceLinesTx(ctx, tx, invoiceID, input, s.allowNegative); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit invoice posting: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetInvoice(ctx, invoiceID)
}

// EditInvoice fully reverses the invoice's active movements, rewrites its
// header and lines, and re-posts with the new values in one transaction.
// Historical movements are never mutated in place.
func (s *postingService) EditInvoice(ctx context.Context, invoiceID int, input InvoiceInput) (*Invoice, error) {
	if err := validateInvoiceInput(input); err != nil {
		return nil, err
	}

	err := withContentionRetry(ctx, postingRetries, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock_shared($1)", ledgerLockID); err != nil {
			return fmt.Errorf("failed to acquire ledger lock: %w", err)
		}

		if err := lockInvoiceForPosting(ctx, tx, invoiceID); err != nil {
			return err
		}
		if err := reverseInvoiceTx(ctx, tx, invoiceID); err != nil {
			return err
		}

		total := invoiceTotal(input.Lines)
		var dueDate *string
		if input.DueDate != "" {
			dueDate = &input.DueDate
		}
		_, err = tx.Exec(ctx, `
			UPDATE invoices
			SET invoice_type = $1, invoice_date = $2, due_date = $3, total_amount = $4, updated_at = NOW()
			WHERE id = $5
		`, string(input.InvoiceType), input.InvoiceDate, dueDate, total, invoiceID)
		if err != nil {
			return fmt.Errorf("failed to update invoice %d: %w", invoiceID, err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM invoice_lines WHERE invoice_id = $1", invoiceID); err != nil {
			return fmt.Errorf("failed to clear lines for invoice %d: %w", invoiceID, err)
		}
		if err := insertLinesTx(ctx, tx, invoiceID, input.Lines); err != nil {
			return err
		}
		if err := postInvoiceLinesTx(ctx, tx, invoiceID, input, s.allowNegative); err != nil {
			return err
		}

		// The total may have changed; re-derive paid/partial/pending from the
		// payments already recorded against the invoice.
		if err := recomputeInvoiceAggregatesTx(ctx, tx, invoiceID); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit invoice edit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetInvoice(ctx, invoiceID)
}

// DeleteInvoice reverses the invoice's active movements, leaving a symmetric
// pair in the ledger, marks the invoice deleted, and removes its payments.
func (s *postingService) DeleteInvoice(ctx context.Context, invoiceID int) error {
	return withContentionRetry(ctx, postingRetries, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock_shared($1)", ledgerLockID); err != nil {
			return fmt.Errorf("failed to acquire ledger lock: %w", err)
		}

		if err := lockInvoiceForPosting(ctx, tx, invoiceID); err != nil {
			return err
		}
		if err := reverseInvoiceTx(ctx, tx, invoiceID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, "DELETE FROM payments WHERE invoice_id = $1", invoiceID); err != nil {
			return fmt.Errorf("failed to remove payments for invoice %d: %w", invoiceID, err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE invoices
			SET is_deleted = true, amount_paid = 0, payment_status = 'pending', updated_at = NOW()
			WHERE id = $1
		`, invoiceID)
		if err != nil {
			return fmt.Errorf("failed to mark invoice %d deleted: %w", invoiceID, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit invoice deletion: %w", err)
		}
		return nil
	})
}

func (s *postingService) GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error) {
	var inv Invoice
	var invType, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, invoice_type, invoice_date, due_date, total_amount, amount_paid,
		       payment_status, is_deleted, created_at, updated_at
		FROM invoices
		WHERE id = $1
	`, invoiceID).Scan(&inv.ID, &invType, &inv.InvoiceDate, &inv.DueDate, &inv.TotalAmount,
		&inv.AmountPaid, &status, &inv.IsDeleted, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}
	inv.InvoiceType = InvoiceType(invType)
	inv.PaymentStatus = PaymentStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, product_id, quantity, unit_price
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lines for invoice %d: %w", invoiceID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		inv.Lines = append(inv.Lines, line)
	}
	return &inv, nil
}

// ── Transaction internals (shared with the recompute orchestrator) ───────────

// postInvoiceLinesTx applies every line of an invoice to the ledger inside
// tx. Lines are processed in product-id order so concurrent postings acquire
// position locks in a consistent order. The recompute orchestrator replays
// history through this same function.
func postInvoiceLinesTx(ctx context.Context, tx pgx.Tx, invoiceID int, input InvoiceInput, allowNegative bool) error {
	lines := make([]InvoiceLineInput, len(input.Lines))
	copy(lines, input.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	for _, line := range lines {
		pos, err := lockPositionTx(ctx, tx, line.ProductID)
		if err != nil {
			return err
		}

		var change decimal.Decimal
		var unitCost *decimal.Decimal
		if input.InvoiceType == InvoiceTypeBuy {
			change = line.Quantity
			cost := line.UnitPrice
			unitCost = &cost
		} else {
			change = line.Quantity.Neg()
		}

		newPos, delta, err := ApplyMovement(pos, change, unitCost, allowNegative)
		if err != nil {
			return fmt.Errorf("invoice %d, product %d: %w", invoiceID, line.ProductID, err)
		}

		if err := appendMovementTx(ctx, tx, line.ProductID, invoiceID, input.InvoiceDate, delta, false); err != nil {
			return err
		}
		if err := savePositionTx(ctx, tx, newPos); err != nil {
			return err
		}
	}
	return nil
}

// reverseInvoiceTx appends a compensating movement for every active movement
// of the invoice, newest first. Active movements are those written after the
// invoice's last reversal batch (or all of them for a never-reversed invoice).
func reverseInvoiceTx(ctx context.Context, tx pgx.Tx, invoiceID int) error {
	rows, err := tx.Query(ctx, `
		SELECT id, product_id, invoice_date, quantity_before, quantity_change,
		       quantity_after, unit_cost, avg_cost_after
		FROM stock_movements
		WHERE invoice_id = $1
		  AND is_reversal = false
		  AND id > COALESCE(
		      (SELECT MAX(id) FROM stock_movements WHERE invoice_id = $1 AND is_reversal = true), 0)
		ORDER BY id DESC
	`, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to fetch movements for invoice %d: %w", invoiceID, err)
	}

	var movements []Movement
	for rows.Next() {
		var m Movement
		var unitCost decimal.NullDecimal
		if err := rows.Scan(&m.ID, &m.ProductID, &m.InvoiceDate, &m.QuantityBefore,
			&m.QuantityChange, &m.QuantityAfter, &unitCost, &m.AvgCostAfter); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan movement: %w", err)
		}
		if unitCost.Valid {
			m.UnitCost = &unitCost.Decimal
		}
		movements = append(movements, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating movements: %w", err)
	}

	// Positions are locked in the same product-id order postInvoiceLinesTx
	// uses, so a reversal racing a posting cannot deadlock. Within a product
	// the movements reverse newest first.
	sort.Slice(movements, func(i, j int) bool {
		if movements[i].ProductID != movements[j].ProductID {
			return movements[i].ProductID < movements[j].ProductID
		}
		return movements[i].ID > movements[j].ID
	})

	for _, m := range movements {
		pos, err := lockPositionTx(ctx, tx, m.ProductID)
		if err != nil {
			return err
		}

		newPos, delta := ReverseMovement(pos, m)
		if err := appendMovementTx(ctx, tx, m.ProductID, invoiceID, m.InvoiceDate.Format("2006-01-02"), delta, true); err != nil {
			return err
		}
		if err := savePositionTx(ctx, tx, newPos); err != nil {
			return err
		}
	}
	return nil
}

// lockPositionTx upserts and row-locks the position for a product. The lock
// serializes the stateful, non-commutative costing transition per product;
// movements on different products proceed in parallel.
func lockPositionTx(ctx context.Context, tx pgx.Tx, productID int) (Position, error) {
	var pos Position
	err := tx.QueryRow(ctx, `
		INSERT INTO product_positions (product_id, available_qty, avg_cost)
		VALUES ($1, 0, 0)
		ON CONFLICT (product_id) DO UPDATE SET updated_at = NOW()
		RETURNING product_id
	`, productID).Scan(&pos.ProductID)
	if err != nil {
		return pos, fmt.Errorf("failed to upsert position for product %d: %w", productID, err)
	}

	err = tx.QueryRow(ctx, `
		SELECT product_id, available_qty, avg_cost, updated_at
		FROM product_positions
		WHERE product_id = $1
		FOR UPDATE
	`, productID).Scan(&pos.ProductID, &pos.AvailableQty, &pos.AvgCost, &pos.UpdatedAt)
	if err != nil {
		return pos, fmt.Errorf("failed to lock position for product %d: %w", productID, err)
	}
	return pos, nil
}

func savePositionTx(ctx context.Context, tx pgx.Tx, pos Position) error {
	_, err := tx.Exec(ctx, `
		UPDATE product_positions
		SET available_qty = $1, avg_cost = $2, updated_at = NOW()
		WHERE product_id = $3
	`, pos.AvailableQty, pos.AvgCost, pos.ProductID)
	if err != nil {
		return fmt.Errorf("failed to save position for product %d: %w", pos.ProductID, err)
	}
	return nil
}

func appendMovementTx(ctx context.Context, tx pgx.Tx, productID, invoiceID int, invoiceDate string, delta MovementDelta, isReversal bool) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_movements
			(product_id, invoice_id, invoice_date, quantity_before, quantity_change,
			 quantity_after, unit_cost, avg_cost_after, is_reversal, negative_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, productID, invoiceID, invoiceDate, delta.QuantityBefore, delta.QuantityChange,
		delta.QuantityAfter, delta.UnitCost, delta.AvgCostAfter, isReversal, delta.NegativeStock)
	if err != nil {
		return fmt.Errorf("failed to append movement for product %d: %w", productID, err)
	}
	return nil
}

// lockInvoiceForPosting row-locks a live invoice, rejecting deleted ones.
func lockInvoiceForPosting(ctx context.Context, tx pgx.Tx, invoiceID int) error {
	var isDeleted bool
	err := tx.QueryRow(ctx, "SELECT is_deleted FROM invoices WHERE id = $1 FOR UPDATE", invoiceID).Scan(&isDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
		}
		return fmt.Errorf("failed to lock invoice %d: %w", invoiceID, err)
	}
	if isDeleted {
		return fmt.Errorf("invoice %d is deleted: %w", invoiceID, ErrNotFound)
	}
	return nil
}

func insertLinesTx(ctx context.Context, tx pgx.Tx, invoiceID int, lines []InvoiceLineInput) error {
	for _, line := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoice_lines (invoice_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, invoiceID, line.ProductID, line.Quantity, line.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert line for invoice %d: %w", invoiceID, err)
		}
	}
	return nil
}

func invoiceTotal(lines []InvoiceLineInput) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Quantity.Mul(line.UnitPrice))
	}
	return total
}

func validateInvoiceInput(input InvoiceInput) error {
	if input.InvoiceType != InvoiceTypeSell && input.InvoiceType != InvoiceTypeBuy {
		return fmt.Errorf("invalid invoice type %q", input.InvoiceType)
	}
	if _, err := time.Parse("2006-01-02", input.InvoiceDate); err != nil {
		return fmt.Errorf("invalid invoice date %q: %w", input.InvoiceDate, err)
	}
	if input.DueDate != "" {
		if _, err := time.Parse("2006-01-02", input.DueDate); err != nil {
			return fmt.Errorf("invalid due date %q: %w", input.DueDate, err)
		}
	}
	if len(input.Lines) == 0 {
		return fmt.Errorf("invoice must have at least one line")
	}
	for _, line := range input.Lines {
		if line.Quantity.Sign() <= 0 {
			return fmt.Errorf("line quantity must be positive for product %d, got %s", line.ProductID, line.Quantity)
		}
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("line unit price cannot be negative for product %d, got %s", line.ProductID, line.UnitPrice)
		}
	}
	return nil
}

// withContentionRetry re-runs fn on serialization or deadlock failures a
// bounded number of times, then surfaces ErrConcurrentModification.
func withContentionRetry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isContentionError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
}

func isContentionError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected, 55P03 lock_not_available
	return pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03"
}
