package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PaymentInput is one settlement against an invoice, in any supported
// currency.
type PaymentInput struct {
	InvoiceID     int
	PaidAmount    decimal.Decimal
	CurrencyCode  string
	PaymentDate   string // YYYY-MM-DD
	PaymentMethod string
	Notes         string
}

// PaymentSummary is the derived settlement state of one invoice.
type PaymentSummary struct {
	InvoiceID        int
	TotalAmount      decimal.Decimal
	AmountPaid       decimal.Decimal
	RemainingBalance decimal.Decimal
	PaymentStatus    PaymentStatus
}

// OverdueInvoice is one row of the overdue listing: due date passed and the
// invoice is not fully paid. Derived at read time, never stored.
type OverdueInvoice struct {
	InvoiceID        int
	InvoiceType      InvoiceType
	InvoiceDate      time.Time
	DueDate          time.Time
	TotalAmount      decimal.Decimal
	AmountPaid       decimal.Decimal
	RemainingBalance decimal.Decimal
	PaymentStatus    PaymentStatus
}

// PaymentService records payments against invoices, each stamped with the
// exchange rate in force at payment time, and keeps the owning invoice's
// paid/partial/pending aggregates consistent. It is independent of the stock
// path: recompute never touches it.
type PaymentService interface {
	RecordPayment(ctx context.Context, input PaymentInput) (*Payment, error)
	DeletePayment(ctx context.Context, paymentID int) error
	ListPayments(ctx context.Context, invoiceID int) ([]Payment, error)
	GetInvoicePaymentSummary(ctx context.Context, invoiceID int) (*PaymentSummary, error)
	GetOverdueInvoices(ctx context.Context) ([]OverdueInvoice, error)
}

type paymentService struct {
	pool *pgxpool.Pool
}

func NewPaymentService(pool *pgxpool.Pool) PaymentService {
	return &paymentService{pool: pool}
}

// RecordPayment resolves the effective exchange rate for the payment date,
// snapshots it onto the payment row, and recomputes the invoice aggregates.
// The rate snapshot is immutable: later rate table changes never alter a
// recorded payment's base-currency equivalent.
func (s *paymentService) RecordPayment(ctx context.Context, input PaymentInput) (*Payment, error) {
	if input.PaidAmount.Sign() <= 0 {
		return nil, fmt.Errorf("paid amount must be positive, got %s", input.PaidAmount)
	}
	paymentDate, err := time.Parse("2006-01-02", input.PaymentDate)
	if err != nil {
		return nil, fmt.Errorf("invalid payment date %q: %w", input.PaymentDate, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize settlements per invoice; payments on different invoices are
	// independent.
	var isDeleted bool
	err = tx.QueryRow(ctx, "SELECT is_deleted FROM invoices WHERE id = $1 FOR UPDATE", input.InvoiceID).Scan(&isDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d: %w", input.InvoiceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock invoice %d: %w", input.InvoiceID, err)
	}
	if isDeleted {
		return nil, fmt.Errorf("invoice %d is deleted: %w", input.InvoiceID, ErrNotFound)
	}

	rate, err := resolveRateQ(ctx, tx, input.CurrencyCode, paymentDate)
	if err != nil {
		return nil, err
	}

	// RateToUSD is currency per 1 USD, so the base equivalent divides.
	baseAmount := input.PaidAmount.DivRound(rate.RateToUSD, 2)

	var p Payment
	err = tx.QueryRow(ctx, `
		INSERT INTO payments
			(reference, invoice_id, paid_amount, currency_code, exchange_rate_on_payment,
			 base_amount, payment_date, payment_method, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, reference, invoice_id, paid_amount, currency_code,
		          exchange_rate_on_payment, base_amount, payment_date,
		          payment_method, notes, created_at
	`, uuid.NewString(), input.InvoiceID, input.PaidAmount, rate.CurrencyCode,
		rate.RateToUSD, baseAmount, input.PaymentDate, input.PaymentMethod, input.Notes,
	).Scan(&p.ID, &p.Reference, &p.InvoiceID, &p.PaidAmount, &p.CurrencyCode,
		&p.ExchangeRateOnPayment, &p.BaseAmount, &p.PaymentDate,
		&p.PaymentMethod, &p.Notes, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	if err := recomputeInvoiceAggregatesTx(ctx, tx, input.InvoiceID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return &p, nil
}

// DeletePayment removes one payment and re-runs the owning invoice's
// aggregation.
func (s *paymentService) DeletePayment(ctx context.Context, paymentID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var invoiceID int
	err = tx.QueryRow(ctx, "SELECT invoice_id FROM payments WHERE id = $1", paymentID).Scan(&invoiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("payment %d: %w", paymentID, ErrNotFound)
		}
		return fmt.Errorf("failed to fetch payment %d: %w", paymentID, err)
	}

	if _, err := tx.Exec(ctx, "SELECT id FROM invoices WHERE id = $1 FOR UPDATE", invoiceID); err != nil {
		return fmt.Errorf("failed to lock invoice %d: %w", invoiceID, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM payments WHERE id = $1", paymentID); err != nil {
		return fmt.Errorf("failed to delete payment %d: %w", paymentID, err)
	}
	if err := recomputeInvoiceAggregatesTx(ctx, tx, invoiceID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit payment deletion: %w", err)
	}
	return nil
}

func (s *paymentService) ListPayments(ctx context.Context, invoiceID int) ([]Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, reference, invoice_id, paid_amount, currency_code,
		       exchange_rate_on_payment, base_amount, payment_date,
		       payment_method, notes, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Reference, &p.InvoiceID, &p.PaidAmount, &p.CurrencyCode,
			&p.ExchangeRateOnPayment, &p.BaseAmount, &p.PaymentDate,
			&p.PaymentMethod, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, nil
}

func (s *paymentService) GetInvoicePaymentSummary(ctx context.Context, invoiceID int) (*PaymentSummary, error) {
	var sum PaymentSummary
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, total_amount, amount_paid, payment_status
		FROM invoices
		WHERE id = $1 AND is_deleted = false
	`, invoiceID).Scan(&sum.InvoiceID, &sum.TotalAmount, &sum.AmountPaid, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}
	sum.PaymentStatus = PaymentStatus(status)
	sum.RemainingBalance = sum.TotalAmount.Sub(sum.AmountPaid)
	return &sum, nil
}

func (s *paymentService) GetOverdueInvoices(ctx context.Context) ([]OverdueInvoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_type, invoice_date, due_date, total_amount, amount_paid, payment_status
		FROM invoices
		WHERE is_deleted = false
		  AND due_date IS NOT NULL
		  AND due_date < CURRENT_DATE
		  AND payment_status != 'paid'
		ORDER BY due_date, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue invoices: %w", err)
	}
	defer rows.Close()

	var overdue []OverdueInvoice
	for rows.Next() {
		var o OverdueInvoice
		var invType, status string
		if err := rows.Scan(&o.InvoiceID, &invType, &o.InvoiceDate, &o.DueDate,
			&o.TotalAmount, &o.AmountPaid, &status); err != nil {
			return nil, fmt.Errorf("failed to scan overdue invoice: %w", err)
		}
		o.InvoiceType = InvoiceType(invType)
		o.PaymentStatus = PaymentStatus(status)
		o.RemainingBalance = o.TotalAmount.Sub(o.AmountPaid)
		overdue = append(overdue, o)
	}
	return overdue, nil
}

// recomputeInvoiceAggregatesTx rebuilds amount_paid and payment_status from
// the sum of base-currency payment amounts. Status is paid when the
// remaining balance is within PaymentEpsilon, partial when something but not
// everything is paid, pending otherwise.
func recomputeInvoiceAggregatesTx(ctx context.Context, tx pgx.Tx, invoiceID int) error {
	var total, paid decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT i.total_amount, COALESCE(SUM(p.base_amount), 0)
		FROM invoices i
		LEFT JOIN payments p ON p.invoice_id = i.id
		WHERE i.id = $1
		GROUP BY i.id
	`, invoiceID).Scan(&total, &paid)
	if err != nil {
		return fmt.Errorf("failed to aggregate payments for invoice %d: %w", invoiceID, err)
	}

	status := PaymentStatusPending
	remaining := total.Sub(paid)
	switch {
	case remaining.LessThanOrEqual(PaymentEpsilon):
		status = PaymentStatusPaid
	case paid.Sign() > 0:
		status = PaymentStatusPartial
	}

	_, err = tx.Exec(ctx, `
		UPDATE invoices
		SET amount_paid = $1, payment_status = $2, updated_at = NOW()
		WHERE id = $3
	`, paid, string(status), invoiceID)
	if err != nil {
		return fmt.Errorf("failed to update aggregates for invoice %d: %w", invoiceID, err)
	}
	return nil
}
