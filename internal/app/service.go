package app

import (
	"context"

	"github.com/shopspring/decimal"
)

// ApplicationService is the single interface adapters call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println, no ANSI codes, and no display logic of any kind.
type ApplicationService interface {
	// GetPositions returns current stock positions; productID filters to one
	// product when non-nil.
	GetPositions(ctx context.Context, productID *int) (*PositionListResult, error)

	// GetDailyHistory returns per-day snapshot rows in [startDate, endDate],
	// optionally filtered by a product code/name search term.
	GetDailyHistory(ctx context.Context, startDate, endDate, search string) (*HistoryResult, error)

	// GetLowStock returns positions at or below threshold, lowest first.
	GetLowStock(ctx context.Context, threshold decimal.Decimal) (*PositionListResult, error)

	// GetMovements returns recent stock ledger rows, newest first, optionally
	// bounded by an invoice-date range. limit caps the row count.
	GetMovements(ctx context.Context, limit int, startDate, endDate string) (*MovementListResult, error)

	// CreateInvoice posts a new invoice and applies its stock effects.
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*InvoiceResult, error)

	// UpdateInvoice replaces an invoice's header and lines. The old stock
	// effects are reversed and the new lines posted in one transaction.
	UpdateInvoice(ctx context.Context, invoiceID int, req InvoiceRequest) (*InvoiceResult, error)

	// DeleteInvoice reverses an invoice's stock effects, removes its
	// payments, and marks it deleted. The ledger history is retained.
	DeleteInvoice(ctx context.Context, invoiceID int) error

	// GetInvoice returns a single invoice with its lines.
	GetInvoice(ctx context.Context, invoiceID int) (*InvoiceResult, error)

	// RecordPayment records a settlement against an invoice, converting the
	// paid amount to base currency at the rate in force on the payment date.
	RecordPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)

	// DeletePayment removes a payment and re-derives the invoice's
	// paid/partial/pending state.
	DeletePayment(ctx context.Context, paymentID int) error

	// ListPayments returns all payments recorded against an invoice.
	ListPayments(ctx context.Context, invoiceID int) (*PaymentListResult, error)

	// GetPaymentSummary returns the derived settlement state of an invoice.
	GetPaymentSummary(ctx context.Context, invoiceID int) (*PaymentSummaryResult, error)

	// GetOverdueInvoices returns invoices past due and not fully paid.
	GetOverdueInvoices(ctx context.Context) (*OverdueListResult, error)

	// UpsertExchangeRate creates or replaces the rate version for a currency
	// and effective date.
	UpsertExchangeRate(ctx context.Context, req RateRequest) (*RateResult, error)

	// DeactivateExchangeRate withdraws a rate version without deleting it.
	DeactivateExchangeRate(ctx context.Context, rateID int) error

	// ListExchangeRates returns rate versions, optionally for one currency.
	ListExchangeRates(ctx context.Context, currencyCode string) (*RateListResult, error)

	// RunDailySnapshot materializes the snapshot for targetDate from current
	// positions. Idempotent within a day.
	RunDailySnapshot(ctx context.Context, targetDate string) error

	// BackfillSnapshots fills missing snapshot dates in [fromDate, toDate]
	// by replaying the ledger.
	BackfillSnapshots(ctx context.Context, fromDate, toDate string) (*BackfillResult, error)

	// Recompute rebuilds positions, movements, and snapshots from invoice
	// history. Empty productIDs means all products.
	Recompute(ctx context.Context, productIDs []int) (*RecomputeResult, error)

	// VerifyLedger checks the per-product movement chain without rebuilding.
	VerifyLedger(ctx context.Context) error
}
