package app

import "stockbook/internal/core"

// PositionListResult is returned by GetPositions and GetLowStock.
type PositionListResult struct {
	Positions []core.PositionView
}

// HistoryResult is returned by GetDailyHistory.
type HistoryResult struct {
	Rows []core.HistoryRow
}

// MovementListResult is returned by GetMovements.
type MovementListResult struct {
	Movements []core.MovementRow
}

// InvoiceResult is returned by invoice lifecycle operations.
type InvoiceResult struct {
	Invoice *core.Invoice
}

// PaymentResult is returned by RecordPayment.
type PaymentResult struct {
	Payment *core.Payment
	Summary *core.PaymentSummary
}

// PaymentListResult is returned by ListPayments.
type PaymentListResult struct {
	Payments []core.Payment
}

// PaymentSummaryResult is returned by GetPaymentSummary.
type PaymentSummaryResult struct {
	Summary *core.PaymentSummary
}

// OverdueListResult is returned by GetOverdueInvoices.
type OverdueListResult struct {
	Invoices []core.OverdueInvoice
}

// RateResult is returned by UpsertExchangeRate.
type RateResult struct {
	Rate *core.ExchangeRate
}

// RateListResult is returned by ListExchangeRates.
type RateListResult struct {
	Rates []core.ExchangeRate
}

// BackfillResult is returned by BackfillSnapshots. Failures maps the dates
// that could not be backfilled to their errors; the rest were processed.
type BackfillResult struct {
	DatesProcessed []string
	Failures       map[string]string
}

// RecomputeResult is returned by Recompute.
type RecomputeResult struct {
	InvoicesReplayed   int
	MovementsWritten   int
	SnapshotsWritten   int
	ProductsRecomputed int
}
