package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceType string

const (
	InvoiceTypeSell InvoiceType = "sell"
	InvoiceTypeBuy  InvoiceType = "buy"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// PaymentEpsilon is the base-currency tolerance under which a remaining
// balance counts as settled.
var PaymentEpsilon = decimal.NewFromFloat(0.01)

// Product is a minimal catalog row; positions and movements reference it.
type Product struct {
	ID        int
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Position is the running state of one product: on-hand quantity and the
// weighted-average cost of that quantity. Exactly one row per product.
type Position struct {
	ProductID    int
	AvailableQty decimal.Decimal
	AvgCost      decimal.Decimal
	UpdatedAt    time.Time
}

// Movement is one append-only row in the stock ledger. quantity_change is
// signed: positive for stock in, negative for stock out. UnitCost is nil for
// outgoing movements; AvgCostAfter is the product's weighted-average cost
// immediately after this movement was applied.
type Movement struct {
	ID             int
	ProductID      int
	InvoiceID      int
	InvoiceDate    time.Time
	QuantityBefore decimal.Decimal
	QuantityChange decimal.Decimal
	QuantityAfter  decimal.Decimal
	UnitCost       *decimal.Decimal
	AvgCostAfter   decimal.Decimal
	IsReversal     bool
	NegativeStock  bool
	CreatedAt      time.Time
}

// DailySnapshot is the materialized position of one product at the end of
// one calendar date. Rows for closed dates are write-once; only the current
// day's row is upserted as postings land.
type DailySnapshot struct {
	ID           int
	ProductID    int
	Date         time.Time
	AvailableQty decimal.Decimal
	AvgCost      decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExchangeRate is one versioned rate record: RateToUSD is the amount of
// CurrencyCode per 1 USD. The rate in force for a conversion is the active
// row with the most recent effective_date <= the conversion instant.
type ExchangeRate struct {
	ID            int
	CurrencyCode  string
	RateToUSD     decimal.Decimal
	EffectiveDate time.Time
	IsActive      bool
	CreatedAt     time.Time
}

type Invoice struct {
	ID            int
	InvoiceType   InvoiceType
	InvoiceDate   time.Time
	DueDate       *time.Time
	TotalAmount   decimal.Decimal
	AmountPaid    decimal.Decimal
	PaymentStatus PaymentStatus
	IsDeleted     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Lines         []InvoiceLine
}

// RemainingBalance is derived, never stored.
func (inv *Invoice) RemainingBalance() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.AmountPaid)
}

type InvoiceLine struct {
	ID        int
	InvoiceID int
	ProductID int
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Payment is one append-only settlement row against an invoice. The exchange
// rate is snapshotted at record time and never re-resolved, even if the rate
// table changes later. BaseAmount = PaidAmount / ExchangeRateOnPayment.
type Payment struct {
	ID                    int
	Reference             string
	InvoiceID             int
	PaidAmount            decimal.Decimal
	CurrencyCode          string
	ExchangeRateOnPayment decimal.Decimal
	BaseAmount            decimal.Decimal
	PaymentDate           time.Time
	PaymentMethod         string
	Notes                 string
	CreatedAt             time.Time
}
