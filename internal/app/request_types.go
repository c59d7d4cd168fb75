package app

import (
	"github.com/shopspring/decimal"
)

// InvoiceRequest is the input for creating or replacing an invoice.
type InvoiceRequest struct {
	InvoiceType string // "sell" or "buy"
	InvoiceDate string // YYYY-MM-DD
	DueDate     string // YYYY-MM-DD, optional
	Lines       []InvoiceLineRequest
}

// InvoiceLineRequest is a single line within an InvoiceRequest.
type InvoiceLineRequest struct {
	ProductID int
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// PaymentRequest is the input for recording a payment against an invoice.
type PaymentRequest struct {
	InvoiceID     int
	PaidAmount    decimal.Decimal
	CurrencyCode  string
	PaymentDate   string // YYYY-MM-DD
	PaymentMethod string
	Notes         string
}

// RateRequest is the input for creating or replacing an exchange rate
// version. RateToUSD is units of the currency per 1 USD.
type RateRequest struct {
	CurrencyCode  string
	RateToUSD     decimal.Decimal
	EffectiveDate string // YYYY-MM-DD
}
