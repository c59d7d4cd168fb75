package core

import "errors"

var (
	// ErrInsufficientStock is returned when an outgoing movement would drive
	// a product's quantity negative under the strict policy. Callers may
	// retry with negative stock allowed, or block the sale.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNoActiveRate is returned when a payment currency has no active
	// exchange rate in force at the payment date. The conversion is never
	// silently defaulted to 1.0.
	ErrNoActiveRate = errors.New("no active exchange rate")

	// ErrLedgerChainBroken signals data corruption: a movement's
	// quantity_before does not match the prior movement's quantity_after.
	// Recompute aborts its whole scope when it sees this.
	ErrLedgerChainBroken = errors.New("stock ledger chain broken")

	// ErrConcurrentModification is returned after bounded retries when
	// postings on the same product keep colliding.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrNotFound covers missing invoices, payments, and products.
	ErrNotFound = errors.New("not found")
)
