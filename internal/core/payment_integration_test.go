package core_test

import (
	"errors"
	"testing"

	"stockbook/internal/core"
)

func TestPayments_PartialThenPaidAcrossCurrencies(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	payments := core.NewPaymentService(pool)

	postBuy(t, ctx, posting, "2024-03-01", 1, "10", "5.00")
	inv := postSell(t, ctx, posting, "2024-03-02", 1, "5", "20.00") // total 100 USD

	// 45 EUR at the seeded 0.90 rate settles 50.00 USD.
	p1, err := payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("45"),
		CurrencyCode: "EUR",
		PaymentDate:  "2024-03-10",
	})
	if err != nil {
		t.Fatalf("RecordPayment(EUR) failed: %v", err)
	}
	if !p1.ExchangeRateOnPayment.Equal(dec("0.90")) {
		t.Errorf("stamped rate: got %s, want 0.90", p1.ExchangeRateOnPayment)
	}
	if !p1.BaseAmount.Equal(dec("50")) {
		t.Errorf("base amount: got %s, want 50.00", p1.BaseAmount)
	}

	sum, err := payments.GetInvoicePaymentSummary(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoicePaymentSummary failed: %v", err)
	}
	if sum.PaymentStatus != core.PaymentStatusPartial {
		t.Errorf("status after half payment: got %s, want partial", sum.PaymentStatus)
	}
	if !sum.RemainingBalance.Equal(dec("50")) {
		t.Errorf("remaining: got %s, want 50.00", sum.RemainingBalance)
	}

	// 50 USD settles the rest.
	if _, err := payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("50"),
		CurrencyCode: "USD",
		PaymentDate:  "2024-03-15",
	}); err != nil {
		t.Fatalf("RecordPayment(USD) failed: %v", err)
	}

	sum, err = payments.GetInvoicePaymentSummary(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoicePaymentSummary failed: %v", err)
	}
	if sum.PaymentStatus != core.PaymentStatusPaid {
		t.Errorf("status after full payment: got %s, want paid", sum.PaymentStatus)
	}
	if sum.RemainingBalance.Cmp(core.PaymentEpsilon) > 0 {
		t.Errorf("remaining above epsilon after full payment: %s", sum.RemainingBalance)
	}
}

func TestPayments_UnknownCurrencyRejected(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	payments := core.NewPaymentService(pool)

	postBuy(t, ctx, posting, "2024-03-01", 1, "10", "5.00")
	inv := postSell(t, ctx, posting, "2024-03-02", 1, "1", "20.00")

	_, err := payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("10"),
		CurrencyCode: "GBP",
		PaymentDate:  "2024-03-10",
	})
	if !errors.Is(err, core.ErrNoActiveRate) {
		t.Fatalf("expected ErrNoActiveRate for GBP, got %v", err)
	}

	// A currency with rate versions only in the future is equally unusable.
	rates := core.NewRateService(pool)
	if _, err := rates.UpsertRate(ctx, "JPY", dec("150"), "2030-01-01"); err != nil {
		t.Fatalf("UpsertRate failed: %v", err)
	}
	_, err = payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("10"),
		CurrencyCode: "JPY",
		PaymentDate:  "2024-03-10",
	})
	if !errors.Is(err, core.ErrNoActiveRate) {
		t.Fatalf("expected ErrNoActiveRate for future-dated JPY, got %v", err)
	}
}

func TestPayments_RateSnapshotIsImmutable(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	payments := core.NewPaymentService(pool)
	rates := core.NewRateService(pool)

	postBuy(t, ctx, posting, "2024-03-01", 1, "10", "5.00")
	inv := postSell(t, ctx, posting, "2024-03-02", 1, "5", "20.00")

	p, err := payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("45"),
		CurrencyCode: "EUR",
		PaymentDate:  "2024-03-10",
	})
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	// A later rate version must not disturb the recorded payment.
	if _, err := rates.UpsertRate(ctx, "EUR", dec("0.80"), "2024-03-05"); err != nil {
		t.Fatalf("UpsertRate failed: %v", err)
	}

	list, err := payments.ListPayments(ctx, inv.ID)
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d payments, want 1", len(list))
	}
	if !list[0].ExchangeRateOnPayment.Equal(p.ExchangeRateOnPayment) {
		t.Errorf("stamped rate changed: got %s, want %s", list[0].ExchangeRateOnPayment, p.ExchangeRateOnPayment)
	}
	if !list[0].BaseAmount.Equal(dec("50")) {
		t.Errorf("base amount changed: got %s, want 50.00", list[0].BaseAmount)
	}
}

func TestPayments_DeleteReaggregatesInvoice(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	payments := core.NewPaymentService(pool)

	postBuy(t, ctx, posting, "2024-03-01", 1, "10", "5.00")
	inv := postSell(t, ctx, posting, "2024-03-02", 1, "5", "20.00")

	p, err := payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("100"),
		CurrencyCode: "USD",
		PaymentDate:  "2024-03-10",
	})
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	sum, err := payments.GetInvoicePaymentSummary(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoicePaymentSummary failed: %v", err)
	}
	if sum.PaymentStatus != core.PaymentStatusPaid {
		t.Fatalf("precondition: invoice should be paid, got %s", sum.PaymentStatus)
	}

	if err := payments.DeletePayment(ctx, p.ID); err != nil {
		t.Fatalf("DeletePayment failed: %v", err)
	}

	sum, err = payments.GetInvoicePaymentSummary(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoicePaymentSummary failed: %v", err)
	}
	if sum.PaymentStatus != core.PaymentStatusPending {
		t.Errorf("status after delete: got %s, want pending", sum.PaymentStatus)
	}
	if !sum.AmountPaid.IsZero() {
		t.Errorf("amount paid after delete: got %s, want 0", sum.AmountPaid)
	}
}

func TestPayments_EditInvoiceRederivesStatus(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	payments := core.NewPaymentService(pool)

	postBuy(t, ctx, posting, "2024-03-01", 1, "20", "5.00")
	inv, err := posting.PostInvoice(ctx, core.InvoiceInput{
		InvoiceType: core.InvoiceTypeSell,
		InvoiceDate: "2024-03-02",
		DueDate:     "2024-03-09",
		Lines: []core.InvoiceLineInput{
			{ProductID: 1, Quantity: dec("5"), UnitPrice: dec("20.00")},
		},
	})
	if err != nil {
		t.Fatalf("PostInvoice failed: %v", err)
	}

	if _, err := payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("100"),
		CurrencyCode: "USD",
		PaymentDate:  "2024-03-05",
	}); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	// Doubling the total demotes the fully settled invoice to partial.
	edited, err := posting.EditInvoice(ctx, inv.ID, core.InvoiceInput{
		InvoiceType: core.InvoiceTypeSell,
		InvoiceDate: "2024-03-02",
		DueDate:     "2024-03-09",
		Lines: []core.InvoiceLineInput{
			{ProductID: 1, Quantity: dec("10"), UnitPrice: dec("20.00")},
		},
	})
	if err != nil {
		t.Fatalf("EditInvoice failed: %v", err)
	}
	if edited.PaymentStatus != core.PaymentStatusPartial {
		t.Errorf("status after edit: got %s, want partial", edited.PaymentStatus)
	}

	sum, err := payments.GetInvoicePaymentSummary(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoicePaymentSummary failed: %v", err)
	}
	if !sum.AmountPaid.Equal(dec("100")) || !sum.RemainingBalance.Equal(dec("100")) {
		t.Errorf("summary after edit: paid=%s remaining=%s, want 100 / 100", sum.AmountPaid, sum.RemainingBalance)
	}

	// With a balance reopened and the due date past, the invoice is overdue
	// again.
	overdue, err := payments.GetOverdueInvoices(ctx)
	if err != nil {
		t.Fatalf("GetOverdueInvoices failed: %v", err)
	}
	if len(overdue) != 1 || overdue[0].InvoiceID != inv.ID {
		t.Fatalf("expected invoice %d in overdue listing after edit, got %+v", inv.ID, overdue)
	}
	if !overdue[0].RemainingBalance.Equal(dec("100")) {
		t.Errorf("overdue remaining after edit: got %s, want 100", overdue[0].RemainingBalance)
	}
}

func TestPayments_OverdueListingTracksSettlement(t *testing.T) {
	pool, ctx := setupLedgerTestDB(t)
	posting := core.NewPostingService(pool, true)
	payments := core.NewPaymentService(pool)

	postBuy(t, ctx, posting, "2024-03-01", 1, "10", "5.00")

	// Past due date, unpaid.
	inv, err := posting.PostInvoice(ctx, core.InvoiceInput{
		InvoiceType: core.InvoiceTypeSell,
		InvoiceDate: "2024-03-02",
		DueDate:     "2024-03-09",
		Lines: []core.InvoiceLineInput{
			{ProductID: 1, Quantity: dec("5"), UnitPrice: dec("20.00")},
		},
	})
	if err != nil {
		t.Fatalf("PostInvoice failed: %v", err)
	}

	overdue, err := payments.GetOverdueInvoices(ctx)
	if err != nil {
		t.Fatalf("GetOverdueInvoices failed: %v", err)
	}
	if len(overdue) != 1 || overdue[0].InvoiceID != inv.ID {
		t.Fatalf("expected invoice %d in overdue listing, got %+v", inv.ID, overdue)
	}
	if !overdue[0].RemainingBalance.Equal(dec("100")) {
		t.Errorf("overdue remaining: got %s, want 100", overdue[0].RemainingBalance)
	}

	// Paying within epsilon of the total clears it from the listing.
	if _, err := payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:    inv.ID,
		PaidAmount:   dec("99.995"),
		CurrencyCode: "USD",
		PaymentDate:  "2024-03-15",
	}); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	overdue, err = payments.GetOverdueInvoices(ctx)
	if err != nil {
		t.Fatalf("GetOverdueInvoices failed: %v", err)
	}
	if len(overdue) != 0 {
		t.Errorf("settled invoice still listed as overdue: %+v", overdue)
	}
}
