package web

import (
	"net/http"

	"stockbook/internal/app"
	"stockbook/internal/core"

	"github.com/shopspring/decimal"
)

type paymentJSON struct {
	ID            int             `json:"id"`
	Reference     string          `json:"reference"`
	InvoiceID     int             `json:"invoice_id"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	CurrencyCode  string          `json:"currency_code"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate_on_payment"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	PaymentDate   string          `json:"payment_date"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

type paymentSummaryJSON struct {
	InvoiceID        int             `json:"invoice_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PaymentStatus    string          `json:"payment_status"`
}

func toPaymentJSON(p *core.Payment) paymentJSON {
	return paymentJSON{
		ID:            p.ID,
		Reference:     p.Reference,
		InvoiceID:     p.InvoiceID,
		PaidAmount:    p.PaidAmount,
		CurrencyCode:  p.CurrencyCode,
		ExchangeRate:  p.ExchangeRateOnPayment,
		BaseAmount:    p.BaseAmount,
		PaymentDate:   p.PaymentDate.Format("2006-01-02"),
		PaymentMethod: p.PaymentMethod,
		Notes:         p.Notes,
	}
}

func toSummaryJSON(s *core.PaymentSummary) paymentSummaryJSON {
	return paymentSummaryJSON{
		InvoiceID:        s.InvoiceID,
		TotalAmount:      s.TotalAmount,
		AmountPaid:       s.AmountPaid,
		RemainingBalance: s.RemainingBalance,
		PaymentStatus:    string(s.PaymentStatus),
	}
}

// recordPayment handles POST /api/payments.
// Body: { invoice_id, paid_amount, currency_code, payment_date, payment_method?, notes? }
func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InvoiceID     int    `json:"invoice_id"`
		PaidAmount    string `json:"paid_amount"`
		CurrencyCode  string `json:"currency_code"`
		PaymentDate   string `json:"payment_date"`
		PaymentMethod string `json:"payment_method"`
		Notes         string `json:"notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.InvoiceID <= 0 {
		writeError(w, r, "invoice_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(body.PaidAmount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, r, "paid_amount must be a positive decimal", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.CurrencyCode == "" {
		writeError(w, r, "currency_code is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.PaymentDate == "" {
		writeError(w, r, "payment_date is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.RecordPayment(r.Context(), app.PaymentRequest{
		InvoiceID:     body.InvoiceID,
		PaidAmount:    amount,
		CurrencyCode:  body.CurrencyCode,
		PaymentDate:   body.PaymentDate,
		PaymentMethod: body.PaymentMethod,
		Notes:         body.Notes,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment": toPaymentJSON(result.Payment),
		"summary": toSummaryJSON(result.Summary),
	})
}

// deletePayment handles DELETE /api/payments/{id}.
func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeletePayment(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// listPayments handles GET /api/invoices/{id}/payments.
func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	result, err := h.svc.ListPayments(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]paymentJSON, 0, len(result.Payments))
	for i := range result.Payments {
		out = append(out, toPaymentJSON(&result.Payments[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

// paymentSummary handles GET /api/invoices/{id}/payment-summary.
func (h *Handler) paymentSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetPaymentSummary(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryJSON(result.Summary))
}

// overdueInvoices handles GET /api/invoices/overdue.
func (h *Handler) overdueInvoices(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetOverdueInvoices(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	type overdueJSON struct {
		InvoiceID        int             `json:"invoice_id"`
		InvoiceType      string          `json:"invoice_type"`
		InvoiceDate      string          `json:"invoice_date"`
		DueDate          string          `json:"due_date"`
		TotalAmount      decimal.Decimal `json:"total_amount"`
		AmountPaid       decimal.Decimal `json:"amount_paid"`
		RemainingBalance decimal.Decimal `json:"remaining_balance"`
		PaymentStatus    string          `json:"payment_status"`
	}
	out := make([]overdueJSON, 0, len(result.Invoices))
	for _, inv := range result.Invoices {
		out = append(out, overdueJSON{
			InvoiceID:        inv.InvoiceID,
			InvoiceType:      string(inv.InvoiceType),
			InvoiceDate:      inv.InvoiceDate.Format("2006-01-02"),
			DueDate:          inv.DueDate.Format("2006-01-02"),
			TotalAmount:      inv.TotalAmount,
			AmountPaid:       inv.AmountPaid,
			RemainingBalance: inv.RemainingBalance,
			PaymentStatus:    string(inv.PaymentStatus),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"overdue": out})
}
