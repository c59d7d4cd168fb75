package web

import (
	"fmt"
	"net/http"

	"stockbook/internal/app"
	"stockbook/internal/core"

	"github.com/shopspring/decimal"
)

type invoiceLineJSON struct {
	ID        int             `json:"id,omitempty"`
	ProductID int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type invoiceJSON struct {
	ID            int               `json:"id"`
	InvoiceType   string            `json:"invoice_type"`
	InvoiceDate   string            `json:"invoice_date"`
	DueDate       string            `json:"due_date,omitempty"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	AmountPaid    decimal.Decimal   `json:"amount_paid"`
	Remaining     decimal.Decimal   `json:"remaining_balance"`
	PaymentStatus string            `json:"payment_status"`
	IsDeleted     bool              `json:"is_deleted"`
	Lines         []invoiceLineJSON `json:"lines,omitempty"`
}

func toInvoiceJSON(inv *core.Invoice) invoiceJSON {
	out := invoiceJSON{
		ID:            inv.ID,
		InvoiceType:   string(inv.InvoiceType),
		InvoiceDate:   inv.InvoiceDate.Format("2006-01-02"),
		TotalAmount:   inv.TotalAmount,
		AmountPaid:    inv.AmountPaid,
		Remaining:     inv.RemainingBalance(),
		PaymentStatus: string(inv.PaymentStatus),
		IsDeleted:     inv.IsDeleted,
	}
	if inv.DueDate != nil {
		out.DueDate = inv.DueDate.Format("2006-01-02")
	}
	for _, l := range inv.Lines {
		out.Lines = append(out.Lines, invoiceLineJSON{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return out
}

type invoiceBody struct {
	InvoiceType string `json:"invoice_type"`
	InvoiceDate string `json:"invoice_date"`
	DueDate     string `json:"due_date"`
	Lines       []struct {
		ProductID int    `json:"product_id"`
		Quantity  string `json:"quantity"`
		UnitPrice string `json:"unit_price"`
	} `json:"lines"`
}

func (b *invoiceBody) toRequest(w http.ResponseWriter, r *http.Request) (app.InvoiceRequest, bool) {
	if b.InvoiceType != "sell" && b.InvoiceType != "buy" {
		writeError(w, r, "invoice_type must be \"sell\" or \"buy\"", "BAD_REQUEST", http.StatusBadRequest)
		return app.InvoiceRequest{}, false
	}
	if b.InvoiceDate == "" {
		writeError(w, r, "invoice_date is required", "BAD_REQUEST", http.StatusBadRequest)
		return app.InvoiceRequest{}, false
	}
	if len(b.Lines) == 0 {
		writeError(w, r, "at least one line is required", "BAD_REQUEST", http.StatusBadRequest)
		return app.InvoiceRequest{}, false
	}

	req := app.InvoiceRequest{
		InvoiceType: b.InvoiceType,
		InvoiceDate: b.InvoiceDate,
		DueDate:     b.DueDate,
	}
	for i, l := range b.Lines {
		qty, err := decimal.NewFromString(l.Quantity)
		if err != nil || qty.Sign() <= 0 {
			writeError(w, r, fmt.Sprintf("line %d: invalid quantity", i+1), "BAD_REQUEST", http.StatusBadRequest)
			return app.InvoiceRequest{}, false
		}
		price, err := decimal.NewFromString(l.UnitPrice)
		if err != nil || price.Sign() < 0 {
			writeError(w, r, fmt.Sprintf("line %d: invalid unit_price", i+1), "BAD_REQUEST", http.StatusBadRequest)
			return app.InvoiceRequest{}, false
		}
		req.Lines = append(req.Lines, app.InvoiceLineRequest{
			ProductID: l.ProductID,
			Quantity:  qty,
			UnitPrice: price,
		})
	}
	return req, true
}

// createInvoice handles POST /api/invoices.
// Body: { invoice_type, invoice_date, due_date?, lines: [{product_id, quantity, unit_price}] }
func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var body invoiceBody
	if !decodeJSON(w, r, &body) {
		return
	}
	req, ok := body.toRequest(w, r)
	if !ok {
		return
	}

	result, err := h.svc.CreateInvoice(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusCreated, toInvoiceJSON(result.Invoice))
}

// updateInvoice handles PUT /api/invoices/{id}.
func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var body invoiceBody
	if !decodeJSON(w, r, &body) {
		return
	}
	req, ok := body.toRequest(w, r)
	if !ok {
		return
	}

	result, err := h.svc.UpdateInvoice(r.Context(), id, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceJSON(result.Invoice))
}

// deleteInvoice handles DELETE /api/invoices/{id}.
func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteInvoice(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// getInvoice handles GET /api/invoices/{id}.
func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetInvoice(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceJSON(result.Invoice))
}
