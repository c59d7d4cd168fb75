package web

import (
	"net/http"
	"time"
)

// runSnapshot handles POST /api/admin/snapshots/run.
// Body: { target_date? }, defaults to today.
func (h *Handler) runSnapshot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetDate string `json:"target_date"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &body) {
		return
	}
	if body.TargetDate == "" {
		body.TargetDate = time.Now().Format("2006-01-02")
	}

	if err := h.svc.RunDailySnapshot(r.Context(), body.TargetDate); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot_date": body.TargetDate})
}

// backfillSnapshots handles POST /api/admin/snapshots/backfill.
// Body: { from_date, to_date }
func (h *Handler) backfillSnapshots(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FromDate string `json:"from_date"`
		ToDate   string `json:"to_date"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.FromDate == "" || body.ToDate == "" {
		writeError(w, r, "from_date and to_date are required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.BackfillSnapshots(r.Context(), body.FromDate, body.ToDate)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dates_processed": result.DatesProcessed,
		"failures":        result.Failures,
	})
}

// runRecompute handles POST /api/admin/recompute.
// Body: { product_ids? }, empty or absent means every product.
func (h *Handler) runRecompute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductIDs []int `json:"product_ids"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.svc.Recompute(r.Context(), body.ProductIDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoices_replayed":   result.InvoicesReplayed,
		"movements_written":   result.MovementsWritten,
		"snapshots_written":   result.SnapshotsWritten,
		"products_recomputed": result.ProductsRecomputed,
	})
}

// verifyLedger handles GET /api/admin/ledger/verify.
func (h *Handler) verifyLedger(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.VerifyLedger(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ledger": "consistent"})
}
