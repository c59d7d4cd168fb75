package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"stockbook/internal/app"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps JSON request bodies; invoice payloads are small.
const maxBodyBytes = 1 << 20

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins string) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(maxBodyBytes))

	r.Get("/api/health", h.health)

	// Inventory reads
	r.Get("/api/stock/positions", h.listPositions)
	r.Get("/api/stock/history", h.dailyHistory)
	r.Get("/api/stock/low", h.lowStock)
	r.Get("/api/stock/movements", h.listMovements)

	// Invoice lifecycle
	r.Post("/api/invoices", h.createInvoice)
	r.Get("/api/invoices/overdue", h.overdueInvoices)
	r.Get("/api/invoices/{id}", h.getInvoice)
	r.Put("/api/invoices/{id}", h.updateInvoice)
	r.Delete("/api/invoices/{id}", h.deleteInvoice)

	// Payments
	r.Post("/api/payments", h.recordPayment)
	r.Delete("/api/payments/{id}", h.deletePayment)
	r.Get("/api/invoices/{id}/payments", h.listPayments)
	r.Get("/api/invoices/{id}/payment-summary", h.paymentSummary)

	// Exchange rates
	r.Get("/api/rates", h.listRates)
	r.Post("/api/rates", h.upsertRate)
	r.Delete("/api/rates/{id}", h.deactivateRate)

	// Admin
	r.Post("/api/admin/snapshots/run", h.runSnapshot)
	r.Post("/api/admin/snapshots/backfill", h.backfillSnapshots)
	r.Post("/api/admin/recompute", h.runRecompute)
	r.Get("/api/admin/ledger/verify", h.verifyLedger)

	h.router = r
	return r
}

// health handles GET /api/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// idParam parses the {id} route parameter and returns false + writes a 400 on failure.
func idParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid id", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
