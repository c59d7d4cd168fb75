package web

import (
	"net/http"

	"stockbook/internal/app"
	"stockbook/internal/core"

	"github.com/shopspring/decimal"
)

type rateJSON struct {
	ID            int             `json:"id"`
	CurrencyCode  string          `json:"currency_code"`
	RateToUSD     decimal.Decimal `json:"rate_to_usd"`
	EffectiveDate string          `json:"effective_date"`
	IsActive      bool            `json:"is_active"`
}

func toRateJSON(rate *core.ExchangeRate) rateJSON {
	return rateJSON{
		ID:            rate.ID,
		CurrencyCode:  rate.CurrencyCode,
		RateToUSD:     rate.RateToUSD,
		EffectiveDate: rate.EffectiveDate.Format("2006-01-02"),
		IsActive:      rate.IsActive,
	}
}

// listRates handles GET /api/rates?currency=EUR.
func (h *Handler) listRates(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListExchangeRates(r.Context(), r.URL.Query().Get("currency"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]rateJSON, 0, len(result.Rates))
	for i := range result.Rates {
		out = append(out, toRateJSON(&result.Rates[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": out})
}

// upsertRate handles POST /api/rates.
// Body: { currency_code, rate_to_usd, effective_date }
func (h *Handler) upsertRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrencyCode  string `json:"currency_code"`
		RateToUSD     string `json:"rate_to_usd"`
		EffectiveDate string `json:"effective_date"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	rate, err := decimal.NewFromString(body.RateToUSD)
	if err != nil || rate.Sign() <= 0 {
		writeError(w, r, "rate_to_usd must be a positive decimal", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.EffectiveDate == "" {
		writeError(w, r, "effective_date is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.UpsertExchangeRate(r.Context(), app.RateRequest{
		CurrencyCode:  body.CurrencyCode,
		RateToUSD:     rate,
		EffectiveDate: body.EffectiveDate,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRateJSON(result.Rate))
}

// deactivateRate handles DELETE /api/rates/{id}. The rate version is
// deactivated, not erased: payments stamped with it stay intact.
func (h *Handler) deactivateRate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeactivateExchangeRate(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deactivated": true, "id": id})
}
