package web

import (
	"net/http"
	"strconv"

	"stockbook/internal/core"

	"github.com/shopspring/decimal"
)

type positionJSON struct {
	ProductID    int             `json:"product_id"`
	ProductCode  string          `json:"product_code"`
	ProductName  string          `json:"product_name"`
	AvailableQty decimal.Decimal `json:"available_qty"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	UpdatedAt    string          `json:"updated_at"`
}

type historyJSON struct {
	ProductID    int             `json:"product_id"`
	ProductCode  string          `json:"product_code"`
	ProductName  string          `json:"product_name"`
	Date         string          `json:"date"`
	AvailableQty decimal.Decimal `json:"available_qty"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
}

type movementJSON struct {
	ID             int              `json:"id"`
	ProductID      int              `json:"product_id"`
	ProductCode    string           `json:"product_code"`
	InvoiceID      int              `json:"invoice_id"`
	InvoiceDate    string           `json:"invoice_date"`
	QuantityBefore decimal.Decimal  `json:"quantity_before"`
	QuantityChange decimal.Decimal  `json:"quantity_change"`
	QuantityAfter  decimal.Decimal  `json:"quantity_after"`
	UnitCost       *decimal.Decimal `json:"unit_cost,omitempty"`
	AvgCostAfter   decimal.Decimal  `json:"avg_cost_after"`
	IsReversal     bool             `json:"is_reversal"`
	NegativeStock  bool             `json:"negative_stock"`
	CreatedAt      string           `json:"created_at"`
}

func toPositionJSON(p core.PositionView) positionJSON {
	return positionJSON{
		ProductID:    p.ProductID,
		ProductCode:  p.ProductCode,
		ProductName:  p.ProductName,
		AvailableQty: p.AvailableQty,
		AvgCost:      p.AvgCost,
		UpdatedAt:    p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// listPositions handles GET /api/stock/positions?product_id=N.
func (h *Handler) listPositions(w http.ResponseWriter, r *http.Request) {
	var productID *int
	if q := r.URL.Query().Get("product_id"); q != "" {
		id, err := strconv.Atoi(q)
		if err != nil || id <= 0 {
			writeError(w, r, "invalid product_id", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		productID = &id
	}

	result, err := h.svc.GetPositions(r.Context(), productID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]positionJSON, 0, len(result.Positions))
	for _, p := range result.Positions {
		out = append(out, toPositionJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// dailyHistory handles GET /api/stock/history?start=...&end=...&search=....
func (h *Handler) dailyHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if start == "" || end == "" {
		writeError(w, r, "start and end dates are required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.GetDailyHistory(r.Context(), start, end, q.Get("search"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]historyJSON, 0, len(result.Rows))
	for _, row := range result.Rows {
		out = append(out, historyJSON{
			ProductID:    row.ProductID,
			ProductCode:  row.ProductCode,
			ProductName:  row.ProductName,
			Date:         row.Date.Format("2006-01-02"),
			AvailableQty: row.AvailableQty,
			AvgCost:      row.AvgCost,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

// lowStock handles GET /api/stock/low?threshold=N (default 0).
func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold := decimal.Zero
	if q := r.URL.Query().Get("threshold"); q != "" {
		var err error
		threshold, err = decimal.NewFromString(q)
		if err != nil {
			writeError(w, r, "invalid threshold", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}

	result, err := h.svc.GetLowStock(r.Context(), threshold)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]positionJSON, 0, len(result.Positions))
	for _, p := range result.Positions {
		out = append(out, toPositionJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out, "threshold": threshold})
}

// listMovements handles GET /api/stock/movements?limit=N&start=...&end=....
func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, r, "invalid limit", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}

	result, err := h.svc.GetMovements(r.Context(), limit, q.Get("start"), q.Get("end"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]movementJSON, 0, len(result.Movements))
	for _, m := range result.Movements {
		out = append(out, movementJSON{
			ID:             m.ID,
			ProductID:      m.ProductID,
			ProductCode:    m.ProductCode,
			InvoiceID:      m.InvoiceID,
			InvoiceDate:    m.InvoiceDate.Format("2006-01-02"),
			QuantityBefore: m.QuantityBefore,
			QuantityChange: m.QuantityChange,
			QuantityAfter:  m.QuantityAfter,
			UnitCost:       m.UnitCost,
			AvgCostAfter:   m.AvgCostAfter,
			IsReversal:     m.IsReversal,
			NegativeStock:  m.NegativeStock,
			CreatedAt:      m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": out})
}
