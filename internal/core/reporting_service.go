package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PositionView is one row of the current-stock read contract. AvgCost is
// reported as zero when the quantity is zero (the stored value is undefined
// there).
type PositionView struct {
	ProductID    int
	ProductCode  string
	ProductName  string
	AvailableQty decimal.Decimal
	AvgCost      decimal.Decimal
	UpdatedAt    time.Time
}

// HistoryRow is one product-day of the snapshot history read contract.
type HistoryRow struct {
	ProductID    int
	ProductCode  string
	ProductName  string
	Date         time.Time
	AvailableQty decimal.Decimal
	AvgCost      decimal.Decimal
	UpdatedAt    time.Time
}

// MovementRow is one ledger row of the movement-history read contract.
type MovementRow struct {
	ID             int
	ProductID      int
	ProductCode    string
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

// ReportingService serves the dashboard's read contracts over ledger-derived
// state.
type ReportingService interface {
	// GetTodayPositions returns current positions; productID filters to one
	// product when non-nil.
	GetTodayPositions(ctx context.Context, productID *int) ([]PositionView, error)

	// GetDailyHistory returns snapshot rows in [startDate, endDate],
	// optionally filtered by a product code/name search term.
	GetDailyHistory(ctx context.Context, startDate, endDate, search string) ([]HistoryRow, error)

	// GetLowStock returns positions at or below threshold, lowest first.
	// Zero and negative quantities surface here as the alert state.
	GetLowStock(ctx context.Context, threshold decimal.Decimal) ([]PositionView, error)

	// GetMovements returns the newest ledger rows, optionally bounded by an
	// invoice-date range. limit caps the row count (default 100).
	GetMovements(ctx context.Context, limit int, startDate, endDate string) ([]MovementRow, error)
}

type reportingService struct {
	pool *pgxpool.Pool
}

func NewReportingService(pool *pgxpool.Pool) ReportingService {
	return &reportingService{pool: pool}
}

func (s *reportingService) GetTodayPositions(ctx context.Context, productID *int) ([]PositionView, error) {
	query := `
		SELECT pp.product_id, p.code, p.name, pp.available_qty,
		       CASE WHEN pp.available_qty = 0 THEN 0 ELSE pp.avg_cost END,
		       pp.updated_at
		FROM product_positions pp
		JOIN products p ON p.id = pp.product_id`
	args := []any{}
	if productID != nil {
		query += " WHERE pp.product_id = $1"
		args = append(args, *productID)
	}
	query += " ORDER BY p.code"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var views []PositionView
	for rows.Next() {
		var v PositionView
		if err := rows.Scan(&v.ProductID, &v.ProductCode, &v.ProductName,
			&v.AvailableQty, &v.AvgCost, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *reportingService) GetDailyHistory(ctx context.Context, startDate, endDate, search string) ([]HistoryRow, error) {
	if _, err := time.Parse("2006-01-02", startDate); err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	if _, err := time.Parse("2006-01-02", endDate); err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}

	query := `
		SELECT s.product_id, p.code, p.name, s.snapshot_date, s.available_qty,
		       CASE WHEN s.available_qty = 0 THEN 0 ELSE s.avg_cost END,
		       s.updated_at
		FROM daily_stock_snapshots s
		JOIN products p ON p.id = s.product_id
		WHERE s.snapshot_date >= $1 AND s.snapshot_date <= $2`
	args := []any{startDate, endDate}
	if search != "" {
		query += " AND (p.code ILIKE $3 OR p.name ILIKE $3)"
		args = append(args, "%"+search+"%")
	}
	query += " ORDER BY s.snapshot_date DESC, p.code"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily history: %w", err)
	}
	defer rows.Close()

	var history []HistoryRow
	for rows.Next() {
		var h HistoryRow
		if err := rows.Scan(&h.ProductID, &h.ProductCode, &h.ProductName,
			&h.Date, &h.AvailableQty, &h.AvgCost, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		history = append(history, h)
	}
	return history, nil
}

func (s *reportingService) GetLowStock(ctx context.Context, threshold decimal.Decimal) ([]PositionView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pp.product_id, p.code, p.name, pp.available_qty,
		       CASE WHEN pp.available_qty = 0 THEN 0 ELSE pp.avg_cost END,
		       pp.updated_at
		FROM product_positions pp
		JOIN products p ON p.id = pp.product_id
		WHERE pp.available_qty <= $1
		ORDER BY pp.available_qty, p.code
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock: %w", err)
	}
	defer rows.Close()

	var views []PositionView
	for rows.Next() {
		var v PositionView
		if err := rows.Scan(&v.ProductID, &v.ProductCode, &v.ProductName,
			&v.AvailableQty, &v.AvgCost, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan low stock row: %w", err)
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *reportingService) GetMovements(ctx context.Context, limit int, startDate, endDate string) ([]MovementRow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT m.id, m.product_id, p.code, m.invoice_id, m.invoice_date,
		       m.quantity_before, m.quantity_change, m.quantity_after,
		       m.unit_cost, m.avg_cost_after, m.is_reversal, m.negative_stock,
		       m.created_at
		FROM stock_movements m
		JOIN products p ON p.id = m.product_id`
	args := []any{}
	cond := ""
	if startDate != "" {
		args = append(args, startDate)
		cond += fmt.Sprintf(" m.invoice_date >= $%d", len(args))
	}
	if endDate != "" {
		if cond != "" {
			cond += " AND"
		}
		args = append(args, endDate)
		cond += fmt.Sprintf(" m.invoice_date <= $%d", len(args))
	}
	if cond != "" {
		query += " WHERE" + cond
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY m.id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []MovementRow
	for rows.Next() {
		var m MovementRow
		var unitCost decimal.NullDecimal
		if err := rows.Scan(&m.ID, &m.ProductID, &m.ProductCode, &m.InvoiceID, &m.InvoiceDate,
			&m.QuantityBefore, &m.QuantityChange, &m.QuantityAfter,
			&unitCost, &m.AvgCostAfter, &m.IsReversal, &m.NegativeStock,
			&m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement row: %w", err)
		}
		if unitCost.Valid {
			m.UnitCost = &unitCost.Decimal
		}
		movements = append(movements, m)
	}
	return movements, nil
}
