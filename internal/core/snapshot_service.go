package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// snapshotWorkers bounds per-product parallelism inside RunDaily.
const snapshotWorkers = 4

// BackfillReport aggregates the outcome of a multi-date backfill. A failed
// date never blocks the remaining dates; the failures are collected here.
type BackfillReport struct {
	DatesProcessed []string
	Failures       map[string]error
}

// Err returns the joined failure set, or nil when every date succeeded.
func (r *BackfillReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for date, err := range r.Failures {
		errs = append(errs, fmt.Errorf("backfill %s: %w", date, err))
	}
	return errors.Join(errs...)
}

// SnapshotService materializes daily point-in-time stock positions. It is an
// idempotent, externally triggered operation parameterized by a target date
// rather than a hidden midnight timer, so it can be tested deterministically
// and re-run after downtime.
type SnapshotService interface {
	// RunDaily upserts the snapshot row for targetDate (the in-progress day)
	// for every product that has ledger movements, from the product's
	// current position. Safe to call repeatedly as postings land. Dates
	// missed since the newest snapshot are backfilled from the ledger
	// first, and a targetDate that is already closed is itself rebuilt by
	// replay rather than overwritten with the current position.
	RunDaily(ctx context.Context, targetDate string) error

	// Backfill writes the snapshot for every date in [fromDate, toDate] that
	// is missing, reconstructing each day's state by replaying the ledger,
	// never by copying today's position backward. Closed dates are
	// write-once: existing rows are left untouched.
	Backfill(ctx context.Context, fromDate, toDate string) (*BackfillReport, error)

	// GetSnapshots returns snapshot rows for a date range, newest date first.
	GetSnapshots(ctx context.Context, fromDate, toDate string) ([]DailySnapshot, error)
}

type snapshotService struct {
	pool *pgxpool.Pool
}

func NewSnapshotService(pool *pgxpool.Pool) SnapshotService {
	return &snapshotService{pool: pool}
}

func (s *snapshotService) RunDaily(ctx context.Context, targetDate string) error {
	target, err := time.Parse("2006-01-02", targetDate)
	if err != nil {
		return fmt.Errorf("invalid target date %q: %w", targetDate, err)
	}

	if err := s.healMissedDates(ctx, target); err != nil {
		return err
	}

	// A target before the current day is closed: rebuild it by ledger replay
	// (write-once) instead of stamping today's position onto a past date.
	if targetDate < time.Now().Format("2006-01-02") {
		return s.backfillDate(ctx, targetDate)
	}

	rows, err := s.pool.Query(ctx, "SELECT DISTINCT product_id FROM stock_movements ORDER BY product_id")
	if err != nil {
		return fmt.Errorf("failed to list products with movements: %w", err)
	}
	var productIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan product id: %w", err)
		}
		productIDs = append(productIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating products: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotWorkers)
	for _, productID := range productIDs {
		productID := productID
		g.Go(func() error {
			return s.snapshotProduct(gctx, productID, targetDate)
		})
	}
	return g.Wait()
}

// snapshotProduct reads the position and writes the snapshot inside one
// transaction, under the shared ledger lock, so the row never reflects a
// half-applied posting and recompute never interleaves.
func (s *snapshotService) snapshotProduct(ctx context.Context, productID int, targetDate string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock_shared($1)", ledgerLockID); err != nil {
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}

	var pos Position
	err = tx.QueryRow(ctx, `
		SELECT product_id, available_qty, avg_cost
		FROM product_positions
		WHERE product_id = $1
		FOR SHARE
	`, productID).Scan(&pos.ProductID, &pos.AvailableQty, &pos.AvgCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Movements without a position row only happen mid-recompute;
			// the next run will pick the product up.
			return nil
		}
		return fmt.Errorf("failed to read position for product %d: %w", productID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_stock_snapshots (product_id, snapshot_date, available_qty, avg_cost)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, snapshot_date)
		DO UPDATE SET available_qty = EXCLUDED.available_qty,
		              avg_cost     = EXCLUDED.avg_cost,
		              updated_at   = NOW()
	`, productID, targetDate, pos.AvailableQty, pos.AvgCost)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot for product %d: %w", productID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot for product %d: %w", productID, err)
	}
	return nil
}

// healMissedDates replays the ledger for every date after the newest snapshot
// and before target, so a scheduler that was down for a few days fills the
// gap on its next invocation. With no snapshots at all the replay starts at
// the earliest movement date.
func (s *snapshotService) healMissedDates(ctx context.Context, target time.Time) error {
	var newest *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT MAX(snapshot_date) FROM daily_stock_snapshots WHERE snapshot_date < $1",
		target.Format("2006-01-02"),
	).Scan(&newest)
	if err != nil {
		return fmt.Errorf("failed to find newest snapshot date: %w", err)
	}

	var from time.Time
	if newest != nil {
		from = newest.AddDate(0, 0, 1)
	} else {
		var firstMovement *time.Time
		err := s.pool.QueryRow(ctx, "SELECT MIN(invoice_date) FROM stock_movements").Scan(&firstMovement)
		if err != nil {
			return fmt.Errorf("failed to find earliest movement date: %w", err)
		}
		if firstMovement == nil {
			return nil
		}
		from = *firstMovement
	}

	for d := from; d.Before(target); d = d.AddDate(0, 0, 1) {
		if err := s.backfillDate(ctx, d.Format("2006-01-02")); err != nil {
			return fmt.Errorf("failed to heal missed date %s: %w", d.Format("2006-01-02"), err)
		}
	}
	return nil
}

func (s *snapshotService) Backfill(ctx context.Context, fromDate, toDate string) (*BackfillReport, error) {
	from, err := time.Parse("2006-01-02", fromDate)
	if err != nil {
		return nil, fmt.Errorf("invalid from date %q: %w", fromDate, err)
	}
	to, err := time.Parse("2006-01-02", toDate)
	if err != nil {
		return nil, fmt.Errorf("invalid to date %q: %w", toDate, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("to date %s precedes from date %s", toDate, fromDate)
	}

	report := &BackfillReport{Failures: map[string]error{}}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		if err := s.backfillDate(ctx, date); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failures[date] = err
			continue
		}
		report.DatesProcessed = append(report.DatesProcessed, date)
	}
	return report, nil
}

// backfillDate reconstructs every product's position as of the end of one
// date by folding the date-filtered ledger, then writes the missing snapshot
// rows. Existing rows (closed dates) are never overwritten.
func (s *snapshotService) backfillDate(ctx context.Context, date string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock_shared($1)", ledgerLockID); err != nil {
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}

	positions, err := replayPositionsAsOf(ctx, tx, date)
	if err != nil {
		return err
	}

	for productID, pos := range positions {
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_stock_snapshots (product_id, snapshot_date, available_qty, avg_cost)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (product_id, snapshot_date) DO NOTHING
		`, productID, date, pos.AvailableQty, pos.AvgCost)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot for product %d: %w", productID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit backfill: %w", err)
	}
	return nil
}

func (s *snapshotService) GetSnapshots(ctx context.Context, fromDate, toDate string) ([]DailySnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, snapshot_date, available_qty, avg_cost, created_at, updated_at
		FROM daily_stock_snapshots
		WHERE snapshot_date >= $1 AND snapshot_date <= $2
		ORDER BY snapshot_date DESC, product_id
	`, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []DailySnapshot
	for rows.Next() {
		var sn DailySnapshot
		if err := rows.Scan(&sn.ID, &sn.ProductID, &sn.Date, &sn.AvailableQty,
			&sn.AvgCost, &sn.CreatedAt, &sn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}
	return snaps, nil
}

// replayPositionsAsOf folds every movement with invoice_date <= date, in
// ledger order, into per-product positions. Movements dated after the cutoff
// are excluded even when they were written earlier (late postings for future
// invoices do not belong in a past day's state).
func replayPositionsAsOf(ctx context.Context, tx pgx.Tx, date string) (map[int]Position, error) {
	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity_change, unit_cost
		FROM stock_movements
		WHERE invoice_date <= $1
		ORDER BY product_id, id
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements up to %s: %w", date, err)
	}
	defer rows.Close()

	positions := map[int]Position{}
	for rows.Next() {
		var m Movement
		var unitCost decimal.NullDecimal
		if err := rows.Scan(&m.ProductID, &m.QuantityChange, &unitCost); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		if unitCost.Valid {
			m.UnitCost = &unitCost.Decimal
		}

		pos, ok := positions[m.ProductID]
		if !ok {
			pos = Position{ProductID: m.ProductID}
		}
		positions[m.ProductID] = FoldMovement(pos, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movements: %w", err)
	}
	return positions, nil
}
