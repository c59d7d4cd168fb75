package core_test

import (
	"context"
	"os"
	"testing"

	"stockbook/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// setupLedgerTestDB connects to the dedicated test database, applies the
// schema, and seeds a minimal product catalog plus the base-currency rate.
// Set TEST_DATABASE_URL to run integration tests; they skip otherwise.
func setupLedgerTestDB(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE payments, invoice_lines, invoices, stock_movements,
		               daily_stock_snapshots, product_positions, exchange_rates, products
		RESTART IDENTITY CASCADE;

		INSERT INTO products (id, code, name) VALUES
		(1, 'P001', 'Widget A'),
		(2, 'P002', 'Widget B'),
		(3, 'P003', 'Widget C');
		SELECT setval('products_id_seq', 3);

		INSERT INTO exchange_rates (currency_code, rate_to_usd, effective_date, is_active) VALUES
		('USD', 1.0,  '2000-01-01', true),
		('EUR', 0.90, '2024-01-01', true);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool, ctx
}

// getPosition reads the raw stored position for a product.
func getPosition(t *testing.T, ctx context.Context, pool *pgxpool.Pool, productID int) (qty, avg decimal.Decimal) {
	t.Helper()
	err := pool.QueryRow(ctx,
		"SELECT available_qty, avg_cost FROM product_positions WHERE product_id = $1",
		productID,
	).Scan(&qty, &avg)
	if err != nil {
		t.Fatalf("Failed to read position for product %d: %v", productID, err)
	}
	return qty, avg
}

// postBuy posts a one-line buy invoice and returns it.
func postBuy(t *testing.T, ctx context.Context, svc core.PostingService, date string, productID int, qty, unitPrice string) *core.Invoice {
	t.Helper()
	inv, err := svc.PostInvoice(ctx, core.InvoiceInput{
		InvoiceType: core.InvoiceTypeBuy,
		InvoiceDate: date,
		Lines: []core.InvoiceLineInput{
			{ProductID: productID, Quantity: dec(qty), UnitPrice: dec(unitPrice)},
		},
	})
	if err != nil {
		t.Fatalf("PostInvoice(buy) failed: %v", err)
	}
	return inv
}

// postSell posts a one-line sell invoice and returns it.
func postSell(t *testing.T, ctx context.Context, svc core.PostingService, date string, productID int, qty, unitPrice string) *core.Invoice {
	t.Helper()
	inv, err := svc.PostInvoice(ctx, core.InvoiceInput{
		InvoiceType: core.InvoiceTypeSell,
		InvoiceDate: date,
		Lines: []core.InvoiceLineInput{
			{ProductID: productID, Quantity: dec(qty), UnitPrice: dec(unitPrice)},
		},
	})
	if err != nil {
		t.Fatalf("PostInvoice(sell) failed: %v", err)
	}
	return inv
}
