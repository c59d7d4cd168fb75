package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RateService manages versioned, currency-keyed exchange rates. RateToUSD is
// expressed as units of currency per 1 USD. The rate in force for a given
// instant is the active row with the most recent effective_date not after
// that instant.
type RateService interface {
	// UpsertRate creates or replaces the rate for (currency, effectiveDate).
	UpsertRate(ctx context.Context, currencyCode string, rateToUSD decimal.Decimal, effectiveDate string) (*ExchangeRate, error)
	// DeactivateRate withdraws a rate version without deleting history.
	DeactivateRate(ctx context.Context, rateID int) error
	// ResolveRate returns the effective rate for currency as of asOf.
	// Fails with ErrNoActiveRate when no active version governs that date.
	ResolveRate(ctx context.Context, currencyCode string, asOf time.Time) (*ExchangeRate, error)
	ListRates(ctx context.Context, currencyCode string) ([]ExchangeRate, error)
}

type rateService struct {
	pool *pgxpool.Pool
}

func NewRateService(pool *pgxpool.Pool) RateService {
	return &rateService{pool: pool}
}

func (s *rateService) UpsertRate(ctx context.Context, currencyCode string, rateToUSD decimal.Decimal, effectiveDate string) (*ExchangeRate, error) {
	currencyCode = strings.ToUpper(strings.TrimSpace(currencyCode))
	if len(currencyCode) != 3 {
		return nil, fmt.Errorf("invalid currency code %q", currencyCode)
	}
	if rateToUSD.Sign() <= 0 {
		return nil, fmt.Errorf("rate must be > 0, got %s", rateToUSD)
	}
	if _, err := time.Parse("2006-01-02", effectiveDate); err != nil {
		return nil, fmt.Errorf("invalid effective date %q: %w", effectiveDate, err)
	}

	var r ExchangeRate
	err := s.pool.QueryRow(ctx, `
		INSERT INTO exchange_rates (currency_code, rate_to_usd, effective_date, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (currency_code, effective_date)
		DO UPDATE SET rate_to_usd = EXCLUDED.rate_to_usd, is_active = true
		RETURNING id, currency_code, rate_to_usd, effective_date, is_active, created_at
	`, currencyCode, rateToUSD, effectiveDate).Scan(
		&r.ID, &r.CurrencyCode, &r.RateToUSD, &r.EffectiveDate, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert rate for %s: %w", currencyCode, err)
	}
	return &r, nil
}

func (s *rateService) DeactivateRate(ctx context.Context, rateID int) error {
	tag, err := s.pool.Exec(ctx, "UPDATE exchange_rates SET is_active = false WHERE id = $1", rateID)
	if err != nil {
		return fmt.Errorf("failed to deactivate rate %d: %w", rateID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rate %d: %w", rateID, ErrNotFound)
	}
	return nil
}

func (s *rateService) ResolveRate(ctx context.Context, currencyCode string, asOf time.Time) (*ExchangeRate, error) {
	return resolveRateQ(ctx, s.pool, currencyCode, asOf)
}

func (s *rateService) ListRates(ctx context.Context, currencyCode string) ([]ExchangeRate, error) {
	query := `
		SELECT id, currency_code, rate_to_usd, effective_date, is_active, created_at
		FROM exchange_rates`
	args := []any{}
	if currencyCode != "" {
		query += " WHERE currency_code = $1"
		args = append(args, strings.ToUpper(strings.TrimSpace(currencyCode)))
	}
	query += " ORDER BY currency_code, effective_date DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var rates []ExchangeRate
	for rows.Next() {
		var r ExchangeRate
		if err := rows.Scan(&r.ID, &r.CurrencyCode, &r.RateToUSD, &r.EffectiveDate, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, nil
}

// querier lets rate resolution run on either the pool or an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func resolveRateQ(ctx context.Context, q querier, currencyCode string, asOf time.Time) (*ExchangeRate, error) {
	currencyCode = strings.ToUpper(strings.TrimSpace(currencyCode))

	var r ExchangeRate
	err := q.QueryRow(ctx, `
		SELECT id, currency_code, rate_to_usd, effective_date, is_active, created_at
		FROM exchange_rates
		WHERE currency_code = $1 AND is_active = true AND effective_date <= $2
		ORDER BY effective_date DESC
		LIMIT 1
	`, currencyCode, asOf.Format("2006-01-02")).Scan(
		&r.ID, &r.CurrencyCode, &r.RateToUSD, &r.EffectiveDate, &r.IsActive, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w for currency %s as of %s",
				ErrNoActiveRate, currencyCode, asOf.Format("2006-01-02"))
		}
		return nil, fmt.Errorf("failed to resolve rate for %s: %w", currencyCode, err)
	}
	return &r, nil
}
