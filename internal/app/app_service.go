package app

import (
	"context"
	"fmt"

	"stockbook/internal/core"

	"github.com/shopspring/decimal"
)

type appService struct {
	posting   core.PostingService
	payments  core.PaymentService
	rates     core.RateService
	snapshots core.SnapshotService
	recompute core.RecomputeService
	reporting core.ReportingService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	posting core.PostingService,
	payments core.PaymentService,
	rates core.RateService,
	snapshots core.SnapshotService,
	recompute core.RecomputeService,
	reporting core.ReportingService,
) ApplicationService {
	return &appService{
		posting:   posting,
		payments:  payments,
		rates:     rates,
		snapshots: snapshots,
		recompute: recompute,
		reporting: reporting,
	}
}

func (s *appService) GetPositions(ctx context.Context, productID *int) (*PositionListResult, error) {
	positions, err := s.reporting.GetTodayPositions(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &PositionListResult{Positions: positions}, nil
}

func (s *appService) GetDailyHistory(ctx context.Context, startDate, endDate, search string) (*HistoryResult, error) {
	rows, err := s.reporting.GetDailyHistory(ctx, startDate, endDate, search)
	if err != nil {
		return nil, err
	}
	return &HistoryResult{Rows: rows}, nil
}

func (s *appService) GetLowStock(ctx context.Context, threshold decimal.Decimal) (*PositionListResult, error) {
	positions, err := s.reporting.GetLowStock(ctx, threshold)
	if err != nil {
		return nil, err
	}
	return &PositionListResult{Positions: positions}, nil
}

func (s *appService) GetMovements(ctx context.Context, limit int, startDate, endDate string) (*MovementListResult, error) {
	movements, err := s.reporting.GetMovements(ctx, limit, startDate, endDate)
	if err != nil {
		return nil, err
	}
	return &MovementListResult{Movements: movements}, nil
}

func (s *appService) CreateInvoice(ctx context.Context, req InvoiceRequest) (*InvoiceResult, error) {
	input, err := toInvoiceInput(req)
	if err != nil {
		return nil, err
	}
	inv, err := s.posting.PostInvoice(ctx, input)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) UpdateInvoice(ctx context.Context, invoiceID int, req InvoiceRequest) (*InvoiceResult, error) {
	input, err := toInvoiceInput(req)
	if err != nil {
		return nil, err
	}
	inv, err := s.posting.EditInvoice(ctx, invoiceID, input)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) DeleteInvoice(ctx context.Context, invoiceID int) error {
	return s.posting.DeleteInvoice(ctx, invoiceID)
}

func (s *appService) GetInvoice(ctx context.Context, invoiceID int) (*InvoiceResult, error) {
	inv, err := s.posting.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) RecordPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	payment, err := s.payments.RecordPayment(ctx, core.PaymentInput{
		InvoiceID:     req.InvoiceID,
		PaidAmount:    req.PaidAmount,
		CurrencyCode:  req.CurrencyCode,
		PaymentDate:   req.PaymentDate,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		return nil, err
	}
	summary, err := s.payments.GetInvoicePaymentSummary(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Payment: payment, Summary: summary}, nil
}

func (s *appService) DeletePayment(ctx context.Context, paymentID int) error {
	return s.payments.DeletePayment(ctx, paymentID)
}

func (s *appService) ListPayments(ctx context.Context, invoiceID int) (*PaymentListResult, error) {
	payments, err := s.payments.ListPayments(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &PaymentListResult{Payments: payments}, nil
}

func (s *appService) GetPaymentSummary(ctx context.Context, invoiceID int) (*PaymentSummaryResult, error) {
	summary, err := s.payments.GetInvoicePaymentSummary(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &PaymentSummaryResult{Summary: summary}, nil
}

func (s *appService) GetOverdueInvoices(ctx context.Context) (*OverdueListResult, error) {
	invoices, err := s.payments.GetOverdueInvoices(ctx)
	if err != nil {
		return nil, err
	}
	return &OverdueListResult{Invoices: invoices}, nil
}

func (s *appService) UpsertExchangeRate(ctx context.Context, req RateRequest) (*RateResult, error) {
	rate, err := s.rates.UpsertRate(ctx, req.CurrencyCode, req.RateToUSD, req.EffectiveDate)
	if err != nil {
		return nil, err
	}
	return &RateResult{Rate: rate}, nil
}

func (s *appService) DeactivateExchangeRate(ctx context.Context, rateID int) error {
	return s.rates.DeactivateRate(ctx, rateID)
}

func (s *appService) ListExchangeRates(ctx context.Context, currencyCode string) (*RateListResult, error) {
	rates, err := s.rates.ListRates(ctx, currencyCode)
	if err != nil {
		return nil, err
	}
	return &RateListResult{Rates: rates}, nil
}

func (s *appService) RunDailySnapshot(ctx context.Context, targetDate string) error {
	return s.snapshots.RunDaily(ctx, targetDate)
}

func (s *appService) BackfillSnapshots(ctx context.Context, fromDate, toDate string) (*BackfillResult, error) {
	report, err := s.snapshots.Backfill(ctx, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	result := &BackfillResult{DatesProcessed: report.DatesProcessed}
	if len(report.Failures) > 0 {
		result.Failures = make(map[string]string, len(report.Failures))
		for date, ferr := range report.Failures {
			result.Failures[date] = ferr.Error()
		}
	}
	return result, nil
}

func (s *appService) Recompute(ctx context.Context, productIDs []int) (*RecomputeResult, error) {
	res, err := s.recompute.Recompute(ctx, core.RecomputeScope{ProductIDs: productIDs})
	if err != nil {
		return nil, err
	}
	return &RecomputeResult{
		InvoicesReplayed:   res.InvoicesReplayed,
		MovementsWritten:   res.MovementsWritten,
		SnapshotsWritten:   res.SnapshotsWritten,
		ProductsRecomputed: res.ProductsRecomputed,
	}, nil
}

func (s *appService) VerifyLedger(ctx context.Context) error {
	return s.recompute.VerifyChain(ctx)
}

func toInvoiceInput(req InvoiceRequest) (core.InvoiceInput, error) {
	invoiceType := core.InvoiceType(req.InvoiceType)
	if invoiceType != core.InvoiceTypeSell && invoiceType != core.InvoiceTypeBuy {
		return core.InvoiceInput{}, fmt.Errorf("invalid invoice type %q", req.InvoiceType)
	}
	input := core.InvoiceInput{
		InvoiceType: invoiceType,
		InvoiceDate: req.InvoiceDate,
		DueDate:     req.DueDate,
		Lines:       make([]core.InvoiceLineInput, 0, len(req.Lines)),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, core.InvoiceLineInput{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return input, nil
}
