package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/ledger"
	"laybyku/backend/internal/store"
)

var transactionCSVHeader = []string{
	"Transaction Number",
	"Date",
	"Type",
	"Customer",
	"Description",
	"Payment Method",
	"Amount",
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	filter.StoreID = s.storeFor(ctx)
	filter.Type = strings.ToLower(strings.TrimSpace(filter.Type))
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Type != "" && !isTransactionType(filter.Type) {
		return nil, fmt.Errorf("%w: unknown transaction type %q", store.ErrInvalidTransaction, filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", store.ErrInvalidTransaction)
	}
	return s.repo.ListTransactions(ctx, filter)
}

// ExportTransactionsCSV renders the filtered transactions with amounts in
// currency units. Refunds are written as negative amounts.
func (s *Service) ExportTransactionsCSV(ctx context.Context, filter domain.TransactionFilter) ([]byte, error) {
	transactions, err := s.ListTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(transactionCSVHeader); err != nil {
		return nil, err
	}
	for _, txn := range transactions {
		record := []string{
			txn.TransactionNumber,
			txn.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			txn.Type,
			txn.CustomerName,
			txn.Description,
			defaultString(txn.PaymentMethod, "-"),
			formatCents(signedAmount(txn)),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	s.logAudit(ctx, s.storeFor(ctx), "transactions_export", "transaction", "", fmt.Sprintf("rows=%d", len(transactions)))
	return buf.Bytes(), nil
}

// DashboardSummary is served from the cache when a fresh copy exists.
// Cache errors only cost a recompute.
func (s *Service) DashboardSummary(ctx context.Context) (domain.DashboardSummary, error) {
	storeID := s.storeFor(ctx)
	cacheCtx := s.log.WithField(ctx, "store_id", storeID)

	if cached, ok, err := s.dashboards.Get(ctx, storeID); err != nil {
		s.log.Warn(s.log.WithField(cacheCtx, "error", err.Error()), "dashboard cache read failed")
	} else if ok {
		return *cached, nil
	}

	orders, err := s.repo.ListLaybys(ctx, domain.LaybyFilter{StoreID: storeID})
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	now := s.now().UTC()
	dayStart := now.Truncate(24 * time.Hour)
	transactions, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{
		StoreID: storeID,
		From:    dayStart,
		To:      dayStart.Add(24 * time.Hour),
	})
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	byType := make(map[string]*domain.DashboardTypeTotal)
	todayCents := int64(0)
	for _, txn := range transactions {
		total, ok := byType[txn.Type]
		if !ok {
			total = &domain.DashboardTypeTotal{Type: txn.Type}
			byType[txn.Type] = total
		}
		total.Transactions++
		total.TotalCents += txn.AmountCents
		todayCents += signedAmount(txn)
	}
	totals := make([]domain.DashboardTypeTotal, 0, len(byType))
	for _, total := range byType {
		totals = append(totals, *total)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Type < totals[j].Type })

	summary := domain.DashboardSummary{
		StoreID:     storeID,
		Date:        dayStart.Format("2006-01-02"),
		Laybys:      ledger.Classify(orders),
		TodayByType: totals,
		TodayCents:  todayCents,
		GeneratedAt: now.Format(time.RFC3339),
	}
	if err := s.dashboards.Set(ctx, storeID, &summary, s.dashboardTTL); err != nil {
		s.log.Warn(s.log.WithField(cacheCtx, "error", err.Error()), "dashboard cache write failed")
	}
	return summary, nil
}

func signedAmount(txn domain.Transaction) int64 {
	if txn.Type == domain.TxTypeRefund {
		return -txn.AmountCents
	}
	return txn.AmountCents
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func isTransactionType(value string) bool {
	switch value {
	case domain.TxTypeSale, domain.TxTypeLaybyDeposit, domain.TxTypeLaybyPayment,
		domain.TxTypeLaybyInterest, domain.TxTypeRefund, domain.TxTypeAdjustment:
		return true
	default:
		return false
	}
}
