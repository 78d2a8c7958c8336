package service

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/ledger"
	"laybyku/backend/internal/store"
	"laybyku/backend/internal/store/memory"
)

const fanSKU = "SKU-KIPAS-01" // 42.500.000 cents

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingCache struct {
	mu          sync.Mutex
	entries     map[string]domain.DashboardSummary
	hits        int
	invalidated int
}

func (c *countingCache) Get(_ context.Context, storeID string) (*domain.DashboardSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[storeID]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &entry, true, nil
}

func (c *countingCache) Set(_ context.Context, storeID string, value *domain.DashboardSummary, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[storeID] = *value
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, storeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, storeID)
	c.invalidated++
	return nil
}

func newTestService() (*Service, *memory.Store, *testClock) {
	repo := memory.NewSeeded()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc := New(repo, nil, "main-store", WithClock(clock.Now))
	return svc, repo, clock
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin", StoreID: "main-store"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier", StoreID: "main-store"})
}

func createFanLayby(t *testing.T, svc *Service, ctx context.Context, rate float64) domain.LaybyOrder {
	t.Helper()
	order, err := svc.CreateLayby(ctx, domain.LaybyCreateRequest{
		CustomerName:        "Siti Rahma",
		CustomerPhone:       "0812000111",
		Items:               []domain.LaybyItemRequest{{SKU: fanSKU, Qty: 1}},
		DepositCents:        5_000_000,
		DepositMethod:       "cash",
		InterestRatePercent: &rate,
	})
	if err != nil {
		t.Fatalf("create layby failed: %v", err)
	}
	return order
}

func fanStock(t *testing.T, repo *memory.Store) int {
	t.Helper()
	stock, err := repo.GetStockMap(context.Background(), "main-store", []string{fanSKU})
	if err != nil {
		t.Fatalf("stock lookup failed: %v", err)
	}
	return stock[fanSKU]
}

func TestCreateLaybyReservesStockAndRecordsDeposit(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := cashierCtx()

	order := createFanLayby(t, svc, ctx, 0)
	if order.LaybyNumber != "LB-000001" {
		t.Fatalf("expected first layby number, got %s", order.LaybyNumber)
	}
	if order.TotalCents != 42_500_000 || order.BalanceCents != 37_500_000 {
		t.Fatalf("unexpected amounts total=%d balance=%d", order.TotalCents, order.BalanceCents)
	}
	if order.Status != domain.LaybyStatusActive || order.Version != 1 || !order.StockReserved {
		t.Fatalf("unexpected order state %+v", order)
	}
	if order.CreatedBy != "cashier" {
		t.Fatalf("expected creator cashier, got %s", order.CreatedBy)
	}
	if got := fanStock(t, repo); got != 24 {
		t.Fatalf("expected reserved stock 24, got %d", got)
	}

	deposits, err := svc.ListTransactions(ctx, domain.TransactionFilter{Type: domain.TxTypeLaybyDeposit})
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(deposits) != 1 || deposits[0].AmountCents != 5_000_000 || deposits[0].ReferenceID != order.ID {
		t.Fatalf("expected one deposit transaction, got %+v", deposits)
	}
}

func TestCreateLaybyValidation(t *testing.T) {
	svc, repo, clock := newTestService()
	ctx := cashierCtx()
	base := domain.LaybyCreateRequest{
		CustomerName:  "Budi",
		Items:         []domain.LaybyItemRequest{{SKU: fanSKU, Qty: 1}},
		DepositCents:  5_000_000,
		DepositMethod: "cash",
	}

	tooSmall := base
	tooSmall.DepositCents = 1_000_000
	if _, err := svc.CreateLayby(ctx, tooSmall); !errors.Is(err, ledger.ErrDepositTooSmall) {
		t.Fatalf("expected deposit too small, got %v", err)
	}

	tooLate := base
	tooLate.DueDate = clock.Now().AddDate(0, 0, 120).Format("2006-01-02")
	if _, err := svc.CreateLayby(ctx, tooLate); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected due date rejection, got %v", err)
	}

	noReference := base
	noReference.DepositMethod = "card"
	if _, err := svc.CreateLayby(ctx, noReference); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected card deposit without reference to fail, got %v", err)
	}

	unknown := base
	unknown.Items = []domain.LaybyItemRequest{{SKU: "SKU-NOPE", Qty: 1}}
	if _, err := svc.CreateLayby(ctx, unknown); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected unknown sku rejection, got %v", err)
	}

	tooMany := base
	tooMany.Items = []domain.LaybyItemRequest{{SKU: fanSKU, Qty: 30}}
	tooMany.DepositCents = 200_000_000
	if _, err := svc.CreateLayby(ctx, tooMany); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if got := fanStock(t, repo); got != 25 {
		t.Fatalf("failed creates must not hold stock, got %d", got)
	}

	explicit := base
	explicit.DueDate = clock.Now().AddDate(0, 0, 30).Format("2006-01-02")
	order, err := svc.CreateLayby(ctx, explicit)
	if err != nil {
		t.Fatalf("explicit due date failed: %v", err)
	}
	if order.DueDate.Format("2006-01-02") != explicit.DueDate {
		t.Fatalf("expected due date %s, got %s", explicit.DueDate, order.DueDate)
	}
}

func TestRecordPaymentThenExplicitCompletion(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx()
	order := createFanLayby(t, svc, ctx, 0)

	first, err := svc.RecordPayment(ctx, domain.LaybyPaymentRequest{
		LaybyID:     order.ID,
		AmountCents: 20_000_000,
		Method:      "qris",
		Reference:   "QR-1",
	})
	if err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	if first.Layby.BalanceCents != 17_500_000 || first.CanComplete {
		t.Fatalf("unexpected state after first payment: balance=%d can_complete=%t", first.Layby.BalanceCents, first.CanComplete)
	}

	if _, err := svc.CompleteLayby(ctx, order.ID, domain.LaybyCompleteRequest{}); !errors.Is(err, ledger.ErrBalanceOutstanding) {
		t.Fatalf("expected outstanding balance error, got %v", err)
	}

	if _, err := svc.RecordPayment(ctx, domain.LaybyPaymentRequest{
		LaybyID:     order.ID,
		AmountCents: 17_500_001,
		Method:      "cash",
	}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected overpayment rejection, got %v", err)
	}

	second, err := svc.RecordPayment(ctx, domain.LaybyPaymentRequest{
		LaybyID:     order.ID,
		AmountCents: 17_500_000,
		Method:      "cash",
	})
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if !second.CanComplete || second.Layby.Status != domain.LaybyStatusActive {
		t.Fatalf("paid-off layby should be completable but still active, got %+v", second.Layby)
	}

	completed, err := svc.CompleteLayby(ctx, order.ID, domain.LaybyCompleteRequest{ExpectedVersion: second.Layby.Version})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Status != domain.LaybyStatusCompleted || completed.CompletionDate == nil {
		t.Fatalf("expected completed layby, got %+v", completed)
	}
}

func TestRecordPaymentReplayAndStaleVersion(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx()
	order := createFanLayby(t, svc, ctx, 0)

	req := domain.LaybyPaymentRequest{
		LaybyID:        order.ID,
		AmountCents:    1_000_000,
		Method:         "cash",
		IdempotencyKey: "pay-1",
	}
	first, err := svc.RecordPayment(ctx, req)
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	replay, err := svc.RecordPayment(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !replay.Duplicate || replay.Payment.ID != first.Payment.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Payment.ID, replay.Payment)
	}
	if replay.Layby.BalanceCents != 36_500_000 {
		t.Fatalf("replay must not charge twice, balance=%d", replay.Layby.BalanceCents)
	}

	payments, err := svc.ListTransactions(ctx, domain.TransactionFilter{Type: domain.TxTypeLaybyPayment})
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected one payment transaction, got %d", len(payments))
	}

	_, err = svc.RecordPayment(ctx, domain.LaybyPaymentRequest{
		LaybyID:         order.ID,
		AmountCents:     1_000_000,
		Method:          "cash",
		ExpectedVersion: order.Version,
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict for stale version, got %v", err)
	}
}

func TestCancelLaybyRetainsFeeAndReleasesStock(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := cashierCtx()
	order := createFanLayby(t, svc, ctx, 0)

	cancelled, err := svc.CancelLayby(ctx, domain.LaybyCancelRequest{
		LaybyID: order.ID,
		Reason:  "customer changed mind",
	})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.LaybyStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.RestockingFeeCents != 500_000 || cancelled.RefundCents != 4_500_000 {
		t.Fatalf("expected 10%% fee split, got fee=%d refund=%d", cancelled.RestockingFeeCents, cancelled.RefundCents)
	}
	if got := fanStock(t, repo); got != 25 {
		t.Fatalf("expected stock back to 25, got %d", got)
	}

	refunds, err := svc.ListTransactions(ctx, domain.TransactionFilter{Type: domain.TxTypeRefund})
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(refunds) != 1 || refunds[0].AmountCents != 4_500_000 {
		t.Fatalf("expected one refund transaction, got %+v", refunds)
	}

	if _, err := svc.CancelLayby(ctx, domain.LaybyCancelRequest{LaybyID: order.ID}); !errors.Is(err, ledger.ErrOrderClosed) {
		t.Fatalf("expected closed order error, got %v", err)
	}
}

func TestOverdueSweepRemindersAndInterest(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := adminCtx()
	order := createFanLayby(t, svc, ctx, 12)

	sweep, err := svc.RunOverdueSweep(ctx, "")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(sweep.Transitioned) != 0 {
		t.Fatalf("nothing is due yet, got %v", sweep.Transitioned)
	}

	// Default term is 90 days and grace is 7.
	clock.Advance(100 * 24 * time.Hour)
	sweep, err = svc.RunOverdueSweep(ctx, "")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(sweep.Transitioned) != 1 || sweep.Transitioned[0] != order.ID {
		t.Fatalf("expected %s to turn overdue, got %v", order.ID, sweep.Transitioned)
	}
	if sweep.RemindersSent != 1 {
		t.Fatalf("expected one automatic reminder, got %d", sweep.RemindersSent)
	}

	again, err := svc.RunOverdueSweep(ctx, "")
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if len(again.Transitioned) != 0 || again.RemindersSent != 0 {
		t.Fatalf("second sweep must be a no-op inside the reminder interval, got %+v", again)
	}

	candidates, err := svc.ListInterestCandidates(ctx, []string{order.ID})
	if err != nil {
		t.Fatalf("list candidates failed: %v", err)
	}
	if len(candidates.Candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates.Candidates))
	}
	candidate := candidates.Candidates[0]
	// 37.500.000 x 12% x 10/365
	if candidate.DaysOverdue != 10 || candidate.CalculatedInterestCents != 123_288 {
		t.Fatalf("unexpected candidate %+v", candidate)
	}
	if candidates.SelectedInterestCents != 123_288 || candidates.TotalInterestCents != 123_288 {
		t.Fatalf("unexpected totals %+v", candidates)
	}

	applied, err := svc.ApplyInterest(ctx, domain.InterestApplyRequest{LaybyIDs: []string{order.ID, "lb-missing"}})
	if err != nil {
		t.Fatalf("apply interest failed: %v", err)
	}
	if len(applied.Applied) != 1 || len(applied.Failed) != 1 || applied.Failed[0].LaybyID != "lb-missing" {
		t.Fatalf("expected one applied and one failed, got %+v", applied)
	}

	updated, err := svc.GetLayby(ctx, order.ID)
	if err != nil {
		t.Fatalf("get layby failed: %v", err)
	}
	if updated.InterestCents != 123_288 || updated.BalanceCents != 37_500_000+123_288 {
		t.Fatalf("interest not folded into balance: interest=%d balance=%d", updated.InterestCents, updated.BalanceCents)
	}
	if updated.Status != domain.LaybyStatusOverdue {
		t.Fatalf("interest must not change status, got %s", updated.Status)
	}
}

func TestInterestCandidatesWithSameDaysOverdueListByNumber(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := adminCtx()
	for i := 0; i < 3; i++ {
		createFanLayby(t, svc, ctx, 12)
	}
	clock.Advance(100 * 24 * time.Hour)
	if _, err := svc.RunOverdueSweep(ctx, ""); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	want := []string{"LB-000001", "LB-000002", "LB-000003"}
	for round := 0; round < 5; round++ {
		resp, err := svc.ListInterestCandidates(ctx, nil)
		if err != nil {
			t.Fatalf("list candidates failed: %v", err)
		}
		if len(resp.Candidates) != len(want) {
			t.Fatalf("expected %d candidates, got %d", len(want), len(resp.Candidates))
		}
		for i, candidate := range resp.Candidates {
			if candidate.DaysOverdue != 10 {
				t.Fatalf("expected 10 days overdue, got %+v", candidate)
			}
			if candidate.LaybyNumber != want[i] {
				t.Fatalf("round %d: position %d is %s, want %s", round, i, candidate.LaybyNumber, want[i])
			}
		}
	}
}

func TestApplyInterestRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.ApplyInterest(cashierCtx(), domain.InterestApplyRequest{LaybyIDs: []string{"lb-1"}})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSweepHonoursDisabledReminders(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := adminCtx()

	settings, err := svc.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	settings.AutomaticRemindersEnabled = false
	settings.MaxReminderCount = 1
	if _, err := svc.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("save settings failed: %v", err)
	}

	order := createFanLayby(t, svc, ctx, 0)
	clock.Advance(100 * 24 * time.Hour)
	sweep, err := svc.RunOverdueSweep(ctx, "")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(sweep.Transitioned) != 1 || sweep.RemindersSent != 0 {
		t.Fatalf("expected transition without reminders, got %+v", sweep)
	}

	reminded, err := svc.SendReminder(ctx, order.ID)
	if err != nil {
		t.Fatalf("manual reminder failed: %v", err)
	}
	if reminded.ReminderCount != 1 || reminded.LastReminderSent == nil {
		t.Fatalf("unexpected reminder state %+v", reminded)
	}
	if _, err := svc.SendReminder(ctx, order.ID); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected reminder limit, got %v", err)
	}
}

func TestSaveSettingsValidatesRangesAndRole(t *testing.T) {
	svc, _, _ := newTestService()

	settings, err := svc.GetSettings(adminCtx())
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	if settings.OverdueGracePeriodDays != 7 || settings.RequireDepositPercent != 10 {
		t.Fatalf("expected initialized defaults, got %+v", settings)
	}

	if _, err := svc.SaveSettings(cashierCtx(), settings); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier to be refused, got %v", err)
	}

	bad := settings
	bad.DefaultCancellationFeePercent = 120
	if _, err := svc.SaveSettings(adminCtx(), bad); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected percent range error, got %v", err)
	}

	bad = settings
	bad.MaxLaybyDurationDays = 0
	if _, err := svc.SaveSettings(adminCtx(), bad); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected day range error, got %v", err)
	}

	good := settings
	good.DefaultInterestRatePercent = 2.5
	saved, err := svc.SaveSettings(adminCtx(), good)
	if err != nil {
		t.Fatalf("save settings failed: %v", err)
	}
	if saved.DefaultInterestRatePercent != 2.5 || saved.StoreID != "main-store" {
		t.Fatalf("unexpected saved settings %+v", saved)
	}
}

func TestExportTransactionsCSV(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx()
	order := createFanLayby(t, svc, ctx, 0)
	if _, err := svc.CancelLayby(ctx, domain.LaybyCancelRequest{LaybyID: order.ID, Reason: "moved away"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	raw, err := svc.ExportTransactionsCSV(ctx, domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(records))
	}
	if strings.Join(records[0], "|") != "Transaction Number|Date|Type|Customer|Description|Payment Method|Amount" {
		t.Fatalf("unexpected header %v", records[0])
	}

	amounts := map[string]string{}
	for _, record := range records[1:] {
		amounts[record[2]] = record[6]
	}
	if amounts[domain.TxTypeLaybyDeposit] != "50000.00" {
		t.Fatalf("unexpected deposit amount %q", amounts[domain.TxTypeLaybyDeposit])
	}
	if amounts[domain.TxTypeRefund] != "-45000.00" {
		t.Fatalf("unexpected refund amount %q", amounts[domain.TxTypeRefund])
	}
}

func TestDashboardSummaryCachesUntilWrite(t *testing.T) {
	repo := memory.NewSeeded()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	dashboards := &countingCache{entries: map[string]domain.DashboardSummary{}}
	svc := New(repo, dashboards, "main-store", WithClock(clock.Now))
	ctx := cashierCtx()

	order := createFanLayby(t, svc, ctx, 0)

	first, err := svc.DashboardSummary(ctx)
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if first.Laybys.Active != 1 || first.TodayCents != 5_000_000 {
		t.Fatalf("unexpected dashboard %+v", first)
	}
	if _, err := svc.DashboardSummary(ctx); err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if dashboards.hits != 1 {
		t.Fatalf("expected the second read to hit the cache, hits=%d", dashboards.hits)
	}

	if _, err := svc.RecordPayment(ctx, domain.LaybyPaymentRequest{LaybyID: order.ID, AmountCents: 2_000_000, Method: "cash"}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	refreshed, err := svc.DashboardSummary(ctx)
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if refreshed.TodayCents != 7_000_000 || refreshed.Laybys.OutstandingBalanceCents != 35_500_000 {
		t.Fatalf("expected refreshed dashboard after payment, got %+v", refreshed)
	}
}

func TestLaybysAreScopedToActorStore(t *testing.T) {
	svc, _, _ := newTestService()
	order := createFanLayby(t, svc, cashierCtx(), 0)

	branch := WithActor(context.Background(), domain.Actor{Username: "other", Role: "cashier", StoreID: "branch-2"})
	if _, err := svc.GetLayby(branch, order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other store to see not found, got %v", err)
	}

	list, err := svc.ListLaybys(branch, domain.LaybyFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list.Laybys) != 0 || list.Stats.Total != 0 {
		t.Fatalf("expected empty list for other store, got %+v", list.Stats)
	}

	own, err := svc.ListLaybys(cashierCtx(), domain.LaybyFilter{Status: "ACTIVE"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(own.Laybys) != 1 || own.Stats.Active != 1 {
		t.Fatalf("expected one active layby, got %+v", own.Stats)
	}
}

func TestGenerateScheduleCoversBalance(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx()
	order := createFanLayby(t, svc, ctx, 0)

	rows, err := svc.GenerateSchedule(ctx, order.ID, domain.LaybyScheduleRequest{ScheduleType: "monthly"})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if len(rows) == 0 {
		t.Fatalf("expected installments")
	}
	sum := int64(0)
	for _, row := range rows {
		sum += row.AmountCents
	}
	if sum != order.BalanceCents {
		t.Fatalf("installments sum %d, want %d", sum, order.BalanceCents)
	}

	if _, err := svc.GenerateSchedule(ctx, order.ID, domain.LaybyScheduleRequest{ScheduleType: "daily"}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected unknown schedule type error, got %v", err)
	}
}

func TestCreateLaybyFailsWhenShelfIsEmpty(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := cashierCtx()

	if err := repo.SetStock(context.Background(), "main-store", fanSKU, 0); err != nil {
		t.Fatalf("set stock failed: %v", err)
	}
	rate := 0.0
	_, err := svc.CreateLayby(ctx, domain.LaybyCreateRequest{
		CustomerName:        "Dewi",
		Items:               []domain.LaybyItemRequest{{SKU: fanSKU, Qty: 1}},
		DepositCents:        5_000_000,
		DepositMethod:       "cash",
		InterestRatePercent: &rate,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	list, err := svc.ListLaybys(ctx, domain.LaybyFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if list.Stats.Total != 0 {
		t.Fatalf("expected no order after failed reservation, got %d", list.Stats.Total)
	}
}
