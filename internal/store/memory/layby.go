package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/ledger"
	"laybyku/backend/internal/store"
	"laybyku/backend/internal/xid"
)

const systemActor = "system"

func (s *Store) CreateLayby(_ context.Context, order domain.LaybyOrder, deposit domain.Transaction, history domain.LaybyHistory) (*domain.LaybyOrder, error) {
	if order.StoreID == "" || strings.TrimSpace(order.CustomerName) == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if err := ledger.ValidateNewOrder(order.TotalCents, order.DepositCents, 0); err != nil {
		return nil, err
	}
	lineTotal := int64(0)
	for _, item := range order.Items {
		if item.Qty < 1 || item.LineTotalCents != int64(item.Qty)*item.UnitPriceCents {
			return nil, store.ErrInvalidTransaction
		}
		lineTotal += item.LineTotalCents
	}
	if lineTotal != order.TotalCents {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if order.ID == "" {
		order.ID = xid.New("lb")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.LaybyNumber = s.nextLaybyNumberLocked(order.StoreID)
	order.BalanceCents = ledger.InitialBalance(order.TotalCents, order.DepositCents)
	order.InterestCents = 0
	order.Status = domain.LaybyStatusActive
	order.Version = 1
	order.Payments = nil
	order.Schedule = nil

	if order.DepositCents > 0 {
		deposit.AmountCents = order.DepositCents
		s.appendTransactionLocked(&deposit, &order, now)
	}

	history.LaybyID = order.ID
	s.stampHistory(&history, now)
	order.History = []domain.LaybyHistory{history}

	stored := cloneLayby(order)
	s.laybysByID[order.ID] = &stored
	result := cloneLayby(stored)
	return &result, nil
}

func (s *Store) GetLayby(_ context.Context, id string) (*domain.LaybyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.laybysByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := cloneLayby(*order)
	return &result, nil
}

func (s *Store) ListLaybys(_ context.Context, filter domain.LaybyFilter) ([]domain.LaybyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.LaybyOrder, 0, len(s.laybysByID))
	for _, order := range s.laybysByID {
		if filter.StoreID != "" && order.StoreID != filter.StoreID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if search != "" && !containsAny(search, order.LaybyNumber, order.CustomerName, order.CustomerPhone) {
			continue
		}
		summary := cloneLayby(*order)
		summary.Payments = nil
		summary.History = nil
		summary.Schedule = nil
		result = append(result, summary)
	}

	slices.SortFunc(result, func(a, b domain.LaybyOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.LaybyNumber, a.LaybyNumber)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ApplyLaybyPayment(_ context.Context, laybyID string, expectedVersion int64, write store.PaymentWrite) (*store.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.laybysByID[laybyID]
	if !ok {
		return nil, store.ErrNotFound
	}

	idemKey := ""
	if write.Payment.IdempotencyKey != "" {
		idemKey = laybyID + "::" + write.Payment.IdempotencyKey
		if existing, seen := s.paymentsByIdem[idemKey]; seen {
			if !ledger.SamePayment(existing.Payment, write.Payment) {
				return nil, fmt.Errorf("%w: idempotency key %q was used for a different payment", store.ErrInvalidTransaction, write.Payment.IdempotencyKey)
			}
			existing.Layby = cloneLayby(*order)
			existing.Duplicate = true
			return &existing, nil
		}
	}

	if order.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	next := cloneLayby(*order)
	oldBalance := next.BalanceCents
	if err := ledger.ApplyPayment(&next, write.Payment.AmountCents); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := write.Payment
	if payment.ID == "" {
		payment.ID = xid.New("lbp")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.LaybyID = laybyID

	txn := write.Transaction
	txn.AmountCents = payment.AmountCents
	s.appendTransactionLocked(&txn, &next, now)

	history := write.History
	history.LaybyID = laybyID
	history.OldValue = strconv.FormatInt(oldBalance, 10)
	history.NewValue = strconv.FormatInt(next.BalanceCents, 10)
	s.stampHistory(&history, now)

	next.Payments = append(next.Payments, payment)
	next.History = append(next.History, history)
	ledger.SettleSchedule(next.Schedule, next.BalanceCents)
	next.Version++
	*order = next

	result := store.PaymentResult{
		Payment:     payment,
		Transaction: txn,
		Layby:       cloneLayby(next),
	}
	if idemKey != "" {
		s.paymentsByIdem[idemKey] = store.PaymentResult{Payment: payment, Transaction: txn}
	}
	return &result, nil
}

func (s *Store) ApplyLaybyInterest(_ context.Context, laybyID string, expectedVersion int64, write store.InterestWrite) (*store.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.laybysByID[laybyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	next := cloneLayby(*order)
	oldInterest := next.InterestCents
	if err := ledger.ApplyInterest(&next, write.AmountCents); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	history := write.History
	history.LaybyID = laybyID
	history.OldValue = strconv.FormatInt(oldInterest, 10)
	history.NewValue = strconv.FormatInt(next.InterestCents, 10)
	s.stampHistory(&history, now)

	txn := write.Transaction
	txn.AmountCents = write.AmountCents
	s.appendTransactionLocked(&txn, &next, now)

	next.History = append(next.History, history)
	next.Version++
	*order = next

	return &store.Mutation{Layby: cloneLayby(next), Transaction: &txn}, nil
}

func (s *Store) CompleteLayby(_ context.Context, laybyID string, expectedVersion int64, at time.Time, history domain.LaybyHistory) (*store.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.laybysByID[laybyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	next := cloneLayby(*order)
	oldStatus := next.Status
	if err := ledger.Complete(&next, at); err != nil {
		return nil, err
	}
	history.LaybyID = laybyID
	history.OldValue = oldStatus
	history.NewValue = next.Status
	s.stampHistory(&history, at.UTC())

	next.History = append(next.History, history)
	next.Version++
	*order = next

	return &store.Mutation{Layby: cloneLayby(next)}, nil
}

func (s *Store) CancelLayby(_ context.Context, laybyID string, expectedVersion int64, write store.CancelWrite) (*store.Mutation, error) {
	if write.FeeCents < 0 || write.RefundCents < 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.laybysByID[laybyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	if !ledger.IsOpen(order) {
		return nil, ledger.ErrOrderClosed
	}
	if write.FeeCents+write.RefundCents != ledger.PaidToDate(order) {
		return nil, store.ErrInvalidTransaction
	}

	at := write.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next := cloneLayby(*order)
	oldStatus := next.Status
	next.RestockingFeeCents = write.FeeCents
	next.RefundCents = write.RefundCents
	next.BalanceCents = 0
	next.Status = domain.LaybyStatusCancelled
	next.CancellationReason = write.Reason
	next.CancelledAt = &at

	var refund *domain.Transaction
	if write.RefundCents > 0 {
		txn := write.Refund
		txn.AmountCents = write.RefundCents
		s.appendTransactionLocked(&txn, &next, at)
		refund = &txn
	}

	history := write.History
	history.LaybyID = laybyID
	history.OldValue = oldStatus
	history.NewValue = next.Status
	s.stampHistory(&history, at)

	next.History = append(next.History, history)
	next.Version++
	*order = next

	return &store.Mutation{Layby: cloneLayby(next), Transaction: refund}, nil
}

func (s *Store) RecordReminder(_ context.Context, laybyID string, at time.Time, maxCount int, history domain.LaybyHistory) (*domain.LaybyOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.laybysByID[laybyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !ledger.IsOpen(order) {
		return nil, ledger.ErrOrderClosed
	}
	if order.ReminderCount >= maxCount {
		return nil, fmt.Errorf("%w: reminder limit reached", store.ErrInvalidTransaction)
	}

	sentAt := at.UTC()
	history.LaybyID = laybyID
	history.OldValue = strconv.Itoa(order.ReminderCount)
	history.NewValue = strconv.Itoa(order.ReminderCount + 1)
	s.stampHistory(&history, sentAt)

	order.ReminderCount++
	order.LastReminderSent = &sentAt
	order.History = append(order.History, history)

	result := cloneLayby(*order)
	return &result, nil
}

func (s *Store) GetLaybySettings(_ context.Context, storeID string) (*domain.LaybySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settingsByStore[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settings, nil
}

func (s *Store) UpsertLaybySettings(_ context.Context, settings domain.LaybySettings) (*domain.LaybySettings, error) {
	if settings.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = time.Now().UTC()
	s.settingsByStore[settings.StoreID] = settings
	saved := settings
	return &saved, nil
}

func (s *Store) GenerateLaybyNumber(_ context.Context, storeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLaybyNumberLocked(storeID), nil
}

func (s *Store) GenerateTransactionNumber(_ context.Context, storeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextTransactionNumberLocked(storeID), nil
}

// CalculateLaybyInterest is simple interest on the remaining balance:
// balance x rate/100 x daysOverdue/365, rounded half away from zero to cents.
func (s *Store) CalculateLaybyInterest(_ context.Context, laybyID string, at time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.laybysByID[laybyID]
	if !ok {
		return 0, store.ErrNotFound
	}
	days := ledger.DaysOverdue(order.DueDate, at)
	if days == 0 || order.BalanceCents <= 0 || order.InterestRatePercent <= 0 {
		return 0, nil
	}
	return decimal.NewFromInt(order.BalanceCents).
		Mul(decimal.NewFromFloat(order.InterestRatePercent)).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(365)).
		Round(0).
		IntPart(), nil
}

// GeneratePaymentSchedule splits the balance into equal installments from
// start up to the due date. The last installment absorbs the remainder.
func (s *Store) GeneratePaymentSchedule(_ context.Context, laybyID string, scheduleType string, start time.Time) ([]domain.LaybyPaymentSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.laybysByID[laybyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !ledger.IsOpen(order) || order.BalanceCents <= 0 {
		return nil, ledger.ErrOrderClosed
	}

	dueDates, err := installmentDates(scheduleType, start.UTC(), order.DueDate)
	if err != nil {
		return nil, err
	}
	count := int64(len(dueDates))
	share := order.BalanceCents / count
	rows := make([]domain.LaybyPaymentSchedule, 0, len(dueDates))
	for i, due := range dueDates {
		amount := share
		if i == len(dueDates)-1 {
			amount = order.BalanceCents - share*(count-1)
		}
		rows = append(rows, domain.LaybyPaymentSchedule{
			ID:            xid.New("lbs"),
			LaybyID:       laybyID,
			InstallmentNo: i + 1,
			DueDate:       due,
			AmountCents:   amount,
			Status:        domain.ScheduleStatusPending,
		})
	}

	order.PaymentScheduleType = scheduleType
	order.Schedule = rows
	return slices.Clone(rows), nil
}

func (s *Store) UpdateOverdueLaybys(_ context.Context, storeID string, at time.Time, graceDays int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transitioned := make([]string, 0)
	for id, order := range s.laybysByID {
		if order.StoreID != storeID || !ledger.IsOverdueCandidate(order, at, graceDays) {
			continue
		}
		history := domain.LaybyHistory{
			Action:   domain.HistoryOverdue,
			OldValue: order.Status,
			NewValue: domain.LaybyStatusOverdue,
			Notes:    fmt.Sprintf("%d days past due", ledger.DaysOverdue(order.DueDate, at)),
			Actor:    systemActor,
			LaybyID:  id,
		}
		s.stampHistory(&history, at.UTC())
		order.Status = domain.LaybyStatusOverdue
		order.History = append(order.History, history)
		order.Version++
		transitioned = append(transitioned, id)
	}
	slices.Sort(transitioned)
	return transitioned, nil
}

func (s *Store) InitializeLaybySettings(_ context.Context, storeID string) (*domain.LaybySettings, error) {
	if storeID == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.settingsByStore[storeID]; ok {
		return &existing, nil
	}
	settings := domain.LaybySettings{
		StoreID:                       storeID,
		DefaultInterestRatePercent:    0,
		OverdueGracePeriodDays:        7,
		RequireDepositPercent:         10,
		MaxLaybyDurationDays:          90,
		AutomaticRemindersEnabled:     true,
		ReminderIntervalDays:          7,
		MaxReminderCount:              3,
		InventoryReservationEnabled:   true,
		DefaultCancellationFeePercent: 10,
		UpdatedAt:                     time.Now().UTC(),
	}
	s.settingsByStore[storeID] = settings
	return &settings, nil
}

func (s *Store) nextLaybyNumberLocked(storeID string) string {
	s.laybySeq[storeID]++
	return fmt.Sprintf("LB-%06d", s.laybySeq[storeID])
}

func (s *Store) nextTransactionNumberLocked(storeID string) string {
	s.transactionSeq[storeID]++
	return fmt.Sprintf("TXN-%06d", s.transactionSeq[storeID])
}

// appendTransactionLocked numbers txn, points it at the order and stores it.
func (s *Store) appendTransactionLocked(txn *domain.Transaction, order *domain.LaybyOrder, at time.Time) {
	if txn.ID == "" {
		txn.ID = xid.New("tx")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = at
	}
	txn.StoreID = order.StoreID
	txn.TransactionNumber = s.nextTransactionNumberLocked(order.StoreID)
	txn.ReferenceID = order.ID
	txn.ReferenceType = domain.ReferenceTypeLayby
	if txn.CustomerName == "" {
		txn.CustomerName = order.CustomerName
	}
	s.transactions = append(s.transactions, *txn)
}

func (s *Store) stampHistory(entry *domain.LaybyHistory, at time.Time) {
	if entry.ID == "" {
		entry.ID = xid.New("lbh")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = at
	}
	if entry.Actor == "" {
		entry.Actor = systemActor
	}
}

func installmentDates(scheduleType string, start time.Time, due time.Time) ([]time.Time, error) {
	step := func(t time.Time) time.Time { return t }
	switch scheduleType {
	case domain.ScheduleWeekly:
		step = func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }
	case domain.ScheduleFortnightly:
		step = func(t time.Time) time.Time { return t.AddDate(0, 0, 14) }
	case domain.ScheduleMonthly:
		step = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	default:
		return nil, fmt.Errorf("%w: unknown schedule type %q", store.ErrInvalidTransaction, scheduleType)
	}

	dates := make([]time.Time, 0, 8)
	for next := step(start); !next.After(due); next = step(next) {
		dates = append(dates, next)
	}
	if len(dates) == 0 || dates[len(dates)-1].Before(due) {
		dates = append(dates, due)
	}
	return dates, nil
}

func cloneLayby(src domain.LaybyOrder) domain.LaybyOrder {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.Payments = slices.Clone(src.Payments)
	dup.History = slices.Clone(src.History)
	dup.Schedule = slices.Clone(src.Schedule)
	if src.CompletionDate != nil {
		completed := *src.CompletionDate
		dup.CompletionDate = &completed
	}
	if src.CancelledAt != nil {
		cancelled := *src.CancelledAt
		dup.CancelledAt = &cancelled
	}
	if src.LastReminderSent != nil {
		sent := *src.LastReminderSent
		dup.LastReminderSent = &sent
	}
	return dup
}
