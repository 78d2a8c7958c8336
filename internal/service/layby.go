package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/ledger"
	"laybyku/backend/internal/store"
)

func (s *Service) CreateLayby(ctx context.Context, req domain.LaybyCreateRequest) (domain.LaybyOrder, error) {
	storeID := s.storeFor(ctx)
	now := s.now().UTC()

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.Notes = strings.TrimSpace(req.Notes)
	if req.CustomerName == "" {
		return domain.LaybyOrder{}, fmt.Errorf("%w: customer_name is required", store.ErrInvalidTransaction)
	}

	normalized := normalizeItems(req.Items)
	if len(normalized) == 0 {
		return domain.LaybyOrder{}, fmt.Errorf("%w: at least one item is required", store.ErrInvalidTransaction)
	}

	settings, err := s.settingsFor(ctx, storeID)
	if err != nil {
		return domain.LaybyOrder{}, err
	}

	skus := make([]string, 0, len(normalized))
	for _, item := range normalized {
		skus = append(skus, item.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return domain.LaybyOrder{}, err
	}

	items := make([]domain.LaybyItem, 0, len(normalized))
	total := int64(0)
	for _, item := range normalized {
		product, ok := products[item.SKU]
		if !ok || !product.Active {
			return domain.LaybyOrder{}, fmt.Errorf("%w: sku %s is not available", store.ErrInvalidTransaction, item.SKU)
		}
		line := product.PriceCents * int64(item.Qty)
		items = append(items, domain.LaybyItem{
			SKU:            product.SKU,
			Name:           product.Name,
			Qty:            item.Qty,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: line,
		})
		total += line
	}

	if err := ledger.ValidateNewOrder(total, req.DepositCents, settings.RequireDepositPercent); err != nil {
		return domain.LaybyOrder{}, err
	}

	depositMethod := ""
	depositReference := ""
	if req.DepositCents > 0 {
		depositMethod, depositReference, err = normalizePaymentMethod(req.DepositMethod, req.DepositReference)
		if err != nil {
			return domain.LaybyOrder{}, err
		}
	}

	dueDate, err := resolveDueDate(req.DueDate, now, settings.MaxLaybyDurationDays)
	if err != nil {
		return domain.LaybyOrder{}, err
	}

	rate := settings.DefaultInterestRatePercent
	if req.InterestRatePercent != nil {
		rate = *req.InterestRatePercent
	}
	if rate < 0 || rate > 100 {
		return domain.LaybyOrder{}, fmt.Errorf("%w: interest_rate_percent must be between 0 and 100", store.ErrInvalidTransaction)
	}

	priority := strings.ToLower(strings.TrimSpace(defaultString(req.PriorityLevel, domain.PriorityNormal)))
	switch priority {
	case domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh:
	default:
		return domain.LaybyOrder{}, fmt.Errorf("%w: unknown priority_level %q", store.ErrInvalidTransaction, priority)
	}

	scheduleType := strings.ToLower(strings.TrimSpace(req.PaymentScheduleType))
	if scheduleType != "" && !isScheduleType(scheduleType) {
		return domain.LaybyOrder{}, fmt.Errorf("%w: unknown payment_schedule_type %q", store.ErrInvalidTransaction, scheduleType)
	}

	reservation := make([]domain.StockAdjustment, 0, len(items))
	for _, item := range items {
		reservation = append(reservation, domain.StockAdjustment{SKU: item.SKU, Qty: item.Qty})
	}
	reserved := false
	if settings.InventoryReservationEnabled {
		if err := s.repo.ReserveStock(ctx, storeID, reservation); err != nil {
			return domain.LaybyOrder{}, err
		}
		reserved = true
	}

	actor := actorName(ctx)
	order := domain.LaybyOrder{
		StoreID:             storeID,
		CustomerName:        req.CustomerName,
		CustomerPhone:       req.CustomerPhone,
		TotalCents:          total,
		DepositCents:        req.DepositCents,
		InterestRatePercent: rate,
		PriorityLevel:       priority,
		Notes:               req.Notes,
		CreatedBy:           actor,
		CreatedAt:           now,
		DueDate:             dueDate,
		StockReserved:       reserved,
		Items:               items,
	}
	deposit := domain.Transaction{
		Type:          domain.TxTypeLaybyDeposit,
		PaymentMethod: depositMethod,
		CustomerName:  req.CustomerName,
		Description:   fmt.Sprintf("Layby deposit for %s", req.CustomerName),
		Notes:         depositReference,
		CreatedBy:     actor,
		CreatedAt:     now,
	}
	history := domain.LaybyHistory{
		Action:    domain.HistoryCreated,
		NewValue:  domain.LaybyStatusActive,
		Notes:     fmt.Sprintf("total=%d deposit=%d due=%s", total, req.DepositCents, dueDate.Format("2006-01-02")),
		Actor:     actor,
		CreatedAt: now,
	}

	created, err := s.repo.CreateLayby(ctx, order, deposit, history)
	if err != nil {
		if reserved {
			if releaseErr := s.repo.ReleaseStock(ctx, storeID, reservation); releaseErr != nil {
				s.log.Error(ctx, "release reservation after failed layby create", releaseErr)
			}
		}
		return domain.LaybyOrder{}, err
	}

	if scheduleType != "" {
		schedule, err := s.repo.GeneratePaymentSchedule(ctx, created.ID, scheduleType, now)
		if err != nil {
			// The order stands without a schedule; the clerk can generate one later.
			s.log.Warn(s.log.WithFields(ctx, map[string]any{
				"layby_id": created.ID,
				"error":    err.Error(),
			}), "payment schedule generation failed")
		} else {
			created.PaymentScheduleType = scheduleType
			created.Schedule = schedule
		}
	}

	s.logAudit(ctx, storeID, "layby_create", "layby_order", created.ID, fmt.Sprintf(
		"number=%s customer=%s total=%d deposit=%d reserved=%t",
		created.LaybyNumber, created.CustomerName, created.TotalCents, created.DepositCents, reserved,
	))
	s.invalidateDashboard(ctx, storeID)
	return *created, nil
}

func (s *Service) GetLayby(ctx context.Context, id string) (domain.LaybyOrder, error) {
	order, err := s.scopedLayby(ctx, id)
	if err != nil {
		return domain.LaybyOrder{}, err
	}
	return *order, nil
}

func (s *Service) ListLaybys(ctx context.Context, filter domain.LaybyFilter) (domain.LaybyListResponse, error) {
	filter.StoreID = s.storeFor(ctx)
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	filter.Search = strings.TrimSpace(filter.Search)
	switch filter.Status {
	case "", domain.LaybyStatusActive, domain.LaybyStatusOverdue, domain.LaybyStatusCompleted, domain.LaybyStatusCancelled:
	default:
		return domain.LaybyListResponse{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidTransaction, filter.Status)
	}

	orders, err := s.repo.ListLaybys(ctx, filter)
	if err != nil {
		return domain.LaybyListResponse{}, err
	}
	return domain.LaybyListResponse{Laybys: orders, Stats: ledger.Classify(orders)}, nil
}

func (s *Service) RecordPayment(ctx context.Context, req domain.LaybyPaymentRequest) (domain.LaybyPaymentResponse, error) {
	if req.AmountCents <= 0 {
		return domain.LaybyPaymentResponse{}, ledger.ErrInvalidAmount
	}
	method, reference, err := normalizePaymentMethod(req.Method, req.Reference)
	if err != nil {
		return domain.LaybyPaymentResponse{}, err
	}

	order, err := s.scopedLayby(ctx, req.LaybyID)
	if err != nil {
		return domain.LaybyPaymentResponse{}, err
	}
	expected := req.ExpectedVersion
	if expected == 0 {
		expected = order.Version
	}

	now := s.now().UTC()
	actor := actorName(ctx)
	result, err := s.repo.ApplyLaybyPayment(ctx, order.ID, expected, store.PaymentWrite{
		Payment: domain.LaybyPayment{
			AmountCents:    req.AmountCents,
			Method:         method,
			Reference:      reference,
			Notes:          strings.TrimSpace(req.Notes),
			IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
			CreatedBy:      actor,
			CreatedAt:      now,
		},
		Transaction: domain.Transaction{
			Type:          domain.TxTypeLaybyPayment,
			PaymentMethod: method,
			Description:   fmt.Sprintf("Layby payment %s", order.LaybyNumber),
			Notes:         reference,
			CreatedBy:     actor,
			CreatedAt:     now,
		},
		History: domain.LaybyHistory{
			Action:    domain.HistoryPayment,
			Notes:     fmt.Sprintf("%d via %s", req.AmountCents, method),
			Actor:     actor,
			CreatedAt: now,
		},
	})
	if err != nil {
		return domain.LaybyPaymentResponse{}, err
	}

	if !result.Duplicate {
		s.logAudit(ctx, order.StoreID, "layby_payment", "layby_order", order.ID, fmt.Sprintf(
			"number=%s amount=%d method=%s balance=%d txn=%s",
			order.LaybyNumber, req.AmountCents, method, result.Layby.BalanceCents, result.Transaction.TransactionNumber,
		))
		s.invalidateDashboard(ctx, order.StoreID)
	}

	return domain.LaybyPaymentResponse{
		Payment:     result.Payment,
		Transaction: result.Transaction,
		Layby:       result.Layby,
		CanComplete: ledger.CanComplete(&result.Layby),
		Duplicate:   result.Duplicate,
	}, nil
}

func (s *Service) CompleteLayby(ctx context.Context, id string, req domain.LaybyCompleteRequest) (domain.LaybyOrder, error) {
	order, err := s.scopedLayby(ctx, id)
	if err != nil {
		return domain.LaybyOrder{}, err
	}
	if !ledger.CanComplete(order) {
		return domain.LaybyOrder{}, ledger.ErrBalanceOutstanding
	}
	expected := req.ExpectedVersion
	if expected == 0 {
		expected = order.Version
	}

	now := s.now().UTC()
	actor := actorName(ctx)
	mutation, err := s.repo.CompleteLayby(ctx, order.ID, expected, now, domain.LaybyHistory{
		Action:    domain.HistoryCompleted,
		Notes:     "goods collected",
		Actor:     actor,
		CreatedAt: now,
	})
	if err != nil {
		return domain.LaybyOrder{}, err
	}

	s.logAudit(ctx, order.StoreID, "layby_complete", "layby_order", order.ID, fmt.Sprintf("number=%s", order.LaybyNumber))
	s.invalidateDashboard(ctx, order.StoreID)
	return mutation.Layby, nil
}

// CancelLayby closes the order, keeps the cancellation fee and refunds the
// rest of what was paid. Reserved stock goes back on the shelf.
func (s *Service) CancelLayby(ctx context.Context, req domain.LaybyCancelRequest) (domain.LaybyOrder, error) {
	order, err := s.scopedLayby(ctx, req.LaybyID)
	if err != nil {
		return domain.LaybyOrder{}, err
	}
	if !ledger.IsOpen(order) {
		return domain.LaybyOrder{}, ledger.ErrOrderClosed
	}

	settings, err := s.settingsFor(ctx, order.StoreID)
	if err != nil {
		return domain.LaybyOrder{}, err
	}
	feePercent := settings.DefaultCancellationFeePercent
	if req.FeePercent != nil {
		feePercent = *req.FeePercent
	}
	fee, refund, err := ledger.CancellationAmounts(ledger.PaidToDate(order), feePercent)
	if err != nil {
		return domain.LaybyOrder{}, err
	}

	refundMethod := strings.ToLower(strings.TrimSpace(defaultString(req.RefundMethod, "cash")))
	if !isSupportedPaymentMethod(refundMethod) {
		return domain.LaybyOrder{}, fmt.Errorf("%w: unsupported refund method %q", store.ErrInvalidTransaction, refundMethod)
	}

	expected := req.ExpectedVersion
	if expected == 0 {
		expected = order.Version
	}

	now := s.now().UTC()
	actor := actorName(ctx)
	reason := strings.TrimSpace(req.Reason)
	mutation, err := s.repo.CancelLayby(ctx, order.ID, expected, store.CancelWrite{
		FeeCents:    fee,
		RefundCents: refund,
		Reason:      reason,
		At:          now,
		Refund: domain.Transaction{
			Type:          domain.TxTypeRefund,
			PaymentMethod: refundMethod,
			Description:   fmt.Sprintf("Layby cancellation refund %s", order.LaybyNumber),
			Notes:         reason,
			CreatedBy:     actor,
			CreatedAt:     now,
		},
		History: domain.LaybyHistory{
			Action:    domain.HistoryCancelled,
			Notes:     fmt.Sprintf("fee=%d refund=%d reason=%s", fee, refund, defaultString(reason, "-")),
			Actor:     actor,
			CreatedAt: now,
		},
	})
	if err != nil {
		return domain.LaybyOrder{}, err
	}

	if order.StockReserved {
		release := make([]domain.StockAdjustment, 0, len(order.Items))
		for _, item := range order.Items {
			release = append(release, domain.StockAdjustment{SKU: item.SKU, Qty: item.Qty})
		}
		if err := s.repo.ReleaseStock(ctx, order.StoreID, release); err != nil {
			s.log.Error(s.log.WithField(ctx, "layby_id", order.ID), "release stock after cancellation", err)
		}
	}

	s.logAudit(ctx, order.StoreID, "layby_cancel", "layby_order", order.ID, fmt.Sprintf(
		"number=%s fee=%d refund=%d method=%s reason=%s",
		order.LaybyNumber, fee, refund, refundMethod, reason,
	))
	s.invalidateDashboard(ctx, order.StoreID)
	return mutation.Layby, nil
}

// ListInterestCandidates lists overdue orders that would accrue interest
// now. The amounts come from the interest procedure. selected narrows
// SelectedInterestCents to the ids the clerk has ticked.
func (s *Service) ListInterestCandidates(ctx context.Context, selected []string) (domain.InterestCandidateResponse, error) {
	storeID := s.storeFor(ctx)
	orders, err := s.repo.ListLaybys(ctx, domain.LaybyFilter{StoreID: storeID, Status: domain.LaybyStatusOverdue})
	if err != nil {
		return domain.InterestCandidateResponse{}, err
	}

	now := s.now().UTC()
	resp := domain.InterestCandidateResponse{Candidates: make([]domain.InterestCandidate, 0, len(orders))}
	for i := range orders {
		order := &orders[i]
		if !ledger.IsInterestCandidate(order) {
			continue
		}
		interest, err := s.repo.CalculateLaybyInterest(ctx, order.ID, now)
		if err != nil {
			return domain.InterestCandidateResponse{}, err
		}
		resp.Candidates = append(resp.Candidates, domain.InterestCandidate{
			LaybyID:                 order.ID,
			LaybyNumber:             order.LaybyNumber,
			CustomerName:            order.CustomerName,
			BalanceCents:            order.BalanceCents,
			InterestRatePercent:     order.InterestRatePercent,
			DueDate:                 order.DueDate,
			DaysOverdue:             ledger.DaysOverdue(order.DueDate, now),
			CalculatedInterestCents: interest,
			Version:                 order.Version,
		})
		resp.TotalInterestCents += interest
	}

	sort.Slice(resp.Candidates, func(i, j int) bool {
		a, b := resp.Candidates[i], resp.Candidates[j]
		if a.DaysOverdue != b.DaysOverdue {
			return a.DaysOverdue > b.DaysOverdue
		}
		return a.LaybyNumber < b.LaybyNumber
	})
	resp.SelectedInterestCents = ledger.SumSelectedInterest(resp.Candidates, selected)
	return resp, nil
}

// ApplyInterest charges each selected order on its own. One failure does
// not roll back the others; failures are reported per id.
func (s *Service) ApplyInterest(ctx context.Context, req domain.InterestApplyRequest) (domain.InterestApplyResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InterestApplyResponse{}, err
	}

	ids := dedupeIDs(req.LaybyIDs)
	if len(ids) == 0 {
		return domain.InterestApplyResponse{}, fmt.Errorf("%w: layby_ids is required", store.ErrInvalidTransaction)
	}

	now := s.now().UTC()
	actor := actorName(ctx)
	resp := domain.InterestApplyResponse{Applied: make([]string, 0, len(ids))}
	var errs error
	fail := func(id string, err error) {
		resp.Failed = append(resp.Failed, domain.InterestApplyFailure{LaybyID: id, Reason: err.Error()})
		errs = multierr.Append(errs, fmt.Errorf("layby %s: %w", id, err))
	}

	storeID := s.storeFor(ctx)
	for _, id := range ids {
		order, err := s.scopedLayby(ctx, id)
		if err != nil {
			fail(id, err)
			continue
		}
		if !ledger.IsInterestCandidate(order) {
			fail(id, fmt.Errorf("%w: not eligible for interest", store.ErrInvalidTransaction))
			continue
		}
		amount, err := s.repo.CalculateLaybyInterest(ctx, id, now)
		if err != nil {
			fail(id, err)
			continue
		}
		if amount <= 0 {
			fail(id, fmt.Errorf("%w: no interest due", store.ErrInvalidTransaction))
			continue
		}

		days := ledger.DaysOverdue(order.DueDate, now)
		if _, err := s.repo.ApplyLaybyInterest(ctx, id, order.Version, store.InterestWrite{
			AmountCents: amount,
			Transaction: domain.Transaction{
				Type:        domain.TxTypeLaybyInterest,
				Description: fmt.Sprintf("Layby interest %s (%d days overdue)", order.LaybyNumber, days),
				CreatedBy:   actor,
				CreatedAt:   now,
			},
			History: domain.LaybyHistory{
				Action:    domain.HistoryInterest,
				Notes:     fmt.Sprintf("%d at %.2f%% for %d days", amount, order.InterestRatePercent, days),
				Actor:     actor,
				CreatedAt: now,
			},
		}); err != nil {
			fail(id, err)
			continue
		}

		resp.Applied = append(resp.Applied, id)
		resp.TotalInterestCents += amount
		s.logAudit(ctx, storeID, "layby_interest", "layby_order", id, fmt.Sprintf(
			"number=%s amount=%d days=%d", order.LaybyNumber, amount, days,
		))
	}

	if errs != nil {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"failed": len(multierr.Errors(errs)),
			"error":  errs.Error(),
		}), "interest batch finished with failures")
	}
	if len(resp.Applied) > 0 {
		s.invalidateDashboard(ctx, storeID)
	}
	return resp, nil
}

// RunOverdueSweep marks past-due orders overdue for the store and, when
// enabled, records automatic reminders. The returned error joins every
// reminder failure; the response is still valid when it is non-nil.
func (s *Service) RunOverdueSweep(ctx context.Context, storeID string) (domain.OverdueSweepResponse, error) {
	if storeID == "" {
		storeID = s.storeFor(ctx)
	}
	if err := ValidateStoreID(storeID); err != nil {
		return domain.OverdueSweepResponse{}, err
	}

	settings, err := s.settingsFor(ctx, storeID)
	if err != nil {
		return domain.OverdueSweepResponse{}, err
	}

	now := s.now().UTC()
	ids, err := s.repo.UpdateOverdueLaybys(ctx, storeID, now, settings.OverdueGracePeriodDays)
	if err != nil {
		return domain.OverdueSweepResponse{}, err
	}
	resp := domain.OverdueSweepResponse{
		StoreID:      storeID,
		Transitioned: ids,
		RanAt:        now.Format(time.RFC3339),
	}
	if len(ids) > 0 {
		s.logAudit(ctx, storeID, "layby_overdue_sweep", "layby_order", strings.Join(ids, ","), fmt.Sprintf("transitioned=%d", len(ids)))
		s.invalidateDashboard(ctx, storeID)
	}

	if !settings.AutomaticRemindersEnabled {
		return resp, nil
	}

	overdue, err := s.repo.ListLaybys(ctx, domain.LaybyFilter{StoreID: storeID, Status: domain.LaybyStatusOverdue})
	if err != nil {
		return resp, err
	}
	var errs error
	for i := range overdue {
		order := &overdue[i]
		if !reminderDue(order, now, settings) {
			continue
		}
		if _, err := s.sendReminder(ctx, order, settings, true); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reminder %s: %w", order.ID, err))
			continue
		}
		resp.RemindersSent++
	}
	return resp, errs
}

// SendReminder records a manual reminder for one order.
func (s *Service) SendReminder(ctx context.Context, id string) (domain.LaybyOrder, error) {
	order, err := s.scopedLayby(ctx, id)
	if err != nil {
		return domain.LaybyOrder{}, err
	}
	settings, err := s.settingsFor(ctx, order.StoreID)
	if err != nil {
		return domain.LaybyOrder{}, err
	}
	return s.sendReminder(ctx, order, settings, false)
}

func (s *Service) sendReminder(ctx context.Context, order *domain.LaybyOrder, settings *domain.LaybySettings, automatic bool) (domain.LaybyOrder, error) {
	if automatic && !settings.AutomaticRemindersEnabled {
		return domain.LaybyOrder{}, fmt.Errorf("%w: automatic reminders are disabled", store.ErrInvalidTransaction)
	}

	kind := "manual"
	actor := actorName(ctx)
	if automatic {
		kind = "automatic"
		actor = "system"
	}
	now := s.now().UTC()
	updated, err := s.repo.RecordReminder(ctx, order.ID, now, settings.MaxReminderCount, domain.LaybyHistory{
		Action:    domain.HistoryReminder,
		Notes:     fmt.Sprintf("%s reminder, balance %d", kind, order.BalanceCents),
		Actor:     actor,
		CreatedAt: now,
	})
	if err != nil {
		return domain.LaybyOrder{}, err
	}

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"layby_id":       order.ID,
		"layby_number":   order.LaybyNumber,
		"reminder_count": updated.ReminderCount,
		"kind":           kind,
	}), "layby reminder recorded")
	s.logAudit(ctx, order.StoreID, "layby_reminder", "layby_order", order.ID, fmt.Sprintf(
		"number=%s kind=%s count=%d", order.LaybyNumber, kind, updated.ReminderCount,
	))
	return *updated, nil
}

func (s *Service) GenerateSchedule(ctx context.Context, id string, req domain.LaybyScheduleRequest) ([]domain.LaybyPaymentSchedule, error) {
	scheduleType := strings.ToLower(strings.TrimSpace(req.ScheduleType))
	if !isScheduleType(scheduleType) {
		return nil, fmt.Errorf("%w: unknown schedule_type %q", store.ErrInvalidTransaction, scheduleType)
	}
	order, err := s.scopedLayby(ctx, id)
	if err != nil {
		return nil, err
	}

	start := s.now().UTC()
	if strings.TrimSpace(req.StartDate) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(req.StartDate))
		if err != nil {
			return nil, fmt.Errorf("%w: start_date must be YYYY-MM-DD", store.ErrInvalidTransaction)
		}
		start = parsed.UTC()
	}

	rows, err := s.repo.GeneratePaymentSchedule(ctx, order.ID, scheduleType, start)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, order.StoreID, "layby_schedule", "layby_order", order.ID, fmt.Sprintf(
		"number=%s type=%s installments=%d", order.LaybyNumber, scheduleType, len(rows),
	))
	return rows, nil
}

// scopedLayby hides orders of other stores behind ErrNotFound.
func (s *Service) scopedLayby(ctx context.Context, id string) (*domain.LaybyOrder, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: layby id is required", store.ErrInvalidTransaction)
	}
	order, err := s.repo.GetLayby(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.StoreID != s.storeFor(ctx) {
		return nil, store.ErrNotFound
	}
	return order, nil
}

func reminderDue(order *domain.LaybyOrder, now time.Time, settings *domain.LaybySettings) bool {
	if order.ReminderCount >= settings.MaxReminderCount {
		return false
	}
	if order.LastReminderSent == nil {
		return true
	}
	interval := time.Duration(settings.ReminderIntervalDays) * 24 * time.Hour
	return !now.Before(order.LastReminderSent.Add(interval))
}

// resolveDueDate defaults to the longest allowed term. An explicit date is
// taken as the end of that day and must fall inside the term.
func resolveDueDate(raw string, now time.Time, maxDays int) (time.Time, error) {
	latest := now.AddDate(0, 0, maxDays)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return latest, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: due_date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	due := parsed.UTC().Add(24*time.Hour - time.Second)
	if !due.After(now) {
		return time.Time{}, fmt.Errorf("%w: due_date must be in the future", store.ErrInvalidTransaction)
	}
	if due.After(latest.Truncate(24 * time.Hour).Add(24*time.Hour - time.Second)) {
		return time.Time{}, fmt.Errorf("%w: due_date exceeds the %d day limit", store.ErrInvalidTransaction, maxDays)
	}
	return due, nil
}

func isScheduleType(value string) bool {
	switch value {
	case domain.ScheduleWeekly, domain.ScheduleFortnightly, domain.ScheduleMonthly:
		return true
	default:
		return false
	}
}

func normalizeItems(items []domain.LaybyItemRequest) []domain.LaybyItemRequest {
	qtyBySKU := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		sku := strings.ToUpper(strings.TrimSpace(item.SKU))
		if sku == "" || item.Qty <= 0 {
			continue
		}
		if _, seen := qtyBySKU[sku]; !seen {
			order = append(order, sku)
		}
		qtyBySKU[sku] += item.Qty
	}

	normalized := make([]domain.LaybyItemRequest, 0, len(order))
	for _, sku := range order {
		normalized = append(normalized, domain.LaybyItemRequest{SKU: sku, Qty: qtyBySKU[sku]})
	}
	return normalized
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
