package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/ledger"
	"laybyku/backend/internal/store"
	"laybyku/backend/internal/xid"
)

const laybyColumns = `
	id, store_id, layby_number, customer_name, COALESCE(customer_phone, ''),
	total_cents, deposit_cents, balance_cents, interest_cents, interest_rate_percent,
	restocking_fee_cents, refund_cents, status, priority_level, COALESCE(payment_schedule_type, ''),
	COALESCE(notes, ''), created_by, created_at, due_date, completion_date, cancelled_at,
	COALESCE(cancellation_reason, ''), last_reminder_sent, reminder_count, stock_reserved, version`

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanLayby(row rowScanner) (*domain.LaybyOrder, error) {
	var order domain.LaybyOrder
	var completed, cancelled, reminded sql.NullTime
	if err := row.Scan(
		&order.ID, &order.StoreID, &order.LaybyNumber, &order.CustomerName, &order.CustomerPhone,
		&order.TotalCents, &order.DepositCents, &order.BalanceCents, &order.InterestCents, &order.InterestRatePercent,
		&order.RestockingFeeCents, &order.RefundCents, &order.Status, &order.PriorityLevel, &order.PaymentScheduleType,
		&order.Notes, &order.CreatedBy, &order.CreatedAt, &order.DueDate, &completed, &cancelled,
		&order.CancellationReason, &reminded, &order.ReminderCount, &order.StockReserved, &order.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.DueDate = order.DueDate.UTC()
	order.CompletionDate = utcPtr(completed)
	order.CancelledAt = utcPtr(cancelled)
	order.LastReminderSent = utcPtr(reminded)
	return &order, nil
}

func (s *Store) CreateLayby(ctx context.Context, order domain.LaybyOrder, deposit domain.Transaction, history domain.LaybyHistory) (*domain.LaybyOrder, error) {
	if order.StoreID == "" || strings.TrimSpace(order.CustomerName) == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if err := ledger.ValidateNewOrder(order.TotalCents, order.DepositCents, 0); err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()
	if order.ID == "" {
		order.ID = xid.New("lb")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if err := pgTx.QueryRowContext(ctx, `SELECT generate_layby_number($1)`, order.StoreID).Scan(&order.LaybyNumber); err != nil {
		return nil, fmt.Errorf("generate_layby_number: %w", err)
	}
	order.BalanceCents = ledger.InitialBalance(order.TotalCents, order.DepositCents)
	order.InterestCents = 0
	order.Status = domain.LaybyStatusActive
	order.Version = 1

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO layby_orders (
			id, store_id, layby_number, customer_name, customer_phone, total_cents, deposit_cents,
			balance_cents, interest_cents, interest_rate_percent, restocking_fee_cents, refund_cents,
			status, priority_level, payment_schedule_type, notes, created_by, created_at, due_date,
			reminder_count, stock_reserved, version, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,0,0,$10,$11,$12,$13,$14,$15,$16,0,$17,1,now())
	`, order.ID, order.StoreID, order.LaybyNumber, order.CustomerName, nullIfEmpty(order.CustomerPhone),
		order.TotalCents, order.DepositCents, order.BalanceCents, order.InterestRatePercent, order.Status,
		order.PriorityLevel, nullIfEmpty(order.PaymentScheduleType), nullIfEmpty(order.Notes), order.CreatedBy,
		order.CreatedAt, order.DueDate, order.StockReserved)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, mapTxErr(err)
	}

	for _, item := range order.Items {
		if item.Qty < 1 || item.LineTotalCents != int64(item.Qty)*item.UnitPriceCents {
			return nil, store.ErrInvalidTransaction
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO layby_items (layby_id, sku, name, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, order.ID, item.SKU, item.Name, item.Qty, item.UnitPriceCents, item.LineTotalCents); err != nil {
			return nil, err
		}
	}

	if order.DepositCents > 0 {
		deposit.AmountCents = order.DepositCents
		if err := insertTransaction(ctx, pgTx, &deposit, &order, now); err != nil {
			return nil, err
		}
	}

	history.LaybyID = order.ID
	if err := insertHistory(ctx, pgTx, &history, now); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxErr(err)
	}
	order.History = []domain.LaybyHistory{history}
	return &order, nil
}

func (s *Store) GetLayby(ctx context.Context, id string) (*domain.LaybyOrder, error) {
	order, err := scanLayby(s.db.QueryRowContext(ctx, `SELECT `+laybyColumns+` FROM layby_orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if order.Items, err = loadItems(ctx, s.db, id); err != nil {
		return nil, err
	}
	if order.Payments, err = loadPayments(ctx, s.db, id); err != nil {
		return nil, err
	}
	if order.History, err = loadHistory(ctx, s.db, id); err != nil {
		return nil, err
	}
	if order.Schedule, err = loadSchedule(ctx, s.db, id); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) ListLaybys(ctx context.Context, filter domain.LaybyFilter) ([]domain.LaybyOrder, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}

	query := strings.Builder{}
	query.WriteString(`SELECT ` + laybyColumns + ` FROM layby_orders WHERE store_id = $1`)
	args := []any{filter.StoreID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&query, " AND status = $%d", len(args))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		fmt.Fprintf(&query, " AND (layby_number ILIKE $%[1]d OR customer_name ILIKE $%[1]d OR customer_phone ILIKE $%[1]d)", len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&query, " ORDER BY created_at DESC, layby_number DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.LaybyOrder, 0, 64)
	for rows.Next() {
		order, err := scanLayby(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	for i := range orders {
		if orders[i].Items, err = loadItems(ctx, s.db, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) ApplyLaybyPayment(ctx context.Context, laybyID string, expectedVersion int64, write store.PaymentWrite) (*store.PaymentResult, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	order, err := lockLayby(ctx, pgTx, laybyID)
	if err != nil {
		return nil, err
	}

	if key := write.Payment.IdempotencyKey; key != "" {
		existing, err := findPaymentByIdempotency(ctx, pgTx, laybyID, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			if !ledger.SamePayment(existing.Payment, write.Payment) {
				return nil, fmt.Errorf("%w: idempotency key %q was used for a different payment", store.ErrInvalidTransaction, key)
			}
			existing.Layby = *order
			existing.Duplicate = true
			return existing, nil
		}
	}

	if order.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	oldBalance := order.BalanceCents
	if err := ledger.ApplyPayment(order, write.Payment.AmountCents); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	txn := write.Transaction
	txn.AmountCents = write.Payment.AmountCents
	if err := insertTransaction(ctx, pgTx, &txn, order, now); err != nil {
		return nil, err
	}

	payment := write.Payment
	if payment.ID == "" {
		payment.ID = xid.New("lbp")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.LaybyID = laybyID
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO layby_payments (
			id, layby_id, amount_cents, method, reference, notes, idempotency_key, transaction_id, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, payment.ID, laybyID, payment.AmountCents, payment.Method, nullIfEmpty(payment.Reference), nullIfEmpty(payment.Notes),
		nullIfEmpty(payment.IdempotencyKey), txn.ID, payment.CreatedBy, payment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrVersionConflict
		}
		return nil, err
	}

	if err := casUpdateLayby(ctx, pgTx, order, expectedVersion); err != nil {
		return nil, err
	}
	// Installments split the balance at generation time, so they settle
	// against the reduction since then, not against every payment ever made.
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE layby_payment_schedules sch
		SET status = 'paid'
		FROM (
			SELECT id,
				SUM(amount_cents) OVER (ORDER BY installment_no) AS covered,
				SUM(amount_cents) OVER () AS scheduled
			FROM layby_payment_schedules
			WHERE layby_id = $1
		) cum
		WHERE sch.id = cum.id
			AND sch.status = 'pending'
			AND cum.covered <= cum.scheduled - $2
	`, laybyID, order.BalanceCents); err != nil {
		return nil, err
	}

	history := write.History
	history.LaybyID = laybyID
	history.OldValue = strconv.FormatInt(oldBalance, 10)
	history.NewValue = strconv.FormatInt(order.BalanceCents, 10)
	if err := insertHistory(ctx, pgTx, &history, now); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxErr(err)
	}
	order.Version = expectedVersion + 1
	return &store.PaymentResult{Payment: payment, Transaction: txn, Layby: *order}, nil
}

func (s *Store) ApplyLaybyInterest(ctx context.Context, laybyID string, expectedVersion int64, write store.InterestWrite) (*store.Mutation, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	order, err := lockLayby(ctx, pgTx, laybyID)
	if err != nil {
		return nil, err
	}
	if order.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	oldInterest := order.InterestCents
	if err := ledger.ApplyInterest(order, write.AmountCents); err != nil {
		return nil, err
	}
	if err := casUpdateLayby(ctx, pgTx, order, expectedVersion); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	history := write.History
	history.LaybyID = laybyID
	history.OldValue = strconv.FormatInt(oldInterest, 10)
	history.NewValue = strconv.FormatInt(order.InterestCents, 10)
	if err := insertHistory(ctx, pgTx, &history, now); err != nil {
		return nil, err
	}
	txn := write.Transaction
	txn.AmountCents = write.AmountCents
	if err := insertTransaction(ctx, pgTx, &txn, order, now); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxErr(err)
	}
	order.Version = expectedVersion + 1
	return &store.Mutation{Layby: *order, Transaction: &txn}, nil
}

func (s *Store) CompleteLayby(ctx context.Context, laybyID string, expectedVersion int64, at time.Time, history domain.LaybyHistory) (*store.Mutation, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	order, err := lockLayby(ctx, pgTx, laybyID)
	if err != nil {
		return nil, err
	}
	if order.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	oldStatus := order.Status
	if err := ledger.Complete(order, at); err != nil {
		return nil, err
	}
	if err := casUpdateLayby(ctx, pgTx, order, expectedVersion); err != nil {
		return nil, err
	}
	history.LaybyID = laybyID
	history.OldValue = oldStatus
	history.NewValue = order.Status
	if err := insertHistory(ctx, pgTx, &history, at.UTC()); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxErr(err)
	}
	order.Version = expectedVersion + 1
	return &store.Mutation{Layby: *order}, nil
}

func (s *Store) CancelLayby(ctx context.Context, laybyID string, expectedVersion int64, write store.CancelWrite) (*store.Mutation, error) {
	if write.FeeCents < 0 || write.RefundCents < 0 {
		return nil, store.ErrInvalidTransaction
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	order, err := lockLayby(ctx, pgTx, laybyID)
	if err != nil {
		return nil, err
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
	if write.At.IsZero() {
		at = time.Now().UTC()
	}
	oldStatus := order.Status
	order.RestockingFeeCents = write.FeeCents
	order.RefundCents = write.RefundCents
	order.BalanceCents = 0
	order.Status = domain.LaybyStatusCancelled
	order.CancellationReason = write.Reason
	order.CancelledAt = &at
	if err := casUpdateLayby(ctx, pgTx, order, expectedVersion); err != nil {
		return nil, err
	}

	var refund *domain.Transaction
	if write.RefundCents > 0 {
		txn := write.Refund
		txn.AmountCents = write.RefundCents
		if err := insertTransaction(ctx, pgTx, &txn, order, at); err != nil {
			return nil, err
		}
		refund = &txn
	}

	history := write.History
	history.LaybyID = laybyID
	history.OldValue = oldStatus
	history.NewValue = order.Status
	if err := insertHistory(ctx, pgTx, &history, at); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxErr(err)
	}
	order.Version = expectedVersion + 1
	return &store.Mutation{Layby: *order, Transaction: refund}, nil
}

func (s *Store) RecordReminder(ctx context.Context, laybyID string, at time.Time, maxCount int, history domain.LaybyHistory) (*domain.LaybyOrder, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	order, err := lockLayby(ctx, pgTx, laybyID)
	if err != nil {
		return nil, err
	}
	if !ledger.IsOpen(order) {
		return nil, ledger.ErrOrderClosed
	}
	if order.ReminderCount >= maxCount {
		return nil, fmt.Errorf("%w: reminder limit reached", store.ErrInvalidTransaction)
	}

	sentAt := at.UTC()
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE layby_orders
		SET reminder_count = reminder_count + 1, last_reminder_sent = $2, updated_at = now()
		WHERE id = $1
	`, laybyID, sentAt); err != nil {
		return nil, err
	}
	history.LaybyID = laybyID
	history.OldValue = strconv.Itoa(order.ReminderCount)
	history.NewValue = strconv.Itoa(order.ReminderCount + 1)
	if err := insertHistory(ctx, pgTx, &history, sentAt); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	order.ReminderCount++
	order.LastReminderSent = &sentAt
	return order, nil
}

func (s *Store) GetLaybySettings(ctx context.Context, storeID string) (*domain.LaybySettings, error) {
	var settings domain.LaybySettings
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, default_interest_rate_percent, overdue_grace_period_days, require_deposit_percent,
			max_layby_duration_days, automatic_reminders_enabled, reminder_interval_days, max_reminder_count,
			inventory_reservation_enabled, default_cancellation_fee_percent, updated_at
		FROM layby_settings
		WHERE store_id = $1
	`, storeID).Scan(
		&settings.StoreID, &settings.DefaultInterestRatePercent, &settings.OverdueGracePeriodDays, &settings.RequireDepositPercent,
		&settings.MaxLaybyDurationDays, &settings.AutomaticRemindersEnabled, &settings.ReminderIntervalDays, &settings.MaxReminderCount,
		&settings.InventoryReservationEnabled, &settings.DefaultCancellationFeePercent, &settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return &settings, nil
}

func (s *Store) UpsertLaybySettings(ctx context.Context, settings domain.LaybySettings) (*domain.LaybySettings, error) {
	if settings.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	settings.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO layby_settings (
			store_id, default_interest_rate_percent, overdue_grace_period_days, require_deposit_percent,
			max_layby_duration_days, automatic_reminders_enabled, reminder_interval_days, max_reminder_count,
			inventory_reservation_enabled, default_cancellation_fee_percent, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (store_id) DO UPDATE SET
			default_interest_rate_percent = EXCLUDED.default_interest_rate_percent,
			overdue_grace_period_days = EXCLUDED.overdue_grace_period_days,
			require_deposit_percent = EXCLUDED.require_deposit_percent,
			max_layby_duration_days = EXCLUDED.max_layby_duration_days,
			automatic_reminders_enabled = EXCLUDED.automatic_reminders_enabled,
			reminder_interval_days = EXCLUDED.reminder_interval_days,
			max_reminder_count = EXCLUDED.max_reminder_count,
			inventory_reservation_enabled = EXCLUDED.inventory_reservation_enabled,
			default_cancellation_fee_percent = EXCLUDED.default_cancellation_fee_percent,
			updated_at = EXCLUDED.updated_at
	`, settings.StoreID, settings.DefaultInterestRatePercent, settings.OverdueGracePeriodDays, settings.RequireDepositPercent,
		settings.MaxLaybyDurationDays, settings.AutomaticRemindersEnabled, settings.ReminderIntervalDays, settings.MaxReminderCount,
		settings.InventoryReservationEnabled, settings.DefaultCancellationFeePercent, settings.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func lockLayby(ctx context.Context, q queryer, id string) (*domain.LaybyOrder, error) {
	return scanLayby(q.QueryRowContext(ctx, `SELECT `+laybyColumns+` FROM layby_orders WHERE id = $1 FOR UPDATE`, id))
}

// casUpdateLayby writes the mutable money and status columns only when the
// row still carries expectedVersion.
func casUpdateLayby(ctx context.Context, q queryer, order *domain.LaybyOrder, expectedVersion int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE layby_orders
		SET balance_cents = $3,
			interest_cents = $4,
			restocking_fee_cents = $5,
			refund_cents = $6,
			status = $7,
			completion_date = $8,
			cancelled_at = $9,
			cancellation_reason = $10,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
	`, order.ID, expectedVersion, order.BalanceCents, order.InterestCents, order.RestockingFeeCents, order.RefundCents,
		order.Status, nullTime(order.CompletionDate), nullTime(order.CancelledAt), nullIfEmpty(order.CancellationReason))
	if err != nil {
		return mapTxErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func insertTransaction(ctx context.Context, q queryer, txn *domain.Transaction, order *domain.LaybyOrder, at time.Time) error {
	if txn.ID == "" {
		txn.ID = xid.New("tx")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = at
	}
	txn.StoreID = order.StoreID
	txn.ReferenceID = order.ID
	txn.ReferenceType = domain.ReferenceTypeLayby
	if txn.CustomerName == "" {
		txn.CustomerName = order.CustomerName
	}
	if err := q.QueryRowContext(ctx, `SELECT generate_transaction_number($1)`, order.StoreID).Scan(&txn.TransactionNumber); err != nil {
		return fmt.Errorf("generate_transaction_number: %w", err)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, store_id, transaction_number, transaction_type, amount_cents, payment_method,
			reference_id, reference_type, customer_name, description, notes, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, txn.ID, txn.StoreID, txn.TransactionNumber, txn.Type, txn.AmountCents, txn.PaymentMethod,
		txn.ReferenceID, txn.ReferenceType, nullIfEmpty(txn.CustomerName), txn.Description, nullIfEmpty(txn.Notes),
		txn.CreatedBy, txn.CreatedAt)
	return err
}

func insertHistory(ctx context.Context, q queryer, entry *domain.LaybyHistory, at time.Time) error {
	if entry.ID == "" {
		entry.ID = xid.New("lbh")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = at
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO layby_history (id, layby_id, action, old_value, new_value, notes, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.LaybyID, entry.Action, nullIfEmpty(entry.OldValue), nullIfEmpty(entry.NewValue),
		nullIfEmpty(entry.Notes), entry.Actor, entry.CreatedAt)
	return err
}

func findPaymentByIdempotency(ctx context.Context, q queryer, laybyID string, key string) (*store.PaymentResult, error) {
	var result store.PaymentResult
	var reference, notes sql.NullString
	var transactionID string
	err := q.QueryRowContext(ctx, `
		SELECT id, layby_id, amount_cents, method, reference, notes, idempotency_key, transaction_id, created_by, created_at
		FROM layby_payments
		WHERE layby_id = $1 AND idempotency_key = $2
	`, laybyID, key).Scan(&result.Payment.ID, &result.Payment.LaybyID, &result.Payment.AmountCents, &result.Payment.Method,
		&reference, &notes, &result.Payment.IdempotencyKey, &transactionID, &result.Payment.CreatedBy, &result.Payment.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	result.Payment.Reference = reference.String
	result.Payment.Notes = notes.String
	result.Payment.CreatedAt = result.Payment.CreatedAt.UTC()

	txn := &result.Transaction
	err = q.QueryRowContext(ctx, `
		SELECT id, store_id, transaction_number, transaction_type, amount_cents, payment_method,
			COALESCE(reference_id, ''), COALESCE(reference_type, ''), COALESCE(customer_name, ''),
			description, COALESCE(notes, ''), created_by, created_at
		FROM transactions
		WHERE id = $1
	`, transactionID).Scan(&txn.ID, &txn.StoreID, &txn.TransactionNumber, &txn.Type, &txn.AmountCents, &txn.PaymentMethod,
		&txn.ReferenceID, &txn.ReferenceType, &txn.CustomerName, &txn.Description, &txn.Notes, &txn.CreatedBy, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}
	txn.CreatedAt = txn.CreatedAt.UTC()
	return &result, nil
}

func loadItems(ctx context.Context, q queryer, laybyID string) ([]domain.LaybyItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sku, name, qty, unit_price_cents, line_total_cents
		FROM layby_items
		WHERE layby_id = $1
		ORDER BY sku
	`, laybyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LaybyItem, 0, 4)
	for rows.Next() {
		var item domain.LaybyItem
		if err := rows.Scan(&item.SKU, &item.Name, &item.Qty, &item.UnitPriceCents, &item.LineTotalCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadPayments(ctx context.Context, q queryer, laybyID string) ([]domain.LaybyPayment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, layby_id, amount_cents, method, COALESCE(reference, ''), COALESCE(notes, ''),
			COALESCE(idempotency_key, ''), created_by, created_at
		FROM layby_payments
		WHERE layby_id = $1
		ORDER BY created_at ASC
	`, laybyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.LaybyPayment, 0, 4)
	for rows.Next() {
		var p domain.LaybyPayment
		if err := rows.Scan(&p.ID, &p.LaybyID, &p.AmountCents, &p.Method, &p.Reference, &p.Notes, &p.IdempotencyKey, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func loadHistory(ctx context.Context, q queryer, laybyID string) ([]domain.LaybyHistory, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, layby_id, action, COALESCE(old_value, ''), COALESCE(new_value, ''), COALESCE(notes, ''), actor, created_at
		FROM layby_history
		WHERE layby_id = $1
		ORDER BY created_at ASC
	`, laybyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.LaybyHistory, 0, 8)
	for rows.Next() {
		var h domain.LaybyHistory
		if err := rows.Scan(&h.ID, &h.LaybyID, &h.Action, &h.OldValue, &h.NewValue, &h.Notes, &h.Actor, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.CreatedAt = h.CreatedAt.UTC()
		history = append(history, h)
	}
	return history, rows.Err()
}

func loadSchedule(ctx context.Context, q queryer, laybyID string) ([]domain.LaybyPaymentSchedule, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, layby_id, installment_no, due_date, amount_cents, status
		FROM layby_payment_schedules
		WHERE layby_id = $1
		ORDER BY installment_no ASC
	`, laybyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedule := make([]domain.LaybyPaymentSchedule, 0, 8)
	for rows.Next() {
		var row domain.LaybyPaymentSchedule
		if err := rows.Scan(&row.ID, &row.LaybyID, &row.InstallmentNo, &row.DueDate, &row.AmountCents, &row.Status); err != nil {
			return nil, err
		}
		row.DueDate = row.DueDate.UTC()
		schedule = append(schedule, row)
	}
	return schedule, rows.Err()
}

func utcPtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
