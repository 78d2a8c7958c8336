package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/store"
)

// The functions below call server-side procedures by name. Their bodies live
// in the database; this file only adapts arguments and results.

func (s *Store) GenerateLaybyNumber(ctx context.Context, storeID string) (string, error) {
	var number string
	if err := s.db.QueryRowContext(ctx, `SELECT generate_layby_number($1)`, storeID).Scan(&number); err != nil {
		return "", fmt.Errorf("generate_layby_number: %w", err)
	}
	return number, nil
}

func (s *Store) GenerateTransactionNumber(ctx context.Context, storeID string) (string, error) {
	var number string
	if err := s.db.QueryRowContext(ctx, `SELECT generate_transaction_number($1)`, storeID).Scan(&number); err != nil {
		return "", fmt.Errorf("generate_transaction_number: %w", err)
	}
	return number, nil
}

// CalculateLaybyInterest reads the procedure's numeric result, expressed in
// currency units, and converts it to cents.
func (s *Store) CalculateLaybyInterest(ctx context.Context, laybyID string, at time.Time) (int64, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT calculate_layby_interest($1, $2)::text`, laybyID, at.UTC()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("calculate_layby_interest: %w", err)
	}
	if !raw.Valid {
		return 0, store.ErrNotFound
	}
	amount, err := decimal.NewFromString(raw.String)
	if err != nil {
		return 0, fmt.Errorf("calculate_layby_interest: parse %q: %w", raw.String, err)
	}
	return amount.Shift(2).Round(0).IntPart(), nil
}

func (s *Store) GeneratePaymentSchedule(ctx context.Context, laybyID string, scheduleType string, start time.Time) ([]domain.LaybyPaymentSchedule, error) {
	switch scheduleType {
	case domain.ScheduleWeekly, domain.ScheduleFortnightly, domain.ScheduleMonthly:
	default:
		return nil, fmt.Errorf("%w: unknown schedule type %q", store.ErrInvalidTransaction, scheduleType)
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := lockLayby(ctx, pgTx, laybyID); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `SELECT generate_payment_schedule($1, $2, $3)`, laybyID, scheduleType, start.UTC()); err != nil {
		return nil, fmt.Errorf("generate_payment_schedule: %w", err)
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE layby_orders SET payment_schedule_type = $2, updated_at = now() WHERE id = $1
	`, laybyID, scheduleType); err != nil {
		return nil, err
	}
	rows, err := loadSchedule(ctx, pgTx, laybyID)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) UpdateOverdueLaybys(ctx context.Context, storeID string, at time.Time, graceDays int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT layby_id FROM update_overdue_laybys($1, $2, $3) ORDER BY layby_id`, storeID, at.UTC(), graceDays)
	if err != nil {
		return nil, fmt.Errorf("update_overdue_laybys: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) InitializeLaybySettings(ctx context.Context, storeID string) (*domain.LaybySettings, error) {
	if storeID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, err := s.db.ExecContext(ctx, `SELECT initialize_layby_settings($1)`, storeID); err != nil {
		return nil, fmt.Errorf("initialize_layby_settings: %w", err)
	}
	return s.GetLaybySettings(ctx, storeID)
}

func (s *Store) HasStoreAccess(ctx context.Context, username string, storeID string) (bool, error) {
	var allowed bool
	if err := s.db.QueryRowContext(ctx, `SELECT has_store_access($1, $2)`, username, storeID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("has_store_access: %w", err)
	}
	return allowed, nil
}
