package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/store"
)

func TestLaybyPaymentIsAtomicAndVersioned(t *testing.T) {
	databaseURL := os.Getenv("LAYBY_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set LAYBY_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("SKU-LAYBY-IT-%d", stamp)
	storeID := "main-store"

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, price_cents, active, created_at, updated_at)
		VALUES ($1, 'Produk Layby IT', 'appliance', 10000, true, now(), now())
	`, sku); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	order, err := s.CreateLayby(ctx, domain.LaybyOrder{
		StoreID:       storeID,
		CustomerName:  "Integration",
		TotalCents:    10000,
		DepositCents:  2000,
		PriorityLevel: domain.PriorityNormal,
		CreatedBy:     "it",
		DueDate:       time.Now().UTC().AddDate(0, 0, 30),
		Items:         []domain.LaybyItem{{SKU: sku, Name: "Produk Layby IT", Qty: 1, UnitPriceCents: 10000, LineTotalCents: 10000}},
	}, domain.Transaction{Type: domain.TxTypeLaybyDeposit, PaymentMethod: "cash", Description: "deposit", CreatedBy: "it"},
		domain.LaybyHistory{Action: domain.HistoryCreated, Actor: "it"})
	if err != nil {
		t.Fatalf("create layby: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM layby_history WHERE layby_id = $1`, order.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM layby_payments WHERE layby_id = $1`, order.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM layby_items WHERE layby_id = $1`, order.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE reference_id = $1`, order.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM layby_orders WHERE id = $1`, order.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE sku = $1`, sku)
	})

	write := store.PaymentWrite{
		Payment:     domain.LaybyPayment{AmountCents: 3000, Method: "cash", IdempotencyKey: fmt.Sprintf("it-%d", stamp), CreatedBy: "it"},
		Transaction: domain.Transaction{Type: domain.TxTypeLaybyPayment, PaymentMethod: "cash", Description: "payment", CreatedBy: "it"},
		History:     domain.LaybyHistory{Action: domain.HistoryPayment, Actor: "it"},
	}
	result, err := s.ApplyLaybyPayment(ctx, order.ID, order.Version, write)
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if result.Layby.BalanceCents != 5000 || result.Layby.Version != order.Version+1 {
		t.Fatalf("unexpected layby after payment: balance=%d version=%d", result.Layby.BalanceCents, result.Layby.Version)
	}

	replay, err := s.ApplyLaybyPayment(ctx, order.ID, order.Version, write)
	if err != nil || !replay.Duplicate {
		t.Fatalf("expected idempotent replay, got %+v err=%v", replay, err)
	}

	write.Payment.IdempotencyKey = ""
	if _, err := s.ApplyLaybyPayment(ctx, order.ID, order.Version, write); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, err := s.GetLayby(ctx, order.ID)
	if err != nil {
		t.Fatalf("get layby: %v", err)
	}
	if stored.BalanceCents != 5000 || len(stored.Payments) != 1 {
		t.Fatalf("expected one applied payment, got balance=%d payments=%d", stored.BalanceCents, len(stored.Payments))
	}

	var txCount int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions WHERE reference_id = $1`, order.ID).Scan(&txCount); err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if txCount != 2 {
		t.Fatalf("expected deposit and payment transactions, got %d", txCount)
	}
}
