package store

import (
	"context"
	"errors"
	"time"

	"laybyku/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrVersionConflict    = errors.New("version conflict")
)

// PaymentWrite is everything one payment writes. The store fills in the
// transaction number and the post-payment balance.
type PaymentWrite struct {
	Payment     domain.LaybyPayment
	Transaction domain.Transaction
	History     domain.LaybyHistory
}

// PaymentResult reports the stored payment. Duplicate is set when the
// idempotency key had already been used and nothing new was written.
type PaymentResult struct {
	Payment     domain.LaybyPayment
	Transaction domain.Transaction
	Layby       domain.LaybyOrder
	Duplicate   bool
}

type InterestWrite struct {
	AmountCents int64
	Transaction domain.Transaction
	History     domain.LaybyHistory
}

type CancelWrite struct {
	FeeCents    int64
	RefundCents int64
	Reason      string
	At          time.Time
	// Refund is written only when RefundCents > 0.
	Refund  domain.Transaction
	History domain.LaybyHistory
}

// Mutation is the outcome of a versioned order write.
type Mutation struct {
	Layby       domain.LaybyOrder
	Transaction *domain.Transaction
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	GetStockMap(ctx context.Context, storeID string, skus []string) (map[string]int, error)
	SetStock(ctx context.Context, storeID string, sku string, qty int) error
	ReserveStock(ctx context.Context, storeID string, items []domain.StockAdjustment) error
	ReleaseStock(ctx context.Context, storeID string, items []domain.StockAdjustment) error

	CreateLayby(ctx context.Context, order domain.LaybyOrder, deposit domain.Transaction, history domain.LaybyHistory) (*domain.LaybyOrder, error)
	GetLayby(ctx context.Context, id string) (*domain.LaybyOrder, error)
	ListLaybys(ctx context.Context, filter domain.LaybyFilter) ([]domain.LaybyOrder, error)
	ApplyLaybyPayment(ctx context.Context, laybyID string, expectedVersion int64, write PaymentWrite) (*PaymentResult, error)
	ApplyLaybyInterest(ctx context.Context, laybyID string, expectedVersion int64, write InterestWrite) (*Mutation, error)
	CompleteLayby(ctx context.Context, laybyID string, expectedVersion int64, at time.Time, history domain.LaybyHistory) (*Mutation, error)
	CancelLayby(ctx context.Context, laybyID string, expectedVersion int64, write CancelWrite) (*Mutation, error)
	RecordReminder(ctx context.Context, laybyID string, at time.Time, maxCount int, history domain.LaybyHistory) (*domain.LaybyOrder, error)

	GetLaybySettings(ctx context.Context, storeID string) (*domain.LaybySettings, error)
	UpsertLaybySettings(ctx context.Context, settings domain.LaybySettings) (*domain.LaybySettings, error)

	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	Procedures
	Close() error
}

// Procedures are the named server-side routines. Callers treat their
// results as authoritative and never recompute them.
type Procedures interface {
	GenerateLaybyNumber(ctx context.Context, storeID string) (string, error)
	GenerateTransactionNumber(ctx context.Context, storeID string) (string, error)
	CalculateLaybyInterest(ctx context.Context, laybyID string, at time.Time) (int64, error)
	GeneratePaymentSchedule(ctx context.Context, laybyID string, scheduleType string, start time.Time) ([]domain.LaybyPaymentSchedule, error)
	UpdateOverdueLaybys(ctx context.Context, storeID string, at time.Time, graceDays int) ([]string, error)
	InitializeLaybySettings(ctx context.Context, storeID string) (*domain.LaybySettings, error)
	HasStoreAccess(ctx context.Context, username string, storeID string) (bool, error)
}
