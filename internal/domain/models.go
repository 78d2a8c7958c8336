package domain

import "time"

type Product struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	StoreID  string
}

type LaybyItem struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type LaybyPayment struct {
	ID             string    `json:"id"`
	LaybyID        string    `json:"layby_id"`
	AmountCents    int64     `json:"amount_cents"`
	Method         string    `json:"method"`
	Reference      string    `json:"reference,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// LaybyHistory is an audit entry scoped to one layby order.
type LaybyHistory struct {
	ID        string    `json:"id"`
	LaybyID   string    `json:"layby_id"`
	Action    string    `json:"action"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

type LaybyPaymentSchedule struct {
	ID            string    `json:"id"`
	LaybyID       string    `json:"layby_id"`
	InstallmentNo int       `json:"installment_no"`
	DueDate       time.Time `json:"due_date"`
	AmountCents   int64     `json:"amount_cents"`
	Status        string    `json:"status"`
}

type LaybyOrder struct {
	ID                  string                 `json:"id"`
	StoreID             string                 `json:"store_id"`
	LaybyNumber         string                 `json:"layby_number"`
	CustomerName        string                 `json:"customer_name"`
	CustomerPhone       string                 `json:"customer_phone,omitempty"`
	TotalCents          int64                  `json:"total_amount_cents"`
	DepositCents        int64                  `json:"deposit_amount_cents"`
	BalanceCents        int64                  `json:"balance_remaining_cents"`
	InterestCents       int64                  `json:"interest_amount_cents"`
	InterestRatePercent float64                `json:"interest_rate_percent"`
	RestockingFeeCents  int64                  `json:"restocking_fee_cents"`
	RefundCents         int64                  `json:"refund_amount_cents"`
	Status              string                 `json:"status"`
	PriorityLevel       string                 `json:"priority_level"`
	PaymentScheduleType string                 `json:"payment_schedule_type,omitempty"`
	Notes               string                 `json:"notes,omitempty"`
	CreatedBy           string                 `json:"created_by"`
	CreatedAt           time.Time              `json:"created_at"`
	DueDate             time.Time              `json:"due_date"`
	CompletionDate      *time.Time             `json:"completion_date,omitempty"`
	CancelledAt         *time.Time             `json:"cancelled_at,omitempty"`
	CancellationReason  string                 `json:"cancellation_reason,omitempty"`
	LastReminderSent    *time.Time             `json:"last_reminder_sent,omitempty"`
	ReminderCount       int                    `json:"reminder_count"`
	StockReserved       bool                   `json:"stock_reserved"`
	Version             int64                  `json:"version"`
	Items               []LaybyItem            `json:"items"`
	Payments            []LaybyPayment         `json:"payments,omitempty"`
	History             []LaybyHistory         `json:"history,omitempty"`
	Schedule            []LaybyPaymentSchedule `json:"schedule,omitempty"`
}

type LaybySettings struct {
	StoreID                       string    `json:"store_id"`
	DefaultInterestRatePercent    float64   `json:"default_interest_rate_percent"`
	OverdueGracePeriodDays        int       `json:"overdue_grace_period_days"`
	RequireDepositPercent         float64   `json:"require_deposit_percent"`
	MaxLaybyDurationDays          int       `json:"max_layby_duration_days"`
	AutomaticRemindersEnabled     bool      `json:"automatic_reminders_enabled"`
	ReminderIntervalDays          int       `json:"reminder_interval_days"`
	MaxReminderCount              int       `json:"max_reminder_count"`
	InventoryReservationEnabled   bool      `json:"inventory_reservation_enabled"`
	DefaultCancellationFeePercent float64   `json:"default_cancellation_fee_percent"`
	UpdatedAt                     time.Time `json:"updated_at"`
}

type LaybyItemRequest struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type LaybyCreateRequest struct {
	CustomerName        string             `json:"customer_name"`
	CustomerPhone       string             `json:"customer_phone"`
	Items               []LaybyItemRequest `json:"items"`
	DepositCents        int64              `json:"deposit_amount_cents"`
	DepositMethod       string             `json:"deposit_method"`
	DepositReference    string             `json:"deposit_reference,omitempty"`
	InterestRatePercent *float64           `json:"interest_rate_percent,omitempty"`
	DueDate             string             `json:"due_date,omitempty"`
	PriorityLevel       string             `json:"priority_level,omitempty"`
	PaymentScheduleType string             `json:"payment_schedule_type,omitempty"`
	Notes               string             `json:"notes,omitempty"`
}

type LaybyPaymentRequest struct {
	LaybyID         string `json:"-"`
	AmountCents     int64  `json:"amount_cents"`
	Method          string `json:"method"`
	Reference       string `json:"reference,omitempty"`
	Notes           string `json:"notes,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type LaybyPaymentResponse struct {
	Payment     LaybyPayment `json:"payment"`
	Transaction Transaction  `json:"transaction"`
	Layby       LaybyOrder   `json:"layby"`
	CanComplete bool         `json:"can_complete"`
	Duplicate   bool         `json:"duplicate"`
}

type LaybyCompleteRequest struct {
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

type LaybyCancelRequest struct {
	LaybyID         string   `json:"-"`
	Reason          string   `json:"reason"`
	FeePercent      *float64 `json:"fee_percent,omitempty"`
	RefundMethod    string   `json:"refund_method,omitempty"`
	ManagerPIN      string   `json:"manager_pin"`
	ExpectedVersion int64    `json:"expected_version,omitempty"`
}

type LaybyScheduleRequest struct {
	ScheduleType string `json:"schedule_type"`
	StartDate    string `json:"start_date,omitempty"`
}

type LaybyFilter struct {
	StoreID string
	Status  string
	Search  string
	Limit   int
}

type LaybyStats struct {
	Total                   int   `json:"total"`
	Active                  int   `json:"active"`
	Overdue                 int   `json:"overdue"`
	Completed               int   `json:"completed"`
	Cancelled               int   `json:"cancelled"`
	TotalValueCents         int64 `json:"total_value_cents"`
	OutstandingBalanceCents int64 `json:"outstanding_balance_cents"`
	DepositsCollectedCents  int64 `json:"deposits_collected_cents"`
}

type LaybyListResponse struct {
	Laybys []LaybyOrder `json:"laybys"`
	Stats  LaybyStats   `json:"stats"`
}

type InterestCandidate struct {
	LaybyID                 string    `json:"layby_id"`
	LaybyNumber             string    `json:"layby_number"`
	CustomerName            string    `json:"customer_name"`
	BalanceCents            int64     `json:"balance_remaining_cents"`
	InterestRatePercent     float64   `json:"interest_rate_percent"`
	DueDate                 time.Time `json:"due_date"`
	DaysOverdue             int       `json:"days_overdue"`
	CalculatedInterestCents int64     `json:"calculated_interest_cents"`
	Version                 int64     `json:"version"`
}

type InterestCandidateResponse struct {
	Candidates            []InterestCandidate `json:"candidates"`
	TotalInterestCents    int64               `json:"total_interest_cents"`
	SelectedInterestCents int64               `json:"selected_interest_cents"`
}

type InterestApplyRequest struct {
	LaybyIDs []string `json:"layby_ids"`
}

type InterestApplyFailure struct {
	LaybyID string `json:"layby_id"`
	Reason  string `json:"reason"`
}

type InterestApplyResponse struct {
	Applied            []string               `json:"applied"`
	Failed             []InterestApplyFailure `json:"failed,omitempty"`
	TotalInterestCents int64                  `json:"total_interest_cents"`
}

type OverdueSweepResponse struct {
	StoreID       string   `json:"store_id"`
	Transitioned  []string `json:"transitioned"`
	RemindersSent int      `json:"reminders_sent"`
	RanAt         string   `json:"ran_at"`
}

type Transaction struct {
	ID                string    `json:"id"`
	StoreID           string    `json:"store_id"`
	TransactionNumber string    `json:"transaction_number"`
	Type              string    `json:"transaction_type"`
	AmountCents       int64     `json:"amount_cents"`
	PaymentMethod     string    `json:"payment_method"`
	ReferenceID       string    `json:"reference_id,omitempty"`
	ReferenceType     string    `json:"reference_type,omitempty"`
	CustomerName      string    `json:"customer_name,omitempty"`
	Description       string    `json:"description"`
	Notes             string    `json:"notes,omitempty"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
}

type TransactionFilter struct {
	StoreID string
	Type    string
	Search  string
	From    time.Time
	To      time.Time
	Limit   int
}

type DashboardTypeTotal struct {
	Type         string `json:"transaction_type"`
	Transactions int64  `json:"transactions"`
	TotalCents   int64  `json:"total_cents"`
}

type DashboardSummary struct {
	StoreID     string               `json:"store_id"`
	Date        string               `json:"date"`
	Laybys      LaybyStats           `json:"laybys"`
	TodayByType []DashboardTypeTotal `json:"today_by_type"`
	TodayCents  int64                `json:"today_cents"`
	GeneratedAt string               `json:"generated_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	StoreID   string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type StockAdjustment struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

const (
	LaybyStatusActive    = "active"
	LaybyStatusOverdue   = "overdue"
	LaybyStatusCompleted = "completed"
	LaybyStatusCancelled = "cancelled"
)

const (
	TxTypeSale          = "sale"
	TxTypeLaybyDeposit  = "layby_deposit"
	TxTypeLaybyPayment  = "layby_payment"
	TxTypeLaybyInterest = "layby_interest"
	TxTypeRefund        = "refund"
	TxTypeAdjustment    = "adjustment"
)

const (
	HistoryCreated   = "created"
	HistoryPayment   = "payment"
	HistoryInterest  = "interest_charged"
	HistoryOverdue   = "marked_overdue"
	HistoryCompleted = "completed"
	HistoryCancelled = "cancelled"
	HistoryReminder  = "reminder_sent"
	HistorySchedule  = "schedule_generated"
)

const (
	ScheduleWeekly      = "weekly"
	ScheduleFortnightly = "fortnightly"
	ScheduleMonthly     = "monthly"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityLow    = "low"
)

const (
	ScheduleStatusPending = "pending"
	ScheduleStatusPaid    = "paid"
)

const ReferenceTypeLayby = "layby_order"
