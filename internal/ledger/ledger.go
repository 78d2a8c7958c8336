// Package ledger holds the balance and status rules of a layby order.
//
// Every function here is pure: callers load an order, run the rule, and
// persist the result through a store that re-checks the order version.
package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/store"
)

var (
	ErrDepositTooLarge    = fmt.Errorf("%w: deposit must be less than total", store.ErrInvalidTransaction)
	ErrDepositTooSmall    = fmt.Errorf("%w: deposit below required percentage", store.ErrInvalidTransaction)
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive and not exceed balance", store.ErrInvalidTransaction)
	ErrOrderClosed        = fmt.Errorf("%w: layby is not open", store.ErrInvalidTransaction)
	ErrBalanceOutstanding = fmt.Errorf("%w: balance must be zero before completion", store.ErrInvalidTransaction)
	ErrInvalidFee         = fmt.Errorf("%w: fee percent must be between 0 and 100", store.ErrInvalidTransaction)
)

// ValidateNewOrder checks the amounts of an order before it is created.
func ValidateNewOrder(totalCents int64, depositCents int64, requireDepositPercent float64) error {
	if totalCents < 1 || depositCents < 0 {
		return store.ErrInvalidTransaction
	}
	if depositCents >= totalCents {
		return ErrDepositTooLarge
	}
	if requireDepositPercent > 0 && depositCents < MinimumDeposit(totalCents, requireDepositPercent) {
		return ErrDepositTooSmall
	}
	return nil
}

// MinimumDeposit rounds up so a 10% requirement on 999 cents asks for 100.
func MinimumDeposit(totalCents int64, percent float64) int64 {
	if percent <= 0 {
		return 0
	}
	return decimal.NewFromInt(totalCents).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Ceil().
		IntPart()
}

func InitialBalance(totalCents int64, depositCents int64) int64 {
	return totalCents - depositCents
}

func IsOpen(order *domain.LaybyOrder) bool {
	return order.Status == domain.LaybyStatusActive || order.Status == domain.LaybyStatusOverdue
}

// ApplyPayment reduces the balance. It never changes status: completion is a
// separate, explicit step.
func ApplyPayment(order *domain.LaybyOrder, amountCents int64) error {
	if !IsOpen(order) {
		return ErrOrderClosed
	}
	if amountCents <= 0 || amountCents > order.BalanceCents {
		return ErrInvalidAmount
	}
	order.BalanceCents -= amountCents
	return nil
}

func CanComplete(order *domain.LaybyOrder) bool {
	return IsOpen(order) && order.BalanceCents == 0
}

func Complete(order *domain.LaybyOrder, at time.Time) error {
	if !IsOpen(order) {
		return ErrOrderClosed
	}
	if order.BalanceCents != 0 {
		return ErrBalanceOutstanding
	}
	completedAt := at.UTC()
	order.Status = domain.LaybyStatusCompleted
	order.CompletionDate = &completedAt
	return nil
}

// PaidToDate is deposit plus recorded payments, derived from the balance
// identity so it does not need the payment rows loaded.
func PaidToDate(order *domain.LaybyOrder) int64 {
	return order.TotalCents + order.InterestCents - order.BalanceCents
}

// CancellationAmounts splits what the customer has paid into the retained
// restocking fee and the refund.
func CancellationAmounts(paidCents int64, feePercent float64) (feeCents int64, refundCents int64, err error) {
	if feePercent < 0 || feePercent > 100 || math.IsNaN(feePercent) {
		return 0, 0, ErrInvalidFee
	}
	if paidCents <= 0 {
		return 0, 0, nil
	}
	feeCents = decimal.NewFromInt(paidCents).
		Mul(decimal.NewFromFloat(feePercent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	if feeCents > paidCents {
		feeCents = paidCents
	}
	return feeCents, paidCents - feeCents, nil
}

func Cancel(order *domain.LaybyOrder, feePercent float64, reason string, at time.Time) error {
	if !IsOpen(order) {
		return ErrOrderClosed
	}
	fee, refund, err := CancellationAmounts(PaidToDate(order), feePercent)
	if err != nil {
		return err
	}
	cancelledAt := at.UTC()
	order.RestockingFeeCents = fee
	order.RefundCents = refund
	order.BalanceCents = 0
	order.Status = domain.LaybyStatusCancelled
	order.CancellationReason = reason
	order.CancelledAt = &cancelledAt
	return nil
}

// DaysOverdue is floor((now - due) / 1 day), never negative.
func DaysOverdue(due time.Time, now time.Time) int {
	if due.IsZero() || !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / (24 * time.Hour))
}

func IsOverdueCandidate(order *domain.LaybyOrder, now time.Time, graceDays int) bool {
	if order.Status != domain.LaybyStatusActive || order.BalanceCents <= 0 {
		return false
	}
	if graceDays < 0 {
		graceDays = 0
	}
	return now.After(order.DueDate.Add(time.Duration(graceDays) * 24 * time.Hour))
}

// IsInterestCandidate matches overdue orders that still accrue interest.
func IsInterestCandidate(order *domain.LaybyOrder) bool {
	return order.Status == domain.LaybyStatusOverdue && order.BalanceCents > 0 && order.InterestRatePercent > 0
}

// ApplyInterest adds a charge to both interest and balance. Calling it twice
// for the same accrual period charges twice; callers own that guard.
func ApplyInterest(order *domain.LaybyOrder, amountCents int64) error {
	if !IsOpen(order) {
		return ErrOrderClosed
	}
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	order.InterestCents += amountCents
	order.BalanceCents += amountCents
	return nil
}

// Classify recomputes the list aggregates from scratch.
func Classify(orders []domain.LaybyOrder) domain.LaybyStats {
	stats := domain.LaybyStats{Total: len(orders)}
	for _, order := range orders {
		stats.TotalValueCents += order.TotalCents
		stats.DepositsCollectedCents += order.DepositCents
		switch order.Status {
		case domain.LaybyStatusActive:
			stats.Active++
			stats.OutstandingBalanceCents += order.BalanceCents
		case domain.LaybyStatusOverdue:
			stats.Overdue++
			stats.OutstandingBalanceCents += order.BalanceCents
		case domain.LaybyStatusCompleted:
			stats.Completed++
		case domain.LaybyStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// SumSelectedInterest totals already-fetched interest for the chosen ids.
func SumSelectedInterest(candidates []domain.InterestCandidate, selected []string) int64 {
	want := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		want[id] = struct{}{}
	}
	total := int64(0)
	for _, candidate := range candidates {
		if _, ok := want[candidate.LaybyID]; ok {
			total += candidate.CalculatedInterestCents
		}
	}
	return total
}

// SettleSchedule marks installments paid, oldest first. The schedule splits
// the balance left when it was generated, so only the reduction since then
// counts toward it. Earlier payments never settle installments.
func SettleSchedule(schedule []domain.LaybyPaymentSchedule, balanceCents int64) {
	scheduled := int64(0)
	for _, row := range schedule {
		scheduled += row.AmountCents
	}
	paid := scheduled - balanceCents
	if paid <= 0 {
		return
	}
	covered := int64(0)
	for i := range schedule {
		covered += schedule[i].AmountCents
		if covered <= paid {
			schedule[i].Status = domain.ScheduleStatusPaid
		}
	}
}

// SamePayment reports whether a replayed request matches the stored payment
// for its idempotency key.
func SamePayment(stored domain.LaybyPayment, incoming domain.LaybyPayment) bool {
	return stored.AmountCents == incoming.AmountCents &&
		stored.Method == incoming.Method &&
		stored.Reference == incoming.Reference
}
