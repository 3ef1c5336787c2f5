/**
 * @description
 * The Account entity: balance, lifecycle flags and parent/child links, plus the
 * pure balance-mutating and lifecycle operations of the ledger core. Methods
 * here validate and mutate in-memory state only; persistence and row locking
 * are the store's job, so every rule is independently unit-testable.
 *
 * @notes
 * - A principal account has no parent; a secondary account references an
 *   existing, active, principal parent (no grandparent chains).
 * - Transfers are debited at settlement time, not at request time: BeginTransfer
 *   only reserves availability against the outstanding pending outgoing total.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account maps directly to the `accounts` table.
type Account struct {
	AccountNumber       string          `json:"account_number"`
	UserID              uuid.UUID       `json:"user_id"`
	Balance             decimal.Decimal `json:"balance"`
	IsActive            bool            `json:"is_active"`
	ParentAccountNumber *string         `json:"parent_account_number,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	ClosedAt            *time.Time      `json:"closed_at,omitempty"`
}

// IsPrincipal reports whether the account is the root of its family tree.
func (a *Account) IsPrincipal() bool {
	return a.ParentAccountNumber == nil
}

// Deposit validates and applies a deposit, returning the COMPLETED transaction
// record. ceiling is the per-operation deposit ceiling.
func (a *Account) Deposit(amount, ceiling decimal.Decimal, now time.Time) (*Transaction, error) {
	if !a.IsActive {
		return nil, ErrAccountClosed
	}
	if !ValidAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(ceiling) {
		return nil, ErrDepositOverCeiling
	}
	a.Balance = a.Balance.Add(amount)
	number := a.AccountNumber
	return &Transaction{
		Type:                     TransactionTypeDeposit,
		Amount:                   amount,
		DestinationAccountNumber: &number,
		Status:                   StatusCompleted,
		CreatedAt:                now,
		SettledAt:                &now,
	}, nil
}

// BeginTransfer validates a transfer request and returns the PENDING record.
// Neither balance is mutated yet; the debit happens at settlement.
// outstanding is the sum of the source's pending outgoing transfer amounts,
// which the available balance must cover in addition to the new amount.
func (a *Account) BeginTransfer(target *Account, amount, outstanding decimal.Decimal, now time.Time) (*Transaction, error) {
	if !a.IsActive {
		return nil, ErrAccountClosed
	}
	if target == nil || !target.IsActive {
		return nil, ErrAccountClosed
	}
	if !ValidAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if target.AccountNumber == a.AccountNumber {
		return nil, ErrSameAccount
	}
	if a.Balance.Sub(outstanding).LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	source, destination := a.AccountNumber, target.AccountNumber
	return &Transaction{
		Type:                     TransactionTypeTransfer,
		Amount:                   amount,
		SourceAccountNumber:      &source,
		DestinationAccountNumber: &destination,
		Status:                   StatusPending,
		CreatedAt:                now,
	}, nil
}

// ApplySettlement finalizes a pending transfer against the source account:
// the source is debited the full amount, then each target in priority order is
// credited. A secondary target's balance is capped at secondaryCeiling and any
// remainder carries to the next target; a principal target absorbs whatever is
// left. The credit plan is computed before any balance moves, so a remainder
// that no target can absorb fails with ErrSecondaryCeilingExceeded and every
// balance stays put. Marks tx COMPLETED.
func (a *Account) ApplySettlement(tx *Transaction, targets []*Account, secondaryCeiling decimal.Decimal, now time.Time) error {
	if tx.Status != StatusPending {
		return ErrTransferNotPending
	}
	if a.Balance.LessThan(tx.Amount) {
		return ErrInsufficientFunds
	}

	credits := make([]decimal.Decimal, len(targets))
	remaining := tx.Amount
	for i, target := range targets {
		if remaining.IsZero() {
			break
		}
		credit := remaining
		if !target.IsPrincipal() {
			headroom := secondaryCeiling.Sub(target.Balance)
			if headroom.IsNegative() {
				headroom = ZeroAmount
			}
			if credit.GreaterThan(headroom) {
				credit = headroom
			}
		}
		credits[i] = credit
		remaining = remaining.Sub(credit)
	}
	if !remaining.IsZero() {
		return ErrSecondaryCeilingExceeded
	}

	a.Balance = a.Balance.Sub(tx.Amount)
	for i, target := range targets {
		target.Balance = target.Balance.Add(credits[i])
	}

	return tx.MarkCompleted(now)
}

// SweepToParent moves the account's entire balance to its parent ahead of
// closing, recorded as a COMPLETED transfer. Returns nil when there is nothing
// to sweep. The parent is a principal account, so no ceiling applies.
func (a *Account) SweepToParent(parent *Account, now time.Time) *Transaction {
	if !a.Balance.IsPositive() {
		return nil
	}
	source, destination := a.AccountNumber, parent.AccountNumber
	record := &Transaction{
		Type:                     TransactionTypeTransfer,
		Amount:                   a.Balance,
		SourceAccountNumber:      &source,
		DestinationAccountNumber: &destination,
		Status:                   StatusCompleted,
		CreatedAt:                now,
		SettledAt:                &now,
	}
	parent.Balance = parent.Balance.Add(a.Balance)
	a.Balance = ZeroAmount
	return record
}

// EnsureCanClose guards the close operation. activeChildren and pendingTransfers
// are row counts supplied by the store.
func (a *Account) EnsureCanClose(activeChildren, pendingTransfers int) error {
	if !a.IsActive {
		return ErrAccountClosed
	}
	if activeChildren > 0 {
		return ErrHasActiveChildren
	}
	if pendingTransfers > 0 {
		return ErrHasPendingTransfers
	}
	return nil
}

// Close deactivates the account. Balance sweeping is handled by the caller
// before deactivation so the sweep and the close commit together.
func (a *Account) Close(now time.Time) {
	a.IsActive = false
	a.ClosedAt = &now
}

// EnsureCanArchive guards the archive operation: only closed accounts may be
// turned into an immutable archive record.
func (a *Account) EnsureCanArchive() error {
	if a.IsActive {
		return ErrAccountStillActive
	}
	if a.ClosedAt == nil {
		return ErrAccountStillActive
	}
	return nil
}

// ValidateParent checks that parent can adopt a new child account.
// activeChildren is the parent's current active child count and childCap the
// per-parent policy ceiling.
func ValidateParent(parent *Account, activeChildren, childCap int) error {
	if parent == nil || !parent.IsActive || !parent.IsPrincipal() {
		return ErrInvalidParent
	}
	if activeChildren >= childCap {
		return ErrChildCapExceeded
	}
	return nil
}
