/**
 * @description
 * The Transaction record and its status state machine. A transaction is the
 * audit-trail row for every money movement: deposits are recorded COMPLETED
 * immediately, transfers are recorded PENDING and finalized (or canceled)
 * later. Once a status leaves PENDING the record is immutable.
 *
 * @notes
 * - Status is a closed enumeration; transitions are validated centrally by
 *   Status.CanTransitionTo rather than re-checked ad hoc at call sites.
 * - Amounts are fixed-precision decimals, never binary floating point.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType discriminates deposits from transfers.
type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "deposit"
	TransactionTypeTransfer TransactionType = "transfer"
)

// Status is the transaction state machine: PENDING -> COMPLETED or
// PENDING -> CANCELED, both terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether s admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransitionTo reports whether the transition s -> next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusPending {
		return false
	}
	return next == StatusCompleted || next == StatusCanceled
}

// Transaction maps directly to the `transactions` table.
type Transaction struct {
	ID                       int64           `json:"id"`
	Type                     TransactionType `json:"type"`
	Amount                   decimal.Decimal `json:"amount"`
	SourceAccountNumber      *string         `json:"source_account_number,omitempty"`
	DestinationAccountNumber *string         `json:"destination_account_number,omitempty"`
	Status                   Status          `json:"status"`
	CreatedAt                time.Time       `json:"created_at"`
	SettledAt                *time.Time      `json:"settled_at,omitempty"`
}

// Involves reports whether accountNumber is the source or destination.
func (t *Transaction) Involves(accountNumber string) bool {
	if t.SourceAccountNumber != nil && *t.SourceAccountNumber == accountNumber {
		return true
	}
	return t.DestinationAccountNumber != nil && *t.DestinationAccountNumber == accountNumber
}

// MarkCompleted flips a pending transaction to COMPLETED, stamping the
// settlement time. Returns ErrTransferNotPending from a terminal state.
func (t *Transaction) MarkCompleted(now time.Time) error {
	if !t.Status.CanTransitionTo(StatusCompleted) {
		return ErrTransferNotPending
	}
	t.Status = StatusCompleted
	t.SettledAt = &now
	return nil
}

// MarkCanceled flips a pending transaction to CANCELED.
func (t *Transaction) MarkCanceled() error {
	if !t.Status.CanTransitionTo(StatusCanceled) {
		return ErrTransferNotPending
	}
	t.Status = StatusCanceled
	return nil
}
