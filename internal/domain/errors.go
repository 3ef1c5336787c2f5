/**
 * @description
 * Business-rule sentinel errors for the ledger core. Every rule violation is
 * detected before any mutation is applied, and the API layer maps these values
 * to client-facing status codes with errors.Is. Storage-level errors (row not
 * found, lock contention) live in internal/store.
 */

package domain

import "errors"

var (
	// Amount and balance rules.
	ErrInvalidAmount      = errors.New("amount must be positive with at most two fraction digits")
	ErrDepositOverCeiling = errors.New("deposit amount exceeds the per-operation ceiling")
	ErrInsufficientFunds  = errors.New("insufficient available funds")
	ErrNegativeBalance    = errors.New("opening balance cannot be negative")

	// Transfer rules.
	ErrSameAccount              = errors.New("source and destination accounts must differ")
	ErrTransferNotPending       = errors.New("transfer is no longer pending")
	ErrCancelWindowExpired      = errors.New("cancellation window has expired")
	ErrSecondaryCeilingExceeded = errors.New("settlement amount does not fit under the secondary balance ceiling")

	// Account lifecycle rules.
	ErrAccountClosed         = errors.New("account is closed")
	ErrAccountStillActive    = errors.New("account is still active")
	ErrInvalidParent         = errors.New("parent account is missing, inactive, or not a principal account")
	ErrHasActiveChildren     = errors.New("account still has active child accounts")
	ErrHasPendingTransfers   = errors.New("account has pending transfers")
	ErrChildCapExceeded      = errors.New("parent account already has the maximum number of active child accounts")
	ErrAccountCapExceeded    = errors.New("user already has the maximum number of active accounts")
	ErrHasUnarchivedChildren = errors.New("archive child accounts before archiving the parent")

	// Beneficiary rules.
	ErrSelfBeneficiary      = errors.New("an account cannot be its own beneficiary")
	ErrDuplicateBeneficiary = errors.New("beneficiary link already exists")

	// Ownership.
	ErrNotAccountOwner     = errors.New("caller does not own this account")
	ErrNotTransactionParty = errors.New("account is not a party to this transaction")
)
