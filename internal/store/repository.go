/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access required by the ledger service. Keeping the interface here decouples
 * the business logic from PostgreSQL and lets app tests stub storage with a
 * plain struct.
 *
 * @notes
 * - Deposit, CreateTransfer, SettleTransfer, CancelTransfer, CloseAccount and
 *   ArchiveAccount are composite operations: each runs in a single database transaction with
 *   row-level locks so a balance change and its transaction-status change
 *   commit together or not at all.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/NaKyoo/bank-project/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	CountActiveChildren(ctx context.Context, parentAccountNumber string) (int, error)
	CountActiveAccountsByUser(ctx context.Context, userID uuid.UUID) (int, error)

	// Transaction methods
	FindTransactionByID(ctx context.Context, transactionID int64) (*domain.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountNumber string, completedOnly bool) ([]domain.Transaction, error)
	// ListOverduePendingTransferIDs returns PENDING transfers created before
	// cutoff, for the reconciler sweep after a process restart.
	ListOverduePendingTransferIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)

	// Composite, atomic operations
	Deposit(ctx context.Context, accountNumber string, amount, ceiling decimal.Decimal) (*domain.Transaction, error)
	// CreateTransfer locks both account rows, re-checks that both parties are
	// active and that the available balance (stored balance minus the source's
	// PENDING outgoing total) covers the amount, then inserts the PENDING row.
	// The lock closes the window between the availability check and the insert.
	CreateTransfer(ctx context.Context, fromAccountNumber, toAccountNumber string, amount decimal.Decimal) (*domain.Transaction, error)
	SettleTransfer(ctx context.Context, transactionID int64, secondaryCeiling decimal.Decimal) (*domain.Transaction, error)
	CancelTransfer(ctx context.Context, transactionID int64, graceWindow time.Duration) (*domain.Transaction, error)
	CloseAccount(ctx context.Context, accountNumber string) (*domain.Account, *domain.Transaction, error)
	ArchiveAccount(ctx context.Context, accountNumber, reason string) (*domain.ArchivedAccount, error)

	// Beneficiary methods
	CreateBeneficiary(ctx context.Context, beneficiary *domain.Beneficiary) error
	ListBeneficiaries(ctx context.Context, ownerAccountNumber string) ([]domain.Beneficiary, error)
}
