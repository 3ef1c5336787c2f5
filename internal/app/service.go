/**
 * @description
 * This file contains the core business logic for the ledger service. The
 * `Service` struct orchestrates every multi-account operation: opening,
 * closing and archiving accounts, deposits, deferred-settlement transfers and
 * their cancellation, and beneficiary management. Persistence and row locking
 * are delegated to the repository; pure business rules live on the domain
 * entities.
 *
 * Key features:
 * - Transfers return immediately with a PENDING record; the settlement
 *   scheduler finalizes them after the grace window unless canceled first.
 * - Every account-scoped operation enforces ownership against the
 *   authenticated caller handed in by the API boundary.
 * - Publishes ledger events to RabbitMQ for asynchronous consumers.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: Event publishing.
 * - github.com/shopspring/decimal: Fixed-precision amounts.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NaKyoo/bank-project/internal/domain"
	"github.com/NaKyoo/bank-project/internal/store"
	"github.com/NaKyoo/bank-project/pkg/rabbitmq"
)

// LedgerEventsExchange is the durable topic exchange ledger events go to.
const LedgerEventsExchange = "bank.events"

// ErrTransferRateLimited is returned when a source account exceeds the
// transfer initiation rate limit.
var ErrTransferRateLimited = errors.New("transfer rate limit exceeded")

// RateLimiter is the contract for the distributed transfer-initiation limiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo      store.Repository
	producer  rabbitmq.Publisher
	scheduler *SettlementScheduler

	depositCeiling   decimal.Decimal
	secondaryCeiling decimal.Decimal
	childAccountCap  int
	activeAccountCap int
	graceWindow      time.Duration

	limiter                    RateLimiter
	transferRateLimitPerMinute int
}

// NewService creates a new ledger service instance. Ceilings are expressed in
// whole currency units.
func NewService(
	repo store.Repository,
	producer rabbitmq.Publisher,
	scheduler *SettlementScheduler,
	depositCeiling int64,
	secondaryCeiling int64,
	childAccountCap int,
	activeAccountCap int,
	graceWindow time.Duration,
) *Service {
	return &Service{
		repo:             repo,
		producer:         producer,
		scheduler:        scheduler,
		depositCeiling:   decimal.NewFromInt(depositCeiling),
		secondaryCeiling: decimal.NewFromInt(secondaryCeiling),
		childAccountCap:  childAccountCap,
		activeAccountCap: activeAccountCap,
		graceWindow:      graceWindow,
	}
}

// SetTransferRateLimiter wires a distributed rate limiter for transfer
// initiation. A nil limiter or non-positive limit disables limiting.
func (s *Service) SetTransferRateLimiter(limiter RateLimiter, perMinute int) {
	s.limiter = limiter
	s.transferRateLimitPerMinute = perMinute
}

// transferEvent is the payload published for transfer lifecycle events.
type transferEvent struct {
	TransactionID            int64           `json:"transaction_id"`
	SourceAccountNumber      *string         `json:"source_account_number,omitempty"`
	DestinationAccountNumber *string         `json:"destination_account_number,omitempty"`
	Amount                   decimal.Decimal `json:"amount"`
	Status                   domain.Status   `json:"status"`
	Timestamp                time.Time       `json:"timestamp"`
}

// accountEvent is the payload published for account lifecycle events.
type accountEvent struct {
	AccountNumber string    `json:"account_number"`
	Timestamp     time.Time `json:"timestamp"`
	Reason        string    `json:"reason,omitempty"`
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, LedgerEventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=ledger_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// loadOwnedAccount fetches an account and enforces the caller's ownership.
func (s *Service) loadOwnedAccount(ctx context.Context, caller domain.Caller, accountNumber string) (*domain.Account, error) {
	account, err := s.repo.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(account) {
		return nil, domain.ErrNotAccountOwner
	}
	return account, nil
}

// OpenAccount creates a new account. A nil parent number opens a principal
// account; a non-nil one opens a secondary account under an active principal
// parent owned by the same caller.
func (s *Service) OpenAccount(ctx context.Context, caller domain.Caller, accountNumber string, parentAccountNumber *string, initialBalance decimal.Decimal) (*domain.Account, error) {
	if !domain.NonNegativeAmount(initialBalance) {
		return nil, domain.ErrNegativeBalance
	}

	activeAccounts, err := s.repo.CountActiveAccountsByUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active accounts: %w", err)
	}
	if activeAccounts >= s.activeAccountCap {
		return nil, domain.ErrAccountCapExceeded
	}

	if parentAccountNumber != nil {
		parent, err := s.repo.FindAccountByNumber(ctx, *parentAccountNumber)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return nil, domain.ErrInvalidParent
			}
			return nil, err
		}
		if !caller.CanAccess(parent) {
			return nil, domain.ErrNotAccountOwner
		}
		activeChildren, err := s.repo.CountActiveChildren(ctx, parent.AccountNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to count child accounts: %w", err)
		}
		if err := domain.ValidateParent(parent, activeChildren, s.childAccountCap); err != nil {
			return nil, err
		}
	}

	account := &domain.Account{
		AccountNumber:       accountNumber,
		UserID:              caller.UserID,
		Balance:             initialBalance,
		IsActive:            true,
		ParentAccountNumber: parentAccountNumber,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.publish(ctx, "account.opened", accountEvent{AccountNumber: account.AccountNumber, Timestamp: account.CreatedAt})
	return account, nil
}

// Deposit credits an account and returns the COMPLETED deposit transaction.
func (s *Service) Deposit(ctx context.Context, caller domain.Caller, accountNumber string, amount decimal.Decimal) (*domain.Transaction, error) {
	if _, err := s.loadOwnedAccount(ctx, caller, accountNumber); err != nil {
		return nil, err
	}
	record, err := s.repo.Deposit(ctx, accountNumber, amount, s.depositCeiling)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=ledger_service msg=\"deposit completed\" account=%s transaction_id=%d amount=%s",
		accountNumber, record.ID, record.Amount.StringFixed(domain.MoneyScale))
	return record, nil
}

// Transfer validates a transfer request, records it PENDING and arms the
// settlement scheduler. The caller gets the pending record immediately; no
// balance moves until settlement.
func (s *Service) Transfer(ctx context.Context, caller domain.Caller, fromAccountNumber, toAccountNumber string, amount decimal.Decimal) (*domain.Transaction, error) {
	if s.limiter != nil && s.transferRateLimitPerMinute > 0 {
		_, _, err := s.limiter.ConsumeRateLimit(ctx, "transfer_initiate", fromAccountNumber, s.transferRateLimitPerMinute, time.Minute)
		if err != nil {
			if errors.Is(err, ErrTransferRateLimited) {
				return nil, err
			}
			// A limiter outage must not block money movement.
			log.Printf("level=warn component=ledger_service msg=\"rate limiter unavailable; allowing transfer\" account=%s err=%v", fromAccountNumber, err)
		}
	}

	if _, err := s.loadOwnedAccount(ctx, caller, fromAccountNumber); err != nil {
		return nil, err
	}

	// Validation and the PENDING insert happen under the account row locks in
	// one transaction, so the availability check cannot be raced.
	record, err := s.repo.CreateTransfer(ctx, fromAccountNumber, toAccountNumber, amount)
	if err != nil {
		return nil, err
	}

	s.scheduler.Schedule(record.ID)
	log.Printf("level=info component=ledger_service msg=\"transfer pending\" transaction_id=%d from=%s to=%s amount=%s",
		record.ID, fromAccountNumber, toAccountNumber, record.Amount.StringFixed(domain.MoneyScale))
	return record, nil
}

// CancelTransfer flips a pending transfer to CANCELED if the caller owns the
// source account, the record is still PENDING and the grace window has not
// elapsed. A transfer the scheduler already finalized reports
// ErrTransferNotPending; it is never silently ignored.
func (s *Service) CancelTransfer(ctx context.Context, caller domain.Caller, transactionID int64) (*domain.Transaction, error) {
	record, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if record.SourceAccountNumber == nil {
		return nil, domain.ErrTransferNotPending
	}
	if _, err := s.loadOwnedAccount(ctx, caller, *record.SourceAccountNumber); err != nil {
		return nil, err
	}

	canceled, err := s.repo.CancelTransfer(ctx, transactionID, s.graceWindow)
	if err != nil {
		return canceled, err
	}

	s.scheduler.Forget(transactionID)
	s.publish(ctx, "transfer.canceled", transferEvent{
		TransactionID:            canceled.ID,
		SourceAccountNumber:      canceled.SourceAccountNumber,
		DestinationAccountNumber: canceled.DestinationAccountNumber,
		Amount:                   canceled.Amount,
		Status:                   canceled.Status,
		Timestamp:                time.Now().UTC(),
	})
	log.Printf("level=info component=ledger_service msg=\"transfer canceled\" transaction_id=%d", canceled.ID)
	return canceled, nil
}

// CloseAccount deactivates an account. A secondary account's residual balance
// is swept to its parent in the same atomic unit.
func (s *Service) CloseAccount(ctx context.Context, caller domain.Caller, accountNumber string) (*domain.Account, error) {
	if _, err := s.loadOwnedAccount(ctx, caller, accountNumber); err != nil {
		return nil, err
	}
	account, sweep, err := s.repo.CloseAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if sweep != nil {
		log.Printf("level=info component=ledger_service msg=\"balance swept to parent\" account=%s transaction_id=%d amount=%s",
			accountNumber, sweep.ID, sweep.Amount.StringFixed(domain.MoneyScale))
	}
	s.publish(ctx, "account.closed", accountEvent{AccountNumber: accountNumber, Timestamp: time.Now().UTC()})
	return account, nil
}

// ArchiveAccount snapshots a closed account into the immutable archive and
// removes the live row.
func (s *Service) ArchiveAccount(ctx context.Context, caller domain.Caller, accountNumber, reason string) (*domain.ArchivedAccount, error) {
	if _, err := s.loadOwnedAccount(ctx, caller, accountNumber); err != nil {
		return nil, err
	}
	snapshot, err := s.repo.ArchiveAccount(ctx, accountNumber, reason)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "account.archived", accountEvent{AccountNumber: accountNumber, Timestamp: snapshot.ArchivedAt, Reason: reason})
	return snapshot, nil
}

// AddBeneficiary links a target account as beneficiary of the owner account.
func (s *Service) AddBeneficiary(ctx context.Context, caller domain.Caller, ownerAccountNumber, targetAccountNumber string) (*domain.Beneficiary, error) {
	owner, err := s.loadOwnedAccount(ctx, caller, ownerAccountNumber)
	if err != nil {
		return nil, err
	}
	target, err := s.repo.FindAccountByNumber(ctx, targetAccountNumber)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListBeneficiaries(ctx, ownerAccountNumber)
	if err != nil {
		return nil, err
	}
	numbers := make([]string, 0, len(existing))
	for _, link := range existing {
		numbers = append(numbers, link.BeneficiaryAccountNumber)
	}
	if err := domain.ValidateBeneficiary(owner, target, numbers); err != nil {
		return nil, err
	}

	link := &domain.Beneficiary{
		OwnerAccountNumber:       owner.AccountNumber,
		BeneficiaryAccountNumber: target.AccountNumber,
		CreatedAt:                time.Now().UTC(),
	}
	if err := s.repo.CreateBeneficiary(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// ListBeneficiaries returns the owner's beneficiary links.
func (s *Service) ListBeneficiaries(ctx context.Context, caller domain.Caller, ownerAccountNumber string) ([]domain.Beneficiary, error) {
	if _, err := s.loadOwnedAccount(ctx, caller, ownerAccountNumber); err != nil {
		return nil, err
	}
	return s.repo.ListBeneficiaries(ctx, ownerAccountNumber)
}

// GetAccountInfo returns balance, beneficiaries and the completed transaction
// history. Closed accounts are not readable through this path; the archive
// snapshot is their terminal record.
func (s *Service) GetAccountInfo(ctx context.Context, caller domain.Caller, accountNumber string) (*domain.AccountInfo, error) {
	account, err := s.loadOwnedAccount(ctx, caller, accountNumber)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, domain.ErrAccountClosed
	}

	beneficiaries, err := s.repo.ListBeneficiaries(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListTransactionsByAccount(ctx, accountNumber, true)
	if err != nil {
		return nil, err
	}

	return &domain.AccountInfo{
		AccountNumber:       account.AccountNumber,
		Balance:             account.Balance,
		IsActive:            account.IsActive,
		ParentAccountNumber: account.ParentAccountNumber,
		Beneficiaries:       beneficiaries,
		Transactions:        history,
	}, nil
}

// GetTransactionDetail returns one transaction, visible only to a requesting
// account that is a party to it.
func (s *Service) GetTransactionDetail(ctx context.Context, caller domain.Caller, transactionID int64, requestingAccountNumber string) (*domain.Transaction, error) {
	if _, err := s.loadOwnedAccount(ctx, caller, requestingAccountNumber); err != nil {
		return nil, err
	}
	record, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !record.Involves(requestingAccountNumber) {
		return nil, domain.ErrNotTransactionParty
	}
	return record, nil
}

// GetTransactionHistory returns the account's full transaction history,
// pending and terminal alike, newest first.
func (s *Service) GetTransactionHistory(ctx context.Context, caller domain.Caller, accountNumber string) ([]domain.Transaction, error) {
	if _, err := s.loadOwnedAccount(ctx, caller, accountNumber); err != nil {
		return nil, err
	}
	return s.repo.ListTransactionsByAccount(ctx, accountNumber, false)
}
