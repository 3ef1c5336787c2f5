/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. All balance
 * mutations run inside a database transaction with `SELECT ... FOR UPDATE` on
 * the rows involved, so the settle/cancel race on a transfer and concurrent
 * mutation of shared balances are serialized by the database itself: the
 * persisted transaction status is the single source of truth, and exactly one
 * of {finalize, cancel} can commit.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Fixed-precision amounts (NUMERIC columns).
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/NaKyoo/bank-project/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateAccount    = errors.New("account number already exists")
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `account_number, user_id, balance, is_active, parent_account_number, created_at, closed_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.AccountNumber,
		&account.UserID,
		&account.Balance,
		&account.IsActive,
		&account.ParentAccountNumber,
		&account.CreatedAt,
		&account.ClosedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

const transactionColumns = `id, type, amount, source_account_number, destination_account_number, status, created_at, settled_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var record domain.Transaction
	err := row.Scan(
		&record.ID,
		&record.Type,
		&record.Amount,
		&record.SourceAccountNumber,
		&record.DestinationAccountNumber,
		&record.Status,
		&record.CreatedAt,
		&record.SettledAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &record, nil
}

// CreateAccount inserts a new account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (account_number, user_id, balance, is_active, parent_account_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		account.AccountNumber,
		account.UserID,
		account.Balance,
		account.IsActive,
		account.ParentAccountNumber,
		account.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateAccount
		}
		return err
	}
	return nil
}

// FindAccountByNumber retrieves an account by its account number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE account_number = $1`, accountColumns)
	return scanAccount(r.db.QueryRow(ctx, query, accountNumber))
}

// CountActiveChildren counts the active child accounts under a principal account.
func (r *PostgresRepository) CountActiveChildren(ctx context.Context, parentAccountNumber string) (int, error) {
	var count int
	query := `SELECT count(*) FROM accounts WHERE parent_account_number = $1 AND is_active`
	if err := r.db.QueryRow(ctx, query, parentAccountNumber).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountActiveAccountsByUser counts all active accounts owned by a user.
func (r *PostgresRepository) CountActiveAccountsByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT count(*) FROM accounts WHERE user_id = $1 AND is_active`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FindTransactionByID retrieves a transaction by id.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID int64) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)
	return scanTransaction(r.db.QueryRow(ctx, query, transactionID))
}

// ListTransactionsByAccount returns the transactions where the account is
// source or destination, newest first.
func (r *PostgresRepository) ListTransactionsByAccount(ctx context.Context, accountNumber string, completedOnly bool) ([]domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE (source_account_number = $1 OR destination_account_number = $1)
	`, transactionColumns)
	if completedOnly {
		query += ` AND status = 'completed'`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, accountNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.Transaction
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ListOverduePendingTransferIDs returns pending transfers created before cutoff.
func (r *PostgresRepository) ListOverduePendingTransferIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	query := `
		SELECT id FROM transactions
		WHERE type = 'transfer' AND status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Deposit atomically credits an account and records the COMPLETED deposit
// transaction. The account row is locked for the duration so concurrent
// mutations serialize.
func (r *PostgresRepository) Deposit(ctx context.Context, accountNumber string, amount, ceiling decimal.Decimal) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account, err := lockAccount(ctx, tx, accountNumber)
	if err != nil {
		return nil, err
	}

	record, err := account.Deposit(amount, ceiling, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := updateBalance(ctx, tx, account); err != nil {
		return nil, err
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}

	return record, tx.Commit(ctx)
}

// CreateTransfer records a new PENDING transfer. Both account rows are locked
// FOR UPDATE and the active flags, the same-account rule and the available
// balance (stored balance minus the source's pending outgoing total) are all
// checked under those locks, so a concurrent transfer or close of either party
// cannot slip between the check and the insert. Two transfers racing on one
// source serialize here and the second sees the first's reservation.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, fromAccountNumber, toAccountNumber string, amount decimal.Decimal) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	accounts, err := lockAccounts(ctx, tx, []string{fromAccountNumber, toAccountNumber})
	if err != nil {
		return nil, err
	}
	source, ok := accounts[fromAccountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	destination, ok := accounts[toAccountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}

	var outstanding decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE source_account_number = $1 AND status = 'pending'
	`, fromAccountNumber).Scan(&outstanding)
	if err != nil {
		return nil, err
	}

	record, err := source.BeginTransfer(destination, amount, outstanding, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}

	return record, tx.Commit(ctx)
}

// SettleTransfer finalizes a pending transfer: it locks the transaction row,
// aborts with ErrTransferNotPending if the cancel path already won, locks the
// involved account rows in account-number order, applies the settlement and
// persists balances and the COMPLETED status in one commit.
//
// A settlement the accounts can no longer honor, either because the source
// balance does not cover the amount or because no target can absorb the
// remainder under the secondary ceiling, marks the transfer CANCELED instead
// of corrupting a balance, and returns the rule error alongside the canceled
// record.
func (r *PostgresRepository) SettleTransfer(ctx context.Context, transactionID int64, secondaryCeiling decimal.Decimal) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	record, err := lockTransaction(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StatusPending {
		return record, domain.ErrTransferNotPending
	}
	if record.Type != domain.TransactionTypeTransfer || record.SourceAccountNumber == nil || record.DestinationAccountNumber == nil {
		return nil, fmt.Errorf("transaction %d is not a settleable transfer", transactionID)
	}

	// The destination's parent participates in settlement when the secondary
	// ceiling forces an overflow carry, so it must be locked up front too.
	var destinationParent *string
	err = tx.QueryRow(ctx,
		`SELECT parent_account_number FROM accounts WHERE account_number = $1`,
		*record.DestinationAccountNumber,
	).Scan(&destinationParent)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	numbers := []string{*record.SourceAccountNumber, *record.DestinationAccountNumber}
	if destinationParent != nil {
		numbers = append(numbers, *destinationParent)
	}
	accounts, err := lockAccounts(ctx, tx, numbers)
	if err != nil {
		return nil, err
	}

	source, ok := accounts[*record.SourceAccountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	destination, ok := accounts[*record.DestinationAccountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	targets := []*domain.Account{destination}
	if destinationParent != nil {
		if parent, ok := accounts[*destinationParent]; ok {
			targets = append(targets, parent)
		}
	}

	now := time.Now().UTC()
	if err := source.ApplySettlement(record, targets, secondaryCeiling, now); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrSecondaryCeilingExceeded) {
			if cancelErr := record.MarkCanceled(); cancelErr != nil {
				return nil, cancelErr
			}
			if updateErr := updateTransactionStatus(ctx, tx, record); updateErr != nil {
				return nil, updateErr
			}
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return nil, commitErr
			}
			return record, err
		}
		return nil, err
	}

	if err := updateBalance(ctx, tx, source); err != nil {
		return nil, err
	}
	for _, target := range targets {
		if err := updateBalance(ctx, tx, target); err != nil {
			return nil, err
		}
	}
	if err := updateTransactionStatus(ctx, tx, record); err != nil {
		return nil, err
	}

	return record, tx.Commit(ctx)
}

// CancelTransfer flips a pending transfer to CANCELED under the transaction
// row lock. The status check and the flip share the lock, so a cancel racing
// the settlement timer can never both succeed.
func (r *PostgresRepository) CancelTransfer(ctx context.Context, transactionID int64, graceWindow time.Duration) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	record, err := lockTransaction(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StatusPending {
		return record, domain.ErrTransferNotPending
	}
	if graceWindow > 0 && time.Now().UTC().Sub(record.CreatedAt) > graceWindow {
		return record, domain.ErrCancelWindowExpired
	}

	if err := record.MarkCanceled(); err != nil {
		return record, err
	}
	if err := updateTransactionStatus(ctx, tx, record); err != nil {
		return nil, err
	}

	return record, tx.Commit(ctx)
}

// CloseAccount deactivates an account after the lifecycle guards pass. A
// closing secondary account with a positive balance sweeps it to the parent in
// the same commit, recorded as a COMPLETED transfer transaction.
func (r *PostgresRepository) CloseAccount(ctx context.Context, accountNumber string) (*domain.Account, *domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	var parentNumber *string
	err = tx.QueryRow(ctx,
		`SELECT parent_account_number FROM accounts WHERE account_number = $1`,
		accountNumber,
	).Scan(&parentNumber)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrAccountNotFound
		}
		return nil, nil, err
	}

	numbers := []string{accountNumber}
	if parentNumber != nil {
		numbers = append(numbers, *parentNumber)
	}
	accounts, err := lockAccounts(ctx, tx, numbers)
	if err != nil {
		return nil, nil, err
	}
	account, ok := accounts[accountNumber]
	if !ok {
		return nil, nil, ErrAccountNotFound
	}

	var activeChildren, pendingTransfers int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM accounts WHERE parent_account_number = $1 AND is_active`,
		accountNumber,
	).Scan(&activeChildren)
	if err != nil {
		return nil, nil, err
	}
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM transactions WHERE status = 'pending' AND (source_account_number = $1 OR destination_account_number = $1)`,
		accountNumber,
	).Scan(&pendingTransfers)
	if err != nil {
		return nil, nil, err
	}

	if err := account.EnsureCanClose(activeChildren, pendingTransfers); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	var sweep *domain.Transaction
	if parentNumber != nil {
		parent, ok := accounts[*parentNumber]
		if !ok {
			return nil, nil, ErrAccountNotFound
		}
		if sweep = account.SweepToParent(parent, now); sweep != nil {
			if err := updateBalance(ctx, tx, parent); err != nil {
				return nil, nil, err
			}
			if err := insertTransaction(ctx, tx, sweep); err != nil {
				return nil, nil, err
			}
		}
	}

	account.Close(now)
	_, err = tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, is_active = false, closed_at = $2 WHERE account_number = $3`,
		account.Balance, account.ClosedAt, account.AccountNumber,
	)
	if err != nil {
		return nil, nil, err
	}

	return account, sweep, tx.Commit(ctx)
}

// ArchiveAccount snapshots a closed account into archived_accounts and removes
// the live row together with its transactions and beneficiary links. The
// archived record and the live account are mutually exclusive.
func (r *PostgresRepository) ArchiveAccount(ctx context.Context, accountNumber, reason string) (*domain.ArchivedAccount, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account, err := lockAccount(ctx, tx, accountNumber)
	if err != nil {
		return nil, err
	}
	if err := account.EnsureCanArchive(); err != nil {
		return nil, err
	}

	snapshot := &domain.ArchivedAccount{
		AccountNumber:       account.AccountNumber,
		UserID:              account.UserID,
		FinalBalance:        account.Balance,
		ParentAccountNumber: account.ParentAccountNumber,
		ClosedAt:            *account.ClosedAt,
		ArchivedAt:          time.Now().UTC(),
		Reason:              reason,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO archived_accounts (account_number, user_id, final_balance, parent_account_number, closed_at, archived_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		snapshot.AccountNumber,
		snapshot.UserID,
		snapshot.FinalBalance,
		snapshot.ParentAccountNumber,
		snapshot.ClosedAt,
		snapshot.ArchivedAt,
		snapshot.Reason,
	)
	if err != nil {
		return nil, err
	}

	// Audit rows for the account go with it; the archive snapshot is the
	// accepted terminal record.
	_, err = tx.Exec(ctx,
		`DELETE FROM transactions WHERE source_account_number = $1 OR destination_account_number = $1`,
		accountNumber,
	)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`DELETE FROM beneficiaries WHERE owner_account_number = $1 OR beneficiary_account_number = $1`,
		accountNumber,
	)
	if err != nil {
		return nil, err
	}
	// Closed children still reference the parent row; they have to be
	// archived before the parent can go.
	_, err = tx.Exec(ctx, `DELETE FROM accounts WHERE account_number = $1`, accountNumber)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolationCode {
			return nil, domain.ErrHasUnarchivedChildren
		}
		return nil, err
	}

	return snapshot, tx.Commit(ctx)
}

// CreateBeneficiary inserts a beneficiary link. The unique (owner, target)
// constraint backs the duplicate check against concurrent inserts.
func (r *PostgresRepository) CreateBeneficiary(ctx context.Context, beneficiary *domain.Beneficiary) error {
	query := `
		INSERT INTO beneficiaries (owner_account_number, beneficiary_account_number, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		beneficiary.OwnerAccountNumber,
		beneficiary.BeneficiaryAccountNumber,
		beneficiary.CreatedAt,
	).Scan(&beneficiary.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ErrDuplicateBeneficiary
		}
		return err
	}
	return nil
}

// ListBeneficiaries returns the owner's beneficiary links, oldest first.
func (r *PostgresRepository) ListBeneficiaries(ctx context.Context, ownerAccountNumber string) ([]domain.Beneficiary, error) {
	query := `
		SELECT id, owner_account_number, beneficiary_account_number, created_at
		FROM beneficiaries
		WHERE owner_account_number = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, ownerAccountNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.Beneficiary
	for rows.Next() {
		var link domain.Beneficiary
		if err := rows.Scan(&link.ID, &link.OwnerAccountNumber, &link.BeneficiaryAccountNumber, &link.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// lockAccount loads one account row FOR UPDATE.
func lockAccount(ctx context.Context, tx pgx.Tx, accountNumber string) (*domain.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE account_number = $1 FOR UPDATE`, accountColumns)
	return scanAccount(tx.QueryRow(ctx, query, accountNumber))
}

// lockAccounts loads a set of account rows FOR UPDATE in account-number order.
// The fixed lock order keeps concurrent settlements and closes touching
// overlapping accounts from deadlocking.
func lockAccounts(ctx context.Context, tx pgx.Tx, accountNumbers []string) (map[string]*domain.Account, error) {
	unique := make([]string, 0, len(accountNumbers))
	seen := make(map[string]bool, len(accountNumbers))
	for _, number := range accountNumbers {
		if !seen[number] {
			seen[number] = true
			unique = append(unique, number)
		}
	}
	sort.Strings(unique)

	accounts := make(map[string]*domain.Account, len(unique))
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE account_number = $1 FOR UPDATE`, accountColumns)
	for _, number := range unique {
		account, err := scanAccount(tx.QueryRow(ctx, query, number))
		if err != nil {
			return nil, err
		}
		accounts[number] = account
	}
	return accounts, nil
}

// lockTransaction loads one transaction row FOR UPDATE.
func lockTransaction(ctx context.Context, tx pgx.Tx, transactionID int64) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1 FOR UPDATE`, transactionColumns)
	return scanTransaction(tx.QueryRow(ctx, query, transactionID))
}

func updateBalance(ctx context.Context, tx pgx.Tx, account *domain.Account) error {
	_, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1 WHERE account_number = $2`,
		account.Balance, account.AccountNumber,
	)
	return err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, record *domain.Transaction) error {
	query := `
		INSERT INTO transactions (type, amount, source_account_number, destination_account_number, status, created_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return tx.QueryRow(ctx, query,
		record.Type,
		record.Amount,
		record.SourceAccountNumber,
		record.DestinationAccountNumber,
		record.Status,
		record.CreatedAt,
		record.SettledAt,
	).Scan(&record.ID)
}

func updateTransactionStatus(ctx context.Context, tx pgx.Tx, record *domain.Transaction) error {
	_, err := tx.Exec(ctx,
		`UPDATE transactions SET status = $1, settled_at = $2 WHERE id = $3`,
		record.Status, record.SettledAt, record.ID,
	)
	return err
}
