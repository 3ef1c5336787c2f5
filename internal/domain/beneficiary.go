/**
 * @description
 * Beneficiary links, the archived-account snapshot, and the authenticated
 * caller identity handed in by the API boundary.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Beneficiary is a directed link between an owner account and a target
// account, unique per ordered pair, never self-referencing.
type Beneficiary struct {
	ID                       int64     `json:"id"`
	OwnerAccountNumber       string    `json:"owner_account_number"`
	BeneficiaryAccountNumber string    `json:"beneficiary_account_number"`
	CreatedAt                time.Time `json:"created_at"`
}

// ValidateBeneficiary enforces the self-link and duplicate rules before any
// row is written. existing holds the owner's current beneficiary numbers.
func ValidateBeneficiary(owner *Account, target *Account, existing []string) error {
	if target.AccountNumber == owner.AccountNumber {
		return ErrSelfBeneficiary
	}
	for _, number := range existing {
		if number == target.AccountNumber {
			return ErrDuplicateBeneficiary
		}
	}
	return nil
}

// ArchivedAccount is the immutable snapshot of a closed account. Creating one
// removes the live account row, so the two are mutually exclusive.
type ArchivedAccount struct {
	AccountNumber       string          `json:"account_number"`
	UserID              uuid.UUID       `json:"user_id"`
	FinalBalance        decimal.Decimal `json:"final_balance"`
	ParentAccountNumber *string         `json:"parent_account_number,omitempty"`
	ClosedAt            time.Time       `json:"closed_at"`
	ArchivedAt          time.Time       `json:"archived_at"`
	Reason              string          `json:"reason"`
}

// Caller is the already-authenticated identity attached to each request by the
// API boundary. The core only performs ownership checks against it; credential
// verification happens upstream.
type Caller struct {
	UserID uuid.UUID
	Admin  bool
}

// CanAccess reports whether the caller may operate on the account.
func (c Caller) CanAccess(account *Account) bool {
	return c.Admin || account.UserID == c.UserID
}

// AccountInfo is the read-only projection returned by the account info
// endpoint: balance, beneficiary links and completed transaction history.
type AccountInfo struct {
	AccountNumber       string          `json:"account_number"`
	Balance             decimal.Decimal `json:"balance"`
	IsActive            bool            `json:"is_active"`
	ParentAccountNumber *string         `json:"parent_account_number,omitempty"`
	Beneficiaries       []Beneficiary   `json:"beneficiaries"`
	Transactions        []Transaction   `json:"transactions"`
}
