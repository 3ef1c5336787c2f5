package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func activeAccount(number string, balance string) *Account {
	return &Account{
		AccountNumber: number,
		UserID:        uuid.New(),
		Balance:       dec(balance),
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}
}

func secondaryAccount(number, parent, balance string) *Account {
	account := activeAccount(number, balance)
	account.ParentAccountNumber = &parent
	return account
}

var depositCeiling = dec("2000")

func TestDeposit(t *testing.T) {
	tests := []struct {
		name        string
		amount      string
		wantErr     error
		wantBalance string
	}{
		{name: "valid deposit", amount: "50.00", wantBalance: "200.00"},
		{name: "non-canonical rendering of a valid amount", amount: "10.500", wantBalance: "160.50"},
		{name: "zero amount", amount: "0", wantErr: ErrInvalidAmount},
		{name: "negative amount", amount: "-10", wantErr: ErrInvalidAmount},
		{name: "too many fraction digits", amount: "10.001", wantErr: ErrInvalidAmount},
		{name: "over per-operation ceiling", amount: "3000", wantErr: ErrDepositOverCeiling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := activeAccount("ACC-1", "150")
			record, err := account.Deposit(dec(tt.amount), depositCeiling, time.Now().UTC())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if !account.Balance.Equal(dec("150")) {
					t.Fatalf("balance changed on failed deposit: %s", account.Balance)
				}
				return
			}
			if err != nil {
				t.Fatalf("Deposit returned error: %v", err)
			}
			if !account.Balance.Equal(dec(tt.wantBalance)) {
				t.Fatalf("expected balance %s, got %s", tt.wantBalance, account.Balance)
			}
			if record.Status != StatusCompleted || record.Type != TransactionTypeDeposit {
				t.Fatalf("expected completed deposit record, got %s %s", record.Type, record.Status)
			}
			if record.DestinationAccountNumber == nil || *record.DestinationAccountNumber != "ACC-1" {
				t.Fatal("expected destination to reference the account")
			}
		})
	}
}

func TestDepositOnClosedAccount(t *testing.T) {
	account := activeAccount("ACC-1", "100")
	account.IsActive = false
	if _, err := account.Deposit(dec("10"), depositCeiling, time.Now().UTC()); !errors.Is(err, ErrAccountClosed) {
		t.Fatalf("expected ErrAccountClosed, got %v", err)
	}
}

func TestBeginTransfer(t *testing.T) {
	tests := []struct {
		name        string
		amount      string
		outstanding string
		target      string
		wantErr     error
	}{
		{name: "valid transfer", amount: "50", outstanding: "0", target: "ACC-2"},
		{name: "non-positive amount", amount: "0", outstanding: "0", target: "ACC-2", wantErr: ErrInvalidAmount},
		{name: "same account", amount: "50", outstanding: "0", target: "ACC-1", wantErr: ErrSameAccount},
		{name: "insufficient funds", amount: "200", outstanding: "0", target: "ACC-2", wantErr: ErrInsufficientFunds},
		{name: "pending outgoing reduces availability", amount: "100", outstanding: "60", target: "ACC-2", wantErr: ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := activeAccount("ACC-1", "150")
			target := activeAccount(tt.target, "0")
			record, err := source.BeginTransfer(target, dec(tt.amount), dec(tt.outstanding), time.Now().UTC())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BeginTransfer returned error: %v", err)
			}
			// The debit is deferred to settlement.
			if !source.Balance.Equal(dec("150")) || !target.Balance.Equal(dec("0")) {
				t.Fatal("balances must not move at request time")
			}
			if record.Status != StatusPending || record.Type != TransactionTypeTransfer {
				t.Fatalf("expected pending transfer record, got %s %s", record.Type, record.Status)
			}
		})
	}
}

func TestBeginTransferToClosedTarget(t *testing.T) {
	source := activeAccount("ACC-1", "150")
	target := activeAccount("ACC-2", "0")
	target.IsActive = false
	if _, err := source.BeginTransfer(target, dec("50"), ZeroAmount, time.Now().UTC()); !errors.Is(err, ErrAccountClosed) {
		t.Fatalf("expected ErrAccountClosed, got %v", err)
	}
}

var secondaryCeiling = dec("50000")

func TestApplySettlementDebitsSourceAndCreditsDestination(t *testing.T) {
	source := activeAccount("ACC-1", "150")
	destination := activeAccount("ACC-2", "0")
	record, err := source.BeginTransfer(destination, dec("50"), ZeroAmount, time.Now().UTC())
	if err != nil {
		t.Fatalf("BeginTransfer returned error: %v", err)
	}

	if err := source.ApplySettlement(record, []*Account{destination}, secondaryCeiling, time.Now().UTC()); err != nil {
		t.Fatalf("ApplySettlement returned error: %v", err)
	}
	if !source.Balance.Equal(dec("100")) {
		t.Fatalf("expected source balance 100, got %s", source.Balance)
	}
	if !destination.Balance.Equal(dec("50")) {
		t.Fatalf("expected destination balance 50, got %s", destination.Balance)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected completed record, got %s", record.Status)
	}
}

func TestApplySettlementCapsSecondaryAndCarriesOverflowToParent(t *testing.T) {
	source := activeAccount("ACC-1", "60000")
	destination := secondaryAccount("ACC-2", "ACC-3", "49900")
	parent := activeAccount("ACC-3", "0")

	source2, dest2 := "ACC-1", "ACC-2"
	record := &Transaction{
		Type:                     TransactionTypeTransfer,
		Amount:                   dec("500"),
		SourceAccountNumber:      &source2,
		DestinationAccountNumber: &dest2,
		Status:                   StatusPending,
		CreatedAt:                time.Now().UTC(),
	}

	if err := source.ApplySettlement(record, []*Account{destination, parent}, secondaryCeiling, time.Now().UTC()); err != nil {
		t.Fatalf("ApplySettlement returned error: %v", err)
	}
	if !source.Balance.Equal(dec("59500")) {
		t.Fatalf("expected source debited in full, got %s", source.Balance)
	}
	if !destination.Balance.Equal(secondaryCeiling) {
		t.Fatalf("expected secondary capped at ceiling, got %s", destination.Balance)
	}
	if !parent.Balance.Equal(dec("400")) {
		t.Fatalf("expected overflow carried to parent, got %s", parent.Balance)
	}
}

func TestApplySettlementRejectsRemainderNoTargetCanAbsorb(t *testing.T) {
	source := activeAccount("ACC-1", "60000")
	destination := secondaryAccount("ACC-2", "ACC-3", "49900")

	sourceNumber, destNumber := "ACC-1", "ACC-2"
	record := &Transaction{
		Type:                     TransactionTypeTransfer,
		Amount:                   dec("500"),
		SourceAccountNumber:      &sourceNumber,
		DestinationAccountNumber: &destNumber,
		Status:                   StatusPending,
		CreatedAt:                time.Now().UTC(),
	}

	// The secondary destination is the only target: 100 of headroom cannot
	// absorb 500, and the ceiling is never waived.
	err := source.ApplySettlement(record, []*Account{destination}, secondaryCeiling, time.Now().UTC())
	if !errors.Is(err, ErrSecondaryCeilingExceeded) {
		t.Fatalf("expected ErrSecondaryCeilingExceeded, got %v", err)
	}
	if !source.Balance.Equal(dec("60000")) {
		t.Fatalf("source balance must not move on a failed settlement, got %s", source.Balance)
	}
	if !destination.Balance.Equal(dec("49900")) {
		t.Fatalf("destination balance must not move on a failed settlement, got %s", destination.Balance)
	}
	if record.Status != StatusPending {
		t.Fatalf("record must stay pending, got %s", record.Status)
	}
}

func TestApplySettlementRejectsTerminalRecord(t *testing.T) {
	source := activeAccount("ACC-1", "150")
	destination := activeAccount("ACC-2", "0")
	record := &Transaction{Status: StatusCanceled, Amount: dec("50")}

	err := source.ApplySettlement(record, []*Account{destination}, secondaryCeiling, time.Now().UTC())
	if !errors.Is(err, ErrTransferNotPending) {
		t.Fatalf("expected ErrTransferNotPending, got %v", err)
	}
	if !source.Balance.Equal(dec("150")) || !destination.Balance.Equal(dec("0")) {
		t.Fatal("balances must not move for a terminal record")
	}
}

func TestApplySettlementRejectsUncoveredAmount(t *testing.T) {
	source := activeAccount("ACC-1", "10")
	destination := activeAccount("ACC-2", "0")
	record := &Transaction{Status: StatusPending, Amount: dec("50")}

	if err := source.ApplySettlement(record, []*Account{destination}, secondaryCeiling, time.Now().UTC()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSweepToParent(t *testing.T) {
	parent := activeAccount("ACC-1", "100")
	child := secondaryAccount("ACC-2", "ACC-1", "20")

	record := child.SweepToParent(parent, time.Now().UTC())
	if record == nil {
		t.Fatal("expected a sweep record for a positive balance")
	}
	if !parent.Balance.Equal(dec("120")) {
		t.Fatalf("expected parent balance 120, got %s", parent.Balance)
	}
	if !child.Balance.IsZero() {
		t.Fatalf("expected child balance 0, got %s", child.Balance)
	}
	if record.Status != StatusCompleted || record.Type != TransactionTypeTransfer {
		t.Fatalf("expected completed transfer record, got %s %s", record.Type, record.Status)
	}
	if !record.Amount.Equal(dec("20")) {
		t.Fatalf("expected sweep amount 20, got %s", record.Amount)
	}
	if record.SourceAccountNumber == nil || *record.SourceAccountNumber != "ACC-2" ||
		record.DestinationAccountNumber == nil || *record.DestinationAccountNumber != "ACC-1" {
		t.Fatal("expected sweep to reference child as source and parent as destination")
	}
	if record.SettledAt == nil {
		t.Fatal("expected sweep record to carry a settlement time")
	}
}

func TestSweepToParentWithNothingToSweep(t *testing.T) {
	parent := activeAccount("ACC-1", "100")
	child := secondaryAccount("ACC-2", "ACC-1", "0")

	if record := child.SweepToParent(parent, time.Now().UTC()); record != nil {
		t.Fatalf("expected no sweep record for a zero balance, got %+v", record)
	}
	if !parent.Balance.Equal(dec("100")) {
		t.Fatalf("parent balance must not move, got %s", parent.Balance)
	}
}

func TestEnsureCanClose(t *testing.T) {
	tests := []struct {
		name             string
		active           bool
		activeChildren   int
		pendingTransfers int
		wantErr          error
	}{
		{name: "closable", active: true},
		{name: "already closed", active: false, wantErr: ErrAccountClosed},
		{name: "active children", active: true, activeChildren: 1, wantErr: ErrHasActiveChildren},
		{name: "pending transfers", active: true, pendingTransfers: 2, wantErr: ErrHasPendingTransfers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := activeAccount("ACC-1", "0")
			account.IsActive = tt.active
			err := account.EnsureCanClose(tt.activeChildren, tt.pendingTransfers)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnsureCanArchive(t *testing.T) {
	account := activeAccount("ACC-1", "0")
	if err := account.EnsureCanArchive(); !errors.Is(err, ErrAccountStillActive) {
		t.Fatalf("expected ErrAccountStillActive, got %v", err)
	}

	account.Close(time.Now().UTC())
	if err := account.EnsureCanArchive(); err != nil {
		t.Fatalf("expected closed account to be archivable, got %v", err)
	}
}

func TestValidateParent(t *testing.T) {
	principal := activeAccount("ACC-1", "0")
	secondary := secondaryAccount("ACC-2", "ACC-1", "0")
	inactive := activeAccount("ACC-3", "0")
	inactive.IsActive = false

	tests := []struct {
		name           string
		parent         *Account
		activeChildren int
		wantErr        error
	}{
		{name: "valid principal parent", parent: principal},
		{name: "missing parent", parent: nil, wantErr: ErrInvalidParent},
		{name: "inactive parent", parent: inactive, wantErr: ErrInvalidParent},
		{name: "secondary parent means grandparent chain", parent: secondary, wantErr: ErrInvalidParent},
		{name: "child cap reached", parent: principal, activeChildren: 5, wantErr: ErrChildCapExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateParent(tt.parent, tt.activeChildren, 5); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateBeneficiary(t *testing.T) {
	owner := activeAccount("ACC-1", "0")
	target := activeAccount("ACC-2", "0")

	if err := ValidateBeneficiary(owner, owner, nil); !errors.Is(err, ErrSelfBeneficiary) {
		t.Fatalf("expected ErrSelfBeneficiary, got %v", err)
	}
	if err := ValidateBeneficiary(owner, target, []string{"ACC-2"}); !errors.Is(err, ErrDuplicateBeneficiary) {
		t.Fatalf("expected ErrDuplicateBeneficiary, got %v", err)
	}
	if err := ValidateBeneficiary(owner, target, []string{"ACC-9"}); err != nil {
		t.Fatalf("expected valid link, got %v", err)
	}
}
