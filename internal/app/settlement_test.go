package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NaKyoo/bank-project/internal/domain"
	"github.com/NaKyoo/bank-project/internal/store"
)

// settleRepoStub records SettleTransfer calls and replays a scripted outcome.
type settleRepoStub struct {
	store.Repository

	mu     sync.Mutex
	calls  []int64
	record *domain.Transaction
	err    error

	overdue []int64
}

func (s *settleRepoStub) SettleTransfer(ctx context.Context, transactionID int64, secondaryCeiling decimal.Decimal) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, transactionID)
	return s.record, s.err
}

func (s *settleRepoStub) ListOverduePendingTransferIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	return s.overdue, nil
}

func (s *settleRepoStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// recordingPublisher captures routing keys handed to Publish.
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func pendingTransfer(id int64) *domain.Transaction {
	source, dest := "ACC-1", "ACC-2"
	return &domain.Transaction{
		ID:                       id,
		Type:                     domain.TransactionTypeTransfer,
		Amount:                   dec("50"),
		SourceAccountNumber:      &source,
		DestinationAccountNumber: &dest,
		Status:                   domain.StatusCompleted,
	}
}

func TestSettleNowPublishesSettledEvent(t *testing.T) {
	repo := &settleRepoStub{record: pendingTransfer(7)}
	producer := &recordingPublisher{}
	scheduler := NewSettlementScheduler(repo, producer, time.Hour, 50000)
	defer scheduler.Stop()

	scheduler.SettleNow(context.Background(), 7)

	if got := repo.callCount(); got != 1 {
		t.Fatalf("expected one settlement attempt, got %d", got)
	}
	keys := producer.published()
	if len(keys) != 1 || keys[0] != "transfer.settled" {
		t.Fatalf("expected transfer.settled event, got %v", keys)
	}
}

func TestSettleNowIsSilentWhenCancelWonTheRace(t *testing.T) {
	repo := &settleRepoStub{err: domain.ErrTransferNotPending}
	producer := &recordingPublisher{}
	scheduler := NewSettlementScheduler(repo, producer, time.Hour, 50000)
	defer scheduler.Stop()

	scheduler.SettleNow(context.Background(), 7)

	if keys := producer.published(); len(keys) != 0 {
		t.Fatalf("expected no events for an already-terminal transfer, got %v", keys)
	}
}

func TestSettleNowPublishesCanceledOnInsufficientFunds(t *testing.T) {
	record := pendingTransfer(7)
	record.Status = domain.StatusCanceled
	repo := &settleRepoStub{record: record, err: domain.ErrInsufficientFunds}
	producer := &recordingPublisher{}
	scheduler := NewSettlementScheduler(repo, producer, time.Hour, 50000)
	defer scheduler.Stop()

	scheduler.SettleNow(context.Background(), 7)

	keys := producer.published()
	if len(keys) != 1 || keys[0] != "transfer.canceled" {
		t.Fatalf("expected transfer.canceled event, got %v", keys)
	}
}

func TestSettleNowPublishesCanceledWhenCeilingBlocksSettlement(t *testing.T) {
	record := pendingTransfer(7)
	record.Status = domain.StatusCanceled
	repo := &settleRepoStub{record: record, err: domain.ErrSecondaryCeilingExceeded}
	producer := &recordingPublisher{}
	scheduler := NewSettlementScheduler(repo, producer, time.Hour, 50000)
	defer scheduler.Stop()

	scheduler.SettleNow(context.Background(), 7)

	keys := producer.published()
	if len(keys) != 1 || keys[0] != "transfer.canceled" {
		t.Fatalf("expected transfer.canceled event, got %v", keys)
	}
}

func TestScheduleFiresAfterGraceWindow(t *testing.T) {
	repo := &settleRepoStub{record: pendingTransfer(7)}
	scheduler := NewSettlementScheduler(repo, nil, 10*time.Millisecond, 50000)
	defer scheduler.Stop()

	scheduler.Schedule(7)
	// Re-arming the same transfer must not add a second timer.
	scheduler.Schedule(7)

	deadline := time.After(2 * time.Second)
	for repo.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timer never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// Give a duplicate timer a chance to fire before asserting.
	time.Sleep(50 * time.Millisecond)
	if got := repo.callCount(); got != 1 {
		t.Fatalf("expected exactly one settlement attempt, got %d", got)
	}
}

func TestForgetDisarmsTimer(t *testing.T) {
	repo := &settleRepoStub{record: pendingTransfer(7)}
	scheduler := NewSettlementScheduler(repo, nil, 20*time.Millisecond, 50000)
	defer scheduler.Stop()

	scheduler.Schedule(7)
	scheduler.Forget(7)

	time.Sleep(100 * time.Millisecond)
	if got := repo.callCount(); got != 0 {
		t.Fatalf("expected no settlement after Forget, got %d attempts", got)
	}
}

func TestReconcilerSweepsOverdueTransfers(t *testing.T) {
	repo := &settleRepoStub{record: pendingTransfer(7), overdue: []int64{7, 8, 9}}
	scheduler := NewSettlementScheduler(repo, nil, time.Hour, 50000)
	defer scheduler.Stop()

	reconciler := NewSettlementReconciler(repo, scheduler, "@every 1m", time.Hour)
	reconciler.run()

	if got := repo.callCount(); got != 3 {
		t.Fatalf("expected settlement attempts for every overdue transfer, got %d", got)
	}
}
