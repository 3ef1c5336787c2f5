/**
 * @description
 * The settlement scheduler: after a transfer is recorded PENDING, one timer
 * per transfer waits out the grace window, then finalizes the transfer unless
 * the cancel path won the race. The persisted transaction status is the single
 * source of truth; the timer is only a trigger, so losing one to a restart is
 * recovered by the cron reconciler.
 */

package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NaKyoo/bank-project/internal/domain"
	"github.com/NaKyoo/bank-project/internal/store"
	"github.com/NaKyoo/bank-project/pkg/rabbitmq"
)

const settleTimeout = 10 * time.Second

// SettlementScheduler finalizes pending transfers after the grace window.
type SettlementScheduler struct {
	repo             store.Repository
	producer         rabbitmq.Publisher
	graceWindow      time.Duration
	secondaryCeiling decimal.Decimal

	mu     sync.Mutex
	timers map[int64]*time.Timer
}

// NewSettlementScheduler creates a scheduler. secondaryCeiling is in whole
// currency units.
func NewSettlementScheduler(repo store.Repository, producer rabbitmq.Publisher, graceWindow time.Duration, secondaryCeiling int64) *SettlementScheduler {
	return &SettlementScheduler{
		repo:             repo,
		producer:         producer,
		graceWindow:      graceWindow,
		secondaryCeiling: decimal.NewFromInt(secondaryCeiling),
		timers:           make(map[int64]*time.Timer),
	}
}

// Schedule arms the grace-window timer for one pending transfer.
func (s *SettlementScheduler) Schedule(transactionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, armed := s.timers[transactionID]; armed {
		return
	}
	s.timers[transactionID] = time.AfterFunc(s.graceWindow, func() {
		s.Forget(transactionID)
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		s.SettleNow(ctx, transactionID)
	})
}

// Forget releases the timer for a transfer that no longer needs one, e.g.
// after a successful cancellation. The database remains authoritative: a timer
// that fires anyway finds the row terminal and aborts.
func (s *SettlementScheduler) Forget(transactionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[transactionID]; ok {
		timer.Stop()
		delete(s.timers, transactionID)
	}
}

// Stop stops all armed timers. Transfers left pending are picked up by the
// reconciler after the next start.
func (s *SettlementScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// SettleNow drives one settlement attempt. Settlement is idempotent: a record
// that is no longer pending aborts silently, so the timer path and the
// reconciler sweep cannot double-apply.
func (s *SettlementScheduler) SettleNow(ctx context.Context, transactionID int64) {
	record, err := s.repo.SettleTransfer(ctx, transactionID, s.secondaryCeiling)
	switch {
	case err == nil:
		s.publishStatus(ctx, "transfer.settled", record)
		log.Printf("level=info component=settlement msg=\"transfer settled\" transaction_id=%d amount=%s",
			record.ID, record.Amount.StringFixed(domain.MoneyScale))
	case errors.Is(err, domain.ErrTransferNotPending), errors.Is(err, store.ErrTransactionNotFound):
		// The cancel path won, or the account was archived in the meantime.
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrSecondaryCeilingExceeded):
		s.publishStatus(ctx, "transfer.canceled", record)
		log.Printf("level=error component=settlement msg=\"accounts can no longer honor transfer; canceled\" transaction_id=%d err=%v", transactionID, err)
	default:
		log.Printf("level=error component=settlement msg=\"settlement failed\" transaction_id=%d err=%v", transactionID, err)
	}
}

func (s *SettlementScheduler) publishStatus(ctx context.Context, routingKey string, record *domain.Transaction) {
	if s.producer == nil || record == nil {
		return
	}
	event := transferEvent{
		TransactionID:            record.ID,
		SourceAccountNumber:      record.SourceAccountNumber,
		DestinationAccountNumber: record.DestinationAccountNumber,
		Amount:                   record.Amount,
		Status:                   record.Status,
		Timestamp:                time.Now().UTC(),
	}
	if err := s.producer.Publish(ctx, LedgerEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=settlement msg=\"event publish failed\" routing_key=%s transaction_id=%d err=%v", routingKey, record.ID, err)
	}
}
