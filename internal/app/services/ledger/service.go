// Package ledger implements the commission ledger: distributing a
// transaction volume across a recipient set and authorising withdrawals of
// accrued balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/referralpay/commission_engine/internal/app/domain/allocation"
	"github.com/referralpay/commission_engine/internal/app/domain/commission"
	"github.com/referralpay/commission_engine/internal/app/metrics"
	"github.com/referralpay/commission_engine/internal/app/storage"
	"github.com/referralpay/commission_engine/pkg/logger"
)

// Service coordinates distribution and withdrawal over a ledger store. The
// store provides the atomic units; the service owns validation, the rounding
// rule and the remainder policy.
type Service struct {
	store  storage.LedgerStore
	log    *logger.Logger
	policy commission.RemainderPolicy

	// reserveIndex selects the recipient that absorbs the rounding
	// remainder under the reserve policy. Negative means "last recipient".
	reserveIndex int
}

// Option configures a Service.
type Option func(*Service)

// WithRemainderDiscard drops rounding remainders to a dust sink instead of
// crediting the reserve recipient. The amount is still written to the record.
func WithRemainderDiscard() Option {
	return func(s *Service) { s.policy = commission.RemainderDiscard }
}

// WithReserveIndex designates which slot of the recipient list receives the
// rounding remainder. The default is the last slot.
func WithReserveIndex(index int) Option {
	return func(s *Service) { s.reserveIndex = index }
}

// New constructs a ledger service.
func New(store storage.LedgerStore, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	s := &Service{
		store:        store,
		log:          log,
		policy:       commission.RemainderToReserve,
		reserveIndex: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Distribute splits volume across recipients according to weights and applies
// the resulting credits plus an audit record atomically.
//
// Every credit is floor(volume * weight), rounding toward zero. The rounding
// remainder goes to the reserve recipient (default policy) or to the dust
// sink; in both cases the record carries the remainder explicitly, so
// sum(credits) + discarded remainder always equals volume.
func (s *Service) Distribute(ctx context.Context, volume int64, recipients []commission.Recipient, weights allocation.WeightVector) (commission.Distribution, error) {
	recipients = normalizeRecipients(recipients)
	if err := validateInput(volume, recipients, weights); err != nil {
		metrics.RecordDistribution(volume, err)
		return commission.Distribution{}, err
	}

	// A vector summing within Epsilon above 1 is still valid, so the floored
	// credits can overshoot the volume at large magnitudes. Capping each
	// credit at what is left keeps sum(credits) <= volume and the remainder
	// non-negative.
	credits := make([]commission.Credit, len(recipients))
	remaining := volume
	for i, recipient := range recipients {
		amount := int64(math.Floor(float64(volume) * weights[i]))
		if amount > remaining {
			amount = remaining
		}
		credits[i] = commission.Credit{Recipient: recipient, Amount: amount}
		remaining -= amount
	}
	remainder := remaining

	if s.policy == commission.RemainderToReserve && remainder > 0 {
		credits[s.resolveReserveIndex(len(credits))].Amount += remainder
	}

	record := commission.Record{
		Volume:          volume,
		Weights:         weights.Clone(),
		Credits:         credits,
		Remainder:       remainder,
		RemainderPolicy: s.policy,
	}

	record, err := s.store.ApplyDistribution(ctx, credits, record)
	metrics.RecordDistribution(volume, err)
	if err != nil {
		return commission.Distribution{}, fmt.Errorf("apply distribution: %w", err)
	}

	s.log.WithField("sequence", record.Sequence).
		WithField("volume", volume).
		WithField("recipients", len(recipients)).
		WithField("remainder", remainder).
		Info("commission distributed")

	return commission.Distribution{Record: record, Credits: record.Credits}, nil
}

// Withdraw zeroes the recipient's balance and returns the prior amount as a
// one-time payout obligation. The balance is zeroed before the payout is
// handed to the caller, so a given accrued amount is never authorised twice;
// the actual transfer of value is the caller's responsibility.
func (s *Service) Withdraw(ctx context.Context, recipient commission.Recipient) (commission.Payout, error) {
	recipient = commission.Recipient(strings.TrimSpace(string(recipient)))
	if recipient == "" {
		return commission.Payout{}, fmt.Errorf("%w: recipient is required", commission.ErrInvalidInput)
	}

	amount, err := s.store.SettleBalance(ctx, recipient)
	if err != nil {
		metrics.RecordWithdrawal(0, "error")
		return commission.Payout{}, fmt.Errorf("settle balance: %w", err)
	}
	if amount == 0 {
		metrics.RecordWithdrawal(0, "empty")
		s.log.WithField("recipient", string(recipient)).Debug("withdrawal with zero balance")
		return commission.Payout{}, commission.ErrNothingToWithdraw
	}

	payout, err := s.store.CreatePayout(ctx, commission.Payout{Recipient: recipient, Amount: amount})
	if err != nil {
		// The balance is already zeroed; the obligation stands even when
		// the audit row fails, otherwise the amount could be paid twice.
		s.log.WithError(err).WithField("recipient", string(recipient)).Warn("record payout")
		payout = commission.Payout{Recipient: recipient, Amount: amount}
	}

	metrics.RecordWithdrawal(amount, "ok")
	s.log.WithField("recipient", string(recipient)).
		WithField("amount", amount).
		Info("withdrawal authorised")

	return payout, nil
}

// Balance returns the recipient's current accrued balance. An unknown
// recipient reads as zero.
func (s *Service) Balance(ctx context.Context, recipient commission.Recipient) (int64, error) {
	entry, err := s.store.GetEntry(ctx, recipient)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return entry.Balance, nil
}

// Entry returns the full ledger entry for a recipient.
func (s *Service) Entry(ctx context.Context, recipient commission.Recipient) (commission.Entry, error) {
	return s.store.GetEntry(ctx, recipient)
}

// Entries lists all ledger entries.
func (s *Service) Entries(ctx context.Context) ([]commission.Entry, error) {
	return s.store.ListEntries(ctx)
}

// Record returns one distribution record by sequence number.
func (s *Service) Record(ctx context.Context, sequence uint64) (commission.Record, error) {
	return s.store.GetRecord(ctx, sequence)
}

// Records lists all distribution records in sequence order.
func (s *Service) Records(ctx context.Context) ([]commission.Record, error) {
	return s.store.ListRecords(ctx)
}

// RecordsFor lists the distribution records that credited a recipient.
func (s *Service) RecordsFor(ctx context.Context, recipient commission.Recipient) ([]commission.Record, error) {
	return s.store.ListRecordsByRecipient(ctx, recipient)
}

// Payouts lists the payout obligations authorised for a recipient.
func (s *Service) Payouts(ctx context.Context, recipient commission.Recipient) ([]commission.Payout, error) {
	return s.store.ListPayouts(ctx, recipient)
}

func (s *Service) resolveReserveIndex(n int) int {
	if s.reserveIndex >= 0 && s.reserveIndex < n {
		return s.reserveIndex
	}
	return n - 1
}

// maxVolume bounds the volume so floor(volume * weight) stays exact:
// float64 represents integers only up to 2^53.
const maxVolume = int64(1) << 53

// normalizeRecipients trims every recipient so crediting and withdrawal use
// the same key.
func normalizeRecipients(recipients []commission.Recipient) []commission.Recipient {
	out := make([]commission.Recipient, len(recipients))
	for i, recipient := range recipients {
		out[i] = commission.Recipient(strings.TrimSpace(string(recipient)))
	}
	return out
}

func validateInput(volume int64, recipients []commission.Recipient, weights allocation.WeightVector) error {
	if volume < 0 {
		return fmt.Errorf("%w: volume must be non-negative, got %d", commission.ErrInvalidInput, volume)
	}
	if volume > maxVolume {
		return fmt.Errorf("%w: volume %d exceeds %d", commission.ErrInvalidInput, volume, maxVolume)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("%w: no recipients", commission.ErrInvalidInput)
	}
	if len(recipients) != len(weights) {
		return fmt.Errorf("%w: %d recipients but %d weights", commission.ErrInvalidInput, len(recipients), len(weights))
	}
	seen := make(map[commission.Recipient]struct{}, len(recipients))
	for i, recipient := range recipients {
		if recipient == "" {
			return fmt.Errorf("%w: recipient %d is empty", commission.ErrInvalidInput, i)
		}
		if _, ok := seen[recipient]; ok {
			return fmt.Errorf("%w: recipient %s repeats", commission.ErrInvalidInput, recipient)
		}
		seen[recipient] = struct{}{}
	}
	if err := weights.Validate(); err != nil {
		return fmt.Errorf("%w: %v", commission.ErrInvalidInput, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, commission.ErrNotFound)
}
