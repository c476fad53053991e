package storage

import (
	"context"

	"github.com/referralpay/commission_engine/internal/app/domain/commission"
)

// LedgerStore persists commission entries, distribution records and payouts.
//
// ApplyDistribution and SettleBalance are the two atomic units of the ledger:
// implementations must apply all credits plus the record append as one
// transaction, and perform the read-then-zero of a withdrawal as one
// transaction. Locks are held only for the backend round trip, never across
// other I/O.
type LedgerStore interface {
	// ApplyDistribution increments every credited entry and appends the
	// record, assigning its sequence number. All or nothing.
	ApplyDistribution(ctx context.Context, credits []commission.Credit, record commission.Record) (commission.Record, error)

	// SettleBalance atomically reads a recipient's balance and resets it to
	// zero, returning the prior value. An absent entry settles to zero
	// without error.
	SettleBalance(ctx context.Context, recipient commission.Recipient) (int64, error)

	GetEntry(ctx context.Context, recipient commission.Recipient) (commission.Entry, error)
	ListEntries(ctx context.Context) ([]commission.Entry, error)

	GetRecord(ctx context.Context, sequence uint64) (commission.Record, error)
	ListRecords(ctx context.Context) ([]commission.Record, error)
	ListRecordsByRecipient(ctx context.Context, recipient commission.Recipient) ([]commission.Record, error)

	CreatePayout(ctx context.Context, payout commission.Payout) (commission.Payout, error)
	ListPayouts(ctx context.Context, recipient commission.Recipient) ([]commission.Payout, error)
}
