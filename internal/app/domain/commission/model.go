// Package commission defines the ledger domain model: recipients, balance
// entries, distribution records and payout obligations.
package commission

import "time"

// Recipient identifies a party entitled to commission credits. The value is
// opaque to the engine (an address-like handle); equality is exact.
type Recipient string

// Entry is the accrued, unwithdrawn balance for one recipient. Entries are
// created lazily on first credit and never deleted; a zero balance is a
// valid steady state.
type Entry struct {
	Recipient      Recipient
	Balance        int64
	TotalCredited  int64
	TotalWithdrawn int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Credit is one recipient's share of a distribution.
type Credit struct {
	Recipient Recipient
	Amount    int64
}

// RemainderPolicy describes what happens to the rounding remainder of a
// distribution.
type RemainderPolicy string

const (
	// RemainderToReserve credits the remainder to the reserve recipient.
	RemainderToReserve RemainderPolicy = "reserve"
	// RemainderDiscard drops the remainder to a dust sink. The amount is
	// still recorded on the distribution record.
	RemainderDiscard RemainderPolicy = "discard"
)

// Record is the immutable audit entry for one distribution. Sequence numbers
// are assigned by the store and are strictly monotonic.
type Record struct {
	ID              string
	Sequence        uint64
	Volume          int64
	Weights         []float64
	Credits         []Credit
	Remainder       int64
	RemainderPolicy RemainderPolicy
	CreatedAt       time.Time
}

// Payout is a one-time obligation emitted by a successful withdrawal. The
// ledger zeroes the balance before the payout is handed to the caller, so a
// given accrued amount is authorised exactly once.
type Payout struct {
	ID        string
	Recipient Recipient
	Amount    int64
	CreatedAt time.Time
}

// Distribution is the result of a Distribute call.
type Distribution struct {
	Record  Record
	Credits []Credit
}
