package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/referralpay/commission_engine/internal/app/domain/commission"
	"github.com/referralpay/commission_engine/internal/app/storage"
)

// Store is an in-memory implementation of the ledger store. It is safe for
// concurrent use and is primarily intended for tests and local development.
// A single mutex guards both the entry map and the record log, which gives
// the per-entry exclusion plus append-lock discipline the ledger requires;
// nothing is held across I/O because there is none.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	nextSeq uint64
	entries map[commission.Recipient]commission.Entry
	records []commission.Record
	bySeq   map[uint64]int
	payouts map[commission.Recipient][]commission.Payout
}

var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:  1,
		nextSeq: 1,
		entries: make(map[commission.Recipient]commission.Entry),
		bySeq:   make(map[uint64]int),
		payouts: make(map[commission.Recipient][]commission.Payout),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func (s *Store) ApplyDistribution(_ context.Context, credits []commission.Credit, record commission.Record) (commission.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	for _, credit := range credits {
		if credit.Amount < 0 {
			return commission.Record{}, fmt.Errorf("negative credit %d for %s", credit.Amount, credit.Recipient)
		}
	}

	for _, credit := range credits {
		entry, ok := s.entries[credit.Recipient]
		if !ok {
			entry = commission.Entry{Recipient: credit.Recipient, CreatedAt: now}
		}
		entry.Balance += credit.Amount
		entry.TotalCredited += credit.Amount
		entry.UpdatedAt = now
		s.entries[credit.Recipient] = entry
	}

	if record.ID == "" {
		record.ID = s.nextIDLocked()
	}
	record.Sequence = s.nextSeq
	s.nextSeq++
	record.CreatedAt = now
	record.Weights = append([]float64(nil), record.Weights...)
	record.Credits = append([]commission.Credit(nil), record.Credits...)

	s.bySeq[record.Sequence] = len(s.records)
	s.records = append(s.records, record)
	return cloneRecord(record), nil
}

func (s *Store) SettleBalance(_ context.Context, recipient commission.Recipient) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[recipient]
	if !ok || entry.Balance == 0 {
		return 0, nil
	}

	prior := entry.Balance
	entry.Balance = 0
	entry.TotalWithdrawn += prior
	entry.UpdatedAt = time.Now().UTC()
	s.entries[recipient] = entry
	return prior, nil
}

func (s *Store) GetEntry(_ context.Context, recipient commission.Recipient) (commission.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[recipient]
	if !ok {
		return commission.Entry{}, fmt.Errorf("entry %s: %w", recipient, commission.ErrNotFound)
	}
	return entry, nil
}

func (s *Store) ListEntries(_ context.Context) ([]commission.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]commission.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) GetRecord(_ context.Context, sequence uint64) (commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.bySeq[sequence]
	if !ok {
		return commission.Record{}, fmt.Errorf("record %d: %w", sequence, commission.ErrNotFound)
	}
	return cloneRecord(s.records[idx]), nil
}

func (s *Store) ListRecords(_ context.Context) ([]commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]commission.Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, cloneRecord(record))
	}
	return records, nil
}

func (s *Store) ListRecordsByRecipient(_ context.Context, recipient commission.Recipient) ([]commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []commission.Record
	for _, record := range s.records {
		for _, credit := range record.Credits {
			if credit.Recipient == recipient {
				records = append(records, cloneRecord(record))
				break
			}
		}
	}
	return records, nil
}

func (s *Store) CreatePayout(_ context.Context, payout commission.Payout) (commission.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payout.ID == "" {
		payout.ID = s.nextIDLocked()
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now().UTC()
	}
	s.payouts[payout.Recipient] = append(s.payouts[payout.Recipient], payout)
	return payout, nil
}

func (s *Store) ListPayouts(_ context.Context, recipient commission.Recipient) ([]commission.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]commission.Payout(nil), s.payouts[recipient]...), nil
}

func cloneRecord(record commission.Record) commission.Record {
	record.Weights = append([]float64(nil), record.Weights...)
	record.Credits = append([]commission.Credit(nil), record.Credits...)
	return record
}
