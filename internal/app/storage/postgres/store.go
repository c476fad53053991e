package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/referralpay/commission_engine/internal/app/domain/commission"
	"github.com/referralpay/commission_engine/internal/app/storage"
)

// Store implements the ledger store backed by PostgreSQL. The two atomic
// units (ApplyDistribution, SettleBalance) run inside SQL transactions;
// serialization failures are retried internally and never surfaced.
type Store struct {
	db *sql.DB
}

var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const maxTxRetries = 3

// retryableTx runs fn in a transaction, retrying on serialization and
// deadlock failures (SQLSTATE 40001, 40P01).
func (s *Store) retryableTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func (s *Store) ApplyDistribution(ctx context.Context, credits []commission.Credit, record commission.Record) (commission.Record, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = time.Now().UTC()

	weightsJSON, err := json.Marshal(record.Weights)
	if err != nil {
		return commission.Record{}, err
	}
	creditsJSON, err := json.Marshal(record.Credits)
	if err != nil {
		return commission.Record{}, err
	}

	err = s.retryableTx(ctx, func(tx *sql.Tx) error {
		for _, credit := range credits {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO commission_entries (recipient, balance, total_credited, total_withdrawn, created_at, updated_at)
				VALUES ($1, $2, $2, 0, $3, $3)
				ON CONFLICT (recipient) DO UPDATE
				SET balance = commission_entries.balance + EXCLUDED.balance,
				    total_credited = commission_entries.total_credited + EXCLUDED.balance,
				    updated_at = EXCLUDED.updated_at
			`, string(credit.Recipient), credit.Amount, record.CreatedAt); err != nil {
				return err
			}
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO commission_records (id, volume, weights, credits, remainder, remainder_policy, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING sequence
		`, record.ID, record.Volume, weightsJSON, creditsJSON, record.Remainder,
			string(record.RemainderPolicy), record.CreatedAt).Scan(&record.Sequence)
	})
	if err != nil {
		return commission.Record{}, err
	}
	return record, nil
}

func (s *Store) SettleBalance(ctx context.Context, recipient commission.Recipient) (int64, error) {
	var prior int64
	err := s.retryableTx(ctx, func(tx *sql.Tx) error {
		prior = 0
		var balance int64
		err := tx.QueryRowContext(ctx, `
			SELECT balance FROM commission_entries WHERE recipient = $1 FOR UPDATE
		`, string(recipient)).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if balance == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE commission_entries
			SET balance = 0, total_withdrawn = total_withdrawn + $2, updated_at = $3
			WHERE recipient = $1
		`, string(recipient), balance, time.Now().UTC()); err != nil {
			return err
		}
		prior = balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return prior, nil
}

func (s *Store) GetEntry(ctx context.Context, recipient commission.Recipient) (commission.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT recipient, balance, total_credited, total_withdrawn, created_at, updated_at
		FROM commission_entries WHERE recipient = $1
	`, string(recipient))

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Entry{}, fmt.Errorf("entry %s: %w", recipient, commission.ErrNotFound)
	}
	return entry, err
}

func (s *Store) ListEntries(ctx context.Context) ([]commission.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recipient, balance, total_credited, total_withdrawn, created_at, updated_at
		FROM commission_entries ORDER BY recipient
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []commission.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) GetRecord(ctx context.Context, sequence uint64) (commission.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sequence, volume, weights, credits, remainder, remainder_policy, created_at
		FROM commission_records WHERE sequence = $1
	`, sequence)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Record{}, fmt.Errorf("record %d: %w", sequence, commission.ErrNotFound)
	}
	return record, err
}

func (s *Store) ListRecords(ctx context.Context) ([]commission.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, volume, weights, credits, remainder, remainder_policy, created_at
		FROM commission_records ORDER BY sequence
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []commission.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) ListRecordsByRecipient(ctx context.Context, recipient commission.Recipient) ([]commission.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, volume, weights, credits, remainder, remainder_policy, created_at
		FROM commission_records
		WHERE credits @> $1::jsonb
		ORDER BY sequence
	`, fmt.Sprintf(`[{"Recipient":%q}]`, string(recipient)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []commission.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) CreatePayout(ctx context.Context, payout commission.Payout) (commission.Payout, error) {
	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_payouts (id, recipient, amount, created_at)
		VALUES ($1, $2, $3, $4)
	`, payout.ID, string(payout.Recipient), payout.Amount, payout.CreatedAt)
	if err != nil {
		return commission.Payout{}, err
	}
	return payout, nil
}

func (s *Store) ListPayouts(ctx context.Context, recipient commission.Recipient) ([]commission.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient, amount, created_at
		FROM commission_payouts WHERE recipient = $1 ORDER BY created_at
	`, string(recipient))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []commission.Payout
	for rows.Next() {
		var payout commission.Payout
		var rec string
		if err := rows.Scan(&payout.ID, &rec, &payout.Amount, &payout.CreatedAt); err != nil {
			return nil, err
		}
		payout.Recipient = commission.Recipient(rec)
		payouts = append(payouts, payout)
	}
	return payouts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (commission.Entry, error) {
	var entry commission.Entry
	var recipient string
	if err := row.Scan(&recipient, &entry.Balance, &entry.TotalCredited,
		&entry.TotalWithdrawn, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return commission.Entry{}, err
	}
	entry.Recipient = commission.Recipient(recipient)
	return entry, nil
}

func scanRecord(row rowScanner) (commission.Record, error) {
	var record commission.Record
	var weightsJSON, creditsJSON []byte
	var policy string
	if err := row.Scan(&record.ID, &record.Sequence, &record.Volume, &weightsJSON,
		&creditsJSON, &record.Remainder, &policy, &record.CreatedAt); err != nil {
		return commission.Record{}, err
	}
	record.RemainderPolicy = commission.RemainderPolicy(policy)
	if err := json.Unmarshal(weightsJSON, &record.Weights); err != nil {
		return commission.Record{}, err
	}
	if err := json.Unmarshal(creditsJSON, &record.Credits); err != nil {
		return commission.Record{}, err
	}
	return record, nil
}
