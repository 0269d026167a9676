// Package store defines the repository abstractions the import engine reads
// and writes through, plus an in-memory implementation used by tests and dry
// runs. Persistence backends live in the firestore and sqlite subpackages.
//
// All writes buffer until SaveChanges: an Import whose context is cancelled
// before the final SaveChanges leaves nothing persisted.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// RawRecordStore is the append-only store of institution-native rows
type RawRecordStore interface {
	// GetAll returns every raw record stored for the account
	GetAll(ctx context.Context, accountID string) ([]domain.RawRecord, error)

	// GetPendingMatch returns the stored record with a nil balance matching
	// the natural-key fields, or ErrNotFound
	GetPendingMatch(ctx context.Context, accountID, details string, date time.Time, debit, credit *float64) (*domain.RawRecord, error)

	// AddRange buffers a batch of new records
	AddRange(ctx context.Context, records []domain.RawRecord) error

	// Update buffers a mutation of an existing record (balance finalization)
	Update(ctx context.Context, record domain.RawRecord) error
}

// TransactionStore persists normalized ledger transactions
type TransactionStore interface {
	Add(ctx context.Context, txn domain.Transaction) error
	Update(ctx context.Context, txn domain.Transaction) error
	GetTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error)
}

// ImporterConfigStore holds the per-account importer association
type ImporterConfigStore interface {
	// Get returns the account's importer configuration, or ErrNotFound when
	// the account is not statement-imported
	Get(ctx context.Context, accountID string) (*domain.ImporterConfig, error)
	Put(ctx context.Context, cfg domain.ImporterConfig) error
}

// Store aggregates the repositories behind a single unit of work
type Store interface {
	RawRecords() RawRecordStore
	Transactions() TransactionStore
	ImporterConfigs() ImporterConfigStore

	// SaveChanges commits all buffered writes. One commit point per Import
	// or Reprocess call.
	SaveChanges(ctx context.Context) error
}

// NewDryRun wraps a Store so reads see the real data but SaveChanges commits
// nothing. Importers run their full reconciliation against existing records
// and every write is discarded.
func NewDryRun(inner Store) Store {
	return &dryRunStore{inner: inner}
}

type dryRunStore struct {
	inner Store
}

func (s *dryRunStore) RawRecords() RawRecordStore           { return s.inner.RawRecords() }
func (s *dryRunStore) Transactions() TransactionStore       { return s.inner.Transactions() }
func (s *dryRunStore) ImporterConfigs() ImporterConfigStore { return s.inner.ImporterConfigs() }

func (s *dryRunStore) SaveChanges(ctx context.Context) error {
	return ctx.Err()
}
