package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
)

// MemoryStore is a map-backed Store. Reads see only committed state; writes
// accumulate in pending buffers until SaveChanges applies them. It backs
// tests and the CLI's dry-run mode.
//
// Not safe for concurrent use across accounts; the engine serializes per
// store instance in the contexts where MemoryStore is used.
type MemoryStore struct {
	records map[string]domain.RawRecord  // keyed by record ID
	txns    map[string]domain.Transaction // keyed by transaction ID
	configs map[string]domain.ImporterConfig // keyed by account ID

	pendingRecords       []domain.RawRecord
	pendingRecordUpdates []domain.RawRecord
	pendingTxns          []domain.Transaction
	pendingTxnUpdates    []domain.Transaction
	pendingConfigs       []domain.ImporterConfig
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.RawRecord),
		txns:    make(map[string]domain.Transaction),
		configs: make(map[string]domain.ImporterConfig),
	}
}

// RawRecords returns the raw record repository
func (s *MemoryStore) RawRecords() RawRecordStore { return (*memoryRawRecords)(s) }

// Transactions returns the transaction repository
func (s *MemoryStore) Transactions() TransactionStore { return (*memoryTransactions)(s) }

// ImporterConfigs returns the importer configuration repository
func (s *MemoryStore) ImporterConfigs() ImporterConfigStore { return (*memoryConfigs)(s) }

// SaveChanges applies all buffered writes to the committed maps
func (s *MemoryStore) SaveChanges(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, rec := range s.pendingRecords {
		if _, exists := s.records[rec.ID]; exists {
			return fmt.Errorf("raw record %s already exists", rec.ID)
		}
		s.records[rec.ID] = rec
	}
	for _, rec := range s.pendingRecordUpdates {
		if _, exists := s.records[rec.ID]; !exists {
			return fmt.Errorf("raw record %s does not exist: %w", rec.ID, ErrNotFound)
		}
		s.records[rec.ID] = rec
	}
	for _, txn := range s.pendingTxns {
		if _, exists := s.txns[txn.ID]; exists {
			return fmt.Errorf("transaction %s already exists", txn.ID)
		}
		s.txns[txn.ID] = txn
	}
	for _, txn := range s.pendingTxnUpdates {
		if _, exists := s.txns[txn.ID]; !exists {
			return fmt.Errorf("transaction %s does not exist: %w", txn.ID, ErrNotFound)
		}
		s.txns[txn.ID] = txn
	}
	for _, cfg := range s.pendingConfigs {
		s.configs[cfg.AccountID] = cfg
	}

	s.pendingRecords = nil
	s.pendingRecordUpdates = nil
	s.pendingTxns = nil
	s.pendingTxnUpdates = nil
	s.pendingConfigs = nil
	return nil
}

type memoryRawRecords MemoryStore

func (s *memoryRawRecords) GetAll(ctx context.Context, accountID string) ([]domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []domain.RawRecord
	for _, rec := range s.records {
		if rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	// Stable order: ascending date, then sequence.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (s *memoryRawRecords) GetPendingMatch(ctx context.Context, accountID, details string, date time.Time, debit, credit *float64) (*domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, rec := range s.records {
		if rec.AccountID != accountID || !rec.Pending() {
			continue
		}
		if rec.Details == details && rec.Date.Equal(date) &&
			floatPtrEqual(rec.Debit, debit) && floatPtrEqual(rec.Credit, credit) {
			match := rec
			return &match, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryRawRecords) AddRange(ctx context.Context, records []domain.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingRecords = append(s.pendingRecords, records...)
	return nil
}

func (s *memoryRawRecords) Update(ctx context.Context, record domain.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingRecordUpdates = append(s.pendingRecordUpdates, record)
	return nil
}

type memoryTransactions MemoryStore

func (s *memoryTransactions) Add(ctx context.Context, txn domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingTxns = append(s.pendingTxns, txn)
	return nil
}

func (s *memoryTransactions) Update(ctx context.Context, txn domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingTxnUpdates = append(s.pendingTxnUpdates, txn)
	return nil
}

func (s *memoryTransactions) GetTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []domain.Transaction
	for _, txn := range s.txns {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionTime.Equal(out[j].TransactionTime) {
			return out[i].TransactionTime.Before(out[j].TransactionTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memoryConfigs MemoryStore

func (s *memoryConfigs) Get(ctx context.Context, accountID string) (*domain.ImporterConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, ok := s.configs[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (s *memoryConfigs) Put(ctx context.Context, cfg domain.ImporterConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingConfigs = append(s.pendingConfigs, cfg)
	return nil
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
