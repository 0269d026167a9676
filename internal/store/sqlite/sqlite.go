// Package sqlite is the file-backed Store used for local imports. The schema
// is created on open; writes buffer in memory and SaveChanges commits them in
// a single database transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_records (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	importer_type  INTEGER NOT NULL,
	details        TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	reference      TEXT NOT NULL DEFAULT '',
	debit          REAL,
	credit         REAL,
	balance        REAL,
	date           TEXT NOT NULL,
	sequence       INTEGER NOT NULL,
	imported_at    TEXT NOT NULL,
	transaction_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_raw_records_account ON raw_records(account_id);

CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL,
	amount           REAL NOT NULL,
	description      TEXT NOT NULL,
	transaction_time TEXT NOT NULL,
	type             TEXT NOT NULL,
	source           TEXT NOT NULL,
	extra            TEXT
);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);

CREATE TABLE IF NOT EXISTS importer_configs (
	account_id             TEXT PRIMARY KEY,
	importer_type          INTEGER NOT NULL,
	institution_account_id TEXT NOT NULL DEFAULT ''
);
`

// Store is a SQLite-backed unit of work
type Store struct {
	db *sql.DB

	pendingRecords       []domain.RawRecord
	pendingRecordUpdates []domain.RawRecord
	pendingTxns          []domain.Transaction
	pendingTxnUpdates    []domain.Transaction
	pendingConfigs       []domain.ImporterConfig
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database. Buffered, unsaved writes are lost.
func (s *Store) Close() error {
	return s.db.Close()
}

// RawRecords returns the raw record repository
func (s *Store) RawRecords() store.RawRecordStore { return (*rawRecords)(s) }

// Transactions returns the transaction repository
func (s *Store) Transactions() store.TransactionStore { return (*transactions)(s) }

// ImporterConfigs returns the importer configuration repository
func (s *Store) ImporterConfigs() store.ImporterConfigStore { return (*configs)(s) }

// SaveChanges commits all buffered writes in one database transaction
func (s *Store) SaveChanges(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range s.pendingRecords {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
	}
	for _, rec := range s.pendingRecordUpdates {
		if err := updateRecord(ctx, tx, rec); err != nil {
			return err
		}
	}
	for _, txn := range s.pendingTxns {
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
	}
	for _, txn := range s.pendingTxnUpdates {
		if err := updateTransaction(ctx, tx, txn); err != nil {
			return err
		}
	}
	for _, cfg := range s.pendingConfigs {
		if err := upsertConfig(ctx, tx, cfg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.pendingRecords = nil
	s.pendingRecordUpdates = nil
	s.pendingTxns = nil
	s.pendingTxnUpdates = nil
	s.pendingConfigs = nil
	return nil
}

type rawRecords Store

func (s *rawRecords) GetAll(ctx context.Context, accountID string) ([]domain.RawRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, importer_type, details, category, reference,
		       debit, credit, balance, date, sequence, imported_at, transaction_id
		FROM raw_records WHERE account_id = ?
		ORDER BY date, sequence`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw records: %w", err)
	}
	defer rows.Close()

	var out []domain.RawRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *rawRecords) GetPendingMatch(ctx context.Context, accountID, details string, date time.Time, debit, credit *float64) (*domain.RawRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, importer_type, details, category, reference,
		       debit, credit, balance, date, sequence, imported_at, transaction_id
		FROM raw_records
		WHERE account_id = ? AND balance IS NULL AND details = ? AND date = ?`,
		accountID, details, date.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if floatPtrEqual(rec.Debit, debit) && floatPtrEqual(rec.Credit, credit) {
			return rec, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, store.ErrNotFound
}

func (s *rawRecords) AddRange(ctx context.Context, records []domain.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingRecords = append(s.pendingRecords, records...)
	return nil
}

func (s *rawRecords) Update(ctx context.Context, record domain.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingRecordUpdates = append(s.pendingRecordUpdates, record)
	return nil
}

type transactions Store

func (s *transactions) Add(ctx context.Context, txn domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingTxns = append(s.pendingTxns, txn)
	return nil
}

func (s *transactions) Update(ctx context.Context, txn domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingTxnUpdates = append(s.pendingTxnUpdates, txn)
	return nil
}

func (s *transactions) GetTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount, description, transaction_time, type, source, extra
		FROM transactions WHERE account_id = ?
		ORDER BY transaction_time, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			txn      domain.Transaction
			when     string
			txnType  string
			extraRaw sql.NullString
		)
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Amount, &txn.Description,
			&when, &txnType, &txn.Source, &extraRaw); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.TransactionTime, err = time.Parse(time.RFC3339, when)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction_time for %s: %w", txn.ID, err)
		}
		txn.Type = domain.TransactionType(txnType)
		if extraRaw.Valid && extraRaw.String != "" {
			var extra domain.TransactionExtra
			if err := json.Unmarshal([]byte(extraRaw.String), &extra); err != nil {
				return nil, fmt.Errorf("invalid extra for transaction %s: %w", txn.ID, err)
			}
			txn.Extra = &extra
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

type configs Store

func (s *configs) Get(ctx context.Context, accountID string) (*domain.ImporterConfig, error) {
	var cfg domain.ImporterConfig
	var importerType int
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, importer_type, institution_account_id
		FROM importer_configs WHERE account_id = ?`, accountID).
		Scan(&cfg.AccountID, &importerType, &cfg.InstitutionAccountID)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query importer config: %w", err)
	}
	cfg.Type = domain.ImporterType(importerType)
	return &cfg, nil
}

func (s *configs) Put(ctx context.Context, cfg domain.ImporterConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingConfigs = append(s.pendingConfigs, cfg)
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec domain.RawRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO raw_records
			(id, account_id, importer_type, details, category, reference,
			 debit, credit, balance, date, sequence, imported_at, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AccountID, int(rec.ImporterType), rec.Details, rec.Category,
		rec.Reference, nullFloat(rec.Debit), nullFloat(rec.Credit), nullFloat(rec.Balance),
		rec.Date.Format(time.RFC3339), rec.Sequence,
		rec.ImportedAt.Format(time.RFC3339), nullString(rec.TransactionID))
	if err != nil {
		return fmt.Errorf("failed to insert raw record %s: %w", rec.ID, err)
	}
	return nil
}

func updateRecord(ctx context.Context, tx *sql.Tx, rec domain.RawRecord) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE raw_records
		SET balance = ?, transaction_id = ?
		WHERE id = ?`,
		nullFloat(rec.Balance), nullString(rec.TransactionID), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update raw record %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("raw record %s does not exist: %w", rec.ID, store.ErrNotFound)
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, txn domain.Transaction) error {
	extra, err := marshalExtra(txn.Extra)
	if err != nil {
		return fmt.Errorf("failed to encode extra for transaction %s: %w", txn.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
			(id, account_id, amount, description, transaction_time, type, source, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.AccountID, txn.Amount, txn.Description,
		txn.TransactionTime.Format(time.RFC3339), string(txn.Type), txn.Source, extra)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
	}
	return nil
}

func updateTransaction(ctx context.Context, tx *sql.Tx, txn domain.Transaction) error {
	extra, err := marshalExtra(txn.Extra)
	if err != nil {
		return fmt.Errorf("failed to encode extra for transaction %s: %w", txn.ID, err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET amount = ?, description = ?, transaction_time = ?, type = ?, source = ?, extra = ?
		WHERE id = ?`,
		txn.Amount, txn.Description, txn.TransactionTime.Format(time.RFC3339),
		string(txn.Type), txn.Source, extra, txn.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", txn.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transaction %s does not exist: %w", txn.ID, store.ErrNotFound)
	}
	return nil
}

func upsertConfig(ctx context.Context, tx *sql.Tx, cfg domain.ImporterConfig) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO importer_configs (account_id, importer_type, institution_account_id)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			importer_type = excluded.importer_type,
			institution_account_id = excluded.institution_account_id`,
		cfg.AccountID, int(cfg.Type), cfg.InstitutionAccountID)
	if err != nil {
		return fmt.Errorf("failed to upsert importer config for %s: %w", cfg.AccountID, err)
	}
	return nil
}

type recordScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row recordScanner) (*domain.RawRecord, error) {
	var (
		rec          domain.RawRecord
		importerType int
		debit        sql.NullFloat64
		credit       sql.NullFloat64
		balance      sql.NullFloat64
		date         string
		importedAt   string
		txnID        sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.AccountID, &importerType, &rec.Details,
		&rec.Category, &rec.Reference, &debit, &credit, &balance,
		&date, &rec.Sequence, &importedAt, &txnID); err != nil {
		return nil, fmt.Errorf("failed to scan raw record: %w", err)
	}

	rec.ImporterType = domain.ImporterType(importerType)
	rec.Debit = floatPtr(debit)
	rec.Credit = floatPtr(credit)
	rec.Balance = floatPtr(balance)
	if txnID.Valid {
		id := txnID.String
		rec.TransactionID = &id
	}

	var err error
	rec.Date, err = time.Parse(time.RFC3339, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date for record %s: %w", rec.ID, err)
	}
	rec.ImportedAt, err = time.Parse(time.RFC3339, importedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid imported_at for record %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func marshalExtra(extra *domain.TransactionExtra) (sql.NullString, error) {
	if extra == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
