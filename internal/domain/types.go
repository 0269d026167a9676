// Package domain defines the core types of the statement import engine:
// normalized ledger transactions, institution-native raw records, and the
// per-account importer configuration.
package domain

import (
	"fmt"
	"time"
)

// TransactionType represents the direction of a ledger transaction.
// Use ValidateTransactionType to ensure validity before use.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

var validTransactionTypes = map[TransactionType]struct{}{
	TransactionTypeCredit: {}, TransactionTypeDebit: {},
}

// ValidateTransactionType checks if the transaction type is valid
func ValidateTransactionType(t TransactionType) bool {
	_, ok := validTransactionTypes[t]
	return ok
}

// ImporterType is the stable key identifying a statement importer
// implementation. New institutions get a new constant here and a factory
// registration in the registry package; the numeric values are persisted in
// importer configurations and must never be reused.
type ImporterType int

const (
	ImporterTypeIng      ImporterType = 1
	ImporterTypeBankwest ImporterType = 2
	ImporterTypeOFX      ImporterType = 3
)

var importerTypeNames = map[ImporterType]string{
	ImporterTypeIng:      "Ing",
	ImporterTypeBankwest: "Bankwest",
	ImporterTypeOFX:      "Ofx",
}

// String returns the importer's registered name (e.g., "Ing")
func (t ImporterType) String() string {
	if name, ok := importerTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ImporterType(%d)", int(t))
}

// ValidateImporterType checks if the importer type is a known key
func ValidateImporterType(t ImporterType) bool {
	_, ok := importerTypeNames[t]
	return ok
}

// TransactionExtra holds the structured detail extracted from a free-text
// transaction description. All fields are optional; a nil TransactionExtra on
// a Transaction means the description carried no recognizable structure.
type TransactionExtra struct {
	PurchaseType  string
	ReceiptNumber *int
	Location      string
	PurchaseDate  *time.Time
	CardLast4     *int
	Reference     string
}

// Transaction is a normalized ledger entry derived from one raw statement
// record.
//
// Sign convention:
//
//	Credit => Amount >= 0 (money in)
//	Debit  => Amount <= 0 (money out)
//
// Importers must normalize to this convention regardless of how the source
// statement represents amounts.
type Transaction struct {
	ID              string
	AccountID       string
	Amount          float64
	Description     string
	TransactionTime time.Time
	Type            TransactionType
	Source          string // e.g., "ING Import"
	Extra           *TransactionExtra
}

// NewTransaction creates a validated transaction
func NewTransaction(id, accountID string, amount float64, description string, transactionTime time.Time, txnType TransactionType, source string) (*Transaction, error) {
	if id == "" {
		return nil, fmt.Errorf("transaction ID cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if description == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}
	if transactionTime.IsZero() {
		return nil, fmt.Errorf("transaction time cannot be zero")
	}
	if !ValidateTransactionType(txnType) {
		return nil, fmt.Errorf("invalid transaction type: %s", txnType)
	}

	t := &Transaction{
		ID:              id,
		AccountID:       accountID,
		Amount:          amount,
		Description:     description,
		TransactionTime: transactionTime,
		Type:            txnType,
		Source:          source,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the sign/type agreement invariant
func (t *Transaction) Validate() error {
	switch t.Type {
	case TransactionTypeCredit:
		if t.Amount < 0 {
			return fmt.Errorf("credit transaction cannot have negative amount %f", t.Amount)
		}
	case TransactionTypeDebit:
		if t.Amount > 0 {
			return fmt.Errorf("debit transaction cannot have positive amount %f", t.Amount)
		}
	default:
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}
	return nil
}

// RawRecord is an institution-native statement row as imported, prior to
// normalization. It is append-only: once stored it is never deleted by the
// engine, and the only permitted mutation is finalizing the Balance of a
// record that was first seen while the bank still reported it as pending.
//
// The natural key of a record is (Details, Reference, Date, Debit, Credit);
// including Balance it identifies an already-finalized row exactly. The
// reconcile package computes fingerprints over these tuples.
type RawRecord struct {
	ID            string
	AccountID     string
	ImporterType  ImporterType
	Details       string
	Category      string   // institution-specific (e.g., transaction type column)
	Reference     string   // institution-specific (e.g., cheque number, FITID)
	Debit         *float64 // magnitude, nil when the row is a credit
	Credit        *float64 // magnitude, nil when the row is a debit
	Balance       *float64 // nil while the transaction is pending
	Date          time.Time
	Sequence      int // per-date, 1-based, file-encounter order
	ImportedAt    time.Time
	TransactionID *string // nil until linked to a derived Transaction
}

// NewRawRecord creates a validated raw record
func NewRawRecord(id, accountID string, importerType ImporterType, details string, date time.Time, sequence int) (*RawRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("record ID cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if !ValidateImporterType(importerType) {
		return nil, fmt.Errorf("invalid importer type: %d", int(importerType))
	}
	if details == "" {
		return nil, fmt.Errorf("details cannot be empty")
	}
	if date.IsZero() {
		return nil, fmt.Errorf("date cannot be zero")
	}
	if sequence < 1 {
		return nil, fmt.Errorf("sequence must be >= 1, got %d", sequence)
	}

	return &RawRecord{
		ID:           id,
		AccountID:    accountID,
		ImporterType: importerType,
		Details:      details,
		Date:         date,
		Sequence:     sequence,
		ImportedAt:   time.Now(),
	}, nil
}

// Pending reports whether the record is still awaiting a settled balance
func (r *RawRecord) Pending() bool {
	return r.Balance == nil
}

// Amount returns the signed amount of the record: Credit if present,
// otherwise the negated Debit magnitude
func (r *RawRecord) Amount() float64 {
	if r.Credit != nil {
		return *r.Credit
	}
	if r.Debit != nil {
		return -*r.Debit
	}
	return 0
}

// Type returns the transaction type implied by the populated amount column
func (r *RawRecord) Type() TransactionType {
	if r.Credit != nil {
		return TransactionTypeCredit
	}
	return TransactionTypeDebit
}

// ImportResult is the value returned from one Import call: every Transaction
// created by that call (in file-encounter order) plus the statement's closing
// balance when the feed carries one. Pending-finalization updates are counted
// but excluded from Transactions, since those were created by an earlier
// import.
type ImportResult struct {
	Transactions     []Transaction
	ClosingBalance   *float64
	Skipped          int // lines dropped by validation
	Duplicates       int // lines matching an already-finalized record
	PendingFinalized int // previously-pending records whose balance was set
}

// ImporterConfig associates an account with the importer that understands its
// statements. Owned by the account aggregate; read-only input to the registry.
type ImporterConfig struct {
	AccountID            string
	Type                 ImporterType
	InstitutionAccountID string // the account identifier as the institution prints it
}

// NewImporterConfig creates a validated importer configuration
func NewImporterConfig(accountID string, importerType ImporterType, institutionAccountID string) (*ImporterConfig, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if !ValidateImporterType(importerType) {
		return nil, fmt.Errorf("invalid importer type: %d", int(importerType))
	}

	return &ImporterConfig{
		AccountID:            accountID,
		Type:                 importerType,
		InstitutionAccountID: institutionAccountID,
	}, nil
}
