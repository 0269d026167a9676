package domain

import (
	"strings"
	"testing"
	"time"
)

func TestNewTransaction(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		id          string
		accountID   string
		amount      float64
		description string
		txnType     TransactionType
		wantErr     string
	}{
		{
			name:        "valid credit",
			id:          "txn-1",
			accountID:   "acc-1",
			amount:      100.50,
			description: "Paycheck",
			txnType:     TransactionTypeCredit,
		},
		{
			name:        "valid debit",
			id:          "txn-2",
			accountID:   "acc-1",
			amount:      -50.00,
			description: "Groceries",
			txnType:     TransactionTypeDebit,
		},
		{
			name:        "zero amount is valid for both types",
			id:          "txn-3",
			accountID:   "acc-1",
			amount:      0,
			description: "Adjustment",
			txnType:     TransactionTypeDebit,
		},
		{
			name:        "credit with negative amount",
			id:          "txn-4",
			accountID:   "acc-1",
			amount:      -10,
			description: "Bad",
			txnType:     TransactionTypeCredit,
			wantErr:     "credit transaction cannot have negative amount",
		},
		{
			name:        "debit with positive amount",
			id:          "txn-5",
			accountID:   "acc-1",
			amount:      10,
			description: "Bad",
			txnType:     TransactionTypeDebit,
			wantErr:     "debit transaction cannot have positive amount",
		},
		{
			name:        "empty ID",
			accountID:   "acc-1",
			amount:      10,
			description: "Bad",
			txnType:     TransactionTypeCredit,
			wantErr:     "transaction ID cannot be empty",
		},
		{
			name:        "empty description",
			id:          "txn-6",
			accountID:   "acc-1",
			amount:      10,
			txnType:     TransactionTypeCredit,
			wantErr:     "description cannot be empty",
		},
		{
			name:        "invalid type",
			id:          "txn-7",
			accountID:   "acc-1",
			amount:      10,
			description: "Bad",
			txnType:     TransactionType("transfer"),
			wantErr:     "invalid transaction type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn, err := NewTransaction(tt.id, tt.accountID, tt.amount, tt.description, now, tt.txnType, "ING Import")
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("NewTransaction() error = nil, want %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("NewTransaction() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTransaction() error = %v", err)
			}
			if txn.Amount != tt.amount {
				t.Errorf("Amount = %f, want %f", txn.Amount, tt.amount)
			}
			if txn.Source != "ING Import" {
				t.Errorf("Source = %q, want %q", txn.Source, "ING Import")
			}
		})
	}
}

func TestImporterTypeString(t *testing.T) {
	tests := []struct {
		typ  ImporterType
		want string
	}{
		{ImporterTypeIng, "Ing"},
		{ImporterTypeBankwest, "Bankwest"},
		{ImporterTypeOFX, "Ofx"},
		{ImporterType(99), "ImporterType(99)"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("ImporterType(%d).String() = %q, want %q", int(tt.typ), got, tt.want)
		}
	}
}

func TestValidateImporterType(t *testing.T) {
	if !ValidateImporterType(ImporterTypeBankwest) {
		t.Error("ValidateImporterType(Bankwest) = false, want true")
	}
	if ValidateImporterType(ImporterType(0)) {
		t.Error("ValidateImporterType(0) = true, want false")
	}
}

func TestRawRecordAmountAndType(t *testing.T) {
	credit := 100.0
	debit := 50.0

	tests := []struct {
		name       string
		rec        RawRecord
		wantAmount float64
		wantType   TransactionType
	}{
		{
			name:       "credit row",
			rec:        RawRecord{Credit: &credit},
			wantAmount: 100.0,
			wantType:   TransactionTypeCredit,
		},
		{
			name:       "debit row",
			rec:        RawRecord{Debit: &debit},
			wantAmount: -50.0,
			wantType:   TransactionTypeDebit,
		},
		{
			name:       "empty row defaults to zero debit",
			rec:        RawRecord{},
			wantAmount: 0,
			wantType:   TransactionTypeDebit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Amount(); got != tt.wantAmount {
				t.Errorf("Amount() = %f, want %f", got, tt.wantAmount)
			}
			if got := tt.rec.Type(); got != tt.wantType {
				t.Errorf("Type() = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestRawRecordPending(t *testing.T) {
	bal := 250.75
	rec := RawRecord{}
	if !rec.Pending() {
		t.Error("record without balance should be pending")
	}
	rec.Balance = &bal
	if rec.Pending() {
		t.Error("record with balance should not be pending")
	}
}

func TestNewRawRecord(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rec, err := NewRawRecord("raw-1", "acc-1", ImporterTypeIng, "Coffee", date, 1)
	if err != nil {
		t.Fatalf("NewRawRecord() error = %v", err)
	}
	if rec.ImportedAt.IsZero() {
		t.Error("ImportedAt should be set")
	}
	if rec.TransactionID != nil {
		t.Error("TransactionID should start nil")
	}

	if _, err := NewRawRecord("raw-2", "acc-1", ImporterTypeIng, "Coffee", date, 0); err == nil {
		t.Error("NewRawRecord() with sequence 0 should fail")
	}
	if _, err := NewRawRecord("raw-3", "acc-1", ImporterType(42), "Coffee", date, 1); err == nil {
		t.Error("NewRawRecord() with unknown importer type should fail")
	}
}

func TestNewImporterConfig(t *testing.T) {
	cfg, err := NewImporterConfig("acc-1", ImporterTypeBankwest, "303-111 0012345")
	if err != nil {
		t.Fatalf("NewImporterConfig() error = %v", err)
	}
	if cfg.Type != ImporterTypeBankwest {
		t.Errorf("Type = %v, want Bankwest", cfg.Type)
	}

	if _, err := NewImporterConfig("", ImporterTypeIng, ""); err == nil {
		t.Error("NewImporterConfig() with empty account should fail")
	}
	if _, err := NewImporterConfig("acc-1", ImporterType(7), ""); err == nil {
		t.Error("NewImporterConfig() with unknown type should fail")
	}
}
