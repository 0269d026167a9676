package ing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store"
)

const header = "Date,Description,Credit,Debit,Balance\n"

func importString(t *testing.T, imp *Importer, accountID, content string) *domain.ImportResult {
	t.Helper()
	result, err := imp.Import(context.Background(), accountID, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	return result
}

func TestImport_CreatesTransactions(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	content := header +
		"03/06/2024,Acme Pty Ltd - Salary - pay 2024-06,2500.00,,3100.50\n" +
		"02/06/2024,\"Woolworths, Metro - EFTPOS Purchase - Receipt 3344 Date 02 Jun 24 Time 2:37pm\",,50.00,600.50\n"

	result := importString(t, imp, "acc-1", content)

	if len(result.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(result.Transactions))
	}

	salary := result.Transactions[0]
	if salary.Amount != 2500.00 || salary.Type != domain.TransactionTypeCredit {
		t.Errorf("salary = %+v, want +2500.00 credit", salary)
	}
	if salary.Description != "Acme Pty Ltd" {
		t.Errorf("salary description = %q, want %q", salary.Description, "Acme Pty Ltd")
	}
	if salary.Source != "ING Import" {
		t.Errorf("Source = %q, want %q", salary.Source, "ING Import")
	}
	if salary.Extra == nil || salary.Extra.PurchaseType != "Salary" {
		t.Errorf("salary extra = %+v, want Salary purchase type", salary.Extra)
	}

	eftpos := result.Transactions[1]
	if eftpos.Amount != -50.00 || eftpos.Type != domain.TransactionTypeDebit {
		t.Errorf("eftpos = %+v, want -50.00 debit", eftpos)
	}
	if eftpos.Description != "Woolworths, Metro" {
		t.Errorf("eftpos description = %q, want merchant with embedded comma", eftpos.Description)
	}

	if result.ClosingBalance == nil || *result.ClosingBalance != 3100.50 {
		t.Errorf("ClosingBalance = %v, want first observed balance 3100.50", result.ClosingBalance)
	}

	// Raw records persisted and linked.
	records, err := st.RawRecords().GetAll(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d raw records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.TransactionID == nil {
			t.Errorf("record %s has no linked transaction", rec.ID)
		}
		if rec.ImporterType != domain.ImporterTypeIng {
			t.Errorf("record %s importer type = %v, want Ing", rec.ID, rec.ImporterType)
		}
	}
}

func TestImport_Idempotence(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	content := header +
		"03/06/2024,Payment - Mortgage Offset,,1200.00,900.00\n" +
		"02/06/2024,Internal Transfer - Receipt 112233,500.00,,2100.00\n"

	first := importString(t, imp, "acc-1", content)
	if len(first.Transactions) != 2 {
		t.Fatalf("first import created %d transactions, want 2", len(first.Transactions))
	}

	second := importString(t, imp, "acc-1", content)
	if len(second.Transactions) != 0 {
		t.Errorf("second import created %d transactions, want 0", len(second.Transactions))
	}
	if second.Duplicates != 2 {
		t.Errorf("second import duplicates = %d, want 2", second.Duplicates)
	}

	txns, err := st.Transactions().GetTransactions(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetTransactions() error = %v", err)
	}
	if len(txns) != 2 {
		t.Errorf("store holds %d transactions after re-import, want 2", len(txns))
	}
}

func TestImport_PendingResolution(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)
	ctx := context.Background()

	// First download: the bank has not settled the purchase, balance is 0.00.
	pending := header +
		"05/06/2024,Payment - Gym Membership,,35.00,0.00\n"
	first := importString(t, imp, "acc-1", pending)
	if len(first.Transactions) != 1 {
		t.Fatalf("first import created %d transactions, want 1", len(first.Transactions))
	}

	records, _ := st.RawRecords().GetAll(ctx, "acc-1")
	if len(records) != 1 || !records[0].Pending() {
		t.Fatalf("expected one pending raw record, got %+v", records)
	}

	// Overlapping download a few days later: same line, settled balance.
	finalized := header +
		"05/06/2024,Payment - Gym Membership,,35.00,865.00\n"
	second := importString(t, imp, "acc-1", finalized)

	if len(second.Transactions) != 0 {
		t.Errorf("finalizing import created %d transactions, want 0", len(second.Transactions))
	}
	if second.PendingFinalized != 1 {
		t.Errorf("PendingFinalized = %d, want 1", second.PendingFinalized)
	}

	records, _ = st.RawRecords().GetAll(ctx, "acc-1")
	if len(records) != 1 {
		t.Fatalf("got %d raw records after finalization, want exactly 1", len(records))
	}
	if records[0].Balance == nil || *records[0].Balance != 865.00 {
		t.Errorf("record balance = %v, want 865.00", records[0].Balance)
	}

	txns, _ := st.Transactions().GetTransactions(ctx, "acc-1")
	if len(txns) != 1 {
		t.Errorf("store holds %d transactions, want exactly 1", len(txns))
	}
}

func TestImport_SequenceStability(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	// Descending dates, multiple lines per day.
	content := header +
		"05/06/2024,Payment - Coffee One,,4.50,100.00\n" +
		"05/06/2024,Payment - Coffee Two,,4.50,104.50\n" +
		"05/06/2024,Payment - Coffee Three,,4.50,109.00\n" +
		"04/06/2024,Payment - Lunch,,18.00,113.50\n" +
		"04/06/2024,Payment - Breakfast,,12.00,131.50\n"
	importString(t, imp, "acc-1", content)

	records, err := st.RawRecords().GetAll(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}

	seqs := make(map[string][]int)
	for _, rec := range records {
		day := rec.Date.Format("2006-01-02")
		seqs[day] = append(seqs[day], rec.Sequence)
	}

	want := map[string][]int{
		"2024-06-05": {1, 2, 3},
		"2024-06-04": {1, 2},
	}
	for day, wantSeqs := range want {
		got := seqs[day]
		if len(got) != len(wantSeqs) {
			t.Fatalf("day %s has %d records, want %d", day, len(got), len(wantSeqs))
		}
		for i, s := range wantSeqs {
			if got[i] != s {
				t.Errorf("day %s sequences = %v, want %v", day, got, wantSeqs)
				break
			}
		}
	}
}

func TestImport_ValidationSkipsNotAborts(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	content := header +
		"03/06/2024,Payment - Valid One,,10.00,90.00\n" +
		"not-a-date,Payment - Bad Date,,10.00,80.00\n" +
		"02/06/2024,,,10.00,70.00\n" + // empty description
		"02/06/2024,Payment - Both Columns,5.00,10.00,60.00\n" + // ambiguous credit/debit
		"01/06/2024,Payment - Valid Two,25.00,,50.00\n"

	result := importString(t, imp, "acc-1", content)

	if len(result.Transactions) != 2 {
		t.Errorf("got %d transactions, want 2 valid lines imported", len(result.Transactions))
	}
	if result.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", result.Skipped)
	}
}

func TestImport_AmountSignConvention(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	content := header +
		"03/06/2024,Payment - Debit Line,,50.00,100.00\n" +
		"02/06/2024,Payment - Credit Line,50.00,,150.00\n"
	result := importString(t, imp, "acc-1", content)

	if len(result.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(result.Transactions))
	}

	debit := result.Transactions[0]
	if debit.Amount != -50.00 || debit.Type != domain.TransactionTypeDebit {
		t.Errorf("debit line = amount %f type %s, want -50.00 debit", debit.Amount, debit.Type)
	}
	credit := result.Transactions[1]
	if credit.Amount != 50.00 || credit.Type != domain.TransactionTypeCredit {
		t.Errorf("credit line = amount %f type %s, want +50.00 credit", credit.Amount, credit.Type)
	}
}

func TestImport_NegativeDebitColumnNormalized(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	content := header + "03/06/2024,Payment - Printed Negative,,-42.00,100.00\n"
	result := importString(t, imp, "acc-1", content)

	if len(result.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(result.Transactions))
	}
	if result.Transactions[0].Amount != -42.00 {
		t.Errorf("amount = %f, want -42.00 regardless of how the debit column prints the sign", result.Transactions[0].Amount)
	}
}

func TestImport_EmptyFileYieldsEmptyResult(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	result := importString(t, imp, "acc-1", header)

	if len(result.Transactions) != 0 {
		t.Errorf("got %d transactions, want 0", len(result.Transactions))
	}
	if result.ClosingBalance != nil {
		t.Errorf("ClosingBalance = %v, want nil for a file with no valid lines", result.ClosingBalance)
	}
}

func TestImport_ParserCaptureFailureIsFatal(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	// The Visa pattern matches but the purchase date cannot exist; this means
	// the pattern itself is wrong for the feed and must not be skipped.
	content := header +
		"03/06/2024,Shop - Visa Purchase - Receipt 445566In MELBOURNE Date 31 Feb 24 Card 462263xxxxxx9876,,50.00,100.00\n"

	_, err := imp.Import(context.Background(), "acc-1", strings.NewReader(content))
	if err == nil {
		t.Fatal("Import() error = nil, want parser capture failure to propagate")
	}
	if !strings.Contains(err.Error(), "invalid purchase date") {
		t.Errorf("Import() error = %v, want invalid purchase date", err)
	}
}

func TestImport_CancellationPersistsNothing(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	content := header + "03/06/2024,Payment - Never Lands,,10.00,90.00\n"
	if _, err := imp.Import(ctx, "acc-1", strings.NewReader(content)); err == nil {
		t.Fatal("Import() with cancelled context should fail")
	}

	records, err := st.RawRecords().GetAll(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("cancelled import persisted %d records, want 0", len(records))
	}
}

func TestReprocess_RederivesFromRawRecords(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)
	ctx := context.Background()

	content := header +
		"03/06/2024,AGL Energy - Direct Debit - Receipt 8899 electricity,,120.00,500.00\n"
	result := importString(t, imp, "acc-1", content)
	txnID := result.Transactions[0].ID

	// Simulate drift: the stored transaction was edited out from under us.
	drifted := result.Transactions[0]
	drifted.Description = "manually renamed"
	drifted.Amount = 0
	drifted.Type = domain.TransactionTypeCredit
	drifted.Extra = nil
	if err := st.Transactions().Update(ctx, drifted); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := st.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges() error = %v", err)
	}

	if err := imp.Reprocess(ctx, "acc-1"); err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}

	txns, _ := st.Transactions().GetTransactions(ctx, "acc-1")
	if len(txns) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txns))
	}
	got := txns[0]
	if got.ID != txnID {
		t.Fatalf("Reprocess changed the transaction identity")
	}
	if got.Description != "AGL Energy" {
		t.Errorf("Description = %q, want %q", got.Description, "AGL Energy")
	}
	if got.Amount != -120.00 || got.Type != domain.TransactionTypeDebit {
		t.Errorf("amount/type = %f/%s, want -120.00 debit", got.Amount, got.Type)
	}
	if got.Extra == nil || got.Extra.PurchaseType != "Direct Debit" {
		t.Errorf("Extra = %+v, want Direct Debit purchase type", got.Extra)
	}
}

func TestReprocess_IgnoresUnlinkedRecords(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)
	ctx := context.Background()

	// A raw record with no linked transaction is unprocessed; Reprocess must
	// leave it alone.
	orphan := domain.RawRecord{
		ID: "raw-orphan", AccountID: "acc-1", ImporterType: domain.ImporterTypeIng,
		Details: "Payment - Orphan", Date: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Sequence: 1,
	}
	if err := st.RawRecords().AddRange(ctx, []domain.RawRecord{orphan}); err != nil {
		t.Fatalf("AddRange() error = %v", err)
	}
	if err := st.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges() error = %v", err)
	}

	if err := imp.Reprocess(ctx, "acc-1"); err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}

	records, _ := st.RawRecords().GetAll(ctx, "acc-1")
	if len(records) != 1 || records[0].TransactionID != nil {
		t.Errorf("orphan record was modified: %+v", records[0])
	}
	txns, _ := st.Transactions().GetTransactions(ctx, "acc-1")
	if len(txns) != 0 {
		t.Errorf("Reprocess created %d transactions, want 0", len(txns))
	}
}

func TestReprocess_IgnoresRecordsWhoseTransactionWasDeleted(t *testing.T) {
	st := store.NewMemoryStore()
	imp := New(st)
	ctx := context.Background()

	deadID := "txn-deleted"
	rec := domain.RawRecord{
		ID: "raw-dead", AccountID: "acc-1", ImporterType: domain.ImporterTypeIng,
		Details: "Payment - Dead Link", Date: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Sequence: 1, TransactionID: &deadID,
	}
	if err := st.RawRecords().AddRange(ctx, []domain.RawRecord{rec}); err != nil {
		t.Fatalf("AddRange() error = %v", err)
	}
	if err := st.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges() error = %v", err)
	}

	// The linked transaction does not exist in the live set; no update may
	// be attempted (the store would reject updating a missing transaction).
	if err := imp.Reprocess(ctx, "acc-1"); err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
}
