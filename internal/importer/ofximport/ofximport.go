// Package ofximport imports OFX and QFX statement downloads.
//
// Unlike the CSV importers, OFX files carry a bank-assigned transaction ID
// (FITID) per entry, so the natural key uses that ID as the reference and
// per-line balances do not exist. The statement's ledger balance supplies the
// closing balance. Both OFX v1 SGML and v2 XML bodies are accepted; parsing
// is delegated to ofxgo.
package ofximport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/bankimport/internal/descparse"
	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
	"github.com/rumor-ml/commons.systems/bankimport/internal/importer"
	"github.com/rumor-ml/commons.systems/bankimport/internal/reconcile"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store"
	"github.com/rumor-ml/commons.systems/bankimport/internal/transform"
)

const sourceTag = "OFX Import"

// Importer imports OFX/QFX statements
type Importer struct {
	store store.Store
}

// New creates an OFX importer backed by the given store
func New(st store.Store) *Importer {
	return &Importer{store: st}
}

// Name returns the importer identifier
func (i *Importer) Name() string { return "Ofx" }

// entry is one validated statement transaction
type entry struct {
	fitID   string
	date    time.Time
	details string
	debit   *float64
	credit  *float64
}

// Import parses an OFX statement stream for the account and reconciles it
// against the raw records already stored
func (i *Importer) Import(ctx context.Context, accountID string, r io.Reader) (*domain.ImportResult, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file (%d bytes): %w", len(content), err)
	}
	if len(response.Bank) == 0 {
		return nil, fmt.Errorf("no bank statement in OFX file")
	}
	stmt, ok := response.Bank[0].(*ofxgo.StatementResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected bank statement type %T", response.Bank[0])
	}
	if stmt.BankTranList == nil {
		return nil, fmt.Errorf("missing transaction list in OFX statement")
	}

	existing, err := i.store.RawRecords().GetAll(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing raw records for account %s: %w", accountID, err)
	}
	ix := reconcile.NewIndex(existing)

	result := &domain.ImportResult{}
	var seq importer.Sequencer
	var newRecords []domain.RawRecord

	for n, txn := range stmt.BankTranList.Transactions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		parsed, err := extractEntry(txn)
		if err != nil {
			log.Printf("OFX import: skipping transaction %d: %v", n, err)
			result.Skipped++
			continue
		}

		key := reconcile.Key{
			Details:   parsed.details,
			Reference: parsed.fitID,
			Date:      parsed.date,
			Debit:     parsed.debit,
			Credit:    parsed.credit,
		}
		match, stored := ix.Resolve(key)
		if match != reconcile.MatchNew {
			result.Duplicates++
			log.Printf("OFX import: transaction %d is a duplicate of record %s", n, stored.ID)
			continue
		}

		sequence := seq.Next(parsed.date)

		desc, err := descparse.Parse(parsed.details)
		if err != nil {
			return nil, fmt.Errorf("OFX import: transaction %d: %w", n, err)
		}

		ledger, err := domain.NewTransaction(
			uuid.NewString(), accountID, entryAmount(parsed), desc.Description,
			parsed.date, entryType(parsed), sourceTag,
		)
		if err != nil {
			return nil, fmt.Errorf("OFX import: transaction %d: %w", n, err)
		}
		ledger.Extra = extraFrom(desc, parsed.fitID)

		rec, err := domain.NewRawRecord(
			transform.RecordID(accountID, parsed.date, sequence, parsed.details),
			accountID, domain.ImporterTypeOFX, parsed.details, parsed.date, sequence,
		)
		if err != nil {
			return nil, fmt.Errorf("OFX import: transaction %d: %w", n, err)
		}
		rec.Category = desc.PurchaseType
		rec.Reference = parsed.fitID
		rec.Debit = parsed.debit
		rec.Credit = parsed.credit
		rec.TransactionID = &ledger.ID

		newRecords = append(newRecords, *rec)
		result.Transactions = append(result.Transactions, *ledger)
	}

	// A statement without LEDGERBAL leaves DtAsOf unset; report no closing
	// balance rather than a zero one.
	if !stmt.DtAsOf.IsZero() {
		balance, _ := stmt.BalAmt.Float64()
		result.ClosingBalance = &balance
	}

	if len(newRecords) > 0 {
		if err := i.store.RawRecords().AddRange(ctx, newRecords); err != nil {
			return nil, fmt.Errorf("failed to add raw records: %w", err)
		}
	}
	for _, txn := range result.Transactions {
		if err := i.store.Transactions().Add(ctx, txn); err != nil {
			return nil, fmt.Errorf("failed to add transaction %s: %w", txn.ID, err)
		}
	}
	if err := i.store.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("failed to save import for account %s: %w", accountID, err)
	}

	return result, nil
}

// Reprocess re-derives every linked Transaction's fields from its stored raw
// record.
func (i *Importer) Reprocess(ctx context.Context, accountID string) error {
	records, err := i.store.RawRecords().GetAll(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load raw records for account %s: %w", accountID, err)
	}
	txns, err := i.store.Transactions().GetTransactions(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load transactions for account %s: %w", accountID, err)
	}

	live := make(map[string]domain.Transaction, len(txns))
	for _, txn := range txns {
		live[txn.ID] = txn
	}

	unprocessed := 0
	for _, rec := range records {
		if rec.TransactionID == nil {
			unprocessed++
			continue
		}
		txn, ok := live[*rec.TransactionID]
		if !ok {
			unprocessed++
			continue
		}

		desc, err := descparse.Parse(rec.Details)
		if err != nil {
			return fmt.Errorf("OFX reprocess: record %s: %w", rec.ID, err)
		}

		txn.Description = desc.Description
		txn.Amount = rec.Amount()
		txn.Type = rec.Type()
		txn.Source = sourceTag
		txn.Extra = extraFrom(desc, rec.Reference)
		if err := i.store.Transactions().Update(ctx, txn); err != nil {
			return fmt.Errorf("failed to update transaction %s: %w", txn.ID, err)
		}
	}

	if unprocessed > 0 {
		log.Printf("OFX reprocess: account %s has %d unprocessed raw records", accountID, unprocessed)
	}

	if err := i.store.SaveChanges(ctx); err != nil {
		return fmt.Errorf("failed to save reprocess for account %s: %w", accountID, err)
	}
	return nil
}

// extractEntry validates one OFX transaction. The FITID, a usable date and a
// non-empty name or memo are required; the amount's sign selects the debit or
// credit column.
func extractEntry(txn ofxgo.Transaction) (*entry, error) {
	fitID := txn.FiTID.String()
	if fitID == "" {
		return nil, fmt.Errorf("transaction missing FITID")
	}

	date := txn.DtPosted.Time
	if date.IsZero() {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return nil, fmt.Errorf("transaction %s missing posted and user dates", fitID)
	}
	// Normalize to a date-only value so overlapping downloads fingerprint
	// identically regardless of the timezone the bank stamped.
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	details := strings.TrimSpace(txn.Name.String())
	if memo := strings.TrimSpace(txn.Memo.String()); memo != "" && memo != details {
		if details == "" {
			details = memo
		} else {
			details = details + " " + memo
		}
	}
	if details == "" {
		return nil, fmt.Errorf("transaction %s missing name and memo", fitID)
	}

	amount, _ := txn.TrnAmt.Float64()
	if amount == 0 {
		return nil, fmt.Errorf("transaction %s has zero amount", fitID)
	}

	e := &entry{fitID: fitID, date: date, details: details}
	if amount > 0 {
		e.credit = &amount
	} else {
		v := math.Abs(amount)
		e.debit = &v
	}
	return e, nil
}

func entryAmount(e *entry) float64 {
	if e.credit != nil {
		return *e.credit
	}
	return -*e.debit
}

func entryType(e *entry) domain.TransactionType {
	if e.credit != nil {
		return domain.TransactionTypeCredit
	}
	return domain.TransactionTypeDebit
}

func extraFrom(desc *descparse.ParsedDescription, fitID string) *domain.TransactionExtra {
	extra := &domain.TransactionExtra{
		PurchaseType:  desc.PurchaseType,
		ReceiptNumber: desc.ReceiptNumber,
		Location:      desc.Location,
		PurchaseDate:  desc.PurchaseDate,
		CardLast4:     desc.CardLast4,
		Reference:     desc.Reference,
	}
	if extra.Reference == "" {
		extra.Reference = fitID
	}
	return extra
}
