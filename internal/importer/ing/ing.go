// Package ing imports ING statement exports.
//
// File contract: comma-delimited CSV with a header row, columns
// Date,Description,Credit,Debit,Balance. Dates are DD/MM/YYYY. Exactly one
// of Credit/Debit is populated per row; Debit may be printed with or without
// a leading minus. A blank or 0.00 Balance marks a transaction the bank has
// not yet settled: the row is imported as pending and finalized in place by
// a later statement covering an overlapping date range. Rows arrive newest
// first.
package ing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/bankimport/internal/descparse"
	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
	"github.com/rumor-ml/commons.systems/bankimport/internal/importer"
	"github.com/rumor-ml/commons.systems/bankimport/internal/reconcile"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store"
	"github.com/rumor-ml/commons.systems/bankimport/internal/transform"
)

const (
	sourceTag  = "ING Import"
	dateLayout = "02/01/2006"
)

// Importer imports ING CSV statements
type Importer struct {
	store store.Store
}

// New creates an ING importer backed by the given store
func New(st store.Store) *Importer {
	return &Importer{store: st}
}

// Name returns the importer identifier
func (i *Importer) Name() string { return "Ing" }

// row is one validated statement line
type row struct {
	date    time.Time
	details string
	debit   *float64
	credit  *float64
	balance *float64
}

// Import parses an ING statement stream for the account and reconciles it
// against the raw records already stored
func (i *Importer) Import(ctx context.Context, accountID string, r io.Reader) (*domain.ImportResult, error) {
	existing, err := i.store.RawRecords().GetAll(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing raw records for account %s: %w", accountID, err)
	}
	ix := reconcile.NewIndex(existing)

	result := &domain.ImportResult{}
	rows := importer.NewRowReader(r, ',')
	var seq importer.Sequencer
	var closing importer.BalanceTracker
	var newRecords []domain.RawRecord

	for {
		fields, line, err := rows.Next(ctx)
		if err == io.EOF {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if err != nil {
			log.Printf("ING import: skipping malformed line %d: %v", line, err)
			result.Skipped++
			continue
		}
		if line == 1 && isHeader(fields) {
			continue
		}

		parsed, err := parseRow(fields)
		if err != nil {
			log.Printf("ING import: skipping line %d: %v", line, err)
			result.Skipped++
			continue
		}

		closing.Observe(parsed.balance)

		key := reconcile.Key{
			Details: parsed.details,
			Date:    parsed.date,
			Debit:   parsed.debit,
			Credit:  parsed.credit,
			Balance: parsed.balance,
		}
		match, stored := ix.Resolve(key)
		switch match {
		case reconcile.MatchDuplicate:
			result.Duplicates++
			log.Printf("ING import: line %d is a duplicate of record %s", line, stored.ID)
			continue
		case reconcile.MatchPending:
			if parsed.balance == nil && stored.Balance != nil {
				// The line is still unsettled but the stored record already
				// has a balance; there is nothing to finalize.
				result.Duplicates++
				continue
			}
			stored.Balance = parsed.balance
			if err := i.store.RawRecords().Update(ctx, *stored); err != nil {
				return nil, fmt.Errorf("failed to finalize pending record %s: %w", stored.ID, err)
			}
			ix.Finalize(stored)
			result.PendingFinalized++
			log.Printf("ING import: line %d finalized pending record %s", line, stored.ID)
			continue
		}

		sequence := seq.Next(parsed.date)

		// A matched pattern whose capture groups fail a strict parse means
		// the pattern no longer fits ING's format; that must surface, not be
		// skipped like a bad line.
		desc, err := descparse.Parse(parsed.details)
		if err != nil {
			return nil, fmt.Errorf("ING import: line %d: %w", line, err)
		}

		txn, err := domain.NewTransaction(
			uuid.NewString(), accountID, rowAmount(parsed), desc.Description,
			parsed.date, rowType(parsed), sourceTag,
		)
		if err != nil {
			return nil, fmt.Errorf("ING import: line %d: %w", line, err)
		}
		txn.Extra = extraFrom(desc)

		rec, err := domain.NewRawRecord(
			transform.RecordID(accountID, parsed.date, sequence, parsed.details),
			accountID, domain.ImporterTypeIng, parsed.details, parsed.date, sequence,
		)
		if err != nil {
			return nil, fmt.Errorf("ING import: line %d: %w", line, err)
		}
		rec.Category = desc.PurchaseType
		rec.Debit = parsed.debit
		rec.Credit = parsed.credit
		rec.Balance = parsed.balance
		rec.TransactionID = &txn.ID

		newRecords = append(newRecords, *rec)
		result.Transactions = append(result.Transactions, *txn)
	}

	result.ClosingBalance = closing.Closing()

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
// record. Records with no link, or whose Transaction was deleted
// independently, are counted and left untouched.
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
			return fmt.Errorf("ING reprocess: record %s: %w", rec.ID, err)
		}

		txn.Description = desc.Description
		txn.Amount = rec.Amount()
		txn.Type = rec.Type()
		txn.Source = sourceTag
		txn.Extra = extraFrom(desc)
		if err := i.store.Transactions().Update(ctx, txn); err != nil {
			return fmt.Errorf("failed to update transaction %s: %w", txn.ID, err)
		}
	}

	if unprocessed > 0 {
		log.Printf("ING reprocess: account %s has %d unprocessed raw records", accountID, unprocessed)
	}

	if err := i.store.SaveChanges(ctx); err != nil {
		return fmt.Errorf("failed to save reprocess for account %s: %w", accountID, err)
	}
	return nil
}

// isHeader recognizes the column header row
func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "Date")
}

// parseRow validates one statement line against the ING file contract
func parseRow(fields []string) (*row, error) {
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	date, err := time.Parse(dateLayout, strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", fields[0], err)
	}

	details := strings.TrimSpace(fields[1])
	details = strings.TrimSpace(strings.Trim(details, `"`))
	if details == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}

	credit, err := importer.ParseAmount(fields[2])
	if err != nil {
		return nil, err
	}
	debit, err := importer.ParseAmount(fields[3])
	if err != nil {
		return nil, err
	}
	if (credit == nil) == (debit == nil) {
		return nil, fmt.Errorf("exactly one of credit and debit must be populated")
	}
	if debit != nil {
		v := math.Abs(*debit)
		debit = &v
	}

	balance, err := importer.ParseAmount(fields[4])
	if err != nil {
		return nil, err
	}
	// ING prints 0.00 for unsettled balances. Store pending as absent.
	if balance != nil && *balance == 0 {
		balance = nil
	}

	return &row{
		date:    date,
		details: details,
		debit:   debit,
		credit:  credit,
		balance: balance,
	}, nil
}

func rowAmount(r *row) float64 {
	if r.credit != nil {
		return *r.credit
	}
	return -*r.debit
}

func rowType(r *row) domain.TransactionType {
	if r.credit != nil {
		return domain.TransactionTypeCredit
	}
	return domain.TransactionTypeDebit
}

// extraFrom copies structured description detail onto the transaction.
// Returns nil when the description carried no recognizable structure.
func extraFrom(desc *descparse.ParsedDescription) *domain.TransactionExtra {
	if desc.PurchaseType == "" {
		return nil
	}
	return &domain.TransactionExtra{
		PurchaseType:  desc.PurchaseType,
		ReceiptNumber: desc.ReceiptNumber,
		Location:      desc.Location,
		PurchaseDate:  desc.PurchaseDate,
		CardLast4:     desc.CardLast4,
		Reference:     desc.Reference,
	}
}
