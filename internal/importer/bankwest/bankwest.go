// Package bankwest imports Bankwest statement exports.
//
// File contract: comma-delimited CSV with a header row, columns
// BSB Number,Account Number,Transaction Date,Narration,Cheque Number,
// Debit,Credit,Balance,Transaction Type. Dates are DD/MM/YYYY. Exports can
// cover several accounts at once, so rows whose account number does not
// match the configured institution account are skipped. A blank Balance
// marks an unsettled transaction; unlike ING, Bankwest re-exports the line
// with a balance once it settles, so unsettled rows are dropped rather than
// imported as pending.
package bankwest

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
	sourceTag  = "Bankwest Import"
	dateLayout = "02/01/2006"
	fieldCount = 9
)

const (
	colBSB = iota
	colAccountNumber
	colDate
	colNarration
	colChequeNumber
	colDebit
	colCredit
	colBalance
	colType
)

// Importer imports Bankwest CSV statements for one institution account
type Importer struct {
	store              store.Store
	institutionAccount string
}

// New creates a Bankwest importer. institutionAccount is the bank-side
// account number used to filter multi-account exports.
func New(st store.Store, institutionAccount string) *Importer {
	return &Importer{store: st, institutionAccount: institutionAccount}
}

// Name returns the importer identifier
func (i *Importer) Name() string { return "Bankwest" }

type row struct {
	date      time.Time
	narration string
	cheque    string
	debit     *float64
	credit    *float64
	balance   *float64
}

// Import parses a Bankwest statement stream for the account and reconciles
// it against the raw records already stored
func (i *Importer) Import(ctx context.Context, accountID string, r io.Reader) (*domain.ImportResult, error) {
	// Without an institution account number the multi-account filter would
	// drop every row, so refuse to import at all.
	if i.institutionAccount == "" {
		return nil, fmt.Errorf("Bankwest import: no institution account number configured for account %s", accountID)
	}

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
			log.Printf("Bankwest import: skipping malformed line %d: %v", line, err)
			result.Skipped++
			continue
		}
		if line == 1 && isHeader(fields) {
			continue
		}

		if len(fields) > colAccountNumber &&
			strings.TrimSpace(fields[colAccountNumber]) != i.institutionAccount {
			continue
		}

		parsed, err := parseRow(fields)
		if err != nil {
			log.Printf("Bankwest import: skipping line %d: %v", line, err)
			result.Skipped++
			continue
		}
		if parsed.balance == nil {
			// Unsettled; the settled line will appear in a later export.
			log.Printf("Bankwest import: line %d has no balance, assuming pending", line)
			result.Skipped++
			continue
		}

		closing.Observe(parsed.balance)

		key := reconcile.Key{
			Details:   parsed.narration,
			Reference: parsed.cheque,
			Date:      parsed.date,
			Debit:     parsed.debit,
			Credit:    parsed.credit,
			Balance:   parsed.balance,
		}
		match, stored := ix.Resolve(key)
		switch match {
		case reconcile.MatchDuplicate:
			result.Duplicates++
			log.Printf("Bankwest import: line %d is a duplicate of record %s", line, stored.ID)
			continue
		case reconcile.MatchPending:
			stored.Balance = parsed.balance
			if err := i.store.RawRecords().Update(ctx, *stored); err != nil {
				return nil, fmt.Errorf("failed to finalize pending record %s: %w", stored.ID, err)
			}
			ix.Finalize(stored)
			result.PendingFinalized++
			continue
		}

		sequence := seq.Next(parsed.date)

		desc, err := descparse.Parse(parsed.narration)
		if err != nil {
			return nil, fmt.Errorf("Bankwest import: line %d: %w", line, err)
		}

		txn, err := domain.NewTransaction(
			uuid.NewString(), accountID, rowAmount(parsed), desc.Description,
			parsed.date, rowType(parsed), sourceTag,
		)
		if err != nil {
			return nil, fmt.Errorf("Bankwest import: line %d: %w", line, err)
		}
		txn.Extra = extraFrom(desc, parsed.cheque)

		rec, err := domain.NewRawRecord(
			transform.RecordID(accountID, parsed.date, sequence, parsed.narration),
			accountID, domain.ImporterTypeBankwest, parsed.narration, parsed.date, sequence,
		)
		if err != nil {
			return nil, fmt.Errorf("Bankwest import: line %d: %w", line, err)
		}
		rec.Category = desc.PurchaseType
		rec.Reference = parsed.cheque
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
// record, mirroring the ING reprocess semantics.
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
			return fmt.Errorf("Bankwest reprocess: record %s: %w", rec.ID, err)
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
		log.Printf("Bankwest reprocess: account %s has %d unprocessed raw records", accountID, unprocessed)
	}

	if err := i.store.SaveChanges(ctx); err != nil {
		return fmt.Errorf("failed to save reprocess for account %s: %w", accountID, err)
	}
	return nil
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "BSB Number")
}

func parseRow(fields []string) (*row, error) {
	if len(fields) != fieldCount {
		return nil, fmt.Errorf("expected %d fields, got %d", fieldCount, len(fields))
	}

	date, err := time.Parse(dateLayout, strings.TrimSpace(fields[colDate]))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", fields[colDate], err)
	}

	narration := strings.TrimSpace(fields[colNarration])
	narration = strings.TrimSpace(strings.Trim(narration, `"`))
	if narration == "" {
		return nil, fmt.Errorf("narration cannot be empty")
	}

	credit, err := importer.ParseAmount(fields[colCredit])
	if err != nil {
		return nil, err
	}
	debit, err := importer.ParseAmount(fields[colDebit])
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

	balance, err := importer.ParseAmount(fields[colBalance])
	if err != nil {
		return nil, err
	}

	return &row{
		date:      date,
		narration: narration,
		cheque:    strings.TrimSpace(fields[colChequeNumber]),
		debit:     debit,
		credit:    credit,
		balance:   balance,
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

func extraFrom(desc *descparse.ParsedDescription, cheque string) *domain.TransactionExtra {
	if desc.PurchaseType == "" && cheque == "" {
		return nil
	}
	extra := &domain.TransactionExtra{
		PurchaseType:  desc.PurchaseType,
		ReceiptNumber: desc.ReceiptNumber,
		Location:      desc.Location,
		PurchaseDate:  desc.PurchaseDate,
		CardLast4:     desc.CardLast4,
		Reference:     desc.Reference,
	}
	if extra.Reference == "" {
		extra.Reference = cheque
	}
	return extra
}
