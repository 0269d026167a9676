// Package firestore is the Firestore-backed Store used when imports feed the
// shared budget project. Writes buffer in memory and SaveChanges commits them
// through a single BulkWriter flush.
package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store"
)

const (
	recordsCollection = "bankimport-raw-records"
	txnsCollection    = "bankimport-transactions"
	configsCollection = "bankimport-importer-configs"
)

// Store is a Firestore-backed unit of work
type Store struct {
	client *firestore.Client

	pendingRecords       []domain.RawRecord
	pendingRecordUpdates []domain.RawRecord
	pendingTxns          []domain.Transaction
	pendingTxnUpdates    []domain.Transaction
	pendingConfigs       []domain.ImporterConfig
}

// NewStore initializes Firebase for the project and connects to Firestore
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	conf := &firebase.Config{ProjectID: projectID}
	app, err := firebase.NewApp(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

// Close closes the Firestore client. Buffered, unsaved writes are lost.
func (s *Store) Close() error {
	return s.client.Close()
}

// RawRecords returns the raw record repository
func (s *Store) RawRecords() store.RawRecordStore { return (*rawRecords)(s) }

// Transactions returns the transaction repository
func (s *Store) Transactions() store.TransactionStore { return (*transactions)(s) }

// ImporterConfigs returns the importer configuration repository
func (s *Store) ImporterConfigs() store.ImporterConfigStore { return (*configs)(s) }

// SaveChanges commits all buffered writes in one BulkWriter flush. Updates
// are verified to exist first so a finalization of a deleted record surfaces
// as ErrNotFound rather than silently recreating the document.
func (s *Store) SaveChanges(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, rec := range s.pendingRecordUpdates {
		if err := s.mustExist(ctx, recordsCollection, rec.ID); err != nil {
			return fmt.Errorf("raw record %s: %w", rec.ID, err)
		}
	}
	for _, txn := range s.pendingTxnUpdates {
		if err := s.mustExist(ctx, txnsCollection, txn.ID); err != nil {
			return fmt.Errorf("transaction %s: %w", txn.ID, err)
		}
	}

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob

	enqueue := func(collection, id string, doc any) error {
		job, err := bw.Set(s.client.Collection(collection).Doc(id), doc)
		if err != nil {
			return fmt.Errorf("failed to enqueue write for %s/%s: %w", collection, id, err)
		}
		jobs = append(jobs, job)
		return nil
	}

	for _, rec := range s.pendingRecords {
		if err := enqueue(recordsCollection, rec.ID, recordToDoc(rec)); err != nil {
			return err
		}
	}
	for _, rec := range s.pendingRecordUpdates {
		if err := enqueue(recordsCollection, rec.ID, recordToDoc(rec)); err != nil {
			return err
		}
	}
	for _, txn := range s.pendingTxns {
		if err := enqueue(txnsCollection, txn.ID, txnToDoc(txn)); err != nil {
			return err
		}
	}
	for _, txn := range s.pendingTxnUpdates {
		if err := enqueue(txnsCollection, txn.ID, txnToDoc(txn)); err != nil {
			return err
		}
	}
	for _, cfg := range s.pendingConfigs {
		if err := enqueue(configsCollection, cfg.AccountID, configToDoc(cfg)); err != nil {
			return err
		}
	}

	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to commit write: %w", err)
		}
	}

	s.pendingRecords = nil
	s.pendingRecordUpdates = nil
	s.pendingTxns = nil
	s.pendingTxnUpdates = nil
	s.pendingConfigs = nil
	return nil
}

func (s *Store) mustExist(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return store.ErrNotFound
	}
	return err
}

type rawRecords Store

func (s *rawRecords) GetAll(ctx context.Context, accountID string) ([]domain.RawRecord, error) {
	iter := s.client.Collection(recordsCollection).
		Where("accountId", "==", accountID).
		Documents(ctx)

	var out []domain.RawRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate raw records for account %s: %w", accountID, err)
		}

		var row rawRecordDoc
		if err := doc.DataTo(&row); err != nil {
			return nil, fmt.Errorf("failed to parse raw record: %w", err)
		}
		out = append(out, row.toDomain())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (s *rawRecords) GetPendingMatch(ctx context.Context, accountID, details string, date time.Time, debit, credit *float64) (*domain.RawRecord, error) {
	iter := s.client.Collection(recordsCollection).
		Where("accountId", "==", accountID).
		Where("details", "==", details).
		Documents(ctx)

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate raw records for account %s: %w", accountID, err)
		}

		var row rawRecordDoc
		if err := doc.DataTo(&row); err != nil {
			return nil, fmt.Errorf("failed to parse raw record: %w", err)
		}
		rec := row.toDomain()
		if rec.Pending() && rec.Date.Equal(date) &&
			floatPtrEqual(rec.Debit, debit) && floatPtrEqual(rec.Credit, credit) {
			return &rec, nil
		}
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
	iter := s.client.Collection(txnsCollection).
		Where("accountId", "==", accountID).
		Documents(ctx)

	var out []domain.Transaction
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions for account %s: %w", accountID, err)
		}

		var row txnDoc
		if err := doc.DataTo(&row); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		out = append(out, row.toDomain())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionTime.Equal(out[j].TransactionTime) {
			return out[i].TransactionTime.Before(out[j].TransactionTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type configs Store

func (s *configs) Get(ctx context.Context, accountID string) (*domain.ImporterConfig, error) {
	doc, err := s.client.Collection(configsCollection).Doc(accountID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get importer config for account %s: %w", accountID, err)
	}

	var row configDoc
	if err := doc.DataTo(&row); err != nil {
		return nil, fmt.Errorf("failed to parse importer config: %w", err)
	}
	cfg := row.toDomain()
	return &cfg, nil
}

func (s *configs) Put(ctx context.Context, cfg domain.ImporterConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingConfigs = append(s.pendingConfigs, cfg)
	return nil
}

// rawRecordDoc is the Firestore representation of a raw record
type rawRecordDoc struct {
	ID            string     `firestore:"id"`
	AccountID     string     `firestore:"accountId"`
	ImporterType  int        `firestore:"importerType"`
	Details       string     `firestore:"details"`
	Category      string     `firestore:"category"`
	Reference     string     `firestore:"reference"`
	Debit         *float64   `firestore:"debit"`
	Credit        *float64   `firestore:"credit"`
	Balance       *float64   `firestore:"balance"`
	Date          time.Time  `firestore:"date"`
	Sequence      int        `firestore:"sequence"`
	ImportedAt    time.Time  `firestore:"importedAt"`
	TransactionID *string    `firestore:"transactionId,omitempty"`
}

func recordToDoc(rec domain.RawRecord) rawRecordDoc {
	return rawRecordDoc{
		ID:            rec.ID,
		AccountID:     rec.AccountID,
		ImporterType:  int(rec.ImporterType),
		Details:       rec.Details,
		Category:      rec.Category,
		Reference:     rec.Reference,
		Debit:         rec.Debit,
		Credit:        rec.Credit,
		Balance:       rec.Balance,
		Date:          rec.Date,
		Sequence:      rec.Sequence,
		ImportedAt:    rec.ImportedAt,
		TransactionID: rec.TransactionID,
	}
}

func (d rawRecordDoc) toDomain() domain.RawRecord {
	return domain.RawRecord{
		ID:            d.ID,
		AccountID:     d.AccountID,
		ImporterType:  domain.ImporterType(d.ImporterType),
		Details:       d.Details,
		Category:      d.Category,
		Reference:     d.Reference,
		Debit:         d.Debit,
		Credit:        d.Credit,
		Balance:       d.Balance,
		Date:          d.Date,
		Sequence:      d.Sequence,
		ImportedAt:    d.ImportedAt,
		TransactionID: d.TransactionID,
	}
}

// txnDoc is the Firestore representation of a transaction
type txnDoc struct {
	ID              string        `firestore:"id"`
	AccountID       string        `firestore:"accountId"`
	Amount          float64       `firestore:"amount"`
	Description     string        `firestore:"description"`
	TransactionTime time.Time     `firestore:"transactionTime"`
	Type            string        `firestore:"type"`
	Source          string        `firestore:"source"`
	Extra           *txnExtraDoc  `firestore:"extra,omitempty"`
}

type txnExtraDoc struct {
	PurchaseType  string     `firestore:"purchaseType,omitempty"`
	ReceiptNumber *int       `firestore:"receiptNumber,omitempty"`
	Location      string     `firestore:"location,omitempty"`
	PurchaseDate  *time.Time `firestore:"purchaseDate,omitempty"`
	CardLast4     *int       `firestore:"cardLast4,omitempty"`
	Reference     string     `firestore:"reference,omitempty"`
}

func txnToDoc(txn domain.Transaction) txnDoc {
	doc := txnDoc{
		ID:              txn.ID,
		AccountID:       txn.AccountID,
		Amount:          txn.Amount,
		Description:     txn.Description,
		TransactionTime: txn.TransactionTime,
		Type:            string(txn.Type),
		Source:          txn.Source,
	}
	if txn.Extra != nil {
		doc.Extra = &txnExtraDoc{
			PurchaseType:  txn.Extra.PurchaseType,
			ReceiptNumber: txn.Extra.ReceiptNumber,
			Location:      txn.Extra.Location,
			PurchaseDate:  txn.Extra.PurchaseDate,
			CardLast4:     txn.Extra.CardLast4,
			Reference:     txn.Extra.Reference,
		}
	}
	return doc
}

func (d txnDoc) toDomain() domain.Transaction {
	txn := domain.Transaction{
		ID:              d.ID,
		AccountID:       d.AccountID,
		Amount:          d.Amount,
		Description:     d.Description,
		TransactionTime: d.TransactionTime,
		Type:            domain.TransactionType(d.Type),
		Source:          d.Source,
	}
	if d.Extra != nil {
		txn.Extra = &domain.TransactionExtra{
			PurchaseType:  d.Extra.PurchaseType,
			ReceiptNumber: d.Extra.ReceiptNumber,
			Location:      d.Extra.Location,
			PurchaseDate:  d.Extra.PurchaseDate,
			CardLast4:     d.Extra.CardLast4,
			Reference:     d.Extra.Reference,
		}
	}
	return txn
}

// configDoc is the Firestore representation of an importer configuration
type configDoc struct {
	AccountID            string `firestore:"accountId"`
	ImporterType         int    `firestore:"importerType"`
	InstitutionAccountID string `firestore:"institutionAccountId,omitempty"`
}

func configToDoc(cfg domain.ImporterConfig) configDoc {
	return configDoc{
		AccountID:            cfg.AccountID,
		ImporterType:         int(cfg.Type),
		InstitutionAccountID: cfg.InstitutionAccountID,
	}
}

func (d configDoc) toDomain() domain.ImporterConfig {
	return domain.ImporterConfig{
		AccountID:            d.AccountID,
		Type:                 domain.ImporterType(d.ImporterType),
		InstitutionAccountID: d.InstitutionAccountID,
	}
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
