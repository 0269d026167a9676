// Package importer defines the contract every per-institution statement
// importer implements, plus the row-pipeline helpers the institutions share:
// cancellation-aware CSV reading with 1-based line numbers, the per-date
// sequence counter, closing-balance tracking, and amount parsing.
package importer

import (
	"context"
	"io"

	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
)

// Importer is the strategy interface for all institution statement importers.
//
// Import parses a statement stream for the account, reconciles each line
// against the raw records already stored, persists what is new, and returns
// the created Transactions with the statement's closing balance. Importing
// the same statement twice creates nothing on the second pass.
//
// Reprocess re-derives the description, amount, type and structured extra of
// every Transaction still linked from a stored raw record, purely from the
// stored fields. No statement input is read.
//
// Both operations are single-pass and sequential; at most one may be in
// flight per account at a time. Serializing same-account calls is the
// caller's responsibility.
type Importer interface {
	// Name returns the importer identifier (e.g., "Ing")
	Name() string

	Import(ctx context.Context, accountID string, r io.Reader) (*domain.ImportResult, error)
	Reprocess(ctx context.Context, accountID string) error
}
