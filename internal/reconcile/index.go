package reconcile

import (
	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
)

// Index is an in-memory lookup over the raw records already stored for one
// account. It is built once per Import call from a single repository read;
// records created during the same Import call are intentionally absent, so a
// statement that legitimately lists the same line twice creates two records.
//
// Not safe for concurrent use. Imports are single-pass and sequential per
// account, so the index has no locking.
type Index struct {
	full    map[string]*domain.RawRecord
	partial map[string]*domain.RawRecord
}

// NewIndex builds the reconciliation index from the stored records
func NewIndex(records []domain.RawRecord) *Index {
	ix := &Index{
		full:    make(map[string]*domain.RawRecord, len(records)),
		partial: make(map[string]*domain.RawRecord, len(records)),
	}
	for i := range records {
		rec := &records[i]
		key := recordKey(rec)
		ix.full[Fingerprint(key)] = rec
		ix.partial[PartialFingerprint(key)] = rec
	}
	return ix
}

// Resolve classifies a parsed line's natural key against the stored records.
// Priority follows the reconciliation contract: an exact match including
// balance is a duplicate; a match excluding balance is a pending transaction
// being finalized; anything else is new. For MatchPending the returned record
// is the stored record whose balance should be finalized.
func (ix *Index) Resolve(k Key) (Match, *domain.RawRecord) {
	if rec, ok := ix.full[Fingerprint(k)]; ok {
		return MatchDuplicate, rec
	}
	if rec, ok := ix.partial[PartialFingerprint(k)]; ok {
		return MatchPending, rec
	}
	return MatchNew, nil
}

// Finalize records that a pending match has been consumed. The record is
// re-registered under its finalized full fingerprint and removed from the
// partial index so one stored record cannot absorb two lines of the same
// import.
func (ix *Index) Finalize(rec *domain.RawRecord) {
	key := recordKey(rec)
	delete(ix.partial, PartialFingerprint(key))
	ix.full[Fingerprint(key)] = rec
}

func recordKey(rec *domain.RawRecord) Key {
	return Key{
		Details:   rec.Details,
		Reference: rec.Reference,
		Date:      rec.Date,
		Debit:     rec.Debit,
		Credit:    rec.Credit,
		Balance:   rec.Balance,
	}
}
