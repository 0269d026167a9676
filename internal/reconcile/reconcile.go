// Package reconcile matches newly parsed statement lines against previously
// stored raw records so that overlapping statement downloads never create
// duplicate ledger entries.
//
// Matching is by SHA256 fingerprint of the record's natural key. Two
// fingerprints exist per record: the full key (details, reference, date,
// debit, credit, balance) identifies an already-finalized row exactly, and
// the partial key (same fields minus balance) identifies a row that was first
// imported while the bank still reported it as pending.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Match classifies a parsed line against the stored record set.
type Match int

const (
	// MatchNew means no stored record shares the line's natural key.
	MatchNew Match = iota
	// MatchDuplicate means a stored record matches including balance; the
	// line is an exact re-import of an already-finalized transaction.
	MatchDuplicate
	// MatchPending means a stored record matches excluding balance; the line
	// finalizes a previously-imported pending transaction.
	MatchPending
)

func (m Match) String() string {
	switch m {
	case MatchNew:
		return "new"
	case MatchDuplicate:
		return "duplicate"
	case MatchPending:
		return "pending"
	default:
		return fmt.Sprintf("Match(%d)", int(m))
	}
}

// Key is the natural key of one statement line. Details and Reference are
// institution text fields; Debit and Credit are magnitudes with at most one
// set; Balance is nil while the line is pending.
type Key struct {
	Details   string
	Reference string
	Date      time.Time
	Debit     *float64
	Credit    *float64
	Balance   *float64
}

// Fingerprint returns the SHA256 fingerprint of the full natural key,
// including balance.
// Format: SHA256("{details}|{reference}|{date}|{debit}|{credit}|{balance}")
// with details lowercased and trimmed, amounts formatted to 2 decimal places,
// and the date formatted as 2006-01-02.
func Fingerprint(k Key) string {
	return hash(k, true)
}

// PartialFingerprint returns the fingerprint of the natural key excluding
// balance. Lines and stored records with the same partial fingerprint refer
// to the same underlying bank transaction regardless of settlement state.
func PartialFingerprint(k Key) string {
	return hash(k, false)
}

func hash(k Key, includeBalance bool) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(k.Details)),
		strings.TrimSpace(k.Reference),
		k.Date.Format("2006-01-02"),
		formatAmount(k.Debit),
		formatAmount(k.Credit),
	}
	if includeBalance {
		parts = append(parts, formatAmount(k.Balance))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func formatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}
