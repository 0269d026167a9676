package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// RowReader reads delimited statement rows one at a time, tracking 1-based
// line numbers for skip logging. encoding/csv handles quote-escaping, so a
// field containing embedded delimiters inside quotes arrives reassembled.
// Cancellation is checked before every read.
type RowReader struct {
	r    *csv.Reader
	line int
}

// NewRowReader creates a reader over the statement stream with the given
// field delimiter
func NewRowReader(r io.Reader, comma rune) *RowReader {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	return &RowReader{r: cr}
}

// Next returns the next row and its 1-based line number. io.EOF signals the
// end of the stream; a context error signals cancellation. Any other error is
// a malformed row the caller should skip, with the reported line number.
func (rr *RowReader) Next(ctx context.Context) ([]string, int, error) {
	select {
	case <-ctx.Done():
		return nil, rr.line, ctx.Err()
	default:
	}

	rr.line++
	row, err := rr.r.Read()
	if err != nil {
		return nil, rr.line, err
	}
	return row, rr.line, nil
}

// Sequencer assigns the per-date sequence persisted on raw records. The
// counter resets to 1 whenever the transaction date changes and increments
// for each accepted line on that date. Statements arrive in descending date
// order; the sequence preserves stable ordering of same-day transactions
// once sorted.
type Sequencer struct {
	current time.Time
	next    int
}

// Next returns the sequence number for an accepted line dated date
func (s *Sequencer) Next(date time.Time) int {
	if !date.Equal(s.current) {
		s.current = date
		s.next = 1
	} else {
		s.next++
	}
	return s.next
}

// BalanceTracker captures the statement's closing balance: the first balance
// observed in the file, which is the most recent since statements are
// newest-first.
type BalanceTracker struct {
	closing *float64
}

// Observe records a balance if none has been seen yet
func (b *BalanceTracker) Observe(balance *float64) {
	if b.closing == nil && balance != nil {
		v := *balance
		b.closing = &v
	}
}

// Closing returns the statement's closing balance, or nil if the file had no
// valid balance at all
func (b *BalanceTracker) Closing() *float64 {
	return b.closing
}

// ParseAmount parses a statement amount field, tolerating currency symbols,
// thousands separators, and surrounding whitespace. Empty input returns nil
// without error; malformed input is a validation failure for the line.
func ParseAmount(s string) (*float64, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return nil, nil
	}
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return &v, nil
}
