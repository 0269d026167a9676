package importer

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestRowReader_TracksLineNumbers(t *testing.T) {
	input := "a,b,c\nd,e,f\n"
	rr := NewRowReader(strings.NewReader(input), ',')
	ctx := context.Background()

	row, line, err := rr.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if line != 1 {
		t.Errorf("line = %d, want 1", line)
	}
	if len(row) != 3 || row[0] != "a" {
		t.Errorf("row = %v, want [a b c]", row)
	}

	_, line, err = rr.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if line != 2 {
		t.Errorf("line = %d, want 2", line)
	}

	_, _, err = rr.Next(ctx)
	if err != io.EOF {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}

func TestRowReader_QuotedDelimiters(t *testing.T) {
	input := "01/02/2024,\"Woolworths, Metro\",50.00\n"
	rr := NewRowReader(strings.NewReader(input), ',')

	row, _, err := rr.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(row) != 3 {
		t.Fatalf("got %d fields, want 3: %v", len(row), row)
	}
	if row[1] != "Woolworths, Metro" {
		t.Errorf("field = %q, want embedded comma preserved", row[1])
	}
}

func TestRowReader_CancelledContext(t *testing.T) {
	rr := NewRowReader(strings.NewReader("a,b\n"), ',')
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := rr.Next(ctx)
	if err != context.Canceled {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}

func TestSequencer(t *testing.T) {
	day1 := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var seq Sequencer

	// Multiple lines on the same date increase strictly in encounter order.
	if got := seq.Next(day1); got != 1 {
		t.Errorf("first line of day = %d, want 1", got)
	}
	if got := seq.Next(day1); got != 2 {
		t.Errorf("second line of day = %d, want 2", got)
	}
	if got := seq.Next(day1); got != 3 {
		t.Errorf("third line of day = %d, want 3", got)
	}

	// Date boundary resets to 1 (statements are descending by date).
	if got := seq.Next(day2); got != 1 {
		t.Errorf("first line of next day = %d, want 1", got)
	}
	if got := seq.Next(day2); got != 2 {
		t.Errorf("second line of next day = %d, want 2", got)
	}
}

func TestBalanceTracker_KeepsFirstObserved(t *testing.T) {
	var bt BalanceTracker

	if bt.Closing() != nil {
		t.Error("Closing() should be nil before any observation")
	}

	bt.Observe(nil)
	if bt.Closing() != nil {
		t.Error("nil observations should not set the closing balance")
	}

	first := 1234.56
	second := 999.99
	bt.Observe(&first)
	bt.Observe(&second)

	if bt.Closing() == nil || *bt.Closing() != 1234.56 {
		t.Errorf("Closing() = %v, want the first observed balance 1234.56", bt.Closing())
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *float64
		wantErr bool
	}{
		{name: "plain", input: "50.00", want: ptr(50.0)},
		{name: "negative", input: "-12.34", want: ptr(-12.34)},
		{name: "currency symbol and thousands", input: "$1,234.56", want: ptr(1234.56)},
		{name: "whitespace only is absent", input: "   ", want: nil},
		{name: "empty is absent", input: "", want: nil},
		{name: "malformed", input: "12.3.4", wantErr: true},
		{name: "text", input: "fifty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseAmount() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount() error = %v", err)
			}
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParseAmount() = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("ParseAmount() = %f, want %f", *got, *tt.want)
			}
		})
	}
}

func ptr(v float64) *float64 { return &v }
