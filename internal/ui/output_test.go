package ui

import (
	"strings"
	"testing"
)

func TestCenter(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{
			name:  "short text gets left padding",
			text:  "Import",
			width: 16,
			want:  "     Import",
		},
		{
			name:  "text filling the width is unchanged",
			text:  "Import",
			width: 6,
			want:  "Import",
		},
		{
			name:  "text wider than the width is unchanged",
			text:  "Statement Import",
			width: 6,
			want:  "Statement Import",
		},
		{
			name:  "odd leftover padding rounds down",
			text:  "Done",
			width: 11,
			want:  "   Done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := center(tt.text, tt.width)
			if got != tt.want {
				t.Errorf("center(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestPrintHelpersDoNotPanic(t *testing.T) {
	// Color output itself is not asserted; these pin the exported surface
	// the CLI summary depends on.
	tests := []struct {
		name string
		fn   func()
	}{
		{name: "Header", fn: func() { Header("Statement Import") }},
		{name: "Step", fn: func() { Step(2, 3, "Reconciling records") }},
		{name: "Success", fn: func() { Success("3 transactions created") }},
		{name: "Info", fn: func() { Info("closing balance 1450.00") }},
		{name: "Warning", fn: func() { Warning("2 lines skipped") }},
		{name: "Error", fn: func() { Error("no importer binding") }},
		{name: "BlueText", fn: func() { BlueText("acc-1") }},
		{name: "YellowText", fn: func() { YellowText("dry run") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn()
		})
	}
}

func TestHeaderWidth(t *testing.T) {
	centered := center("Import Summary", 60)
	if !strings.Contains(centered, "Import Summary") {
		t.Fatalf("center() lost the text: %q", centered)
	}
	if len(centered) >= 60 {
		t.Errorf("centered text length %d should leave room inside the 60-column rule", len(centered))
	}
}
