// Package descparse extracts structured detail from free-text bank
// transaction descriptions.
//
// Parsing is an ordered cascade of compiled pattern matchers, one per known
// description shape. Matchers are tried most-specific first and the first
// match wins; the foreign-currency Visa variants must stay ahead of the plain
// Visa variants because the plain patterns are a prefix-superset match risk.
// A description no matcher recognizes is returned as-is with only the
// Description field set.
package descparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParsedDescription is the structured form of one transaction description.
// Description is always set; every other field is optional.
type ParsedDescription struct {
	Description   string
	PurchaseType  string
	ReceiptNumber *int
	Location      string
	PurchaseDate  *time.Time
	CardLast4     *int
	Reference     string
}

const (
	purchaseDateLayout     = "02 Jan 06"
	purchaseDateTimeLayout = "02 Jan 06 3:04pm"
)

type matcher struct {
	name  string
	re    *regexp.Regexp
	build func(groups []string) (*ParsedDescription, error)
}

// The cascade. Order is load-bearing: foreign-currency Visa shapes come
// before plain Visa shapes, and specific payment shapes come before the
// generic "Payment - {subcategory}" shape.
var matchers = []matcher{
	{
		name: "visa-purchase-foreign-currency",
		re:   regexp.MustCompile(`^(.+?) - Visa Purchase - Receipt (\d+)Foreign Currency Amount: ?([A-Z]{3}) ?([\d,]+\.\d{2})In [A-Z]{3} Date (\d{2} [A-Za-z]{3} \d{2}) Card \d{6}x{6}(\d{4})$`),
		build: func(g []string) (*ParsedDescription, error) {
			return buildVisaForeign("Visa", g)
		},
	},
	{
		name: "visa-refund-foreign-currency",
		re:   regexp.MustCompile(`^(.+?) - Visa Refund - Receipt (\d+)Foreign Currency Amount: ?([A-Z]{3}) ?([\d,]+\.\d{2})In [A-Z]{3} Date (\d{2} [A-Za-z]{3} \d{2}) Card \d{6}x{6}(\d{4})$`),
		build: func(g []string) (*ParsedDescription, error) {
			return buildVisaForeign("Visa Refund", g)
		},
	},
	{
		name: "visa-purchase",
		re:   regexp.MustCompile(`^(.+?) - Visa Purchase - Receipt (\d+)In (.+?) Date (\d{2} [A-Za-z]{3} \d{2}) Card \d{6}x{6}(\d{4})$`),
		build: func(g []string) (*ParsedDescription, error) {
			return buildVisa("Visa", g)
		},
	},
	{
		name: "visa-refund",
		re:   regexp.MustCompile(`^(.+?) - Visa Refund - Receipt (\d+)In (.+?) Date (\d{2} [A-Za-z]{3} \d{2}) Card \d{6}x{6}(\d{4})$`),
		build: func(g []string) (*ParsedDescription, error) {
			return buildVisa("Visa Refund", g)
		},
	},
	{
		name: "eftpos-purchase",
		re:   regexp.MustCompile(`^(.+?) - EFTPOS Purchase - Receipt (\d+) Date (\d{2} [A-Za-z]{3} \d{2}) Time (\d{1,2}:\d{2}[ap]m)$`),
		build: func(g []string) (*ParsedDescription, error) {
			receipt, err := parseReceipt(g[2])
			if err != nil {
				return nil, err
			}
			when, err := time.Parse(purchaseDateTimeLayout, g[3]+" "+g[4])
			if err != nil {
				return nil, fmt.Errorf("invalid purchase date %q: %w", g[3]+" "+g[4], err)
			}
			return &ParsedDescription{
				Description:   strings.TrimSpace(g[1]),
				PurchaseType:  "EFTPOS",
				ReceiptNumber: receipt,
				PurchaseDate:  &when,
			}, nil
		},
	},
	{
		name: "internal-transfer",
		re:   regexp.MustCompile(`^Internal Transfer - Receipt (\d+)(.*)$`),
		build: func(g []string) (*ParsedDescription, error) {
			receipt, err := parseReceipt(g[1])
			if err != nil {
				return nil, err
			}
			return &ParsedDescription{
				Description:   "Internal Transfer",
				PurchaseType:  "Internal Transfer",
				ReceiptNumber: receipt,
				Reference:     strings.TrimSpace(g[2]),
			}, nil
		},
	},
	{
		name: "osko-payment",
		re:   regexp.MustCompile(`^Osko Payment - Receipt (\d+) (.+?)(?: - (.+))?$`),
		build: func(g []string) (*ParsedDescription, error) {
			receipt, err := parseReceipt(g[1])
			if err != nil {
				return nil, err
			}
			return &ParsedDescription{
				Description:   strings.TrimSpace(g[2]),
				PurchaseType:  "Osko",
				ReceiptNumber: receipt,
				Reference:     strings.TrimSpace(g[3]),
			}, nil
		},
	},
	{
		name: "direct-debit",
		re:   regexp.MustCompile(`^(.+?) - Direct Debit - Receipt (\d+)(.*)$`),
		build: func(g []string) (*ParsedDescription, error) {
			receipt, err := parseReceipt(g[2])
			if err != nil {
				return nil, err
			}
			return &ParsedDescription{
				Description:   strings.TrimSpace(g[1]),
				PurchaseType:  "Direct Debit",
				ReceiptNumber: receipt,
				Reference:     strings.TrimSpace(g[3]),
			}, nil
		},
	},
	{
		name: "bpay-bill-payment",
		re:   regexp.MustCompile(`^BPAY Bill Payment - Receipt (\d+) To (.+?)(?: - (.+))?$`),
		build: func(g []string) (*ParsedDescription, error) {
			receipt, err := parseReceipt(g[1])
			if err != nil {
				return nil, err
			}
			return &ParsedDescription{
				Description:   strings.TrimSpace(g[2]),
				PurchaseType:  "BPAY",
				ReceiptNumber: receipt,
				Reference:     strings.TrimSpace(g[3]),
			}, nil
		},
	},
	{
		name: "salary-deposit",
		re:   regexp.MustCompile(`^(.+?) - Salary - (.+)$`),
		build: func(g []string) (*ParsedDescription, error) {
			return &ParsedDescription{
				Description:  strings.TrimSpace(g[1]),
				PurchaseType: "Salary",
				Reference:    strings.TrimSpace(g[2]),
			}, nil
		},
	},
	{
		name: "direct-payment",
		re:   regexp.MustCompile(`^Payment - (.+)$`),
		build: func(g []string) (*ParsedDescription, error) {
			return &ParsedDescription{
				Description:  "Payment - " + strings.TrimSpace(g[1]),
				PurchaseType: "Payment",
			}, nil
		},
	},
}

// Parse converts a raw transaction description into its structured form.
//
// Parse is total for unrecognized input: if no pattern matches, the result
// carries the trimmed input as Description and nothing else. It is NOT total
// for recognized input whose capture groups fail a strict parse (malformed
// date, receipt overflow): that error indicates the pattern itself is wrong
// for the institution's current format and is propagated rather than masked.
func Parse(raw string) (*ParsedDescription, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.Trim(trimmed, `"`)
	trimmed = strings.TrimSpace(trimmed)

	for _, m := range matchers {
		groups := m.re.FindStringSubmatch(trimmed)
		if groups == nil {
			continue
		}
		parsed, err := m.build(groups)
		if err != nil {
			return nil, fmt.Errorf("pattern %s matched %q but capture parse failed: %w", m.name, trimmed, err)
		}
		return parsed, nil
	}

	return &ParsedDescription{Description: trimmed}, nil
}

// buildVisaForeign maps the foreign-currency Visa capture groups:
// merchant, receipt, currency, amount, date, card last 4.
// The foreign amount is folded into the description, e.g. "Acme (USD 10.00)".
func buildVisaForeign(purchaseType string, g []string) (*ParsedDescription, error) {
	receipt, err := parseReceipt(g[2])
	if err != nil {
		return nil, err
	}
	when, err := parsePurchaseDate(g[5])
	if err != nil {
		return nil, err
	}
	last4, err := parseCardLast4(g[6])
	if err != nil {
		return nil, err
	}
	return &ParsedDescription{
		Description:   fmt.Sprintf("%s (%s %s)", strings.TrimSpace(g[1]), g[3], g[4]),
		PurchaseType:  purchaseType,
		ReceiptNumber: receipt,
		PurchaseDate:  when,
		CardLast4:     last4,
	}, nil
}

// buildVisa maps the domestic Visa capture groups:
// merchant, receipt, location, date, card last 4.
func buildVisa(purchaseType string, g []string) (*ParsedDescription, error) {
	receipt, err := parseReceipt(g[2])
	if err != nil {
		return nil, err
	}
	when, err := parsePurchaseDate(g[4])
	if err != nil {
		return nil, err
	}
	last4, err := parseCardLast4(g[5])
	if err != nil {
		return nil, err
	}
	return &ParsedDescription{
		Description:   strings.TrimSpace(g[1]),
		PurchaseType:  purchaseType,
		ReceiptNumber: receipt,
		Location:      strings.TrimSpace(g[3]),
		PurchaseDate:  when,
		CardLast4:     last4,
	}, nil
}

func parseReceipt(s string) (*int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid receipt number %q: %w", s, err)
	}
	return &n, nil
}

func parseCardLast4(s string) (*int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid card suffix %q: %w", s, err)
	}
	return &n, nil
}

func parsePurchaseDate(s string) (*time.Time, error) {
	when, err := time.Parse(purchaseDateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid purchase date %q: %w", s, err)
	}
	return &when, nil
}
