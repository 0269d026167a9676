// Package transform generates the deterministic identifiers persisted on raw
// records, plus the slug helpers used for source tags.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts an institution or source name to an identifier-safe slug.
// Examples: "ING Import" → "ing-import", "Crédit Agricole" → "credit-agricole"
func Slugify(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name cannot be empty")
	}

	// Normalize unicode (e.g., accented characters)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, name)
	if err != nil {
		return "", fmt.Errorf("failed to normalize name %q: %w", name, err)
	}

	slug := strings.ToLower(normalized)
	slug = nonAlnum.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if slug == "" {
		return "", fmt.Errorf("name %q contains no alphanumeric characters", name)
	}
	return slug, nil
}

// ExtractLast4 returns the last 4 characters of an account identifier, or
// the full identifier when shorter
func ExtractLast4(accountID string) string {
	if len(accountID) <= 4 {
		return accountID
	}
	return accountID[len(accountID)-4:]
}

// RecordID creates a deterministic raw record ID.
// Format: "raw-{accountLast4}-{YYYY-MM-DD}-{seq}-{details hash prefix}"
// The same statement line always maps to the same ID, so a retried batch
// write cannot create a second copy of a record.
func RecordID(accountID string, date time.Time, sequence int, details string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(details))))
	return fmt.Sprintf("raw-%s-%s-%d-%s",
		ExtractLast4(accountID),
		date.Format("2006-01-02"),
		sequence,
		hex.EncodeToString(sum[:4]),
	)
}
