// Package invoiceno derives sequential per-year invoice numbers of the form
// PREFIX-YYYY-NNNN. Both store implementations share this derivation so the
// numbering strategy cannot diverge between them.
package invoiceno

import (
	"fmt"
	"strconv"
	"strings"
)

// YearPrefix returns the match prefix for a year, e.g. "SV-2026-".
func YearPrefix(prefix string, year int) string {
	return fmt.Sprintf("%s-%d-", prefix, year)
}

// Next returns the number following last within the given year. last is the
// highest existing invoice number for that year's prefix, or "" when the
// year has no invoices yet (the sequence then starts at 1).
func Next(prefix string, year int, last string) (string, error) {
	seq := 1
	if last != "" {
		n, err := Sequence(last)
		if err != nil {
			return "", err
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq), nil
}

// Sequence extracts the numeric suffix of an invoice number.
func Sequence(invoiceNo string) (int, error) {
	idx := strings.LastIndex(invoiceNo, "-")
	if idx < 0 || idx == len(invoiceNo)-1 {
		return 0, fmt.Errorf("malformed invoice number %q", invoiceNo)
	}
	n, err := strconv.Atoi(invoiceNo[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed invoice number %q: %w", invoiceNo, err)
	}
	return n, nil
}
