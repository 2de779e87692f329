package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
)

var compactDate = regexp.MustCompile(`^\d{8}$`)

// CleanToken strips surrounding whitespace and quote characters.
func CleanToken(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'")
	return strings.TrimSpace(s)
}

// CleanHeader applies CleanToken to every header cell.
func CleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = CleanToken(h)
	}
	return out
}

// HasAll reports whether every keyword is one of the header cells.
func HasAll(header []string, keywords ...string) bool {
	set := make(map[string]struct{}, len(header))
	for _, h := range header {
		set[h] = struct{}{}
	}
	for _, k := range keywords {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one keyword is a header cell.
func HasAny(header []string, keywords ...string) bool {
	for _, h := range header {
		for _, k := range keywords {
			if h == k {
				return true
			}
		}
	}
	return false
}

// Cell returns the cleaned cell at i, or "" when the row is shorter.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return CleanToken(row[i])
}

// ParseNumber parses a broker-formatted number: quotes and thousands separators
// are removed and an empty value (or a lone "-") is zero.
func ParseNumber(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(CleanToken(s), ",", "")
	s = strings.TrimPrefix(s, "+")
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", s)
	}
	return d, nil
}

// NormalizeDate converts YYYY/MM/DD, YYYY.MM.DD, YYYYMMDD and unpadded variants
// to YYYY-MM-DD.
func NormalizeDate(s string) (string, error) {
	s = CleanToken(s)
	if compactDate.MatchString(s) {
		s = s[:4] + "-" + s[4:6] + "-" + s[6:]
	}
	s = strings.NewReplacer("/", "-", ".", "-").Replace(s)
	s = strings.TrimSuffix(strings.ReplaceAll(s, " ", ""), "-")

	t, err := time.Parse("2006-1-2", s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q", s)
	}
	return t.Format(domain.DateLayout), nil
}

// Numbers parses the listed columns of row into decimals. The first failure
// is returned with its column index.
func Numbers(row []string, cols ...int) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(cols))
	for i, c := range cols {
		d, err := ParseNumber(Cell(row, c))
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", c, err)
		}
		out[i] = d
	}
	return out, nil
}

// Blank reports whether every cell of row is empty after cleaning.
func Blank(row []string) bool {
	for _, c := range row {
		if CleanToken(c) != "" {
			return false
		}
	}
	return true
}
