package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/tabular"
)

// ErrRow marks a row-level failure. The row is dropped and counted; the rest
// of the file is still parsed.
var ErrRow = errors.New("row rejected")

// Parser is the strategy interface for all broker export formats
type Parser interface {
	// Name returns parser identifier (e.g., "mirae-domestic", "ofx-investment")
	Name() string

	// CanParse reports whether the header row belongs to this format.
	// The header is passed through CleanHeader before the call. Predicates
	// of registered parsers must never match the same header.
	CanParse(header []string) bool

	// Parse converts the table into canonical trades for meta's account.
	Parse(ctx context.Context, t *tabular.Table, meta *Metadata) (*Result, error)
}

// RowError describes one dropped row.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Result is the outcome of parsing one file.
type Result struct {
	Trades    []domain.Trade
	RowErrors []RowError
}

// Add appends one trade leg.
func (r *Result) Add(t domain.Trade) {
	r.Trades = append(r.Trades, t)
}

// Reject records a dropped row.
func (r *Result) Reject(line int, err error) {
	r.RowErrors = append(r.RowErrors, RowError{Line: line, Err: fmt.Errorf("%w: %v", ErrRow, err)})
}

// RejectedCount is the number of dropped rows.
func (r *Result) RejectedCount() int {
	return len(r.RowErrors)
}
