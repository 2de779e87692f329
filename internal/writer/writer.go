// Package writer appends trades to destination sheets and styles only the
// rows it wrote.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/sheets"
)

// ErrHeaderMismatch is returned when an existing destination's first row is
// not the header of the requested kind.
var ErrHeaderMismatch = errors.New("destination header mismatch")

// Palette is cycled through by trade date, one color per distinct date.
var Palette = []sheets.Color{
	{Red: 1.0, Green: 0.9, Blue: 0.9},
	{Red: 0.9, Green: 1.0, Blue: 0.9},
	{Red: 0.9, Green: 0.9, Blue: 1.0},
	{Red: 1.0, Green: 1.0, Blue: 0.9},
	{Red: 1.0, Green: 0.9, Blue: 1.0},
	{Red: 0.9, Green: 1.0, Blue: 1.0},
	{Red: 0.95, Green: 0.95, Blue: 0.85},
	{Red: 0.85, Green: 0.95, Blue: 0.95},
}

var domesticFormats = []sheets.ColumnFormat{
	{Column: 3, Type: sheets.FormatNumber, Pattern: "#,##0"},
	{Column: 4, Type: sheets.FormatNumber, Pattern: "#,##0"},
	{Column: 5, Type: sheets.FormatNumber, Pattern: "#,##0"},
	{Column: 6, Type: sheets.FormatNumber, Pattern: "#,##0"},
	{Column: 7, Type: sheets.FormatNumber, Pattern: "#,##0"},
	{Column: 8, Type: sheets.FormatPercent, Pattern: "0.00%"},
}

var foreignFormats = []sheets.ColumnFormat{
	{Column: 5, Type: sheets.FormatNumber, Pattern: "#,##0"},
	{Column: 6, Type: sheets.FormatNumber, Pattern: "#,##0.00"},
	{Column: 7, Type: sheets.FormatNumber, Pattern: "#,##0.00"},
	{Column: 8, Type: sheets.FormatNumber, Pattern: "#,##0.00"},
	{Column: 9, Type: sheets.FormatNumber, Pattern: "#,##0"},
	{Column: 10, Type: sheets.FormatNumber, Pattern: "#,##0.00"},
	{Column: 11, Type: sheets.FormatNumber, Pattern: "#,##0.00"},
	{Column: 12, Type: sheets.FormatNumber, Pattern: "#,##0.00"},
	{Column: 13, Type: sheets.FormatNumber, Pattern: "#,##0"},
	{Column: 14, Type: sheets.FormatPercent, Pattern: "0.00%"},
}

// Formats returns the per-column number formats of a destination kind.
func Formats(kind domain.Kind) []sheets.ColumnFormat {
	if kind == domain.Foreign {
		return foreignFormats
	}
	return domesticFormats
}

// ColorRun is a block of consecutive rows sharing one trade date.
type ColorRun struct {
	Date  string
	Rows  sheets.RowRange
	Color sheets.Color
}

// DateRuns splits trades written from 0-based row start into runs of equal
// dates. Colors follow the order in which dates are first seen, so a date that
// reappears later in the batch keeps its color. Rows.End is exclusive and
// equals the start of the run plus its length.
func DateRuns(trades []domain.Trade, start int) []ColorRun {
	colors := make(map[string]int)
	var runs []ColorRun
	for i, tr := range trades {
		row := start + i
		if n := len(runs); n > 0 && runs[n-1].Date == tr.Date && runs[n-1].Rows.End == row {
			runs[n-1].Rows.End = row + 1
			continue
		}
		idx, seen := colors[tr.Date]
		if !seen {
			idx = len(colors)
			colors[tr.Date] = idx
		}
		runs = append(runs, ColorRun{
			Date:  tr.Date,
			Rows:  sheets.RowRange{Start: row, End: row + 1},
			Color: Palette[idx%len(Palette)],
		})
	}
	return runs
}

// AppendResult describes one Append call. Row numbers are 1-based sheet rows.
type AppendResult struct {
	Sheet    string
	Range    string
	StartRow int
	EndRow   int
	Count    int
	Runs     []ColorRun
	DryRun   bool
}

// Writer performs the destination mutations. With DryRun set it reads the
// store to plan but never mutates it.
type Writer struct {
	Store  sheets.Store
	Logger *slog.Logger
	DryRun bool
}

// New creates a Writer. A nil logger falls back to slog.Default.
func New(store sheets.Store, logger *slog.Logger, dryRun bool) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{Store: store, Logger: logger, DryRun: dryRun}
}

// EnsureDestination makes sure name exists with the header of kind. Freeze
// and filter are reapplied on every call, since an earlier run may have failed
// between creating the sheet and styling it. It reports whether the sheet was
// created.
func (w *Writer) EnsureDestination(ctx context.Context, name string, kind domain.Kind) (bool, error) {
	names, err := w.Store.ListSheets(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list sheets: %w", err)
	}
	exists := false
	for _, n := range names {
		if n == name {
			exists = true
			break
		}
	}

	if !exists {
		if w.DryRun {
			w.Logger.Info("dry run: would create sheet", "sheet", name, "kind", kind.String())
			return true, nil
		}
		if err := w.Store.CreateSheet(ctx, name); err != nil {
			return false, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
		if err := w.writeHeader(ctx, name, kind); err != nil {
			return false, err
		}
		w.Logger.Info("created sheet", "sheet", name, "kind", kind.String())
	} else if err := w.checkHeader(ctx, name, kind); err != nil {
		return false, err
	}

	if w.DryRun {
		return false, nil
	}
	if err := w.Store.SetFrozenRows(ctx, name, 1); err != nil {
		return !exists, fmt.Errorf("failed to freeze header of %s: %w", name, err)
	}
	if err := w.Store.SetBasicFilter(ctx, name, kind.Columns()); err != nil {
		return !exists, fmt.Errorf("failed to set filter on %s: %w", name, err)
	}
	return !exists, nil
}

func (w *Writer) writeHeader(ctx context.Context, name string, kind domain.Kind) error {
	header := kind.Header()
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := w.Store.Write(ctx, name, sheets.A1Range(1, 1, len(header), 1), [][]interface{}{row}); err != nil {
		return fmt.Errorf("failed to write header of %s: %w", name, err)
	}
	return nil
}

// checkHeader accepts an existing sheet whose first row is the header of
// kind. A sheet left empty by an interrupted create gets its header written.
func (w *Writer) checkHeader(ctx context.Context, name string, kind domain.Kind) error {
	width := len(domain.ForeignHeader)
	rows, err := w.Store.Read(ctx, name, sheets.A1Range(1, 1, width, 1), sheets.RenderRaw)
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", name, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		if w.DryRun {
			w.Logger.Info("dry run: would write header", "sheet", name)
			return nil
		}
		return w.writeHeader(ctx, name, kind)
	}
	cells := make([]string, len(rows[0]))
	for i, v := range rows[0] {
		cells[i] = domain.CellString(v)
	}
	got, ok := domain.MatchHeader(cells)
	if !ok || got != kind {
		return fmt.Errorf("%w: sheet %s is not a %s ledger", ErrHeaderMismatch, name, kind)
	}
	return nil
}

// Append writes trades as one block after the last populated row of name,
// then formats and colors exactly that block. The next free row is derived
// from the number of rows the store returns, which excludes trailing empty
// rows.
func (w *Writer) Append(ctx context.Context, name string, kind domain.Kind, trades []domain.Trade) (*AppendResult, error) {
	res := &AppendResult{Sheet: name, DryRun: w.DryRun}
	if len(trades) == 0 {
		return res, nil
	}

	used, err := w.usedRows(ctx, name, kind)
	if err != nil {
		return nil, err
	}
	start := used // 0-based index of the first new row
	res.StartRow = start + 1
	res.EndRow = start + len(trades)
	res.Count = len(trades)
	res.Range = sheets.A1Range(1, res.StartRow, kind.Columns(), res.EndRow)
	res.Runs = DateRuns(trades, start)

	if w.DryRun {
		w.Logger.Info("dry run: would append trades",
			"sheet", name,
			"range", res.Range,
			"count", res.Count,
			"first_column", sheets.ColumnLetter(1),
			"last_column", sheets.ColumnLetter(kind.Columns()),
		)
		return res, nil
	}

	rows := make([][]interface{}, len(trades))
	for i, tr := range trades {
		rows[i] = tr.Row()
	}
	if err := w.Store.Write(ctx, name, res.Range, rows); err != nil {
		return nil, fmt.Errorf("failed to append %d trades to %s: %w", len(trades), name, err)
	}
	w.Logger.Info("appended trades", "sheet", name, "range", res.Range, "count", res.Count)

	block := sheets.RowRange{Start: start, End: start + len(trades)}
	if err := w.Store.ApplyNumberFormats(ctx, name, Formats(kind), block); err != nil {
		return res, fmt.Errorf("failed to format %s: %w", res.Range, err)
	}
	for _, run := range res.Runs {
		if err := w.Store.ApplyBackground(ctx, name, run.Rows, kind.Columns(), run.Color); err != nil {
			return res, fmt.Errorf("failed to color rows of %s in %s: %w", run.Date, name, err)
		}
	}
	return res, nil
}

// usedRows counts rows up to the last populated one. A missing sheet in a dry
// run counts its would-be header.
func (w *Writer) usedRows(ctx context.Context, name string, kind domain.Kind) (int, error) {
	rows, err := w.Store.Read(ctx, name, sheets.A1Range(1, 1, kind.Columns(), 0), sheets.RenderRaw)
	if errors.Is(err, sheets.ErrNotFound) && w.DryRun {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(rows) == 0 {
		// the header row is always reserved
		return 1, nil
	}
	return len(rows), nil
}
