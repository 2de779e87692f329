// Package sheets is the remote tabular store: a spreadsheet of named sheets
// holding rows of cells. Client talks to the Google Sheets API; Memory is an
// in-process implementation for tests and dry runs.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a named sheet does not exist.
var ErrNotFound = errors.New("sheet not found")

// RenderMode selects how cell values are returned by Read.
type RenderMode int

const (
	// RenderRaw returns numbers as numbers with no display formatting applied.
	// Date cells are still returned as their formatted strings.
	RenderRaw RenderMode = iota
	// RenderDisplay returns the text a user sees, with number formats applied.
	RenderDisplay
)

func (m RenderMode) String() string {
	if m == RenderDisplay {
		return "display"
	}
	return "raw"
}

// Number format types.
const (
	FormatNumber  = "NUMBER"
	FormatPercent = "PERCENT"
)

// ColumnFormat is a number format for one 0-based column.
type ColumnFormat struct {
	Column  int
	Type    string
	Pattern string
}

// RowRange is a half-open range of 0-based row indices.
type RowRange struct {
	Start int
	End   int
}

// Len is the number of rows in the range.
func (r RowRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Color is an RGB color with components in [0, 1].
type Color struct {
	Red   float64
	Green float64
	Blue  float64
}

// Store is the contract every spreadsheet backend implements. Sheet names are
// plain titles; a1 ranges never carry a sheet prefix.
type Store interface {
	ListSheets(ctx context.Context) ([]string, error)
	CreateSheet(ctx context.Context, name string) error
	Read(ctx context.Context, name, a1 string, mode RenderMode) ([][]interface{}, error)
	Write(ctx context.Context, name, a1 string, rows [][]interface{}) error
	// Clear removes every value and cell format of name. Frozen rows and the
	// sheet itself stay.
	Clear(ctx context.Context, name string) error
	ApplyNumberFormats(ctx context.Context, name string, formats []ColumnFormat, rows RowRange) error
	SetFrozenRows(ctx context.Context, name string, n int) error
	// SetBasicFilter installs a filter over the first columns columns.
	SetBasicFilter(ctx context.Context, name string, columns int) error
	// ApplyBackground colors the first columns columns of rows.
	ApplyBackground(ctx context.Context, name string, rows RowRange, columns int, color Color) error
}

// ColumnLetter converts a 1-based column number to its letter form.
// 1 → A, 26 → Z, 27 → AA.
func ColumnLetter(n int) string {
	if n <= 0 {
		return ""
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// A1Range builds an A1 range from 1-based coordinates. An endRow of 0 leaves
// the range open at the bottom ("A2:I").
func A1Range(startCol, startRow, endCol, endRow int) string {
	start := ColumnLetter(startCol) + strconv.Itoa(startRow)
	end := ColumnLetter(endCol)
	if endRow > 0 {
		end += strconv.Itoa(endRow)
	}
	return start + ":" + end
}

// Cell is one end of a parsed A1 range. A zero Row means "unbounded".
type Cell struct {
	Col int
	Row int
}

// ParseA1 parses "B3", "A2:I", "A:A" or "A1:O20" into 1-based corners.
// A single cell yields identical corners.
func ParseA1(a1 string) (Cell, Cell, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(a1)), ":")
	if len(parts) > 2 || parts[0] == "" {
		return Cell{}, Cell{}, fmt.Errorf("invalid A1 range %q", a1)
	}
	start, err := parseCell(parts[0])
	if err != nil {
		return Cell{}, Cell{}, fmt.Errorf("invalid A1 range %q: %w", a1, err)
	}
	if len(parts) == 1 {
		return start, start, nil
	}
	end, err := parseCell(parts[1])
	if err != nil {
		return Cell{}, Cell{}, fmt.Errorf("invalid A1 range %q: %w", a1, err)
	}
	return start, end, nil
}

func parseCell(s string) (Cell, error) {
	i := 0
	col := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		col = col*26 + int(s[i]-'A'+1)
		i++
	}
	if col == 0 {
		return Cell{}, fmt.Errorf("missing column in %q", s)
	}
	row := 0
	if i < len(s) {
		n, err := strconv.Atoi(s[i:])
		if err != nil || n <= 0 {
			return Cell{}, fmt.Errorf("invalid row in %q", s)
		}
		row = n
	}
	return Cell{Col: col, Row: row}, nil
}

// qualify prefixes a1 with the quoted sheet title.
func qualify(name, a1 string) string {
	quoted := "'" + strings.ReplaceAll(name, "'", "''") + "'"
	if a1 == "" {
		return quoted
	}
	return quoted + "!" + a1
}
