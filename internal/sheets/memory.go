package sheets

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type formatSpan struct {
	format ColumnFormat
	rows   RowRange
}

// Background is one ApplyBackground call recorded by Memory.
type Background struct {
	Rows    RowRange
	Columns int
	Color   Color
}

type memSheet struct {
	rows        [][]interface{}
	formats     []formatSpan
	frozen      int
	filterCols  int
	backgrounds []Background
	order       int
}

// Memory is a Store held in process memory. It keeps cell values exactly as
// written and renders them like the spreadsheet UI in RenderDisplay mode.
type Memory struct {
	mu     sync.Mutex
	sheets map[string]*memSheet
	next   int

	// Fail, when set, is consulted before every operation; a non-nil result
	// is returned instead of performing it.
	Fail func(op, name string) error

	writes int
}

// NewMemory returns an empty in-memory spreadsheet.
func NewMemory() *Memory {
	return &Memory{sheets: make(map[string]*memSheet)}
}

func (m *Memory) check(op, name string) error {
	if m.Fail != nil {
		return m.Fail(op, name)
	}
	return nil
}

func (m *Memory) sheet(name string) (*memSheet, error) {
	s, ok := m.sheets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// ListSheets returns sheet names in creation order.
func (m *Memory) ListSheets(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("list", ""); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.sheets))
	for name := range m.sheets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.sheets[names[i]].order < m.sheets[names[j]].order
	})
	return names, nil
}

func (m *Memory) CreateSheet(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create", name); err != nil {
		return err
	}
	if _, ok := m.sheets[name]; ok {
		return fmt.Errorf("sheet %q already exists", name)
	}
	m.next++
	m.sheets[name] = &memSheet{order: m.next}
	m.writes++
	return nil
}

func (m *Memory) Read(ctx context.Context, name, a1 string, mode RenderMode) ([][]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("read", name); err != nil {
		return nil, err
	}
	s, err := m.sheet(name)
	if err != nil {
		return nil, err
	}
	start, end, err := ParseA1(a1)
	if err != nil {
		return nil, err
	}
	firstRow := start.Row
	if firstRow == 0 {
		firstRow = 1
	}
	lastRow := end.Row
	if lastRow == 0 || lastRow > len(s.rows) {
		lastRow = len(s.rows)
	}

	var out [][]interface{}
	for r := firstRow; r <= lastRow; r++ {
		src := s.rows[r-1]
		var row []interface{}
		for c := start.Col; c <= end.Col && c <= len(src); c++ {
			v := src[c-1]
			if mode == RenderDisplay {
				v = s.display(r-1, c-1, v)
			}
			row = append(row, v)
		}
		out = append(out, trimRow(row))
	}
	// the API omits trailing empty rows
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func trimRow(row []interface{}) []interface{} {
	for len(row) > 0 && isEmpty(row[len(row)-1]) {
		row = row[:len(row)-1]
	}
	return row
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

var printer = message.NewPrinter(language.English)

// display renders v the way the formatted cell would show it.
func (s *memSheet) display(row, col int, v interface{}) interface{} {
	f, ok := v.(float64)
	if !ok {
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
	format, has := s.formatAt(row, col)
	if !has {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	switch {
	case format.Type == FormatPercent:
		return printer.Sprintf("%.2f%%", f*100)
	case format.Pattern == "#,##0":
		return printer.Sprintf("%.0f", f)
	case format.Pattern == "#,##0.00":
		return printer.Sprintf("%.2f", f)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *memSheet) formatAt(row, col int) (ColumnFormat, bool) {
	for i := len(s.formats) - 1; i >= 0; i-- {
		span := s.formats[i]
		if span.format.Column == col && row >= span.rows.Start && row < span.rows.End {
			return span.format, true
		}
	}
	return ColumnFormat{}, false
}

func (m *Memory) Write(ctx context.Context, name, a1 string, rows [][]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("write", name); err != nil {
		return err
	}
	s, err := m.sheet(name)
	if err != nil {
		return err
	}
	start, _, err := ParseA1(a1)
	if err != nil {
		return err
	}
	firstRow := start.Row
	if firstRow == 0 {
		firstRow = 1
	}
	for i, src := range rows {
		r := firstRow - 1 + i
		for len(s.rows) <= r {
			s.rows = append(s.rows, nil)
		}
		for j, v := range src {
			c := start.Col - 1 + j
			for len(s.rows[r]) <= c {
				s.rows[r] = append(s.rows[r], nil)
			}
			s.rows[r][c] = v
		}
	}
	m.writes++
	return nil
}

func (m *Memory) Clear(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("clear", name); err != nil {
		return err
	}
	s, err := m.sheet(name)
	if err != nil {
		return err
	}
	s.rows = nil
	s.formats = nil
	s.backgrounds = nil
	m.writes++
	return nil
}

func (m *Memory) ApplyNumberFormats(ctx context.Context, name string, formats []ColumnFormat, rows RowRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("format", name); err != nil {
		return err
	}
	s, err := m.sheet(name)
	if err != nil {
		return err
	}
	for _, f := range formats {
		s.formats = append(s.formats, formatSpan{format: f, rows: rows})
	}
	m.writes++
	return nil
}

func (m *Memory) SetFrozenRows(ctx context.Context, name string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("freeze", name); err != nil {
		return err
	}
	s, err := m.sheet(name)
	if err != nil {
		return err
	}
	s.frozen = n
	m.writes++
	return nil
}

func (m *Memory) SetBasicFilter(ctx context.Context, name string, columns int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("filter", name); err != nil {
		return err
	}
	s, err := m.sheet(name)
	if err != nil {
		return err
	}
	s.filterCols = columns
	m.writes++
	return nil
}

func (m *Memory) ApplyBackground(ctx context.Context, name string, rows RowRange, columns int, color Color) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("color", name); err != nil {
		return err
	}
	s, err := m.sheet(name)
	if err != nil {
		return err
	}
	s.backgrounds = append(s.backgrounds, Background{Rows: rows, Columns: columns, Color: color})
	m.writes++
	return nil
}

// Rows returns a copy of every stored row of name, or nil.
func (m *Memory) Rows(name string) [][]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[name]
	if !ok {
		return nil
	}
	out := make([][]interface{}, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]interface{}(nil), r...)
	}
	return out
}

// FrozenRows returns the frozen row count of name.
func (m *Memory) FrozenRows(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sheets[name]; ok {
		return s.frozen
	}
	return 0
}

// FilterColumns returns the basic-filter width of name, 0 when unset.
func (m *Memory) FilterColumns(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sheets[name]; ok {
		return s.filterCols
	}
	return 0
}

// Backgrounds returns the recorded background fills of name.
func (m *Memory) Backgrounds(name string) []Background {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sheets[name]; ok {
		return append([]Background(nil), s.backgrounds...)
	}
	return nil
}

// Writes counts every mutating call that succeeded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
