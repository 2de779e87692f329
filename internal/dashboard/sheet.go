package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rumor-ml/commons.systems/tradesync/internal/sheets"
)

// SheetName is the title of the dashboard sheet.
const SheetName = "대시보드"

var (
	summaryHeader = []interface{}{
		"지표", "총 매수금액(원)", "총 매도금액(원)", "총 실현손익(원)",
		"총 수익률(%)", "총 거래건수", "승률(%)",
	}
	monthHeader = []interface{}{
		"연월", "계좌", "매수건수", "매수금액(원)",
		"매도건수", "매도금액(원)", "실현손익(원)", "수익률(%)",
	}
	stockHeader = []interface{}{
		"종목명", "종목코드", "계좌", "통화",
		"총매수수량", "총매수금액(원)", "총매도수량", "총매도금액(원)",
		"실현손익(원)", "수익률(%)", "투자비중(%)",
	}
)

func number(col int) sheets.ColumnFormat {
	return sheets.ColumnFormat{Column: col, Type: sheets.FormatNumber, Pattern: "#,##0"}
}

func percent(col int) sheets.ColumnFormat {
	return sheets.ColumnFormat{Column: col, Type: sheets.FormatPercent, Pattern: "0.00%"}
}

var (
	summaryFormats = []sheets.ColumnFormat{number(1), number(2), number(3), percent(4), number(5), percent(6)}
	monthFormats   = []sheets.ColumnFormat{number(2), number(3), number(4), number(5), number(6), percent(7)}
	stockFormats   = []sheets.ColumnFormat{number(4), number(5), number(6), number(7), number(8), percent(9), percent(10)}
	metricFormats  = []sheets.ColumnFormat{percent(1)}
	ratioFormats   = []sheets.ColumnFormat{{Column: 1, Type: sheets.FormatNumber, Pattern: "0.00"}}
)

// FormatSpan applies formats to a half-open block of 0-based rows.
type FormatSpan struct {
	Rows    sheets.RowRange
	Formats []sheets.ColumnFormat
}

// Layout is the grid written to the dashboard sheet, starting at A1.
type Layout struct {
	Rows  [][]interface{}
	Spans []FormatSpan
}

var krw = message.NewPrinter(language.Korean)

func f64(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// Render lays the report out in four sections separated by one blank row:
// the portfolio summary, the monthly table, the instrument table and the
// investment metrics.
func Render(r *Report) *Layout {
	l := &Layout{}
	add := func(row ...interface{}) int {
		if len(row) == 0 {
			// separator; the API rejects null rows
			row = []interface{}{""}
		}
		l.Rows = append(l.Rows, row)
		return len(l.Rows) - 1
	}
	span := func(start int, formats []sheets.ColumnFormat) {
		if end := len(l.Rows); end > start {
			l.Spans = append(l.Spans, FormatSpan{Rows: sheets.RowRange{Start: start, End: end}, Formats: formats})
		}
	}

	// portfolio summary
	add(summaryHeader...)
	first := add("값",
		f64(r.Totals.BuyAmount), f64(r.Totals.SellAmount), f64(r.Totals.Profit),
		f64(r.Totals.Return), r.Totals.Count, f64(r.Totals.WinRate),
	)
	span(first, summaryFormats)
	add()

	// monthly
	add(monthHeader...)
	first = len(l.Rows)
	for _, m := range r.Months {
		add(m.Month, m.Account,
			m.BuyCount, f64(m.BuyAmount),
			m.SellCount, f64(m.SellAmount),
			f64(m.Profit), f64(m.Return),
		)
	}
	span(first, monthFormats)
	add()

	// per instrument
	add(stockHeader...)
	first = len(l.Rows)
	for _, s := range r.Stocks {
		add(s.Name, s.Code, s.Account, s.Currency,
			f64(s.BuyQty), f64(s.BuyAmount),
			f64(s.SellQty), f64(s.SellAmount),
			f64(s.Profit), f64(s.Return), f64(s.Weight),
		)
	}
	span(first, stockFormats)
	add()

	// investment metrics
	m := r.Metrics
	add("[투자 지표]", "")
	shareBlock := func(title string, shares []Share) {
		add(title, "")
		first := len(l.Rows)
		for _, s := range shares {
			add("  "+s.Key, f64(s.Ratio))
		}
		span(first, metricFormats)
	}
	shareBlock("계좌별 투자비중", m.Accounts)
	shareBlock("통화별 투자비중", m.Currencies)
	shareBlock("분류별 투자비중", m.Categories)

	first = len(l.Rows)
	add("상위 5종목 집중도", f64(m.Concentration))
	add("평균 수익률", f64(m.AvgProfit))
	add("평균 손실률", f64(m.AvgLoss))
	span(first, metricFormats)
	first = add("손익비", f64(m.PLRatio))
	span(first, ratioFormats)
	if m.Best != nil {
		add("최대 수익 종목", signed(m.Best))
	}
	if m.Worst != nil {
		add("최대 손실 종목", signed(m.Worst))
	}
	return l
}

// signed renders "삼성전자 (+18,500원)"; losses keep their minus sign.
func signed(e *Extreme) string {
	sign := ""
	if !e.Profit.IsNegative() {
		sign = "+"
	}
	return krw.Sprintf("%s (%s%.0f원)", e.Name, sign, f64(e.Profit))
}

// Writer overwrites the dashboard sheet.
type Writer struct {
	Store  sheets.Store
	Logger *slog.Logger
	DryRun bool
}

// NewWriter creates a Writer. A nil logger falls back to slog.Default.
func NewWriter(store sheets.Store, logger *slog.Logger, dryRun bool) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{Store: store, Logger: logger, DryRun: dryRun}
}

// Write clears (or creates) the dashboard sheet and writes the report in one
// block, then reapplies the header freeze and the section formats.
func (w *Writer) Write(ctx context.Context, r *Report) error {
	layout := Render(r)
	if w.DryRun {
		w.Logger.Info("dry run: would rewrite dashboard",
			"sheet", SheetName,
			"rows", len(layout.Rows),
			"months", len(r.Months),
			"instruments", len(r.Stocks),
		)
		return nil
	}

	names, err := w.Store.ListSheets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sheets: %w", err)
	}
	exists := false
	for _, n := range names {
		if n == SheetName {
			exists = true
			break
		}
	}
	if exists {
		if err := w.Store.Clear(ctx, SheetName); err != nil {
			return fmt.Errorf("failed to clear %s: %w", SheetName, err)
		}
	} else if err := w.Store.CreateSheet(ctx, SheetName); err != nil {
		return fmt.Errorf("failed to create %s: %w", SheetName, err)
	}

	if err := w.Store.Write(ctx, SheetName, "A1", layout.Rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", SheetName, err)
	}
	if err := w.Store.SetFrozenRows(ctx, SheetName, 1); err != nil {
		return fmt.Errorf("failed to freeze %s: %w", SheetName, err)
	}
	for _, s := range layout.Spans {
		if err := w.Store.ApplyNumberFormats(ctx, SheetName, s.Formats, s.Rows); err != nil {
			return fmt.Errorf("failed to format %s: %w", SheetName, err)
		}
	}
	w.Logger.Info("dashboard updated", "sheet", SheetName, "rows", len(layout.Rows))
	return nil
}
