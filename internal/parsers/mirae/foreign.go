package mirae

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/parser"
	"github.com/rumor-ml/commons.systems/tradesync/internal/tabular"
)

const foreignColumns = 25

// Column positions in the overseas export.
const (
	colDate       = 0
	colCurrency   = 1
	colTicker     = 2
	colName       = 3
	colFXRate     = 6
	colBuyQty     = 7
	colBuyPrice   = 8
	colBuyAmount  = 9
	colBuyLocal   = 10
	colSellQty    = 11
	colSellPrice  = 12
	colSellAmount = 13
	colSellLocal  = 14
	colFee        = 15
	colTax        = 16
	colProfit     = 19
	colProfitKRW  = 22
	colRate       = 23
)

// ForeignParser reads the overseas "매매일/통화/종목번호" layout. Unlike the
// domestic export it has a single header line.
type ForeignParser struct{}

var foreignInstance = &ForeignParser{}

// NewForeignParser returns the shared overseas parser.
func NewForeignParser() *ForeignParser {
	return foreignInstance
}

func (p *ForeignParser) Name() string {
	return "mirae-foreign"
}

func (p *ForeignParser) CanParse(header []string) bool {
	return parser.HasAll(header, "매매일", "통화", "종목번호") &&
		!parser.HasAny(header, "기간 중 매수", "매입단가")
}

func (p *ForeignParser) Parse(ctx context.Context, t *tabular.Table, meta *parser.Metadata) (*parser.Result, error) {
	if t == nil || meta == nil {
		return nil, fmt.Errorf("mirae-foreign: table and metadata are required")
	}
	account := meta.Label()
	res := &parser.Result{}

	for i, row := range t.Rows {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		line := i + 2

		if parser.Blank(row) || parser.Cell(row, colName) == "" {
			continue
		}
		if len(row) < foreignColumns {
			res.Reject(line, fmt.Errorf("expected at least %d columns, got %d", foreignColumns, len(row)))
			continue
		}
		date, err := parser.NormalizeDate(parser.Cell(row, colDate))
		if err != nil {
			res.Reject(line, err)
			continue
		}
		currency := strings.ToUpper(parser.Cell(row, colCurrency))
		if !domain.KnownCurrency(currency) {
			res.Reject(line, fmt.Errorf("unknown currency %q", currency))
			continue
		}
		n, err := parser.Numbers(row,
			colFXRate,
			colBuyQty, colBuyPrice, colBuyAmount, colBuyLocal,
			colSellQty, colSellPrice, colSellAmount, colSellLocal,
			colFee, colTax, colProfit, colProfitKRW, colRate,
		)
		if err != nil {
			res.Reject(line, err)
			continue
		}
		fx := n[0]
		buyQty, buyPrice, buyAmount, buyLocal := n[1], n[2], n[3], n[4]
		sellQty, sellPrice, sellAmount, sellLocal := n[5], n[6], n[7], n[8]
		fee, tax, profit, profitKRW, rate := n[9], n[10], n[11], n[12], n[13]

		base := domain.Trade{
			Date:     date,
			Name:     parser.Cell(row, colName),
			Code:     parser.Cell(row, colTicker),
			Currency: currency,
			FXRate:   fx,
			Account:  account,
			Kind:     domain.Foreign,
		}
		if buyQty.IsPositive() {
			tr := base
			tr.Side = domain.Buy
			tr.Quantity = buyQty
			tr.Price = buyPrice
			tr.Amount = buyAmount
			tr.AmountLocal = localAmount(buyLocal, buyAmount, fx)
			res.Add(tr)
		}
		if sellQty.IsPositive() {
			tr := base
			tr.Side = domain.Sell
			tr.Quantity = sellQty
			tr.Price = sellPrice
			tr.Amount = sellAmount
			tr.AmountLocal = localAmount(sellLocal, sellAmount, fx)
			tr.Fee = fee
			tr.Tax = tax
			tr.Profit = profit
			tr.ProfitLocal = profitKRW
			tr.ProfitRate = rate
			res.Add(tr)
		}
	}
	return res, nil
}

// localAmount prefers the broker's KRW figure and falls back to amount × fx.
func localAmount(reported, amount, fx decimal.Decimal) decimal.Decimal {
	if !reported.IsZero() {
		return reported
	}
	return amount.Mul(fx)
}
