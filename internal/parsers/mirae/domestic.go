// Package mirae parses 미래에셋증권 trade-history exports for domestic and
// overseas accounts.
//
// Both exports put a buy leg and a sell leg side by side on one row. Each leg
// with a positive quantity becomes its own trade; rows are never netted.
package mirae

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/parser"
	"github.com/rumor-ml/commons.systems/tradesync/internal/tabular"
)

// domesticColumns is the narrowest row the domestic export produces:
// date, name, buy qty/price/amount, sell qty/price/amount, fee, profit, rate.
const domesticColumns = 11

// DomesticParser reads the domestic "기간 중 매수/매도" layout. The export has
// a header and a sub-header; data starts on the third line.
type DomesticParser struct{}

var domesticInstance = &DomesticParser{}

// NewDomesticParser returns the shared domestic parser. It holds no state.
func NewDomesticParser() *DomesticParser {
	return domesticInstance
}

func (p *DomesticParser) Name() string {
	return "mirae-domestic"
}

// CanParse matches the domestic layout. Headers carrying a currency column or
// a 매매일자 column belong to other formats.
func (p *DomesticParser) CanParse(header []string) bool {
	return parser.HasAll(header, "일자", "종목명", "기간 중 매수") &&
		!parser.HasAny(header, "통화", "매매일자")
}

func (p *DomesticParser) Parse(ctx context.Context, t *tabular.Table, meta *parser.Metadata) (*parser.Result, error) {
	if t == nil || meta == nil {
		return nil, fmt.Errorf("mirae-domestic: table and metadata are required")
	}
	account := meta.Label()
	res := &parser.Result{}

	rows := t.Rows
	if len(rows) > 0 {
		rows = rows[1:]
	}
	for i, row := range rows {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		// header and sub-header occupy lines 1 and 2
		line := i + 3

		if parser.Blank(row) || parser.Cell(row, 1) == "" {
			continue
		}
		if len(row) < domesticColumns {
			res.Reject(line, fmt.Errorf("expected at least %d columns, got %d", domesticColumns, len(row)))
			continue
		}
		date, err := parser.NormalizeDate(parser.Cell(row, 0))
		if err != nil {
			res.Reject(line, err)
			continue
		}
		n, err := parser.Numbers(row, 2, 3, 4, 5, 6, 7, 8, 9, 10)
		if err != nil {
			res.Reject(line, err)
			continue
		}
		buyQty, buyPrice, buyAmount := n[0], n[1], n[2]
		sellQty, sellPrice, sellAmount := n[3], n[4], n[5]
		fee, profit, rate := n[6], n[7], n[8]

		name := parser.Cell(row, 1)
		if buyQty.IsPositive() {
			res.Add(domesticLeg(date, domain.Buy, name, buyQty, buyPrice, buyAmount, account))
		}
		if sellQty.IsPositive() {
			tr := domesticLeg(date, domain.Sell, name, sellQty, sellPrice, sellAmount, account)
			tr.Fee = fee
			tr.Profit = profit
			tr.ProfitLocal = profit
			tr.ProfitRate = rate
			res.Add(tr)
		}
	}
	return res, nil
}

func domesticLeg(date string, side domain.Side, name string, qty, price, amount decimal.Decimal, account string) domain.Trade {
	return domain.Trade{
		Date:        date,
		Side:        side,
		Name:        name,
		Quantity:    qty,
		Price:       price,
		Amount:      amount,
		Currency:    domain.LocalCurrency,
		FXRate:      decimal.NewFromInt(1),
		AmountLocal: amount,
		Account:     account,
		Kind:        domain.Domestic,
	}
}
